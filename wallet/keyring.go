package wallet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcwallet/waddrmgr"
	"github.com/lightningnetwork/lnd/aezeed"
)

const walletIDSize = 16

// KeyMaterial is the public part of a seed that a wallet record carries.
type KeyMaterial struct {
	ID          string
	Fingerprint string
	AccountXpub string
}

// NewSeed generates fresh entropy and returns it together with its aezeed
// mnemonic enciphered with passphrase. Callers must zero the seed.
func NewSeed(passphrase []byte) ([]string, []byte, error) {
	var entropy [aezeed.EntropySize]byte
	if _, err := rand.Read(entropy[:]); err != nil {
		return nil, nil, err
	}
	defer utils.Zero(entropy[:])

	cipherSeed, err := aezeed.New(aezeed.CipherSeedVersion, &entropy, time.Now())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher seed: %w", err)
	}
	mnemonic, err := cipherSeed.ToMnemonic(passphrase)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode mnemonic: %w", err)
	}

	seed := make([]byte, aezeed.EntropySize)
	copy(seed, cipherSeed.Entropy[:])
	utils.Zero(cipherSeed.Entropy[:])
	return mnemonic[:], seed, nil
}

// SeedFromMnemonic recovers the seed enciphered in an aezeed mnemonic.
func SeedFromMnemonic(words []string, passphrase []byte) ([]byte, error) {
	var mnemonic aezeed.Mnemonic
	if len(words) != len(mnemonic) {
		return nil, fmt.Errorf(
			"invalid mnemonic: expected %d words, got %d", len(mnemonic), len(words),
		)
	}
	copy(mnemonic[:], words)

	cipherSeed, err := mnemonic.ToCipherSeed(passphrase)
	if err != nil {
		if errors.Is(err, aezeed.ErrInvalidPass) {
			return nil, types.ErrInvalidPassphrase
		}
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	seed := make([]byte, aezeed.EntropySize)
	copy(seed, cipherSeed.Entropy[:])
	utils.Zero(cipherSeed.Entropy[:])
	return seed, nil
}

// EncryptSeed seals the seed with the wallet password for storage.
func EncryptSeed(seed, password []byte) ([]byte, error) {
	return utils.SealSeed(seed, password)
}

// NewKeyMaterial derives the identity and the account xpub of a seed on the
// given network. Every device restoring the same seed gets the same values.
func NewKeyMaterial(seed []byte, network arklib.Network) (*KeyMaterial, error) {
	params := utils.ToBitcoinNetwork(network)
	master, err := hdkeychain.NewMaster(seed, &params)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	defer master.Zero()

	return keyMaterialFromMaster(master, network)
}

// WithMasterKey decrypts the seed and passes the master key to fn. Seed and
// key are erased before returning, whatever fn does.
func WithMasterKey(
	encryptedSeed, password []byte, network arklib.Network,
	fn func(master *hdkeychain.ExtendedKey) error,
) error {
	seed, err := utils.OpenSeed(encryptedSeed, password)
	if err != nil {
		return err
	}
	defer utils.Zero(seed)

	params := utils.ToBitcoinNetwork(network)
	master, err := hdkeychain.NewMaster(seed, &params)
	if err != nil {
		return fmt.Errorf("failed to derive master key: %w", err)
	}
	defer master.Zero()

	return fn(master)
}

// VerifyPassword checks that password opens the seed of wallet and that
// the seed matches its fingerprint.
func VerifyPassword(wallet types.Wallet, password []byte) error {
	return WithMasterKey(
		wallet.EncryptedSeed, password, wallet.Network,
		func(master *hdkeychain.ExtendedKey) error {
			keys, err := keyMaterialFromMaster(master, wallet.Network)
			if err != nil {
				return err
			}
			if keys.Fingerprint != wallet.Fingerprint {
				return fmt.Errorf("seed does not match wallet %s", wallet.ID)
			}
			return nil
		},
	)
}

func keyMaterialFromMaster(
	master *hdkeychain.ExtendedKey, network arklib.Network,
) (*KeyMaterial, error) {
	masterPubKey, err := master.ECPubKey()
	if err != nil {
		return nil, err
	}
	serialized := masterPubKey.SerializeCompressed()

	account, err := deriveAccountKey(master, network)
	if err != nil {
		return nil, err
	}
	defer account.Zero()
	accountXpub, err := account.Neuter()
	if err != nil {
		return nil, err
	}

	id := sha256.Sum256(append([]byte(network.Name), serialized...))
	return &KeyMaterial{
		ID:          hex.EncodeToString(id[:walletIDSize]),
		Fingerprint: hex.EncodeToString(btcutil.Hash160(serialized)),
		AccountXpub: accountXpub.String(),
	}, nil
}

// deriveAccountKey returns the key at m/86'/coin'/0'.
func deriveAccountKey(
	master *hdkeychain.ExtendedKey, network arklib.Network,
) (*hdkeychain.ExtendedKey, error) {
	params := utils.ToBitcoinNetwork(network)
	path := []uint32{
		hdkeychain.HardenedKeyStart + waddrmgr.KeyScopeBIP0086.Purpose,
		hdkeychain.HardenedKeyStart + params.HDCoinType,
		hdkeychain.HardenedKeyStart + defaultAccount,
	}

	key := master
	for _, index := range path {
		child, err := key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive account key: %w", err)
		}
		if key != master {
			key.Zero()
		}
		key = child
	}
	return key, nil
}
