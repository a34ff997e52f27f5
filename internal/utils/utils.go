package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"sort"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/types"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/crypto/pbkdf2"
)

const (
	seedSaltSize       = 32
	seedKeySize        = 32
	seedKdfIterations  = 10000
	minSealedSeedBytes = seedSaltSize + 12 + 16
)

func NetworkFromString(net string) arklib.Network {
	switch net {
	case arklib.BitcoinTestNet.Name:
		return arklib.BitcoinTestNet
	case arklib.BitcoinTestNet4.Name:
		return arklib.BitcoinTestNet4
	case arklib.BitcoinSigNet.Name:
		return arklib.BitcoinSigNet
	case arklib.BitcoinMutinyNet.Name:
		return arklib.BitcoinMutinyNet
	case arklib.BitcoinRegTest.Name:
		return arklib.BitcoinRegTest
	case arklib.Bitcoin.Name:
		fallthrough
	default:
		return arklib.Bitcoin
	}
}

func ToBitcoinNetwork(net arklib.Network) chaincfg.Params {
	switch net.Name {
	case arklib.Bitcoin.Name:
		return chaincfg.MainNetParams
	case arklib.BitcoinTestNet.Name:
		return chaincfg.TestNet3Params
	case arklib.BitcoinSigNet.Name:
		return chaincfg.SigNetParams
	case arklib.BitcoinMutinyNet.Name:
		return arklib.MutinyNetSigNetParams
	case arklib.BitcoinRegTest.Name:
		return chaincfg.RegressionNetParams
	default:
		return chaincfg.MainNetParams
	}
}

// SealSeed encrypts seed material at rest with a key derived from password.
// The layout is salt || nonce || ciphertext.
func SealSeed(seed, password []byte) ([]byte, error) {
	if len(seed) == 0 {
		return nil, fmt.Errorf("missing plaintext seed")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing encryption password")
	}

	salt := make([]byte, seedSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	gcm, err := seedCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(salt)+len(nonce)+len(seed)+gcm.Overhead())
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	return gcm.Seal(sealed, nonce, seed, salt), nil
}

// OpenSeed reverses SealSeed. A wrong password surfaces as
// types.ErrInvalidPassphrase. Callers own the returned slice and must zero it.
func OpenSeed(sealed, password []byte) ([]byte, error) {
	if len(sealed) < minSealedSeedBytes {
		return nil, fmt.Errorf("missing or truncated encrypted seed")
	}
	if len(password) == 0 {
		return nil, fmt.Errorf("missing decryption password")
	}

	salt := sealed[:seedSaltSize]
	gcm, err := seedCipher(password, salt)
	if err != nil {
		return nil, err
	}
	nonce := sealed[seedSaltSize : seedSaltSize+gcm.NonceSize()]
	ciphertext := sealed[seedSaltSize+gcm.NonceSize():]

	// #nosec G407
	seed, err := gcm.Open(nil, nonce, ciphertext, salt)
	if err != nil {
		return nil, types.ErrInvalidPassphrase
	}
	return seed, nil
}

func seedCipher(password, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(password, salt, seedKdfIterations, seedKeySize, sha256.New)
	defer Zero(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Zero overwrites b in place.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func GroupBy[T any](items []T, keyFn func(T) string) map[string][]T {
	result := make(map[string][]T)

	for _, item := range items {
		key := keyFn(item)
		result[key] = append(result[key], item)
	}

	return result
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
