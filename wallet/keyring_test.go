package wallet_test

import (
	"testing"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/types"
	"github.com/arkade-os/arkive/wallet"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/stretchr/testify/require"
)

func TestSeed(t *testing.T) {
	passphrase := []byte("aezeed pass")

	mnemonic, seed, err := wallet.NewSeed(passphrase)
	require.NoError(t, err)
	require.Len(t, mnemonic, 24)
	require.Len(t, seed, 16)

	t.Run("restore", func(t *testing.T) {
		restored, err := wallet.SeedFromMnemonic(mnemonic, passphrase)
		require.NoError(t, err)
		require.Equal(t, seed, restored)
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name       string
			words      []string
			passphrase []byte
		}{
			{"wrong passphrase", mnemonic, []byte("other")},
			{"too short", mnemonic[:12], passphrase},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				restored, err := wallet.SeedFromMnemonic(tt.words, tt.passphrase)
				require.Error(t, err)
				require.Nil(t, restored)
			})
		}
	})
}

func TestKeyMaterial(t *testing.T) {
	seed := testSeed()

	regtest, err := wallet.NewKeyMaterial(seed, arklib.BitcoinRegTest)
	require.NoError(t, err)
	again, err := wallet.NewKeyMaterial(seed, arklib.BitcoinRegTest)
	require.NoError(t, err)
	require.Equal(t, regtest, again)
	require.Len(t, regtest.ID, 32)
	require.Len(t, regtest.Fingerprint, 40)

	account, err := hdkeychain.NewKeyFromString(regtest.AccountXpub)
	require.NoError(t, err)
	require.False(t, account.IsPrivate())

	mainnet, err := wallet.NewKeyMaterial(seed, arklib.Bitcoin)
	require.NoError(t, err)
	require.NotEqual(t, regtest.ID, mainnet.ID)
	require.Equal(t, regtest.Fingerprint, mainnet.Fingerprint)
	require.NotEqual(t, regtest.AccountXpub, mainnet.AccountXpub)

	other := testSeed()
	other[0] ^= 0xff
	otherKeys, err := wallet.NewKeyMaterial(other, arklib.BitcoinRegTest)
	require.NoError(t, err)
	require.NotEqual(t, regtest.ID, otherKeys.ID)
}

func TestWithMasterKey(t *testing.T) {
	seed := testSeed()
	password := []byte("password")

	encrypted, err := wallet.EncryptSeed(seed, password)
	require.NoError(t, err)

	keys, err := wallet.NewKeyMaterial(seed, arklib.BitcoinRegTest)
	require.NoError(t, err)
	w := types.Wallet{
		ID:            keys.ID,
		Fingerprint:   keys.Fingerprint,
		Network:       arklib.BitcoinRegTest,
		EncryptedSeed: encrypted,
		AccountXpub:   keys.AccountXpub,
	}

	var seen *hdkeychain.ExtendedKey
	err = wallet.WithMasterKey(
		encrypted, password, arklib.BitcoinRegTest,
		func(master *hdkeychain.ExtendedKey) error {
			require.True(t, master.IsPrivate())
			seen = master
			return nil
		},
	)
	require.NoError(t, err)
	// the key handed to the callback is erased once it returns
	_, err = seen.ECPrivKey()
	require.Error(t, err)

	err = wallet.WithMasterKey(
		encrypted, []byte("wrong"), arklib.BitcoinRegTest,
		func(*hdkeychain.ExtendedKey) error {
			t.Fatal("callback must not run with a wrong password")
			return nil
		},
	)
	require.ErrorIs(t, err, types.ErrInvalidPassphrase)

	require.NoError(t, wallet.VerifyPassword(w, password))
	require.ErrorIs(t, wallet.VerifyPassword(w, []byte("wrong")), types.ErrInvalidPassphrase)

	w.Fingerprint = "00"
	require.Error(t, wallet.VerifyPassword(w, password))
}

func testSeed() []byte {
	seed := make([]byte, 16)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}
