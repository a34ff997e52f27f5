package wallet_test

import (
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	"github.com/arkade-os/arkive/wallet"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"
)

func TestDerive(t *testing.T) {
	w, signer := testWallet(t)
	params := utils.ToBitcoinNetwork(w.Network)

	t.Run("valid", func(t *testing.T) {
		tests := []struct {
			kind  types.AddressKind
			index uint32
		}{
			{types.AddressOnchain, 0},
			{types.AddressOnchain, 5},
			{types.AddressOffchain, 0},
			{types.AddressOffchain, 7},
			{types.AddressBoarding, 0},
		}
		for _, tt := range tests {
			t.Run(fmt.Sprintf("%s/%d", tt.kind, tt.index), func(t *testing.T) {
				derived, err := wallet.Derive(w, tt.kind, tt.index)
				require.NoError(t, err)
				require.Equal(
					t, fmt.Sprintf("m/86'/1'/0'/%d/%d", tt.kind, tt.index),
					derived.DerivationPath,
				)

				again, err := wallet.Derive(w, tt.kind, tt.index)
				require.NoError(t, err)
				require.Equal(t, derived, again)

				pkScript, err := hex.DecodeString(derived.Script)
				require.NoError(t, err)
				require.True(t, txscript.IsPayToTaproot(pkScript))

				if tt.kind == types.AddressOffchain {
					addr, err := arklib.DecodeAddressV0(derived.Address)
					require.NoError(t, err)
					require.Equal(
						t, schnorr.SerializePubKey(signer), schnorr.SerializePubKey(addr.Signer),
					)
					require.True(t, strings.HasPrefix(derived.Address, w.Network.Addr))
					return
				}

				addr, err := btcutil.DecodeAddress(derived.Address, &params)
				require.NoError(t, err)
				expected, err := txscript.PayToAddrScript(addr)
				require.NoError(t, err)
				require.Equal(t, expected, pkScript)
			})
		}
	})

	t.Run("distinct", func(t *testing.T) {
		seen := make(map[string]struct{})
		for _, kind := range types.AddressKinds {
			for index := range uint32(5) {
				derived, err := wallet.Derive(w, kind, index)
				require.NoError(t, err)
				require.NotContains(t, seen, derived.Script)
				seen[derived.Script] = struct{}{}
			}
		}
	})

	t.Run("invalid", func(t *testing.T) {
		noSigner := w
		noSigner.SignerPubKey = ""
		badXpub := w
		badXpub.AccountXpub = "xpub"

		tests := []struct {
			name   string
			wallet types.Wallet
			kind   types.AddressKind
			index  uint32
		}{
			{"unknown kind", w, types.AddressKind(9), 0},
			{"hardened index", w, types.AddressOnchain, 1 << 31},
			{"missing signer", noSigner, types.AddressOffchain, 0},
			{"invalid xpub", badXpub, types.AddressOnchain, 0},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				derived, err := wallet.Derive(tt.wallet, tt.kind, tt.index)
				require.Error(t, err)
				require.Nil(t, derived)
			})
		}

		// onchain addresses do not depend on the server
		derived, err := wallet.Derive(noSigner, types.AddressOnchain, 0)
		require.NoError(t, err)
		require.NotEmpty(t, derived.Address)
	})

	t.Run("derive func", func(t *testing.T) {
		allocator := wallet.NewAllocator(nil)
		derive := allocator.DeriveFunc(w, types.AddressBoarding)
		derived, err := derive(3)
		require.NoError(t, err)
		expected, err := wallet.Derive(w, types.AddressBoarding, 3)
		require.NoError(t, err)
		require.Equal(t, expected, derived)
	})
}

func testWallet(t *testing.T) (types.Wallet, *btcec.PublicKey) {
	t.Helper()

	keys, err := wallet.NewKeyMaterial(testSeed(), arklib.BitcoinRegTest)
	require.NoError(t, err)
	signer, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return types.Wallet{
		ID:                  keys.ID,
		Fingerprint:         keys.Fingerprint,
		Network:             arklib.BitcoinRegTest,
		AccountXpub:         keys.AccountXpub,
		SignerPubKey:        hex.EncodeToString(signer.PubKey().SerializeCompressed()),
		UnilateralExitDelay: types.RelativeLocktimeFromValue(512),
		BoardingExitDelay:   types.RelativeLocktimeFromValue(1024),
	}, signer.PubKey()
}
