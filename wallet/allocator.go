package wallet

import (
	"encoding/hex"
	"fmt"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcwallet/waddrmgr"
)

const defaultAccount = 0

// Allocator derives the addresses of a wallet from its account xpub. Each
// address kind uses its own non-hardened branch, so derivation never needs
// the seed.
type Allocator struct {
	builder VtxoScriptBuilder
}

func NewAllocator(builder VtxoScriptBuilder) *Allocator {
	if builder == nil {
		builder = NewDefaultScriptBuilder()
	}
	return &Allocator{builder}
}

var defaultAllocator = NewAllocator(nil)

// Derive returns the address of the given kind and index with the default
// vtxo scripts.
func Derive(
	wallet types.Wallet, kind types.AddressKind, index uint32,
) (*types.DerivedAddress, error) {
	return defaultAllocator.Derive(wallet, kind, index)
}

// DeriveFunc binds the allocator to a wallet and kind, for use with
// WalletStore.AllocateAddress.
func (a *Allocator) DeriveFunc(wallet types.Wallet, kind types.AddressKind) types.DeriveFunc {
	return func(index uint32) (*types.DerivedAddress, error) {
		return a.Derive(wallet, kind, index)
	}
}

func (a *Allocator) Derive(
	wallet types.Wallet, kind types.AddressKind, index uint32,
) (*types.DerivedAddress, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidAddressKind, kind)
	}
	if index >= hdkeychain.HardenedKeyStart {
		return nil, fmt.Errorf("address index %d out of range", index)
	}

	params := utils.ToBitcoinNetwork(wallet.Network)
	account, err := hdkeychain.NewKeyFromString(wallet.AccountXpub)
	if err != nil {
		return nil, fmt.Errorf("invalid account xpub: %w", err)
	}
	if account.IsPrivate() {
		return nil, fmt.Errorf("account key must be neutered")
	}
	branch, err := account.Derive(uint32(kind))
	if err != nil {
		return nil, err
	}
	child, err := branch.Derive(index)
	if err != nil {
		return nil, err
	}
	userPubKey, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}

	derived := &types.DerivedAddress{
		DerivationPath: fmt.Sprintf(
			"m/%d'/%d'/%d'/%d/%d",
			waddrmgr.KeyScopeBIP0086.Purpose, params.HDCoinType, defaultAccount, kind, index,
		),
	}

	if kind == types.AddressOnchain {
		tapKey := txscript.ComputeTaprootKeyNoScript(userPubKey)
		addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(tapKey), &params)
		if err != nil {
			return nil, err
		}
		pkScript, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		derived.Address = addr.EncodeAddress()
		derived.Script = hex.EncodeToString(pkScript)
		return derived, nil
	}

	signerPubKey, err := parseSignerPubKey(wallet.SignerPubKey)
	if err != nil {
		return nil, err
	}

	var tapscripts []string
	if kind == types.AddressOffchain {
		tapscripts, err = a.builder.BuildOffchainScript(
			userPubKey, signerPubKey, wallet.UnilateralExitDelay,
		)
	} else {
		tapscripts, err = a.builder.BuildBoardingScript(
			userPubKey, signerPubKey, wallet.BoardingExitDelay,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build %s script: %w", kind, err)
	}

	vtxoScript, err := script.ParseVtxoScript(tapscripts)
	if err != nil {
		return nil, fmt.Errorf("invalid %s script: %w", kind, err)
	}
	tapKey, _, err := vtxoScript.TapTree()
	if err != nil {
		return nil, err
	}
	pkScript, err := script.P2TRScript(tapKey)
	if err != nil {
		return nil, err
	}
	derived.Script = hex.EncodeToString(pkScript)

	if kind == types.AddressOffchain {
		arkAddr := &arklib.Address{
			HRP:        wallet.Network.Addr,
			Signer:     signerPubKey,
			VtxoTapKey: tapKey,
		}
		derived.Address, err = arkAddr.EncodeV0()
		if err != nil {
			return nil, err
		}
		return derived, nil
	}

	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(tapKey), &params)
	if err != nil {
		return nil, err
	}
	derived.Address = addr.EncodeAddress()
	return derived, nil
}

func parseSignerPubKey(s string) (*btcec.PublicKey, error) {
	if len(s) <= 0 {
		return nil, fmt.Errorf("missing server signer pubkey")
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid server signer pubkey: %w", err)
	}
	pubkey, err := btcec.ParsePubKey(buf)
	if err != nil {
		return nil, fmt.Errorf("invalid server signer pubkey: %w", err)
	}
	return pubkey, nil
}
