package wallet

import (
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/btcsuite/btcd/btcec/v2"
)

// VtxoScriptBuilder builds the tapscripts locking the outputs received at
// offchain and boarding addresses. Returned scripts are hex encoded and must
// be parseable with script.ParseVtxoScript.
type VtxoScriptBuilder interface {
	// BuildOffchainScript returns the tapscripts of a vtxo owned by
	// userPubKey, cosigned by the server until exitDelay elapses.
	BuildOffchainScript(
		userPubKey, signerPubKey *btcec.PublicKey, exitDelay arklib.RelativeLocktime,
	) ([]string, error)

	// BuildBoardingScript returns the tapscripts of an onchain output that
	// can later be boarded into a batch.
	BuildBoardingScript(
		userPubKey, signerPubKey *btcec.PublicKey, exitDelay arklib.RelativeLocktime,
	) ([]string, error)
}
