package wallet

import (
	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkd/pkg/ark-lib/script"
	"github.com/btcsuite/btcd/btcec/v2"
)

// defaultScriptBuilder uses the default vtxo script of the server: a
// forfeit closure cosigned by the signer and an exit closure after the delay.
type defaultScriptBuilder struct{}

func NewDefaultScriptBuilder() VtxoScriptBuilder {
	return &defaultScriptBuilder{}
}

func (d *defaultScriptBuilder) BuildOffchainScript(
	userPubKey, signerPubKey *btcec.PublicKey, exitDelay arklib.RelativeLocktime,
) ([]string, error) {
	return script.NewDefaultVtxoScript(userPubKey, signerPubKey, exitDelay).Encode()
}

func (d *defaultScriptBuilder) BuildBoardingScript(
	userPubKey, signerPubKey *btcec.PublicKey, exitDelay arklib.RelativeLocktime,
) ([]string, error) {
	return script.NewDefaultVtxoScript(userPubKey, signerPubKey, exitDelay).Encode()
}
