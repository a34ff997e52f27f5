package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/types"
	"github.com/ccoveille/go-safecast"
)

// SettlementServer is the off-chain collaborator of the wallet engine. It
// issues vtxos and runs the settlement rounds, whose protocol is opaque to
// the engine.
type SettlementServer interface {
	GetInfo(ctx context.Context) (*Info, error)
	// FetchVtxos returns every vtxo, spent or not, locked by one of the given
	// scripts.
	FetchVtxos(ctx context.Context, scripts []string) ([]Vtxo, error)
	SubmitRoundParticipation(ctx context.Context, intent RoundIntent) (*RoundOutcome, error)
	Close()
}

type Info struct {
	Version             string
	SignerPubKey        string
	Network             string
	ForfeitAddress      string
	UnilateralExitDelay int64
	BoardingExitDelay   int64
	SessionDuration     int64
	Dust                uint64
}

func (i Info) String() string {
	// nolint
	b, _ := json.MarshalIndent(i, "", "  ")
	return string(b)
}

// ExitDelays returns the unilateral and boarding exit delays announced by
// the server.
func (i Info) ExitDelays() (unilateral, boarding arklib.RelativeLocktime, err error) {
	unilateralValue, err := safecast.ToUint32(i.UnilateralExitDelay)
	if err != nil {
		return arklib.RelativeLocktime{}, arklib.RelativeLocktime{},
			fmt.Errorf("invalid unilateral exit delay: %w", err)
	}
	boardingValue, err := safecast.ToUint32(i.BoardingExitDelay)
	if err != nil {
		return arklib.RelativeLocktime{}, arklib.RelativeLocktime{},
			fmt.Errorf("invalid boarding exit delay: %w", err)
	}
	return types.RelativeLocktimeFromValue(unilateralValue),
		types.RelativeLocktimeFromValue(boardingValue), nil
}

type Vtxo struct {
	types.Outpoint
	Script          string
	Amount          uint64
	CommitmentTxids []string
	CreatedAt       time.Time
	Expiry          types.Expiry
	Preconfirmed    bool
	Swept           bool
	Unrolled        bool
	Spent           bool
	SpentBy         string
	SettledBy       string
	ArkTxid         string
}

func (v Vtxo) String() string {
	// nolint
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// RoundIntent is a signed request to join the next settlement round.
type RoundIntent struct {
	Message   string
	Signature string
}

type RoundOutcome struct {
	IntentID string
}
