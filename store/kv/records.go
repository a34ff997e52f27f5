package kvstore

import (
	"fmt"
	"time"

	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
)

type walletRecord struct {
	ID                  string
	Fingerprint         string
	Network             string
	CreatedAt           int64
	EncryptedSeed       []byte
	AccountXpub         string
	SignerPubKey        string
	UnilateralExitDelay uint32
	BoardingExitDelay   uint32
	GenesisFunding      int64
}

// walletStateRecord holds the mutable counters of a wallet.
type walletStateRecord struct {
	WalletID string
	Sequence uint64
	Cursors  map[types.AddressKind]uint32
}

type addressRecord struct {
	WalletID       string
	Kind           types.AddressKind
	Index          uint32
	DerivationPath string
	Address        string
	Script         string
	CreatedAt      int64
	Used           bool
}

type outputRecord struct {
	WalletID        string
	Txid            string
	VOut            uint32
	Domain          types.Domain
	Address         string
	Amount          uint64
	ConfirmedHeight uint32
	CreatedAt       int64
	Expiry          int64
	CommitmentTxids []string
	Preconfirmed    bool
	Spent           bool
	SpentBy         string
	RequiresExit    bool
}

type txRecord struct {
	WalletID  string
	Txid      string
	Direction types.Direction
	Domain    types.Domain
	Consumed  []string
	Created   []string
	Delta     int64
	Timestamp int64
	Status    types.TxStatus
}

type syncMetadataRecord struct {
	WalletID string
	DeviceID string
	LastSync int64
	Sequence uint64
	Digest   string
}

func addressKey(walletID string, kind types.AddressKind, index uint32) string {
	return fmt.Sprintf("%s/%d/%010d", walletID, kind, index)
}

func outputKey(walletID string, outpoint types.Outpoint) string {
	return fmt.Sprintf("%s/%s", walletID, outpoint)
}

func txKey(walletID, txid string) string {
	return fmt.Sprintf("%s/%s", walletID, txid)
}

func syncMetadataKey(walletID, deviceID string) string {
	return fmt.Sprintf("%s/%s", walletID, deviceID)
}

func toWalletRecord(w types.Wallet) walletRecord {
	return walletRecord{
		ID:                  w.ID,
		Fingerprint:         w.Fingerprint,
		Network:             w.Network.Name,
		CreatedAt:           unixOrZero(w.CreatedAt),
		EncryptedSeed:       w.EncryptedSeed,
		AccountXpub:         w.AccountXpub,
		SignerPubKey:        w.SignerPubKey,
		UnilateralExitDelay: w.UnilateralExitDelay.Value,
		BoardingExitDelay:   w.BoardingExitDelay.Value,
		GenesisFunding:      w.GenesisFunding,
	}
}

func (r walletRecord) toWallet() types.Wallet {
	return types.Wallet{
		ID:                  r.ID,
		Fingerprint:         r.Fingerprint,
		Network:             utils.NetworkFromString(r.Network),
		CreatedAt:           timeOrZero(r.CreatedAt),
		EncryptedSeed:       r.EncryptedSeed,
		AccountXpub:         r.AccountXpub,
		SignerPubKey:        r.SignerPubKey,
		UnilateralExitDelay: types.RelativeLocktimeFromValue(r.UnilateralExitDelay),
		BoardingExitDelay:   types.RelativeLocktimeFromValue(r.BoardingExitDelay),
		GenesisFunding:      r.GenesisFunding,
	}
}

func toAddressRecord(a types.Address) addressRecord {
	return addressRecord{
		WalletID:       a.WalletID,
		Kind:           a.Kind,
		Index:          a.Index,
		DerivationPath: a.DerivationPath,
		Address:        a.Address,
		Script:         a.Script,
		CreatedAt:      unixOrZero(a.CreatedAt),
		Used:           a.Used,
	}
}

func (r addressRecord) toAddress() types.Address {
	return types.Address{
		WalletID:       r.WalletID,
		Kind:           r.Kind,
		Index:          r.Index,
		DerivationPath: r.DerivationPath,
		Address:        r.Address,
		Script:         r.Script,
		CreatedAt:      timeOrZero(r.CreatedAt),
		Used:           r.Used,
	}
}

func toOutputRecord(walletID string, o types.Output) outputRecord {
	return outputRecord{
		WalletID:        walletID,
		Txid:            o.Txid,
		VOut:            o.VOut,
		Domain:          o.Domain,
		Address:         o.Address,
		Amount:          o.Amount,
		ConfirmedHeight: o.ConfirmedHeight,
		CreatedAt:       unixOrZero(o.CreatedAt),
		Expiry:          int64(o.Expiry),
		CommitmentTxids: o.CommitmentTxids,
		Preconfirmed:    o.Preconfirmed,
		Spent:           o.Spent,
		SpentBy:         o.SpentBy,
		RequiresExit:    o.RequiresExit,
	}
}

func (r outputRecord) toOutput() types.Output {
	commitments := r.CommitmentTxids
	if len(commitments) == 0 {
		commitments = nil
	}
	return types.Output{
		Outpoint:        types.Outpoint{Txid: r.Txid, VOut: r.VOut},
		Domain:          r.Domain,
		Address:         r.Address,
		Amount:          r.Amount,
		ConfirmedHeight: r.ConfirmedHeight,
		CreatedAt:       timeOrZero(r.CreatedAt),
		Expiry:          types.Expiry(r.Expiry),
		CommitmentTxids: commitments,
		Preconfirmed:    r.Preconfirmed,
		Spent:           r.Spent,
		SpentBy:         r.SpentBy,
		RequiresExit:    r.RequiresExit,
	}
}

func toTxRecord(walletID string, tx types.Transaction) txRecord {
	return txRecord{
		WalletID:  walletID,
		Txid:      tx.ID,
		Direction: tx.Direction,
		Domain:    tx.Domain,
		Consumed:  outpointsToStrings(tx.Consumed),
		Created:   outpointsToStrings(tx.Created),
		Delta:     tx.Delta,
		Timestamp: unixOrZero(tx.Timestamp),
		Status:    tx.Status,
	}
}

func (r txRecord) toTransaction() (types.Transaction, error) {
	consumed, err := stringsToOutpoints(r.Consumed)
	if err != nil {
		return types.Transaction{}, err
	}
	created, err := stringsToOutpoints(r.Created)
	if err != nil {
		return types.Transaction{}, err
	}
	return types.Transaction{
		ID:        r.Txid,
		Direction: r.Direction,
		Domain:    r.Domain,
		Consumed:  consumed,
		Created:   created,
		Delta:     r.Delta,
		Timestamp: timeOrZero(r.Timestamp),
		Status:    r.Status,
	}, nil
}

func outpointsToStrings(outpoints []types.Outpoint) []string {
	if len(outpoints) == 0 {
		return nil
	}
	out := make([]string, 0, len(outpoints))
	for _, op := range outpoints {
		out = append(out, op.String())
	}
	return out
}

func stringsToOutpoints(list []string) ([]types.Outpoint, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]types.Outpoint, 0, len(list))
	for _, s := range list {
		op, err := types.ParseOutpoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(ts int64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(ts, 0).UTC()
}
