package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/store/sql/sqlc/queries"
	"github.com/arkade-os/arkive/types"
	"github.com/ccoveille/go-safecast"
)

const listSeparator = ","

func rowToWallet(row queries.Wallet) types.Wallet {
	return types.Wallet{
		ID:                  row.ID,
		Fingerprint:         row.Fingerprint,
		Network:             utils.NetworkFromString(row.Network),
		CreatedAt:           timeOrZero(row.CreatedAt),
		EncryptedSeed:       row.EncryptedSeed,
		AccountXpub:         row.AccountXpub,
		SignerPubKey:        row.SignerPubkey,
		UnilateralExitDelay: types.RelativeLocktimeFromValue(uint32(row.UnilateralExitDelay)),
		BoardingExitDelay:   types.RelativeLocktimeFromValue(uint32(row.BoardingExitDelay)),
		GenesisFunding:      row.GenesisFunding,
	}
}

func rowToAddress(row queries.Address) types.Address {
	return types.Address{
		WalletID:       row.WalletID,
		Kind:           types.AddressKind(row.Kind),
		Index:          uint32(row.Idx),
		DerivationPath: row.DerivationPath,
		Address:        row.Address,
		Script:         row.Script,
		CreatedAt:      timeOrZero(row.CreatedAt),
		Used:           row.Used,
	}
}

func toUpsertAddressParams(walletID string, addr types.Address) queries.UpsertAddressParams {
	return queries.UpsertAddressParams{
		WalletID:       walletID,
		Kind:           int64(addr.Kind),
		Idx:            int64(addr.Index),
		DerivationPath: addr.DerivationPath,
		Address:        addr.Address,
		Script:         addr.Script,
		CreatedAt:      unixOrZero(addr.CreatedAt),
		Used:           addr.Used,
	}
}

func rowToOutput(row queries.WalletOutput) types.Output {
	var commitments []string
	if len(row.CommitmentTxids) > 0 {
		commitments = strings.Split(row.CommitmentTxids, listSeparator)
	}
	return types.Output{
		Outpoint:        types.Outpoint{Txid: row.Txid, VOut: uint32(row.Vout)},
		Domain:          types.Domain(row.Domain),
		Address:         row.Address,
		Amount:          uint64(row.Amount),
		ConfirmedHeight: uint32(row.ConfirmedHeight),
		CreatedAt:       timeOrZero(row.CreatedAt),
		Expiry:          types.Expiry(row.Expiry),
		CommitmentTxids: commitments,
		Preconfirmed:    row.Preconfirmed,
		Spent:           row.Spent,
		SpentBy:         row.SpentBy.String,
		RequiresExit:    row.RequiresExit,
	}
}

func toUpsertOutputParams(
	walletID string, output types.Output,
) (queries.UpsertOutputParams, error) {
	amount, err := safecast.ToInt64(output.Amount)
	if err != nil {
		return queries.UpsertOutputParams{}, fmt.Errorf(
			"invalid amount for output %s: %w", output.Outpoint, err,
		)
	}
	return queries.UpsertOutputParams{
		WalletID:        walletID,
		Txid:            output.Txid,
		Vout:            int64(output.VOut),
		Domain:          int64(output.Domain),
		Address:         output.Address,
		Amount:          amount,
		ConfirmedHeight: int64(output.ConfirmedHeight),
		CreatedAt:       unixOrZero(output.CreatedAt),
		Expiry:          int64(output.Expiry),
		CommitmentTxids: strings.Join(output.CommitmentTxids, listSeparator),
		Preconfirmed:    output.Preconfirmed,
		Spent:           output.Spent,
		SpentBy:         sql.NullString{String: output.SpentBy, Valid: len(output.SpentBy) > 0},
		RequiresExit:    output.RequiresExit,
	}, nil
}

func rowToTransaction(row queries.WalletTx) (types.Transaction, error) {
	consumed, err := parseOutpoints(row.Consumed)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("invalid inputs of tx %s: %w", row.Txid, err)
	}
	created, err := parseOutpoints(row.Created)
	if err != nil {
		return types.Transaction{}, fmt.Errorf("invalid outputs of tx %s: %w", row.Txid, err)
	}
	return types.Transaction{
		ID:        row.Txid,
		Direction: types.Direction(row.Direction),
		Domain:    types.Domain(row.Domain),
		Consumed:  consumed,
		Created:   created,
		Delta:     row.Delta,
		Timestamp: timeOrZero(row.Timestamp),
		Status:    types.TxStatus(row.Status),
	}, nil
}

func toUpsertTxParams(walletID string, tx types.Transaction) queries.UpsertTxParams {
	return queries.UpsertTxParams{
		WalletID:  walletID,
		Txid:      tx.ID,
		Direction: int64(tx.Direction),
		Domain:    int64(tx.Domain),
		Consumed:  joinOutpoints(tx.Consumed),
		Created:   joinOutpoints(tx.Created),
		Delta:     tx.Delta,
		Timestamp: unixOrZero(tx.Timestamp),
		Status:    int64(tx.Status),
	}
}

func joinOutpoints(outpoints []types.Outpoint) string {
	list := make([]string, 0, len(outpoints))
	for _, op := range outpoints {
		list = append(list, op.String())
	}
	return strings.Join(list, listSeparator)
}

func parseOutpoints(s string) ([]types.Outpoint, error) {
	if len(s) <= 0 {
		return nil, nil
	}
	parts := strings.Split(s, listSeparator)
	outpoints := make([]types.Outpoint, 0, len(parts))
	for _, part := range parts {
		op, err := types.ParseOutpoint(part)
		if err != nil {
			return nil, err
		}
		outpoints = append(outpoints, op)
	}
	return outpoints, nil
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
