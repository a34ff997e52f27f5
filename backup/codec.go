package backup

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	"github.com/lightningnetwork/lnd/tlv"
)

// Snapshot payload record types.
const (
	snapshotVersionType      tlv.Type = 0
	snapshotWalletType       tlv.Type = 2
	snapshotAddressesType    tlv.Type = 4
	snapshotCursorsType      tlv.Type = 6
	snapshotOutputsType      tlv.Type = 8
	snapshotTransactionsType tlv.Type = 10
	snapshotSequenceType     tlv.Type = 12
	snapshotDeviceIDType     tlv.Type = 14
	snapshotTakenAtType      tlv.Type = 16
)

// Encode serializes the snapshot in its canonical form. Equal wallet states
// always produce the same bytes.
func Encode(snapshot types.Snapshot) ([]byte, error) {
	snapshot = canonicalCopy(snapshot)

	wallet, err := encodeStream((&walletWire{}).from(snapshot.Wallet).records()...)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wallet: %w", err)
	}
	addresses, err := encodeList(snapshot.Addresses, func(a types.Address) ([]byte, error) {
		return encodeStream((&addressWire{}).from(a).records()...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode addresses: %w", err)
	}
	cursors, err := encodeList(types.AddressKinds, func(kind types.AddressKind) ([]byte, error) {
		k, cursor := uint8(kind), snapshot.Cursors[kind]
		return encodeStream(
			tlv.MakePrimitiveRecord(0, &k), tlv.MakePrimitiveRecord(2, &cursor),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cursors: %w", err)
	}
	outputs, err := encodeList(snapshot.Outputs, func(o types.Output) ([]byte, error) {
		return encodeStream((&outputWire{}).from(o).records()...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode outputs: %w", err)
	}
	txs, err := encodeList(snapshot.Transactions, func(tx types.Transaction) ([]byte, error) {
		return encodeStream((&txWire{}).from(tx).records()...)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode transactions: %w", err)
	}

	version := snapshot.Version
	sequence := snapshot.Sequence
	deviceID := []byte(snapshot.DeviceID)
	takenAt := unixOrZero(snapshot.TakenAt)
	return encodeStream(
		tlv.MakePrimitiveRecord(snapshotVersionType, &version),
		tlv.MakePrimitiveRecord(snapshotWalletType, &wallet),
		tlv.MakePrimitiveRecord(snapshotAddressesType, &addresses),
		tlv.MakePrimitiveRecord(snapshotCursorsType, &cursors),
		tlv.MakePrimitiveRecord(snapshotOutputsType, &outputs),
		tlv.MakePrimitiveRecord(snapshotTransactionsType, &txs),
		tlv.MakePrimitiveRecord(snapshotSequenceType, &sequence),
		tlv.MakePrimitiveRecord(snapshotDeviceIDType, &deviceID),
		tlv.MakePrimitiveRecord(snapshotTakenAtType, &takenAt),
	)
}

// Decode parses a payload produced by Encode.
func Decode(payload []byte) (*types.Snapshot, error) {
	var (
		version                                  uint32
		sequence, takenAt                        uint64
		wallet, addresses, cursors, outputs, txs []byte
		deviceID                                 []byte
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(snapshotVersionType, &version),
		tlv.MakePrimitiveRecord(snapshotWalletType, &wallet),
		tlv.MakePrimitiveRecord(snapshotAddressesType, &addresses),
		tlv.MakePrimitiveRecord(snapshotCursorsType, &cursors),
		tlv.MakePrimitiveRecord(snapshotOutputsType, &outputs),
		tlv.MakePrimitiveRecord(snapshotTransactionsType, &txs),
		tlv.MakePrimitiveRecord(snapshotSequenceType, &sequence),
		tlv.MakePrimitiveRecord(snapshotDeviceIDType, &deviceID),
		tlv.MakePrimitiveRecord(snapshotTakenAtType, &takenAt),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("malformed snapshot: %w", err)
	}
	if version != types.SnapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d", types.ErrUnsupportedBackupVersion, version)
	}

	snapshot := &types.Snapshot{
		Version:  version,
		Sequence: sequence,
		DeviceID: string(deviceID),
		TakenAt:  timeOrZero(takenAt),
		Cursors:  make(map[types.AddressKind]uint32),
	}

	w := &walletWire{}
	if err := decodeStream(wallet, w.records()...); err != nil {
		return nil, fmt.Errorf("malformed wallet: %w", err)
	}
	snapshot.Wallet = w.to()

	snapshot.Addresses, err = decodeList(addresses, func(b []byte) (types.Address, error) {
		a := &addressWire{}
		if err := decodeStream(b, a.records()...); err != nil {
			return types.Address{}, err
		}
		return a.to(snapshot.Wallet.ID), nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed addresses: %w", err)
	}

	type cursor struct {
		kind  types.AddressKind
		value uint32
	}
	decodedCursors, err := decodeList(cursors, func(b []byte) (cursor, error) {
		var kind uint8
		var value uint32
		err := decodeStream(
			b, tlv.MakePrimitiveRecord(0, &kind), tlv.MakePrimitiveRecord(2, &value),
		)
		return cursor{types.AddressKind(kind), value}, err
	})
	if err != nil {
		return nil, fmt.Errorf("malformed cursors: %w", err)
	}
	for _, c := range decodedCursors {
		if !c.kind.IsValid() {
			return nil, fmt.Errorf("malformed cursors: %w: %d", types.ErrInvalidAddressKind, c.kind)
		}
		snapshot.Cursors[c.kind] = c.value
	}

	snapshot.Outputs, err = decodeList(outputs, func(b []byte) (types.Output, error) {
		o := &outputWire{}
		if err := decodeStream(b, o.records()...); err != nil {
			return types.Output{}, err
		}
		output := o.to()
		return output, types.ValidateOutput(output)
	})
	if err != nil {
		return nil, fmt.Errorf("malformed outputs: %w", err)
	}

	snapshot.Transactions, err = decodeList(txs, func(b []byte) (types.Transaction, error) {
		t := &txWire{}
		if err := decodeStream(b, t.records()...); err != nil {
			return types.Transaction{}, err
		}
		return t.to()
	})
	if err != nil {
		return nil, fmt.Errorf("malformed transactions: %w", err)
	}

	snapshot.Canonicalize()
	return snapshot, nil
}

// Digest fingerprints the wallet state held by a snapshot. Capture metadata
// like the device and the time it was taken is left out.
func Digest(snapshot types.Snapshot) (string, error) {
	snapshot.DeviceID = ""
	snapshot.TakenAt = time.Time{}
	payload, err := Encode(snapshot)
	if err != nil {
		return "", err
	}
	hash := sha256.Sum256(payload)
	return hex.EncodeToString(hash[:]), nil
}

// canonicalCopy canonicalizes a snapshot without touching the slices of
// the caller.
func canonicalCopy(snapshot types.Snapshot) types.Snapshot {
	snapshot.Addresses = slices.Clone(snapshot.Addresses)
	snapshot.Outputs = slices.Clone(snapshot.Outputs)
	for i := range snapshot.Outputs {
		snapshot.Outputs[i].CommitmentTxids = slices.Clone(snapshot.Outputs[i].CommitmentTxids)
	}
	snapshot.Transactions = slices.Clone(snapshot.Transactions)
	for i := range snapshot.Transactions {
		snapshot.Transactions[i].Consumed = slices.Clone(snapshot.Transactions[i].Consumed)
		snapshot.Transactions[i].Created = slices.Clone(snapshot.Transactions[i].Created)
	}
	cursors := make(map[types.AddressKind]uint32, len(snapshot.Cursors))
	for kind, cursor := range snapshot.Cursors {
		cursors[kind] = cursor
	}
	snapshot.Cursors = cursors
	snapshot.Canonicalize()
	return snapshot
}

type walletWire struct {
	id, fingerprint, network []byte
	createdAt                uint64
	encryptedSeed            []byte
	accountXpub, signer      []byte
	exitDelay, boardingDelay uint32
	genesisFunding           uint64
}

func (w *walletWire) from(wallet types.Wallet) *walletWire {
	w.id = []byte(wallet.ID)
	w.fingerprint = []byte(wallet.Fingerprint)
	w.network = []byte(wallet.Network.Name)
	w.createdAt = unixOrZero(wallet.CreatedAt)
	w.encryptedSeed = wallet.EncryptedSeed
	w.accountXpub = []byte(wallet.AccountXpub)
	w.signer = []byte(wallet.SignerPubKey)
	w.exitDelay = wallet.UnilateralExitDelay.Value
	w.boardingDelay = wallet.BoardingExitDelay.Value
	w.genesisFunding = uint64(wallet.GenesisFunding)
	return w
}

func (w *walletWire) to() types.Wallet {
	wallet := types.Wallet{
		ID:                  string(w.id),
		Fingerprint:         string(w.fingerprint),
		Network:             utils.NetworkFromString(string(w.network)),
		CreatedAt:           timeOrZero(w.createdAt),
		AccountXpub:         string(w.accountXpub),
		SignerPubKey:        string(w.signer),
		UnilateralExitDelay: types.RelativeLocktimeFromValue(w.exitDelay),
		BoardingExitDelay:   types.RelativeLocktimeFromValue(w.boardingDelay),
		GenesisFunding:      int64(w.genesisFunding),
	}
	if len(w.encryptedSeed) > 0 {
		wallet.EncryptedSeed = w.encryptedSeed
	}
	return wallet
}

func (w *walletWire) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(0, &w.id),
		tlv.MakePrimitiveRecord(2, &w.fingerprint),
		tlv.MakePrimitiveRecord(4, &w.network),
		tlv.MakePrimitiveRecord(6, &w.createdAt),
		tlv.MakePrimitiveRecord(8, &w.encryptedSeed),
		tlv.MakePrimitiveRecord(10, &w.accountXpub),
		tlv.MakePrimitiveRecord(12, &w.signer),
		tlv.MakePrimitiveRecord(14, &w.exitDelay),
		tlv.MakePrimitiveRecord(16, &w.boardingDelay),
		tlv.MakePrimitiveRecord(18, &w.genesisFunding),
	}
}

type addressWire struct {
	kind                  uint8
	index                 uint32
	path, address, script []byte
	createdAt             uint64
	used                  bool
}

func (w *addressWire) from(a types.Address) *addressWire {
	w.kind = uint8(a.Kind)
	w.index = a.Index
	w.path = []byte(a.DerivationPath)
	w.address = []byte(a.Address)
	w.script = []byte(a.Script)
	w.createdAt = unixOrZero(a.CreatedAt)
	w.used = a.Used
	return w
}

func (w *addressWire) to(walletID string) types.Address {
	return types.Address{
		WalletID:       walletID,
		Kind:           types.AddressKind(w.kind),
		Index:          w.index,
		DerivationPath: string(w.path),
		Address:        string(w.address),
		Script:         string(w.script),
		CreatedAt:      timeOrZero(w.createdAt),
		Used:           w.used,
	}
}

func (w *addressWire) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(0, &w.kind),
		tlv.MakePrimitiveRecord(2, &w.index),
		tlv.MakePrimitiveRecord(4, &w.path),
		tlv.MakePrimitiveRecord(6, &w.address),
		tlv.MakePrimitiveRecord(8, &w.script),
		tlv.MakePrimitiveRecord(10, &w.createdAt),
		tlv.MakePrimitiveRecord(12, &w.used),
	}
}

type outputWire struct {
	txid                []byte
	vout                uint32
	domain              uint8
	address             []byte
	amount              uint64
	confirmedHeight     uint32
	createdAt, expiry   uint64
	commitments         []byte
	preconfirmed, spent bool
	spentBy             []byte
	requiresExit        bool
}

func (w *outputWire) from(o types.Output) *outputWire {
	w.txid = []byte(o.Txid)
	w.vout = o.VOut
	w.domain = uint8(o.Domain)
	w.address = []byte(o.Address)
	w.amount = o.Amount
	w.confirmedHeight = o.ConfirmedHeight
	w.createdAt = unixOrZero(o.CreatedAt)
	w.expiry = uint64(o.Expiry)
	w.commitments = []byte(strings.Join(o.CommitmentTxids, listSeparator))
	w.preconfirmed = o.Preconfirmed
	w.spent = o.Spent
	w.spentBy = []byte(o.SpentBy)
	w.requiresExit = o.RequiresExit
	return w
}

func (w *outputWire) to() types.Output {
	var commitments []string
	if len(w.commitments) > 0 {
		commitments = strings.Split(string(w.commitments), listSeparator)
	}
	return types.Output{
		Outpoint:        types.Outpoint{Txid: string(w.txid), VOut: w.vout},
		Domain:          types.Domain(w.domain),
		Address:         string(w.address),
		Amount:          w.amount,
		ConfirmedHeight: w.confirmedHeight,
		CreatedAt:       timeOrZero(w.createdAt),
		Expiry:          types.Expiry(w.expiry),
		CommitmentTxids: commitments,
		Preconfirmed:    w.preconfirmed,
		Spent:           w.spent,
		SpentBy:         string(w.spentBy),
		RequiresExit:    w.requiresExit,
	}
}

func (w *outputWire) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(0, &w.txid),
		tlv.MakePrimitiveRecord(2, &w.vout),
		tlv.MakePrimitiveRecord(4, &w.domain),
		tlv.MakePrimitiveRecord(6, &w.address),
		tlv.MakePrimitiveRecord(8, &w.amount),
		tlv.MakePrimitiveRecord(10, &w.confirmedHeight),
		tlv.MakePrimitiveRecord(12, &w.createdAt),
		tlv.MakePrimitiveRecord(14, &w.expiry),
		tlv.MakePrimitiveRecord(16, &w.commitments),
		tlv.MakePrimitiveRecord(18, &w.preconfirmed),
		tlv.MakePrimitiveRecord(20, &w.spent),
		tlv.MakePrimitiveRecord(22, &w.spentBy),
		tlv.MakePrimitiveRecord(24, &w.requiresExit),
	}
}

type txWire struct {
	id                []byte
	direction, domain uint8
	consumed, created []byte
	delta, timestamp  uint64
	status            uint8
}

func (w *txWire) from(tx types.Transaction) *txWire {
	w.id = []byte(tx.ID)
	w.direction = uint8(tx.Direction)
	w.domain = uint8(tx.Domain)
	w.consumed = []byte(joinOutpoints(tx.Consumed))
	w.created = []byte(joinOutpoints(tx.Created))
	w.delta = uint64(tx.Delta)
	w.timestamp = unixOrZero(tx.Timestamp)
	w.status = uint8(tx.Status)
	return w
}

func (w *txWire) to() (types.Transaction, error) {
	consumed, err := parseOutpoints(string(w.consumed))
	if err != nil {
		return types.Transaction{}, err
	}
	created, err := parseOutpoints(string(w.created))
	if err != nil {
		return types.Transaction{}, err
	}
	return types.Transaction{
		ID:        string(w.id),
		Direction: types.Direction(w.direction),
		Domain:    types.Domain(w.domain),
		Consumed:  consumed,
		Created:   created,
		Delta:     int64(w.delta),
		Timestamp: timeOrZero(w.timestamp),
		Status:    types.TxStatus(w.status),
	}, nil
}

func (w *txWire) records() []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(0, &w.id),
		tlv.MakePrimitiveRecord(2, &w.direction),
		tlv.MakePrimitiveRecord(4, &w.domain),
		tlv.MakePrimitiveRecord(6, &w.consumed),
		tlv.MakePrimitiveRecord(8, &w.created),
		tlv.MakePrimitiveRecord(10, &w.delta),
		tlv.MakePrimitiveRecord(12, &w.timestamp),
		tlv.MakePrimitiveRecord(14, &w.status),
	}
}

const listSeparator = ","

func encodeStream(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStream(data []byte, records ...tlv.Record) error {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}
	return stream.Decode(bytes.NewReader(data))
}

// encodeList writes the number of items followed by each length-prefixed
// item.
func encodeList[T any](items []T, encode func(T) ([]byte, error)) ([]byte, error) {
	var (
		buf     bytes.Buffer
		scratch [8]byte
	)
	if err := tlv.WriteVarInt(&buf, uint64(len(items)), &scratch); err != nil {
		return nil, err
	}
	for _, item := range items {
		encoded, err := encode(item)
		if err != nil {
			return nil, err
		}
		if err := tlv.WriteVarInt(&buf, uint64(len(encoded)), &scratch); err != nil {
			return nil, err
		}
		buf.Write(encoded)
	}
	return buf.Bytes(), nil
}

func decodeList[T any](data []byte, decode func([]byte) (T, error)) ([]T, error) {
	var scratch [8]byte
	r := bytes.NewReader(data)

	count, err := tlv.ReadVarInt(r, &scratch)
	if err != nil {
		return nil, err
	}
	if count > uint64(r.Len()) {
		return nil, fmt.Errorf("list of %d items exceeds payload", count)
	}
	if count == 0 {
		return nil, nil
	}

	items := make([]T, 0, count)
	for range count {
		size, err := tlv.ReadVarInt(r, &scratch)
		if err != nil {
			return nil, err
		}
		if size > uint64(r.Len()) {
			return nil, io.ErrUnexpectedEOF
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		item, err := decode(buf)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if r.Len() > 0 {
		return nil, fmt.Errorf("%d trailing bytes after list", r.Len())
	}
	return items, nil
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

func unixOrZero(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix())
}

func timeOrZero(ts uint64) time.Time {
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(int64(ts), 0).UTC()
}
