package types

import (
	"fmt"
	"reflect"
	"sort"
)

// StateChanges is the set of writes a store must commit atomically to move a
// wallet from one state to the next. Entities are full records to upsert.
type StateChanges struct {
	Sequence     uint64
	Cursors      map[AddressKind]uint32
	Addresses    []Address
	Outputs      []Output
	Transactions []Transaction
	Events       []WalletEvent
}

func (c *StateChanges) IsEmpty() bool {
	return len(c.Addresses) == 0 && len(c.Outputs) == 0 &&
		len(c.Transactions) == 0 && len(c.Cursors) == 0
}

// CheckSequence rejects a mutation computed against an older state.
func CheckSequence(walletID string, current, asOf uint64) error {
	if asOf < current {
		return &StaleSequenceError{WalletID: walletID, Expected: current, Got: asOf}
	}
	return nil
}

// NextSequence is the sequence a wallet moves to after a committed mutation.
func NextSequence(current, asOf uint64) uint64 {
	return max(current, asOf) + 1
}

// ValidateOutput checks the invariants every persisted output must hold.
func ValidateOutput(o Output) error {
	if len(o.Txid) <= 0 {
		return fmt.Errorf("missing output txid")
	}
	if o.Spent && len(o.SpentBy) <= 0 {
		return fmt.Errorf("%w: %s", ErrMissingSpentBy, o.Outpoint)
	}
	return nil
}

// PlanSyncBatch computes the writes for a sync batch against the current
// wallet state. Already tracked outputs and transaction records are joined
// with the incoming view.
func PlanSyncBatch(state Snapshot, batch SyncBatch) (*StateChanges, error) {
	walletID := state.Wallet.ID
	if err := CheckSequence(walletID, state.Sequence, batch.BaseSequence); err != nil {
		return nil, err
	}

	outputs := make(map[Outpoint]Output, len(state.Outputs))
	for _, o := range state.Outputs {
		outputs[o.Outpoint] = o
	}
	txs := make(map[string]Transaction, len(state.Transactions))
	for _, tx := range state.Transactions {
		txs[tx.ID] = tx
	}

	changedOutputs := make(map[Outpoint]Output)
	changedTxs := make(map[string]Transaction)
	var added, spent, exit []Output
	var addedTxs []Transaction

	for _, o := range batch.NewOutputs {
		if err := ValidateOutput(o); err != nil {
			return nil, err
		}
		current, ok := outputs[o.Outpoint]
		if !ok {
			outputs[o.Outpoint] = o
			changedOutputs[o.Outpoint] = o
			added = append(added, o)
			continue
		}
		merged, err := MergeOutput(current, o)
		if err != nil {
			return nil, err
		}
		if !reflect.DeepEqual(merged, current) {
			outputs[o.Outpoint] = merged
			changedOutputs[o.Outpoint] = merged
		}
	}

	for _, s := range batch.Spends {
		if len(s.SpentBy) <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingSpentBy, s.Outpoint)
		}
		o, ok := outputs[s.Outpoint]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, s.Outpoint)
		}
		if o.Spent {
			if o.SpentBy == s.SpentBy {
				continue
			}
			return nil, fmt.Errorf(
				"%w: %s by %s, got %s", ErrAlreadySpent, s.Outpoint, o.SpentBy, s.SpentBy,
			)
		}
		o.Spent, o.SpentBy = true, s.SpentBy
		outputs[s.Outpoint] = o
		changedOutputs[s.Outpoint] = o
		spent = append(spent, o)
	}

	for _, c := range batch.Confirmations {
		o, ok := outputs[c.Outpoint]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, c.Outpoint)
		}
		if c.Height <= o.ConfirmedHeight {
			continue
		}
		o.ConfirmedHeight = c.Height
		outputs[c.Outpoint] = o
		changedOutputs[c.Outpoint] = o
	}

	for _, op := range batch.ExitRequired {
		o, ok := outputs[op]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownOutput, op)
		}
		if o.RequiresExit {
			continue
		}
		o.RequiresExit = true
		outputs[op] = o
		changedOutputs[op] = o
		exit = append(exit, o)
	}

	for _, tx := range batch.Transactions {
		tx.Consumed = unionOutpoints(tx.Consumed, nil)
		tx.Created = unionOutpoints(tx.Created, nil)
		if current, ok := txs[tx.ID]; ok {
			// later observations of an event extend its record
			if !uncovered(tx, current, nil).covered {
				continue
			}
			joined, err := mergeTransaction(current, tx, outputs)
			if err != nil {
				return nil, err
			}
			txs[tx.ID] = joined
			changedTxs[tx.ID] = joined
			continue
		}
		txs[tx.ID] = tx
		changedTxs[tx.ID] = tx
		addedTxs = append(addedTxs, tx)
	}

	for _, u := range batch.StatusUpdates {
		tx, ok := txs[u.Txid]
		if !ok {
			return nil, fmt.Errorf("unknown transaction %s", u.Txid)
		}
		if u.Status <= tx.Status {
			continue
		}
		tx.Status = u.Status
		txs[u.Txid] = tx
		changedTxs[u.Txid] = tx
	}

	changes := &StateChanges{
		Sequence:  NextSequence(state.Sequence, batch.BaseSequence),
		Addresses: markUsed(state.Addresses, changedOutputs),
	}
	for _, op := range sortedOutpointKeys(changedOutputs) {
		changes.Outputs = append(changes.Outputs, changedOutputs[op])
	}
	for _, id := range sortedStringKeys(changedTxs) {
		changes.Transactions = append(changes.Transactions, changedTxs[id])
	}

	event := func(t WalletEventType) WalletEvent {
		return WalletEvent{Type: t, WalletID: walletID, Sequence: changes.Sequence}
	}
	if len(added) > 0 {
		ev := event(OutputsAdded)
		ev.Outputs = added
		changes.Events = append(changes.Events, ev)
	}
	if len(spent) > 0 {
		ev := event(OutputsSpent)
		ev.Outputs = spent
		changes.Events = append(changes.Events, ev)
	}
	if len(exit) > 0 {
		ev := event(OutputsRequireExit)
		ev.Outputs = exit
		changes.Events = append(changes.Events, ev)
	}
	if len(addedTxs) > 0 {
		ev := event(TransactionsAdded)
		ev.Transactions = addedTxs
		changes.Events = append(changes.Events, ev)
	}
	return changes, nil
}

// MergeSnapshots joins two snapshots of the same wallet. The result does not
// depend on the order of the arguments and merging a snapshot into itself
// returns it unchanged.
func MergeSnapshots(a, b Snapshot) (Snapshot, error) {
	if a.Wallet.ID != b.Wallet.ID {
		return Snapshot{}, fmt.Errorf(
			"%w: %s vs %s", ErrSnapshotMismatch, a.Wallet.ID, b.Wallet.ID,
		)
	}

	merged := Snapshot{
		Version:  max(a.Version, b.Version),
		Wallet:   mergeWallet(a.Wallet, b.Wallet),
		Sequence: max(a.Sequence, b.Sequence),
		DeviceID: minNonEmpty(a.DeviceID, b.DeviceID),
		TakenAt:  a.TakenAt,
		Cursors:  make(map[AddressKind]uint32),
	}
	if b.TakenAt.After(a.TakenAt) {
		merged.TakenAt = b.TakenAt
	}

	type addrKey struct {
		kind  AddressKind
		index uint32
	}
	addresses := make(map[addrKey]Address)
	for _, list := range [][]Address{a.Addresses, b.Addresses} {
		for _, addr := range list {
			key := addrKey{addr.Kind, addr.Index}
			current, ok := addresses[key]
			if !ok {
				addresses[key] = addr
				continue
			}
			joined, err := MergeAddress(current, addr)
			if err != nil {
				return Snapshot{}, err
			}
			addresses[key] = joined
		}
	}
	for _, addr := range addresses {
		merged.Addresses = append(merged.Addresses, addr)
	}

	outputs := make(map[Outpoint]Output)
	for _, list := range [][]Output{a.Outputs, b.Outputs} {
		for _, o := range list {
			current, ok := outputs[o.Outpoint]
			if !ok {
				outputs[o.Outpoint] = o
				continue
			}
			joined, err := MergeOutput(current, o)
			if err != nil {
				return Snapshot{}, err
			}
			outputs[o.Outpoint] = joined
		}
	}
	for _, o := range outputs {
		merged.Outputs = append(merged.Outputs, o)
	}

	txs := make(map[string]Transaction)
	for _, list := range [][]Transaction{a.Transactions, b.Transactions} {
		for _, tx := range list {
			current, ok := txs[tx.ID]
			if !ok {
				txs[tx.ID] = tx
				continue
			}
			joined, err := mergeTransaction(current, tx, outputs)
			if err != nil {
				return Snapshot{}, err
			}
			txs[tx.ID] = joined
		}
	}
	for _, tx := range txs {
		merged.Transactions = append(merged.Transactions, tx)
	}

	for _, kind := range AddressKinds {
		merged.Cursors[kind] = MergeCursor(a.Cursors[kind], b.Cursors[kind], merged.Addresses, kind)
	}

	merged.Canonicalize()
	return merged, nil
}

// PlanMerge computes the writes needed to merge remote into local, together
// with a summary of what changed. The sequence is never bumped by a merge.
func PlanMerge(local, remote Snapshot) (*StateChanges, *MergeReport, error) {
	local.Canonicalize()
	remote.Canonicalize()

	merged, err := MergeSnapshots(local, remote)
	if err != nil {
		return nil, nil, err
	}

	report := &MergeReport{WalletID: local.Wallet.ID, Sequence: merged.Sequence}
	changes := &StateChanges{Sequence: merged.Sequence}

	type addrKey struct {
		kind  AddressKind
		index uint32
	}
	localAddrs := make(map[addrKey]Address, len(local.Addresses))
	for _, addr := range local.Addresses {
		localAddrs[addrKey{addr.Kind, addr.Index}] = addr
	}
	for _, addr := range merged.Addresses {
		current, ok := localAddrs[addrKey{addr.Kind, addr.Index}]
		if !ok {
			report.AddedAddresses++
		}
		if !ok || !reflect.DeepEqual(current, addr) {
			changes.Addresses = append(changes.Addresses, addr)
		}
	}

	localOutputs := make(map[Outpoint]Output, len(local.Outputs))
	for _, o := range local.Outputs {
		localOutputs[o.Outpoint] = o
	}
	for _, o := range merged.Outputs {
		current, ok := localOutputs[o.Outpoint]
		if !ok {
			report.AddedOutputs++
		} else if o.Spent && !current.Spent {
			report.NewlySpent++
		}
		if !ok || !reflect.DeepEqual(current, o) {
			changes.Outputs = append(changes.Outputs, o)
		}
	}

	localTxs := make(map[string]Transaction, len(local.Transactions))
	for _, tx := range local.Transactions {
		localTxs[tx.ID] = tx
	}
	for _, tx := range merged.Transactions {
		current, ok := localTxs[tx.ID]
		if !ok {
			report.AddedTransactions++
		}
		if !ok || !reflect.DeepEqual(current, tx) {
			changes.Transactions = append(changes.Transactions, tx)
		}
	}

	for kind, cursor := range merged.Cursors {
		if cursor != local.Cursors[kind] {
			if changes.Cursors == nil {
				changes.Cursors = make(map[AddressKind]uint32)
			}
			changes.Cursors[kind] = cursor
		}
	}

	if !changes.IsEmpty() || merged.Sequence != local.Sequence {
		changes.Events = append(changes.Events, WalletEvent{
			Type:         SnapshotMerged,
			WalletID:     local.Wallet.ID,
			Sequence:     merged.Sequence,
			Outputs:      changes.Outputs,
			Transactions: changes.Transactions,
			Addresses:    changes.Addresses,
		})
	}
	return changes, report, nil
}

func mergeWallet(a, b Wallet) Wallet {
	merged := a
	if len(merged.EncryptedSeed) == 0 {
		merged.EncryptedSeed = b.EncryptedSeed
	}
	merged.CreatedAt = earliest(a.CreatedAt, b.CreatedAt)
	if merged.AccountXpub == "" {
		merged.AccountXpub = b.AccountXpub
	}
	if merged.SignerPubKey == "" {
		merged.SignerPubKey = b.SignerPubKey
	}
	if merged.Fingerprint == "" {
		merged.Fingerprint = b.Fingerprint
	}
	return merged
}

func markUsed(addresses []Address, outputs map[Outpoint]Output) []Address {
	if len(outputs) == 0 {
		return nil
	}
	receiving := make(map[string]struct{}, len(outputs))
	for _, o := range outputs {
		receiving[o.Address] = struct{}{}
	}
	var used []Address
	for _, addr := range addresses {
		if addr.Used {
			continue
		}
		if _, ok := receiving[addr.Address]; ok {
			addr.Used = true
			used = append(used, addr)
		}
	}
	return used
}

func sortedOutpointKeys[T any](m map[Outpoint]T) []Outpoint {
	keys := make([]Outpoint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortOutpoints(keys)
	return keys
}

func sortedStringKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
