package arkive

import (
	"slices"
	"sort"
	"time"

	"github.com/arkade-os/arkive/client"
	"github.com/arkade-os/arkive/explorer"
	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	"github.com/ccoveille/go-safecast"
)

// SyncResult summarizes a sync cycle of a wallet.
type SyncResult struct {
	WalletID  string
	Sequence  uint64
	TipHeight uint32
	// Applied is false when there was nothing to change or on dry runs.
	Applied       bool
	NewOutputs    int
	Spent         int
	Confirmed     int
	Transactions  int
	StatusUpdates int
	// RequiresExit lists every unspent vtxo that must be exited on-chain.
	RequiresExit []types.Outpoint
	// Unresolved lists the local unspent outputs neither source reports
	// anymore. They are left untouched.
	Unresolved []types.Outpoint
}

// remoteView is what the chain source and the settlement server report
// about the addresses of a wallet.
type remoteView struct {
	tipHeight uint32
	chain     []explorer.Output
	vtxos     []client.Vtxo
}

type spendInfo struct {
	ref       string
	confirmed bool
	at        time.Time
}

// movement is one of our outputs entering or leaving the wallet as part of
// an economic event.
type movement struct {
	event   string
	output  types.Output
	created bool
	at      time.Time
}

type reconciler struct {
	policy types.BoardingPolicy
	now    time.Time
	tip    uint32

	boarding map[string]bool
	// outputs is the local state with the remote view applied.
	outputs     map[types.Outpoint]types.Output
	spends      map[types.Outpoint]spendInfo
	swept       map[types.Outpoint]bool
	commitments map[string]bool
	createdBy   map[types.Outpoint]string
}

// reconcile diffs the remote view against the local state of a wallet and
// returns the batch that brings the latter up to date.
func reconcile(
	state types.Snapshot, view remoteView, policy types.BoardingPolicy, now time.Time,
) (*types.SyncBatch, *SyncResult, error) {
	r := &reconciler{
		policy:      policy,
		now:         types.NormalizeTime(now),
		tip:         view.tipHeight,
		boarding:    make(map[string]bool),
		outputs:     make(map[types.Outpoint]types.Output, len(state.Outputs)),
		spends:      make(map[types.Outpoint]spendInfo),
		swept:       make(map[types.Outpoint]bool),
		commitments: make(map[string]bool),
		createdBy:   make(map[types.Outpoint]string),
	}
	batch := &types.SyncBatch{WalletID: state.Wallet.ID, BaseSequence: state.Sequence}
	result := &SyncResult{
		WalletID:  state.Wallet.ID,
		Sequence:  state.Sequence,
		TipHeight: view.tipHeight,
	}

	chainAddresses := make(map[string]types.Address)
	scripts := make(map[string]types.Address)
	for _, addr := range state.Addresses {
		switch addr.Kind {
		case types.AddressOffchain:
			scripts[addr.Script] = addr
		case types.AddressBoarding:
			r.boarding[addr.Address] = true
			chainAddresses[addr.Address] = addr
		default:
			chainAddresses[addr.Address] = addr
		}
	}

	local := make(map[types.Outpoint]types.Output, len(state.Outputs))
	for _, o := range state.Outputs {
		local[o.Outpoint] = o
		r.outputs[o.Outpoint] = o
	}

	remote := append(r.fromChain(view.chain, chainAddresses), r.fromVtxos(view.vtxos, scripts)...)
	sort.Slice(remote, func(i, j int) bool {
		return remote[i].Outpoint.Less(remote[j].Outpoint)
	})

	reported := make(map[types.Outpoint]bool, len(remote))
	moves := make([]movement, 0)
	for _, o := range remote {
		op := o.Outpoint
		reported[op] = true

		current, known := local[op]
		if !known {
			if o.CreatedAt.IsZero() {
				o.CreatedAt = r.now
			}
			batch.NewOutputs = append(batch.NewOutputs, o)
			r.outputs[op] = o
			moves = append(moves, movement{
				event: r.createdBy[op], output: o, created: true, at: o.CreatedAt,
			})
		} else {
			if o.ConfirmedHeight > current.ConfirmedHeight {
				batch.Confirmations = append(batch.Confirmations, types.Confirmation{
					Outpoint: op, Height: o.ConfirmedHeight,
				})
				current.ConfirmedHeight = o.ConfirmedHeight
			}
			if refreshed(current, o) {
				batch.NewOutputs = append(batch.NewOutputs, o)
				current.Preconfirmed = current.Preconfirmed && o.Preconfirmed
				current.CommitmentTxids = mergeStrings(current.CommitmentTxids, o.CommitmentTxids)
			}
			r.outputs[op] = current
		}

		out := r.outputs[op]
		spend, ok := r.spends[op]
		if !ok || out.Spent {
			continue
		}
		batch.Spends = append(batch.Spends, types.Spend{Outpoint: op, SpentBy: spend.ref})
		out.Spent, out.SpentBy = true, spend.ref
		r.outputs[op] = out
		at := spend.at
		if at.IsZero() {
			at = r.now
		}
		moves = append(moves, movement{event: spend.ref, output: out, at: at})
	}

	for _, op := range sortedOutpoints(r.outputs) {
		o := r.outputs[op]
		if o.Spent {
			continue
		}
		expired := o.Domain == types.DomainOffchain &&
			(o.Expiry.Elapsed(r.tip, r.now) || r.swept[op])
		if expired || o.RequiresExit {
			if !o.RequiresExit {
				batch.ExitRequired = append(batch.ExitRequired, op)
			}
			result.RequiresExit = append(result.RequiresExit, op)
			continue
		}
		if _, ok := local[op]; ok && !reported[op] {
			result.Unresolved = append(result.Unresolved, op)
		}
	}

	existing := make(map[string]types.Transaction, len(state.Transactions))
	for _, tx := range state.Transactions {
		existing[tx.ID] = tx
	}
	groups := utils.GroupBy(moves, func(m movement) string { return m.event })
	for _, id := range utils.SortedKeys(groups) {
		tx, err := r.newTransaction(id, groups[id])
		if err != nil {
			return nil, nil, err
		}
		consumed, created := tx.Consumed, tx.Created
		if prev, ok := existing[id]; ok {
			consumed = append(slices.Clone(prev.Consumed), consumed...)
			created = append(slices.Clone(prev.Created), created...)
		}
		tx.Status = r.status(id, consumed, created)
		batch.Transactions = append(batch.Transactions, tx)
	}

	for _, tx := range state.Transactions {
		if _, ok := groups[tx.ID]; ok {
			continue
		}
		if status := r.status(tx.ID, tx.Consumed, tx.Created); status > tx.Status {
			batch.StatusUpdates = append(batch.StatusUpdates, types.StatusUpdate{
				Txid: tx.ID, Status: status,
			})
		}
	}

	for _, o := range batch.NewOutputs {
		if _, ok := local[o.Outpoint]; !ok {
			result.NewOutputs++
		}
	}
	result.Spent = len(batch.Spends)
	result.Confirmed = len(batch.Confirmations)
	result.Transactions = len(batch.Transactions)
	result.StatusUpdates = len(batch.StatusUpdates)
	return batch, result, nil
}

func (r *reconciler) fromChain(
	outputs []explorer.Output, addresses map[string]types.Address,
) []types.Output {
	res := make([]types.Output, 0, len(outputs))
	for _, u := range outputs {
		addr, ok := addresses[u.Address]
		if !ok {
			continue
		}
		o := types.Output{
			Outpoint:  types.Outpoint{Txid: u.Txid, VOut: u.Vout},
			Domain:    types.DomainOnchain,
			Address:   addr.Address,
			Amount:    u.Amount,
			CreatedAt: u.CreatedAt(),
		}
		if u.Confirmed {
			o.ConfirmedHeight = u.BlockHeight
		}
		if u.Spent && len(u.SpentBy) > 0 {
			spend := spendInfo{ref: u.SpentBy}
			if u.SpentAt > 0 {
				spend.confirmed = true
				spend.at = time.Unix(u.SpentAt, 0).UTC()
			}
			r.spends[o.Outpoint] = spend
		}
		r.createdBy[o.Outpoint] = u.Txid
		res = append(res, o)
	}
	return res
}

func (r *reconciler) fromVtxos(vtxos []client.Vtxo, scripts map[string]types.Address) []types.Output {
	res := make([]types.Output, 0, len(vtxos))
	for _, v := range vtxos {
		addr, ok := scripts[v.Script]
		if !ok {
			continue
		}
		for _, commitment := range v.CommitmentTxids {
			r.commitments[commitment] = true
		}

		o := types.Output{
			Outpoint:        v.Outpoint,
			Domain:          types.DomainOffchain,
			Address:         addr.Address,
			Amount:          v.Amount,
			CreatedAt:       v.CreatedAt,
			Expiry:          v.Expiry,
			CommitmentTxids: slices.Clone(v.CommitmentTxids),
			Preconfirmed:    v.Preconfirmed,
		}
		if ref := vtxoSpendRef(v); len(ref) > 0 && (v.Spent || len(v.SettledBy) > 0) {
			r.spends[o.Outpoint] = spendInfo{ref: ref, confirmed: true}
		} else if v.Swept || v.Unrolled {
			r.swept[o.Outpoint] = true
		}
		r.createdBy[o.Outpoint] = vtxoCreatedBy(v)
		res = append(res, o)
	}
	return res
}

func (r *reconciler) newTransaction(id string, moves []movement) (types.Transaction, error) {
	tx := types.Transaction{ID: id, Domain: types.DomainOnchain}
	for _, m := range moves {
		amount, err := safecast.ToInt64(m.output.Amount)
		if err != nil {
			return types.Transaction{}, err
		}
		if m.created {
			tx.Created = append(tx.Created, m.output.Outpoint)
			tx.Delta += amount
		} else {
			tx.Consumed = append(tx.Consumed, m.output.Outpoint)
			tx.Delta -= amount
		}
		if m.output.Domain == types.DomainOffchain {
			tx.Domain = types.DomainOffchain
		}
		if tx.Timestamp.IsZero() || m.at.Before(tx.Timestamp) {
			tx.Timestamp = m.at
		}
	}
	tx.Direction = types.DirectionIncoming
	if tx.Delta < 0 {
		tx.Direction = types.DirectionOutgoing
	}
	return tx, nil
}

// status derives the status of an event from the outputs it touches. With
// BoardingPreferSettlement a boarding spend is settled as soon as one of
// our vtxos reports its commitment, otherwise the chain status applies.
func (r *reconciler) status(id string, consumed, created []types.Outpoint) types.TxStatus {
	boarding := false
	onchainOnly := true
	chainConfirmed := true
	preconfirmed := false

	for _, op := range consumed {
		o, ok := r.outputs[op]
		if !ok {
			continue
		}
		if o.Domain == types.DomainOffchain {
			onchainOnly = false
			continue
		}
		if r.boarding[o.Address] {
			boarding = true
		}
		if spend, ok := r.spends[op]; !ok || !spend.confirmed {
			chainConfirmed = false
		}
	}
	for _, op := range created {
		o, ok := r.outputs[op]
		if !ok {
			continue
		}
		if o.Domain == types.DomainOffchain {
			onchainOnly = false
			preconfirmed = preconfirmed || o.Preconfirmed
			continue
		}
		if !o.IsConfirmed() {
			chainConfirmed = false
		}
	}

	chainStatus := types.TxPending
	if chainConfirmed {
		chainStatus = types.TxConfirmed
	}

	switch {
	case boarding:
		if r.policy == types.BoardingPreferSettlement && r.commitments[id] {
			return types.TxSettled
		}
		return chainStatus
	case onchainOnly, !chainConfirmed:
		return chainStatus
	case preconfirmed:
		return types.TxPending
	case r.commitments[id]:
		return types.TxSettled
	default:
		return types.TxConfirmed
	}
}

// vtxoSpendRef is the event spending a vtxo: the commitment tx settling it,
// or else the ark tx spending it.
func vtxoSpendRef(v client.Vtxo) string {
	switch {
	case len(v.SettledBy) > 0:
		return v.SettledBy
	case len(v.ArkTxid) > 0:
		return v.ArkTxid
	default:
		return v.SpentBy
	}
}

// vtxoCreatedBy is the event creating a vtxo: the ark tx for preconfirmed
// ones, the commitment tx for those issued in a batch.
func vtxoCreatedBy(v client.Vtxo) string {
	if v.Preconfirmed || len(v.CommitmentTxids) <= 0 {
		return v.Txid
	}
	return v.CommitmentTxids[0]
}

// refreshed reports whether the remote view of a tracked vtxo carries
// news beyond its confirmation and spent state.
func refreshed(current, remote types.Output) bool {
	if current.Domain != types.DomainOffchain {
		return false
	}
	if current.Preconfirmed && !remote.Preconfirmed {
		return true
	}
	for _, c := range remote.CommitmentTxids {
		if !slices.Contains(current.CommitmentTxids, c) {
			return true
		}
	}
	return false
}

func mergeStrings(a, b []string) []string {
	out := append(slices.Clone(a), b...)
	sort.Strings(out)
	return slices.Compact(out)
}

func sortedOutpoints(m map[types.Outpoint]types.Output) []types.Outpoint {
	keys := make([]types.Outpoint, 0, len(m))
	for op := range m {
		keys = append(keys, op)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].Less(keys[j])
	})
	return keys
}
