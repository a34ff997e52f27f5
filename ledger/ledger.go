package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/arkade-os/arkive/types"
)

var ErrAccountingMismatch = errors.New("accounting identity violated")

type Order int

const (
	OrderAscending Order = iota
	OrderDescending
)

type PageRequest struct {
	Index int
	Size  int
}

// PageResponse describes the returned page. Next is -1 on the last page.
type PageResponse struct {
	Current int
	Next    int
	Total   int
}

// HistoryFilter narrows a history query. Zero values match everything.
type HistoryFilter struct {
	Domains []types.Domain
	From    time.Time
	To      time.Time
	Order   Order
	Page    *PageRequest
}

// Breakdown splits the balance of a wallet by where the funds are and how
// final they are. Outputs requiring exit are reported apart from the
// spendable offchain balance but are part of Total.
type Breakdown struct {
	OnchainConfirmed     uint64
	OnchainPending       uint64
	OffchainSettled      uint64
	OffchainPreconfirmed uint64
	RequiringExit        uint64
	Total                uint64
}

// Ledger is a read only projection over the transaction records and outputs
// persisted in the wallet store.
type Ledger struct {
	store types.WalletStore
}

func New(store types.WalletStore) *Ledger {
	return &Ledger{store}
}

// History returns the transaction records of a wallet matching filter,
// ordered by timestamp with ties broken by id.
func (l *Ledger) History(
	ctx context.Context, walletID string, filter HistoryFilter,
) ([]types.Transaction, *PageResponse, error) {
	txs, err := l.store.GetTransactions(ctx, walletID)
	if err != nil {
		return nil, nil, err
	}

	filtered := make([]types.Transaction, 0, len(txs))
	for _, tx := range txs {
		if filter.matches(tx) {
			filtered = append(filtered, tx)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		a, b := filtered[i], filtered[j]
		if filter.Order == OrderDescending {
			a, b = b, a
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})

	if filter.Page == nil {
		return filtered, nil, nil
	}
	return paginate(filtered, *filter.Page)
}

// Balance returns the balance of a wallet derived from its transaction
// records and genesis funding. It fails with ErrAccountingMismatch if that
// differs from the sum of its unspent outputs.
func (l *Ledger) Balance(ctx context.Context, walletID string) (uint64, error) {
	snapshot, err := l.store.Snapshot(ctx, walletID)
	if err != nil {
		return 0, err
	}
	return CheckAccounting(*snapshot)
}

// CheckAccounting verifies the accounting identity over a snapshot and
// returns the resulting balance.
func CheckAccounting(snapshot types.Snapshot) (uint64, error) {
	total := snapshot.Wallet.GenesisFunding
	for _, tx := range snapshot.Transactions {
		total += tx.Delta
	}

	unspent := snapshot.Balance()
	if total < 0 || uint64(total) != unspent {
		return 0, fmt.Errorf(
			"%w for wallet %s: records sum to %d, unspent outputs to %d",
			ErrAccountingMismatch, snapshot.Wallet.ID, total, unspent,
		)
	}
	return unspent, nil
}

func (l *Ledger) Breakdown(ctx context.Context, walletID string) (*Breakdown, error) {
	unspent, _, err := l.store.GetOutputs(ctx, walletID)
	if err != nil {
		return nil, err
	}

	breakdown := &Breakdown{}
	for _, o := range unspent {
		switch {
		case o.Domain == types.DomainOnchain && o.IsConfirmed():
			breakdown.OnchainConfirmed += o.Amount
		case o.Domain == types.DomainOnchain:
			breakdown.OnchainPending += o.Amount
		case o.RequiresExit:
			breakdown.RequiringExit += o.Amount
		case o.Preconfirmed:
			breakdown.OffchainPreconfirmed += o.Amount
		default:
			breakdown.OffchainSettled += o.Amount
		}
		breakdown.Total += o.Amount
	}
	return breakdown, nil
}

// ExpiringVtxos returns the unspent vtxos whose validity window closes
// within threshold from the given chain tip and time, soonest first.
// Vtxos already flagged for exit are left out.
func (l *Ledger) ExpiringVtxos(
	ctx context.Context, walletID string, threshold time.Duration, tipHeight uint32, now time.Time,
) ([]types.Output, error) {
	unspent, _, err := l.store.GetOutputs(ctx, walletID)
	if err != nil {
		return nil, err
	}

	expiring := make([]types.Output, 0)
	for _, o := range unspent {
		if !o.IsSpendableOffchain() {
			continue
		}
		if o.Expiry.Within(threshold, tipHeight, now) {
			expiring = append(expiring, o)
		}
	}
	sort.SliceStable(expiring, func(i, j int) bool {
		if expiring[i].Expiry != expiring[j].Expiry {
			return expiring[i].Expiry < expiring[j].Expiry
		}
		return expiring[i].Outpoint.Less(expiring[j].Outpoint)
	})
	return expiring, nil
}

func (f HistoryFilter) matches(tx types.Transaction) bool {
	if len(f.Domains) > 0 {
		found := false
		for _, domain := range f.Domains {
			if tx.Domain == domain {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && tx.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !tx.Timestamp.Before(f.To) {
		return false
	}
	return true
}

func paginate(
	txs []types.Transaction, page PageRequest,
) ([]types.Transaction, *PageResponse, error) {
	if page.Size <= 0 {
		return nil, nil, fmt.Errorf("page size must be greater than 0")
	}
	if page.Index < 0 {
		return nil, nil, fmt.Errorf("page index must not be negative")
	}

	total := (len(txs) + page.Size - 1) / page.Size
	resp := &PageResponse{Current: page.Index, Next: -1, Total: total}
	if page.Index+1 < total {
		resp.Next = page.Index + 1
	}

	start := page.Index * page.Size
	if start >= len(txs) {
		return []types.Transaction{}, resp, nil
	}
	end := min(start+page.Size, len(txs))
	return txs[start:end], resp, nil
}
