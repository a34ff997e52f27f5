package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/ledger"
	"github.com/arkade-os/arkive/store"
	"github.com/arkade-os/arkive/types"
	"github.com/stretchr/testify/require"
)

var (
	ctx  = context.Background()
	base = time.Unix(1_700_000_000, 0).UTC()
)

func TestHistory(t *testing.T) {
	walletStore, walletID := newWallet(t)

	var txs []types.Transaction
	var outputs []types.Output
	for i := range 5 {
		domain := types.DomainOnchain
		if i%2 == 1 {
			domain = types.DomainOffchain
		}
		txid := fmt.Sprintf("tx%d", i)
		output := types.Output{
			Outpoint: types.Outpoint{Txid: txid},
			Domain:   domain,
			Amount:   1000,
		}
		outputs = append(outputs, output)
		txs = append(txs, types.Transaction{
			ID:        txid,
			Domain:    domain,
			Created:   []types.Outpoint{output.Outpoint},
			Delta:     1000,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	_, err := walletStore.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:     walletID,
		NewOutputs:   outputs,
		Transactions: txs,
	})
	require.NoError(t, err)

	l := ledger.New(walletStore)

	tests := []struct {
		name         string
		filter       ledger.HistoryFilter
		expectedIDs  []string
		expectedPage *ledger.PageResponse
	}{
		{
			name:        "all ascending",
			expectedIDs: []string{"tx0", "tx1", "tx2", "tx3", "tx4"},
		},
		{
			name:        "all descending",
			filter:      ledger.HistoryFilter{Order: ledger.OrderDescending},
			expectedIDs: []string{"tx4", "tx3", "tx2", "tx1", "tx0"},
		},
		{
			name:        "offchain only",
			filter:      ledger.HistoryFilter{Domains: []types.Domain{types.DomainOffchain}},
			expectedIDs: []string{"tx1", "tx3"},
		},
		{
			name: "time range",
			filter: ledger.HistoryFilter{
				From: base.Add(time.Hour),
				To:   base.Add(3 * time.Hour),
			},
			expectedIDs: []string{"tx1", "tx2"},
		},
		{
			name: "first page",
			filter: ledger.HistoryFilter{
				Page: &ledger.PageRequest{Index: 0, Size: 2},
			},
			expectedIDs:  []string{"tx0", "tx1"},
			expectedPage: &ledger.PageResponse{Current: 0, Next: 1, Total: 3},
		},
		{
			name: "last page",
			filter: ledger.HistoryFilter{
				Page: &ledger.PageRequest{Index: 2, Size: 2},
			},
			expectedIDs:  []string{"tx4"},
			expectedPage: &ledger.PageResponse{Current: 2, Next: -1, Total: 3},
		},
		{
			name: "past the end",
			filter: ledger.HistoryFilter{
				Page: &ledger.PageRequest{Index: 5, Size: 2},
			},
			expectedIDs:  []string{},
			expectedPage: &ledger.PageResponse{Current: 5, Next: -1, Total: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			history, page, err := l.History(ctx, walletID, tt.filter)
			require.NoError(t, err)
			ids := make([]string, 0, len(history))
			for _, tx := range history {
				ids = append(ids, tx.ID)
			}
			require.Equal(t, tt.expectedIDs, ids)
			require.Equal(t, tt.expectedPage, page)
		})
	}

	_, _, err = l.History(ctx, walletID, ledger.HistoryFilter{
		Page: &ledger.PageRequest{Size: 0},
	})
	require.Error(t, err)

	_, _, err = l.History(ctx, "missing", ledger.HistoryFilter{})
	require.ErrorIs(t, err, types.ErrUnknownWallet)
}

func TestBalance(t *testing.T) {
	walletStore, walletID := newWallet(t)
	l := ledger.New(walletStore)

	balance, err := l.Balance(ctx, walletID)
	require.NoError(t, err)
	require.Zero(t, balance)

	received := types.Output{
		Outpoint: types.Outpoint{Txid: "aa"}, Domain: types.DomainOnchain, Amount: 50_000,
	}
	seq, err := walletStore.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:   walletID,
		NewOutputs: []types.Output{received},
		Transactions: []types.Transaction{{
			ID: "aa", Created: []types.Outpoint{received.Outpoint}, Delta: 50_000,
		}},
	})
	require.NoError(t, err)

	balance, err = l.Balance(ctx, walletID)
	require.NoError(t, err)
	require.Equal(t, uint64(50_000), balance)

	change := types.Output{
		Outpoint: types.Outpoint{Txid: "bb", VOut: 1}, Domain: types.DomainOnchain, Amount: 20_000,
	}
	_, err = walletStore.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:     walletID,
		BaseSequence: seq,
		NewOutputs:   []types.Output{change},
		Spends:       []types.Spend{{Outpoint: received.Outpoint, SpentBy: "bb"}},
		Transactions: []types.Transaction{{
			ID:        "bb",
			Direction: types.DirectionOutgoing,
			Consumed:  []types.Outpoint{received.Outpoint},
			Created:   []types.Outpoint{change.Outpoint},
			Delta:     -30_000,
		}},
	})
	require.NoError(t, err)

	balance, err = l.Balance(ctx, walletID)
	require.NoError(t, err)
	require.Equal(t, uint64(20_000), balance)

	// an output without a matching record breaks the identity
	require.NoError(t, walletStore.RecordOutputs(ctx, walletID, []types.Output{{
		Outpoint: types.Outpoint{Txid: "cc"}, Domain: types.DomainOnchain, Amount: 1,
	}}, seq+1))
	_, err = l.Balance(ctx, walletID)
	require.ErrorIs(t, err, ledger.ErrAccountingMismatch)
}

func TestCheckAccounting(t *testing.T) {
	snapshot := types.Snapshot{
		Wallet:  types.Wallet{ID: "w", GenesisFunding: 500},
		Outputs: []types.Output{{Outpoint: types.Outpoint{Txid: "aa"}, Amount: 700}},
		Transactions: []types.Transaction{
			{ID: "aa", Delta: 200},
		},
	}
	balance, err := ledger.CheckAccounting(snapshot)
	require.NoError(t, err)
	require.Equal(t, uint64(700), balance)

	snapshot.Wallet.GenesisFunding = -1000
	_, err = ledger.CheckAccounting(snapshot)
	require.ErrorIs(t, err, ledger.ErrAccountingMismatch)
}

func TestBreakdownAndExpiry(t *testing.T) {
	walletStore, walletID := newWallet(t)
	l := ledger.New(walletStore)

	now := base
	outputs := []types.Output{
		{Outpoint: types.Outpoint{Txid: "a"}, Domain: types.DomainOnchain, Amount: 1, ConfirmedHeight: 10},
		{Outpoint: types.Outpoint{Txid: "b"}, Domain: types.DomainOnchain, Amount: 2},
		{
			Outpoint: types.Outpoint{Txid: "c"}, Domain: types.DomainOffchain, Amount: 4,
			Expiry: types.ExpiryAtTime(now.Add(30 * time.Minute)),
		},
		{
			Outpoint: types.Outpoint{Txid: "d"}, Domain: types.DomainOffchain, Amount: 8,
			Preconfirmed: true, Expiry: types.ExpiryAtHeight(105),
		},
		{
			Outpoint: types.Outpoint{Txid: "e"}, Domain: types.DomainOffchain, Amount: 16,
			Expiry: types.ExpiryAtHeight(100), RequiresExit: true,
		},
		{
			Outpoint: types.Outpoint{Txid: "f"}, Domain: types.DomainOffchain, Amount: 32,
			Expiry: types.ExpiryAtTime(now.Add(48 * time.Hour)),
		},
		{
			Outpoint: types.Outpoint{Txid: "g"}, Domain: types.DomainOffchain, Amount: 64,
			Spent: true, SpentBy: "h", Expiry: types.ExpiryAtHeight(101),
		},
	}
	require.NoError(t, walletStore.RecordOutputs(ctx, walletID, outputs, 0))

	breakdown, err := l.Breakdown(ctx, walletID)
	require.NoError(t, err)
	require.Equal(t, ledger.Breakdown{
		OnchainConfirmed:     1,
		OnchainPending:       2,
		OffchainSettled:      36,
		OffchainPreconfirmed: 8,
		RequiringExit:        16,
		Total:                63,
	}, *breakdown)

	expiring, err := l.ExpiringVtxos(ctx, walletID, time.Hour, 100, now)
	require.NoError(t, err)
	require.Len(t, expiring, 2)
	require.Equal(t, "d", expiring[0].Txid)
	require.Equal(t, "c", expiring[1].Txid)
}

func newWallet(t *testing.T) (types.WalletStore, string) {
	t.Helper()

	svc, err := store.NewStore(store.Config{
		ConfigStoreType:  types.InMemoryStore,
		AppDataStoreType: types.InMemoryStore,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	walletID, err := svc.WalletStore().CreateWallet(ctx, types.Wallet{
		ID:          "w1",
		Fingerprint: "fp",
		Network:     arklib.BitcoinRegTest,
		CreatedAt:   base,
	})
	require.NoError(t, err)
	return svc.WalletStore(), walletID
}
