package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	"github.com/arkade-os/arkive/store"
	"github.com/arkade-os/arkive/types"
	"github.com/stretchr/testify/require"
)

var ctx = context.Background()

type storeFactory func(t *testing.T) types.WalletStore

func backends() map[string]storeFactory {
	newStore := func(appDataType string, withDir bool) storeFactory {
		return func(t *testing.T) types.WalletStore {
			dir := ""
			if withDir {
				dir = t.TempDir()
			}
			svc, err := store.NewStore(store.Config{
				ConfigStoreType:  types.InMemoryStore,
				AppDataStoreType: appDataType,
				BaseDir:          dir,
			})
			require.NoError(t, err)
			t.Cleanup(svc.Close)
			return svc.WalletStore()
		}
	}
	return map[string]storeFactory{
		"kv in memory": newStore(types.InMemoryStore, false),
		"kv on disk":   newStore(types.KVStore, true),
		"sql":          newStore(types.SQLStore, true),
	}
}

func testWallet(id string) types.Wallet {
	return types.Wallet{
		ID:                  id,
		Fingerprint:         "fp-" + id,
		Network:             arklib.BitcoinRegTest,
		CreatedAt:           time.Unix(1_700_000_000, 0).UTC(),
		EncryptedSeed:       []byte{0xde, 0xad, 0xbe, 0xef},
		AccountXpub:         "tpubfake",
		SignerPubKey:        "02aa",
		UnilateralExitDelay: types.RelativeLocktimeFromValue(512),
		BoardingExitDelay:   types.RelativeLocktimeFromValue(1024),
	}
}

func fakeDerive(kind types.AddressKind) types.DeriveFunc {
	return func(index uint32) (*types.DerivedAddress, error) {
		return &types.DerivedAddress{
			Address:        fmt.Sprintf("%s-addr-%d", kind, index),
			Script:         fmt.Sprintf("%s-script-%d", kind, index),
			DerivationPath: fmt.Sprintf("m/86'/1'/0'/%d/%d", kind, index),
		}, nil
	}
}

func onchainOutput(txid string, amount uint64, address string) types.Output {
	return types.Output{
		Outpoint:  types.Outpoint{Txid: txid, VOut: 0},
		Domain:    types.DomainOnchain,
		Address:   address,
		Amount:    amount,
		CreatedAt: time.Unix(1_700_000_100, 0).UTC(),
	}
}

func TestWalletStore(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			t.Run("wallet lifecycle", func(t *testing.T) {
				testWalletLifecycle(t, factory(t))
			})
			t.Run("allocate address", func(t *testing.T) {
				testAllocateAddress(t, factory(t))
			})
			t.Run("record outputs", func(t *testing.T) {
				testRecordOutputs(t, factory(t))
			})
			t.Run("mark spent", func(t *testing.T) {
				testMarkSpent(t, factory(t))
			})
			t.Run("append transaction", func(t *testing.T) {
				testAppendTransaction(t, factory(t))
			})
			t.Run("apply sync batch", func(t *testing.T) {
				testApplySyncBatch(t, factory(t))
			})
			t.Run("merge snapshot", func(t *testing.T) {
				testMergeSnapshot(t, factory(t), factory(t))
			})
			t.Run("consistent snapshots", func(t *testing.T) {
				testConsistentSnapshots(t, factory(t))
			})
			t.Run("sync metadata", func(t *testing.T) {
				testSyncMetadata(t, factory(t))
			})
		})
	}
}

func testWalletLifecycle(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")

	id, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, wallet.ID, id)

	_, err = s.CreateWallet(ctx, wallet)
	require.ErrorIs(t, err, types.ErrDuplicateWallet)

	sameSeed := testWallet("w2")
	sameSeed.Fingerprint = wallet.Fingerprint
	_, err = s.CreateWallet(ctx, sameSeed)
	require.ErrorIs(t, err, types.ErrDuplicateWallet)

	got, err := s.GetWallet(ctx, id)
	require.NoError(t, err)
	require.Equal(t, wallet, *got)

	wallets, err := s.ListWallets(ctx)
	require.NoError(t, err)
	require.Len(t, wallets, 1)

	seq, err := s.GetSequence(ctx, id)
	require.NoError(t, err)
	require.Zero(t, seq)

	_, err = s.AllocateAddress(ctx, id, types.AddressOnchain, fakeDerive(types.AddressOnchain))
	require.NoError(t, err)
	require.NoError(t, s.AppendTransaction(ctx, id, types.Transaction{
		ID:        "tx1",
		Direction: types.DirectionIncoming,
		Delta:     0,
		Timestamp: time.Unix(1_700_000_000, 0).UTC(),
	}))

	require.NoError(t, s.DeleteWallet(ctx, id))
	_, err = s.GetWallet(ctx, id)
	require.ErrorIs(t, err, types.ErrUnknownWallet)
	require.ErrorIs(t, s.DeleteWallet(ctx, id), types.ErrUnknownWallet)

	// nothing of the deleted wallet survives a re-creation
	_, err = s.CreateWallet(ctx, wallet)
	require.NoError(t, err)
	addresses, err := s.GetAddresses(ctx, id)
	require.NoError(t, err)
	require.Empty(t, addresses)
	txs, err := s.GetTransactions(ctx, id)
	require.NoError(t, err)
	require.Empty(t, txs)
	snapshot, err := s.Snapshot(ctx, id)
	require.NoError(t, err)
	require.Zero(t, snapshot.Sequence)
	require.Zero(t, snapshot.Cursors[types.AddressOnchain])

	_, err = s.GetAddresses(ctx, "missing")
	require.ErrorIs(t, err, types.ErrUnknownWallet)
}

func testAllocateAddress(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")
	_, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)

	const count = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		indexes = make(map[uint32]struct{})
		errs    = make(chan error, count)
	)
	for range count {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := s.AllocateAddress(
				ctx, wallet.ID, types.AddressOffchain, fakeDerive(types.AddressOffchain),
			)
			if err != nil {
				errs <- err
				return
			}
			mu.Lock()
			indexes[addr.Index] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Len(t, indexes, count)
	for i := range uint32(count) {
		require.Contains(t, indexes, i)
	}

	onchain, err := s.AllocateAddress(
		ctx, wallet.ID, types.AddressOnchain, fakeDerive(types.AddressOnchain),
	)
	require.NoError(t, err)
	require.Zero(t, onchain.Index)

	offchain, err := s.GetAddresses(ctx, wallet.ID, types.AddressOffchain)
	require.NoError(t, err)
	require.Len(t, offchain, count)
	for i, addr := range offchain {
		require.Equal(t, uint32(i), addr.Index)
	}

	all, err := s.GetAddresses(ctx, wallet.ID)
	require.NoError(t, err)
	require.Len(t, all, count+1)

	snapshot, err := s.Snapshot(ctx, wallet.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(count), snapshot.Cursors[types.AddressOffchain])
	require.Equal(t, uint32(1), snapshot.Cursors[types.AddressOnchain])
	require.Zero(t, snapshot.Cursors[types.AddressBoarding])
	require.Zero(t, snapshot.Sequence)

	_, err = s.AllocateAddress(ctx, wallet.ID, types.AddressKind(7), fakeDerive(7))
	require.ErrorIs(t, err, types.ErrInvalidAddressKind)
	_, err = s.AllocateAddress(ctx, "missing", types.AddressOnchain, fakeDerive(0))
	require.ErrorIs(t, err, types.ErrUnknownWallet)
}

func testRecordOutputs(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")
	_, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)
	addr, err := s.AllocateAddress(
		ctx, wallet.ID, types.AddressOnchain, fakeDerive(types.AddressOnchain),
	)
	require.NoError(t, err)

	output := onchainOutput("aa", 1000, addr.Address)
	require.NoError(t, s.RecordOutputs(ctx, wallet.ID, []types.Output{output}, 0))

	seq, err := s.GetSequence(ctx, wallet.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	err = s.RecordOutputs(ctx, wallet.ID, []types.Output{output}, 0)
	require.ErrorIs(t, err, types.ErrStaleSequence)
	require.True(t, types.IsRetryable(err))

	spent := output
	spent.Spent, spent.SpentBy = true, "bb"
	require.NoError(t, s.RecordOutputs(ctx, wallet.ID, []types.Output{spent}, 1))

	// a delayed view of the unspent output cannot revert the spend
	require.NoError(t, s.RecordOutputs(ctx, wallet.ID, []types.Output{output}, 2))

	unspent, spentOutputs, err := s.GetOutputs(ctx, wallet.ID)
	require.NoError(t, err)
	require.Empty(t, unspent)
	require.Len(t, spentOutputs, 1)
	require.Equal(t, "bb", spentOutputs[0].SpentBy)

	addresses, err := s.GetAddresses(ctx, wallet.ID)
	require.NoError(t, err)
	require.True(t, addresses[0].Used)

	invalid := onchainOutput("cc", 1, "")
	invalid.Spent = true
	err = s.RecordOutputs(ctx, wallet.ID, []types.Output{invalid}, 3)
	require.ErrorIs(t, err, types.ErrMissingSpentBy)
}

func testMarkSpent(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")
	_, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)

	output := onchainOutput("aa", 1000, "addr")
	require.NoError(t, s.RecordOutputs(ctx, wallet.ID, []types.Output{output}, 0))

	err = s.MarkSpent(ctx, wallet.ID, types.Outpoint{Txid: "zz"}, "bb")
	require.ErrorIs(t, err, types.ErrUnknownOutput)

	require.NoError(t, s.MarkSpent(ctx, wallet.ID, output.Outpoint, "bb"))

	err = s.MarkSpent(ctx, wallet.ID, output.Outpoint, "bb")
	require.ErrorIs(t, err, types.ErrAlreadySpent)
	require.False(t, types.IsRetryable(err))

	_, spent, err := s.GetOutputs(ctx, wallet.ID)
	require.NoError(t, err)
	require.Len(t, spent, 1)
	require.Equal(t, "bb", spent[0].SpentBy)
}

func testAppendTransaction(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")
	_, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)

	tx := types.Transaction{
		ID:        "tx1",
		Direction: types.DirectionIncoming,
		Domain:    types.DomainOffchain,
		Created:   []types.Outpoint{{Txid: "tx1", VOut: 1}, {Txid: "tx1", VOut: 0}},
		Delta:     2000,
		Timestamp: time.Unix(1_700_000_200, 0).UTC(),
		Status:    types.TxSettled,
	}
	require.NoError(t, s.AppendTransaction(ctx, wallet.ID, tx))
	err = s.AppendTransaction(ctx, wallet.ID, tx)
	require.ErrorIs(t, err, types.ErrDuplicateTransaction)

	txs, err := s.GetTransactions(ctx, wallet.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	require.Equal(t, []types.Outpoint{{Txid: "tx1", VOut: 0}, {Txid: "tx1", VOut: 1}}, txs[0].Created)
	require.Equal(t, types.TxSettled, txs[0].Status)
	require.Equal(t, int64(2000), txs[0].Delta)
}

func testApplySyncBatch(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")
	_, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)
	addr, err := s.AllocateAddress(
		ctx, wallet.ID, types.AddressOnchain, fakeDerive(types.AddressOnchain),
	)
	require.NoError(t, err)

	output := onchainOutput("aa", 50_000, addr.Address)
	seq, err := s.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:   wallet.ID,
		NewOutputs: []types.Output{output},
		Transactions: []types.Transaction{{
			ID:        "aa",
			Direction: types.DirectionIncoming,
			Domain:    types.DomainOnchain,
			Created:   []types.Outpoint{output.Outpoint},
			Delta:     50_000,
			Timestamp: output.CreatedAt,
			Status:    types.TxPending,
		}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)

	snapshot, err := s.Snapshot(ctx, wallet.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(50_000), snapshot.Balance())
	require.Len(t, snapshot.Transactions, 1)
	require.Equal(t, uint64(1), snapshot.Sequence)

	// a failing batch leaves the store untouched
	_, err = s.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:      wallet.ID,
		BaseSequence:  1,
		Confirmations: []types.Confirmation{{Outpoint: output.Outpoint, Height: 10}},
		Spends:        []types.Spend{{Outpoint: types.Outpoint{Txid: "zz"}, SpentBy: "bb"}},
	})
	require.ErrorIs(t, err, types.ErrUnknownOutput)

	after, err := s.Snapshot(ctx, wallet.ID)
	require.NoError(t, err)
	require.Equal(t, snapshot.Outputs, after.Outputs)
	require.Equal(t, snapshot.Sequence, after.Sequence)

	seq, err = s.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:      wallet.ID,
		BaseSequence:  1,
		Confirmations: []types.Confirmation{{Outpoint: output.Outpoint, Height: 10}},
		StatusUpdates: []types.StatusUpdate{{Txid: "aa", Status: types.TxConfirmed}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), seq)

	_, err = s.ApplySyncBatch(ctx, types.SyncBatch{WalletID: wallet.ID, BaseSequence: 1})
	require.ErrorIs(t, err, types.ErrStaleSequence)

	unspent, _, err := s.GetOutputs(ctx, wallet.ID)
	require.NoError(t, err)
	require.Equal(t, uint32(10), unspent[0].ConfirmedHeight)
	txs, err := s.GetTransactions(ctx, wallet.ID)
	require.NoError(t, err)
	require.Equal(t, types.TxConfirmed, txs[0].Status)

	seq, err = s.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:     wallet.ID,
		BaseSequence: 2,
		Spends:       []types.Spend{{Outpoint: output.Outpoint, SpentBy: "bb"}},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(3), seq)

	_, err = s.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:     wallet.ID,
		BaseSequence: 3,
		Spends:       []types.Spend{{Outpoint: output.Outpoint, SpentBy: "cc"}},
	})
	require.ErrorIs(t, err, types.ErrAlreadySpent)
}

func testMergeSnapshot(t *testing.T, local, other types.WalletStore) {
	wallet := testWallet("w1")
	for _, s := range []types.WalletStore{local, other} {
		_, err := s.CreateWallet(ctx, wallet)
		require.NoError(t, err)
	}

	shared := onchainOutput("aa", 1000, "onchain-addr-0")
	_, err := local.ApplySyncBatch(ctx, types.SyncBatch{
		WalletID:   wallet.ID,
		NewOutputs: []types.Output{shared},
	})
	require.NoError(t, err)

	for range 3 {
		_, err := other.AllocateAddress(
			ctx, wallet.ID, types.AddressOnchain, fakeDerive(types.AddressOnchain),
		)
		require.NoError(t, err)
	}
	spentShared := shared
	spentShared.Spent, spentShared.SpentBy = true, "bb"
	for i := range 3 {
		_, err := other.ApplySyncBatch(ctx, types.SyncBatch{
			WalletID:     wallet.ID,
			BaseSequence: uint64(i),
			NewOutputs:   []types.Output{spentShared},
		})
		require.NoError(t, err)
	}

	remote, err := other.Snapshot(ctx, wallet.ID)
	require.NoError(t, err)

	report, err := local.MergeSnapshot(ctx, *remote)
	require.NoError(t, err)
	require.False(t, report.Created)
	require.Equal(t, 3, report.AddedAddresses)
	require.Equal(t, 1, report.NewlySpent)
	require.Equal(t, uint64(3), report.Sequence)

	merged, err := local.Snapshot(ctx, wallet.ID)
	require.NoError(t, err)
	require.Equal(t, uint64(3), merged.Sequence)
	require.Equal(t, uint32(3), merged.Cursors[types.AddressOnchain])
	require.True(t, merged.Outputs[0].Spent)

	// merging the same snapshot again changes nothing
	_, err = local.MergeSnapshot(ctx, *remote)
	require.NoError(t, err)
	again, err := local.Snapshot(ctx, wallet.ID)
	require.NoError(t, err)
	again.TakenAt = merged.TakenAt
	require.Equal(t, merged, again)

	// an older unspent view cannot revert the spend
	stale := *merged
	stale.Outputs = []types.Output{shared}
	stale.Sequence = 0
	_, err = local.MergeSnapshot(ctx, stale)
	require.NoError(t, err)
	afterStale, err := local.Snapshot(ctx, wallet.ID)
	require.NoError(t, err)
	require.True(t, afterStale.Outputs[0].Spent)
	require.Equal(t, uint64(3), afterStale.Sequence)

	next, err := local.AllocateAddress(
		ctx, wallet.ID, types.AddressOnchain, fakeDerive(types.AddressOnchain),
	)
	require.NoError(t, err)
	require.Equal(t, uint32(3), next.Index)

	otherWallet := testWallet("w2")
	foreign := *remote
	foreign.Wallet = otherWallet
	report, err = local.MergeSnapshot(ctx, foreign)
	require.NoError(t, err)
	require.True(t, report.Created)
	imported, err := local.GetWallet(ctx, otherWallet.ID)
	require.NoError(t, err)
	require.Equal(t, otherWallet.Fingerprint, imported.Fingerprint)
}

func testConsistentSnapshots(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")
	_, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)

	const batches = 15
	done := make(chan error, 1)
	go func() {
		defer close(done)
		for i := range batches {
			txid := fmt.Sprintf("tx%02d", i)
			output := onchainOutput(txid, 100, "addr")
			_, err := s.ApplySyncBatch(ctx, types.SyncBatch{
				WalletID:     wallet.ID,
				BaseSequence: uint64(i),
				NewOutputs:   []types.Output{output},
				Transactions: []types.Transaction{{
					ID:      txid,
					Created: []types.Outpoint{output.Outpoint},
					Delta:   100,
				}},
			})
			if err != nil {
				done <- err
				return
			}
		}
	}()

	for {
		snapshot, err := s.Snapshot(ctx, wallet.ID)
		require.NoError(t, err)

		deltas := int64(0)
		for _, tx := range snapshot.Transactions {
			deltas += tx.Delta
		}
		require.Equal(t, uint64(deltas), snapshot.Balance())
		require.Equal(t, uint64(len(snapshot.Outputs)), snapshot.Sequence)

		select {
		case err := <-done:
			require.NoError(t, err)
			return
		default:
		}
	}
}

func testSyncMetadata(t *testing.T, s types.WalletStore) {
	wallet := testWallet("w1")
	_, err := s.CreateWallet(ctx, wallet)
	require.NoError(t, err)

	metadata, err := s.GetSyncMetadata(ctx, wallet.ID, "device")
	require.NoError(t, err)
	require.Nil(t, metadata)

	expected := types.SyncMetadata{
		WalletID: wallet.ID,
		DeviceID: "device",
		LastSync: time.Unix(1_700_000_300, 0).UTC(),
		Sequence: 4,
		Digest:   "abcd",
	}
	require.NoError(t, s.UpdateSyncMetadata(ctx, expected))

	metadata, err = s.GetSyncMetadata(ctx, wallet.ID, "device")
	require.NoError(t, err)
	require.Equal(t, expected, *metadata)
}
