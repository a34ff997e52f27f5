package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/store/sql/sqlc/queries"
	"github.com/arkade-os/arkive/types"
	"github.com/ccoveille/go-safecast"
	log "github.com/sirupsen/logrus"
)

type walletStore struct {
	db      *sql.DB
	querier *queries.Queries
	locks   *utils.KeyedMutex
	lock    *sync.Mutex
	eventCh chan types.WalletEvent
}

func NewWalletStore(db *sql.DB) types.WalletStore {
	return &walletStore{
		db:      db,
		querier: queries.New(db),
		locks:   utils.NewKeyedMutex(),
		lock:    &sync.Mutex{},
		eventCh: make(chan types.WalletEvent, 100),
	}
}

func (s *walletStore) CreateWallet(ctx context.Context, wallet types.Wallet) (string, error) {
	if len(wallet.ID) <= 0 {
		return "", fmt.Errorf("missing wallet id")
	}
	unlock := s.locks.Lock(wallet.ID)
	defer unlock()

	txBody := func(querierWithTx *queries.Queries) error {
		if err := checkDuplicate(ctx, querierWithTx, wallet); err != nil {
			return err
		}
		return insertWallet(ctx, querierWithTx, wallet)
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return "", err
	}
	return wallet.ID, nil
}

func (s *walletStore) GetWallet(ctx context.Context, walletID string) (*types.Wallet, error) {
	row, err := s.querier.SelectWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
		}
		return nil, err
	}
	wallet := rowToWallet(row)
	return &wallet, nil
}

func (s *walletStore) ListWallets(ctx context.Context) ([]types.Wallet, error) {
	rows, err := s.querier.SelectAllWallets(ctx)
	if err != nil {
		return nil, err
	}
	wallets := make([]types.Wallet, 0, len(rows))
	for _, row := range rows {
		wallets = append(wallets, rowToWallet(row))
	}
	return wallets, nil
}

func (s *walletStore) DeleteWallet(ctx context.Context, walletID string) error {
	unlock := s.locks.Lock(walletID)
	defer unlock()

	txBody := func(querierWithTx *queries.Queries) error {
		if _, err := querierWithTx.SelectWallet(ctx, walletID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
			}
			return err
		}
		if err := querierWithTx.EraseWalletSeed(ctx, walletID); err != nil {
			return err
		}
		return querierWithTx.DeleteWallet(ctx, walletID)
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return err
	}

	go s.sendEvent(types.WalletEvent{Type: types.WalletDeleted, WalletID: walletID})
	return nil
}

func (s *walletStore) GetAddresses(
	ctx context.Context, walletID string, kinds ...types.AddressKind,
) ([]types.Address, error) {
	var rows []queries.Address
	txBody := func(querierWithTx *queries.Queries) error {
		if _, err := getWalletRow(ctx, querierWithTx, walletID); err != nil {
			return err
		}
		var err error
		rows, err = querierWithTx.SelectAddresses(ctx, walletID)
		return err
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return nil, err
	}

	addresses := make([]types.Address, 0, len(rows))
	for _, row := range rows {
		addr := rowToAddress(row)
		if len(kinds) > 0 && !containsKind(kinds, addr.Kind) {
			continue
		}
		addresses = append(addresses, addr)
	}
	return addresses, nil
}

func (s *walletStore) AllocateAddress(
	ctx context.Context, walletID string, kind types.AddressKind, derive types.DeriveFunc,
) (*types.Address, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidAddressKind, kind)
	}
	unlock := s.locks.Lock(walletID)
	defer unlock()

	var address types.Address
	txBody := func(querierWithTx *queries.Queries) error {
		if _, err := getWalletRow(ctx, querierWithTx, walletID); err != nil {
			return err
		}
		cursors, err := selectCursors(ctx, querierWithTx, walletID)
		if err != nil {
			return err
		}

		index := cursors[kind]
		derived, err := derive(index)
		if err != nil {
			return fmt.Errorf("failed to derive %s address %d: %w", kind, index, err)
		}
		address = types.Address{
			WalletID:       walletID,
			Kind:           kind,
			Index:          index,
			DerivationPath: derived.DerivationPath,
			Address:        derived.Address,
			Script:         derived.Script,
			CreatedAt:      types.NormalizeTime(time.Now()),
		}
		if err := querierWithTx.InsertAddress(ctx, queries.InsertAddressParams(
			toUpsertAddressParams(walletID, address),
		)); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %s/%d", types.ErrAddressConflict, kind, index)
			}
			return err
		}
		return querierWithTx.UpsertCursor(ctx, queries.UpsertCursorParams{
			WalletID:  walletID,
			Kind:      int64(kind),
			NextIndex: int64(index) + 1,
		})
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return nil, err
	}

	go s.sendEvent(types.WalletEvent{
		Type:      types.AddressAllocated,
		WalletID:  walletID,
		Addresses: []types.Address{address},
	})
	return &address, nil
}

func (s *walletStore) GetOutputs(
	ctx context.Context, walletID string,
) (unspent, spent []types.Output, err error) {
	var rows []queries.WalletOutput
	txBody := func(querierWithTx *queries.Queries) error {
		if _, err := getWalletRow(ctx, querierWithTx, walletID); err != nil {
			return err
		}
		var err error
		rows, err = querierWithTx.SelectOutputs(ctx, walletID)
		return err
	}
	if err = execTx(ctx, s.db, txBody); err != nil {
		return nil, nil, err
	}

	for _, row := range rows {
		output := rowToOutput(row)
		if output.Spent {
			spent = append(spent, output)
		} else {
			unspent = append(unspent, output)
		}
	}
	return
}

func (s *walletStore) RecordOutputs(
	ctx context.Context, walletID string, outputs []types.Output, asOfSequence uint64,
) error {
	_, err := s.mutate(ctx, walletID, func(state *types.Snapshot) (*types.StateChanges, error) {
		return types.PlanSyncBatch(*state, types.SyncBatch{
			WalletID:     walletID,
			BaseSequence: asOfSequence,
			NewOutputs:   outputs,
		})
	})
	return err
}

func (s *walletStore) MarkSpent(
	ctx context.Context, walletID string, outpoint types.Outpoint, spentBy string,
) error {
	_, err := s.mutate(ctx, walletID, func(state *types.Snapshot) (*types.StateChanges, error) {
		for _, output := range state.Outputs {
			if output.Outpoint == outpoint && output.Spent {
				return nil, fmt.Errorf(
					"%w: %s by %s", types.ErrAlreadySpent, outpoint, output.SpentBy,
				)
			}
		}
		return types.PlanSyncBatch(*state, types.SyncBatch{
			WalletID:     walletID,
			BaseSequence: state.Sequence,
			Spends:       []types.Spend{{Outpoint: outpoint, SpentBy: spentBy}},
		})
	})
	return err
}

func (s *walletStore) GetTransactions(
	ctx context.Context, walletID string,
) ([]types.Transaction, error) {
	var rows []queries.WalletTx
	txBody := func(querierWithTx *queries.Queries) error {
		if _, err := getWalletRow(ctx, querierWithTx, walletID); err != nil {
			return err
		}
		var err error
		rows, err = querierWithTx.SelectTxs(ctx, walletID)
		return err
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return nil, err
	}

	txs := make([]types.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := rowToTransaction(row)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (s *walletStore) AppendTransaction(
	ctx context.Context, walletID string, tx types.Transaction,
) error {
	_, err := s.mutate(ctx, walletID, func(state *types.Snapshot) (*types.StateChanges, error) {
		for _, existing := range state.Transactions {
			if existing.ID == tx.ID {
				return nil, fmt.Errorf("%w: %s", types.ErrDuplicateTransaction, tx.ID)
			}
		}
		return types.PlanSyncBatch(*state, types.SyncBatch{
			WalletID:     walletID,
			BaseSequence: state.Sequence,
			Transactions: []types.Transaction{tx},
		})
	})
	return err
}

func (s *walletStore) GetSequence(ctx context.Context, walletID string) (uint64, error) {
	row, err := getWalletRow(ctx, s.querier, walletID)
	if err != nil {
		return 0, err
	}
	return uint64(row.Sequence), nil
}

func (s *walletStore) ApplySyncBatch(ctx context.Context, batch types.SyncBatch) (uint64, error) {
	return s.mutate(ctx, batch.WalletID, func(state *types.Snapshot) (*types.StateChanges, error) {
		return types.PlanSyncBatch(*state, batch)
	})
}

func (s *walletStore) MergeSnapshot(
	ctx context.Context, snapshot types.Snapshot,
) (*types.MergeReport, error) {
	walletID := snapshot.Wallet.ID
	if len(walletID) <= 0 {
		return nil, fmt.Errorf("missing wallet id in snapshot")
	}
	unlock := s.locks.Lock(walletID)
	defer unlock()

	var (
		report  *types.MergeReport
		changes *types.StateChanges
	)
	txBody := func(querierWithTx *queries.Queries) error {
		local, err := loadSnapshot(ctx, querierWithTx, walletID)
		created := false
		if err != nil {
			if !errors.Is(err, types.ErrUnknownWallet) {
				return err
			}
			if err := checkDuplicate(ctx, querierWithTx, snapshot.Wallet); err != nil {
				return err
			}
			if err := insertWallet(ctx, querierWithTx, snapshot.Wallet); err != nil {
				return err
			}
			local = &types.Snapshot{
				Version: snapshot.Version,
				Wallet:  snapshot.Wallet,
				Cursors: make(map[types.AddressKind]uint32),
			}
			created = true
		}

		changes, report, err = types.PlanMerge(*local, snapshot)
		if err != nil {
			return err
		}
		report.Created = created
		return writeChanges(ctx, querierWithTx, walletID, changes)
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return nil, err
	}

	for _, event := range changes.Events {
		go s.sendEvent(event)
	}
	return report, nil
}

func (s *walletStore) Snapshot(ctx context.Context, walletID string) (*types.Snapshot, error) {
	var snapshot *types.Snapshot
	txBody := func(querierWithTx *queries.Queries) error {
		var err error
		snapshot, err = loadSnapshot(ctx, querierWithTx, walletID)
		return err
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return nil, err
	}
	snapshot.TakenAt = types.NormalizeTime(time.Now())
	return snapshot, nil
}

func (s *walletStore) GetSyncMetadata(
	ctx context.Context, walletID, deviceID string,
) (*types.SyncMetadata, error) {
	row, err := s.querier.SelectSyncMetadata(ctx, queries.SelectSyncMetadataParams{
		WalletID: walletID,
		DeviceID: deviceID,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &types.SyncMetadata{
		WalletID: row.WalletID,
		DeviceID: row.DeviceID,
		LastSync: timeOrZero(row.LastSync),
		Sequence: uint64(row.Sequence),
		Digest:   row.Digest,
	}, nil
}

func (s *walletStore) UpdateSyncMetadata(ctx context.Context, metadata types.SyncMetadata) error {
	sequence, err := safecast.ToInt64(metadata.Sequence)
	if err != nil {
		return err
	}
	return s.querier.UpsertSyncMetadata(ctx, queries.UpsertSyncMetadataParams{
		WalletID: metadata.WalletID,
		DeviceID: metadata.DeviceID,
		LastSync: unixOrZero(metadata.LastSync),
		Sequence: sequence,
		Digest:   metadata.Digest,
	})
}

func (s *walletStore) GetEventChannel() <-chan types.WalletEvent {
	return s.eventCh
}

func (s *walletStore) Clean(ctx context.Context) error {
	txBody := func(querierWithTx *queries.Queries) error {
		rows, err := querierWithTx.SelectAllWallets(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := querierWithTx.EraseWalletSeed(ctx, row.ID); err != nil {
				return err
			}
			if err := querierWithTx.DeleteWallet(ctx, row.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return fmt.Errorf("failed to clean the wallet db: %s", err)
	}
	return nil
}

func (s *walletStore) Close() {
	if err := s.db.Close(); err != nil {
		log.Debugf("error on closing db: %s", err)
	}
}

func (s *walletStore) mutate(
	ctx context.Context, walletID string,
	plan func(state *types.Snapshot) (*types.StateChanges, error),
) (uint64, error) {
	unlock := s.locks.Lock(walletID)
	defer unlock()

	var changes *types.StateChanges
	txBody := func(querierWithTx *queries.Queries) error {
		state, err := loadSnapshot(ctx, querierWithTx, walletID)
		if err != nil {
			return err
		}
		changes, err = plan(state)
		if err != nil {
			return err
		}
		return writeChanges(ctx, querierWithTx, walletID, changes)
	}
	if err := execTx(ctx, s.db, txBody); err != nil {
		return 0, err
	}

	for _, event := range changes.Events {
		go s.sendEvent(event)
	}
	return changes.Sequence, nil
}

func (s *walletStore) sendEvent(event types.WalletEvent) {
	s.lock.Lock()
	defer s.lock.Unlock()

	select {
	case s.eventCh <- event:
		return
	default:
		time.Sleep(100 * time.Millisecond)
	}
}

func writeChanges(
	ctx context.Context, querier *queries.Queries, walletID string, changes *types.StateChanges,
) error {
	for _, addr := range changes.Addresses {
		if err := querier.UpsertAddress(ctx, toUpsertAddressParams(walletID, addr)); err != nil {
			return err
		}
	}
	for _, output := range changes.Outputs {
		params, err := toUpsertOutputParams(walletID, output)
		if err != nil {
			return err
		}
		if err := querier.UpsertOutput(ctx, params); err != nil {
			return err
		}
	}
	for _, tx := range changes.Transactions {
		if err := querier.UpsertTx(ctx, toUpsertTxParams(walletID, tx)); err != nil {
			return err
		}
	}
	for kind, cursor := range changes.Cursors {
		if err := querier.UpsertCursor(ctx, queries.UpsertCursorParams{
			WalletID:  walletID,
			Kind:      int64(kind),
			NextIndex: int64(cursor),
		}); err != nil {
			return err
		}
	}

	sequence, err := safecast.ToInt64(changes.Sequence)
	if err != nil {
		return err
	}
	return querier.UpdateWalletSequence(ctx, queries.UpdateWalletSequenceParams{
		Sequence: sequence,
		ID:       walletID,
	})
}

func loadSnapshot(
	ctx context.Context, querier *queries.Queries, walletID string,
) (*types.Snapshot, error) {
	walletRow, err := getWalletRow(ctx, querier, walletID)
	if err != nil {
		return nil, err
	}
	cursors, err := selectCursors(ctx, querier, walletID)
	if err != nil {
		return nil, err
	}

	addressRows, err := querier.SelectAddresses(ctx, walletID)
	if err != nil {
		return nil, err
	}
	outputRows, err := querier.SelectOutputs(ctx, walletID)
	if err != nil {
		return nil, err
	}
	txRows, err := querier.SelectTxs(ctx, walletID)
	if err != nil {
		return nil, err
	}

	snapshot := &types.Snapshot{
		Version:  types.SnapshotVersion,
		Wallet:   rowToWallet(walletRow),
		Cursors:  cursors,
		Sequence: uint64(walletRow.Sequence),
	}
	for _, row := range addressRows {
		snapshot.Addresses = append(snapshot.Addresses, rowToAddress(row))
	}
	for _, row := range outputRows {
		snapshot.Outputs = append(snapshot.Outputs, rowToOutput(row))
	}
	for _, row := range txRows {
		tx, err := rowToTransaction(row)
		if err != nil {
			return nil, err
		}
		snapshot.Transactions = append(snapshot.Transactions, tx)
	}
	snapshot.Canonicalize()
	return snapshot, nil
}

func getWalletRow(
	ctx context.Context, querier *queries.Queries, walletID string,
) (queries.Wallet, error) {
	row, err := querier.SelectWallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return queries.Wallet{}, fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
		}
		return queries.Wallet{}, err
	}
	return row, nil
}

func selectCursors(
	ctx context.Context, querier *queries.Queries, walletID string,
) (map[types.AddressKind]uint32, error) {
	rows, err := querier.SelectCursors(ctx, walletID)
	if err != nil {
		return nil, err
	}
	cursors := make(map[types.AddressKind]uint32, len(types.AddressKinds))
	for _, kind := range types.AddressKinds {
		cursors[kind] = 0
	}
	for _, row := range rows {
		cursors[types.AddressKind(row.Kind)] = uint32(row.NextIndex)
	}
	return cursors, nil
}

func checkDuplicate(ctx context.Context, querier *queries.Queries, wallet types.Wallet) error {
	if _, err := querier.SelectWallet(ctx, wallet.ID); err == nil {
		return fmt.Errorf("%w: %s", types.ErrDuplicateWallet, wallet.ID)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if len(wallet.Fingerprint) <= 0 {
		return nil
	}

	_, err := querier.SelectWalletByFingerprint(ctx, queries.SelectWalletByFingerprintParams{
		Fingerprint: wallet.Fingerprint,
		Network:     wallet.Network.Name,
	})
	if err == nil {
		return fmt.Errorf("%w: %s", types.ErrDuplicateWallet, wallet.Fingerprint)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return nil
}

func insertWallet(ctx context.Context, querier *queries.Queries, wallet types.Wallet) error {
	if err := querier.InsertWallet(ctx, queries.InsertWalletParams{
		ID:                  wallet.ID,
		Fingerprint:         wallet.Fingerprint,
		Network:             wallet.Network.Name,
		CreatedAt:           unixOrZero(wallet.CreatedAt),
		EncryptedSeed:       wallet.EncryptedSeed,
		AccountXpub:         wallet.AccountXpub,
		SignerPubkey:        wallet.SignerPubKey,
		UnilateralExitDelay: int64(wallet.UnilateralExitDelay.Value),
		BoardingExitDelay:   int64(wallet.BoardingExitDelay.Value),
		GenesisFunding:      wallet.GenesisFunding,
	}); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", types.ErrDuplicateWallet, wallet.ID)
		}
		return err
	}
	for _, kind := range types.AddressKinds {
		if err := querier.UpsertCursor(ctx, queries.UpsertCursorParams{
			WalletID: wallet.ID,
			Kind:     int64(kind),
		}); err != nil {
			return err
		}
	}
	return nil
}

func containsKind(kinds []types.AddressKind, kind types.AddressKind) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "PRIMARY KEY constraint failed")
}
