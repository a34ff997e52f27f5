package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/arkade-os/arkive/internal/utils"
	"github.com/arkade-os/arkive/types"
	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const (
	walletStoreDir     = "wallets"
	maxConflictRetries = 5
)

type walletStore struct {
	db      *badgerhold.Store
	locks   *utils.KeyedMutex
	lock    *sync.Mutex
	eventCh chan types.WalletEvent
}

func NewWalletStore(dir string, logger badger.Logger) (types.WalletStore, error) {
	if dir != "" {
		dir = filepath.Join(dir, walletStoreDir)
	}
	badgerDb, err := createDB(dir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open wallet store: %s", err)
	}
	return &walletStore{
		db:      badgerDb,
		locks:   utils.NewKeyedMutex(),
		lock:    &sync.Mutex{},
		eventCh: make(chan types.WalletEvent, 100),
	}, nil
}

func (s *walletStore) CreateWallet(_ context.Context, wallet types.Wallet) (string, error) {
	if len(wallet.ID) <= 0 {
		return "", fmt.Errorf("missing wallet id")
	}
	unlock := s.locks.Lock(wallet.ID)
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		if err := s.checkDuplicate(txn, wallet); err != nil {
			return err
		}
		record := toWalletRecord(wallet)
		if err := s.db.TxInsert(txn, wallet.ID, &record); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return types.ErrDuplicateWallet
			}
			return err
		}
		state := walletStateRecord{
			WalletID: wallet.ID,
			Cursors:  make(map[types.AddressKind]uint32),
		}
		return s.db.TxInsert(txn, wallet.ID, &state)
	})
	if err != nil {
		return "", err
	}
	return wallet.ID, nil
}

func (s *walletStore) GetWallet(_ context.Context, walletID string) (*types.Wallet, error) {
	var record walletRecord
	if err := s.db.Get(walletID, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
		}
		return nil, err
	}
	wallet := record.toWallet()
	return &wallet, nil
}

func (s *walletStore) ListWallets(_ context.Context) ([]types.Wallet, error) {
	var records []walletRecord
	if err := s.db.Find(&records, nil); err != nil {
		return nil, err
	}
	wallets := make([]types.Wallet, 0, len(records))
	for _, record := range records {
		wallets = append(wallets, record.toWallet())
	}
	sort.Slice(wallets, func(i, j int) bool {
		return wallets[i].ID < wallets[j].ID
	})
	return wallets, nil
}

func (s *walletStore) DeleteWallet(_ context.Context, walletID string) error {
	unlock := s.locks.Lock(walletID)
	defer unlock()

	err := s.update(func(txn *badger.Txn) error {
		var record walletRecord
		if err := s.db.TxGet(txn, walletID, &record); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
			}
			return err
		}
		// scrub the copy read into memory, badger drops the stored value
		// with the delete below
		utils.Zero(record.EncryptedSeed)

		byWallet := badgerhold.Where("WalletID").Eq(walletID)
		for _, dataType := range []any{
			addressRecord{}, outputRecord{}, txRecord{}, syncMetadataRecord{},
		} {
			if err := s.db.TxDeleteMatching(txn, dataType, byWallet); err != nil {
				return err
			}
		}
		if err := s.db.TxDelete(txn, walletID, walletStateRecord{}); err != nil {
			return err
		}
		return s.db.TxDelete(txn, walletID, walletRecord{})
	})
	if err != nil {
		return err
	}

	go s.sendEvent(types.WalletEvent{Type: types.WalletDeleted, WalletID: walletID})
	return nil
}

func (s *walletStore) GetAddresses(
	_ context.Context, walletID string, kinds ...types.AddressKind,
) ([]types.Address, error) {
	var addresses []types.Address
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		if err := s.ensureWallet(txn, walletID); err != nil {
			return err
		}
		var err error
		addresses, err = s.findAddresses(txn, walletID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(kinds) <= 0 {
		return addresses, nil
	}

	filtered := make([]types.Address, 0, len(addresses))
	for _, addr := range addresses {
		for _, kind := range kinds {
			if addr.Kind == kind {
				filtered = append(filtered, addr)
				break
			}
		}
	}
	return filtered, nil
}

func (s *walletStore) AllocateAddress(
	_ context.Context, walletID string, kind types.AddressKind, derive types.DeriveFunc,
) (*types.Address, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("%w: %d", types.ErrInvalidAddressKind, kind)
	}
	unlock := s.locks.Lock(walletID)
	defer unlock()

	var address types.Address
	err := s.update(func(txn *badger.Txn) error {
		var state walletStateRecord
		if err := s.db.TxGet(txn, walletID, &state); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
			}
			return err
		}
		if state.Cursors == nil {
			state.Cursors = make(map[types.AddressKind]uint32)
		}

		index := state.Cursors[kind]
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
		record := toAddressRecord(address)
		if err := s.db.TxInsert(txn, addressKey(walletID, kind, index), &record); err != nil {
			if errors.Is(err, badgerhold.ErrKeyExists) {
				return fmt.Errorf("%w: %s/%d", types.ErrAddressConflict, kind, index)
			}
			return err
		}

		state.Cursors[kind] = index + 1
		return s.db.TxUpsert(txn, walletID, &state)
	})
	if err != nil {
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
	_ context.Context, walletID string,
) (unspent, spent []types.Output, err error) {
	var outputs []types.Output
	err = s.db.Badger().View(func(txn *badger.Txn) error {
		if err := s.ensureWallet(txn, walletID); err != nil {
			return err
		}
		var err error
		outputs, err = s.findOutputs(txn, walletID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	for _, output := range outputs {
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
	_ context.Context, walletID string,
) ([]types.Transaction, error) {
	var txs []types.Transaction
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		if err := s.ensureWallet(txn, walletID); err != nil {
			return err
		}
		var err error
		txs, err = s.findTransactions(txn, walletID)
		return err
	})
	if err != nil {
		return nil, err
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

func (s *walletStore) GetSequence(_ context.Context, walletID string) (uint64, error) {
	var state walletStateRecord
	if err := s.db.Get(walletID, &state); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
		}
		return 0, err
	}
	return state.Sequence, nil
}

func (s *walletStore) ApplySyncBatch(ctx context.Context, batch types.SyncBatch) (uint64, error) {
	return s.mutate(ctx, batch.WalletID, func(state *types.Snapshot) (*types.StateChanges, error) {
		return types.PlanSyncBatch(*state, batch)
	})
}

func (s *walletStore) MergeSnapshot(
	_ context.Context, snapshot types.Snapshot,
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
	err := s.update(func(txn *badger.Txn) error {
		local, err := s.loadSnapshot(txn, walletID)
		created := false
		if err != nil {
			if !errors.Is(err, types.ErrUnknownWallet) {
				return err
			}
			if err := s.checkDuplicate(txn, snapshot.Wallet); err != nil {
				return err
			}
			record := toWalletRecord(snapshot.Wallet)
			if err := s.db.TxInsert(txn, walletID, &record); err != nil {
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
		return s.writeChanges(txn, walletID, local, changes)
	})
	if err != nil {
		return nil, err
	}

	for _, event := range changes.Events {
		go s.sendEvent(event)
	}
	return report, nil
}

func (s *walletStore) Snapshot(_ context.Context, walletID string) (*types.Snapshot, error) {
	var snapshot *types.Snapshot
	err := s.db.Badger().View(func(txn *badger.Txn) error {
		var err error
		snapshot, err = s.loadSnapshot(txn, walletID)
		return err
	})
	if err != nil {
		return nil, err
	}
	snapshot.TakenAt = types.NormalizeTime(time.Now())
	return snapshot, nil
}

func (s *walletStore) GetSyncMetadata(
	_ context.Context, walletID, deviceID string,
) (*types.SyncMetadata, error) {
	var record syncMetadataRecord
	if err := s.db.Get(syncMetadataKey(walletID, deviceID), &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &types.SyncMetadata{
		WalletID: record.WalletID,
		DeviceID: record.DeviceID,
		LastSync: timeOrZero(record.LastSync),
		Sequence: record.Sequence,
		Digest:   record.Digest,
	}, nil
}

func (s *walletStore) UpdateSyncMetadata(_ context.Context, metadata types.SyncMetadata) error {
	record := syncMetadataRecord{
		WalletID: metadata.WalletID,
		DeviceID: metadata.DeviceID,
		LastSync: unixOrZero(metadata.LastSync),
		Sequence: metadata.Sequence,
		Digest:   metadata.Digest,
	}
	return s.db.Upsert(syncMetadataKey(metadata.WalletID, metadata.DeviceID), &record)
}

func (s *walletStore) GetEventChannel() <-chan types.WalletEvent {
	return s.eventCh
}

func (s *walletStore) Clean(_ context.Context) error {
	if err := s.db.Badger().DropAll(); err != nil {
		return fmt.Errorf("failed to clean the wallet db: %s", err)
	}
	return nil
}

func (s *walletStore) Close() {
	if err := s.db.Close(); err != nil {
		log.Debugf("error on closing db: %s", err)
	}
}

// mutate runs plan against the current state of the wallet and commits the
// resulting changes in a single badger transaction.
func (s *walletStore) mutate(
	_ context.Context, walletID string,
	plan func(state *types.Snapshot) (*types.StateChanges, error),
) (uint64, error) {
	unlock := s.locks.Lock(walletID)
	defer unlock()

	var changes *types.StateChanges
	err := s.update(func(txn *badger.Txn) error {
		state, err := s.loadSnapshot(txn, walletID)
		if err != nil {
			return err
		}
		changes, err = plan(state)
		if err != nil {
			return err
		}
		return s.writeChanges(txn, walletID, state, changes)
	})
	if err != nil {
		return 0, err
	}

	for _, event := range changes.Events {
		go s.sendEvent(event)
	}
	return changes.Sequence, nil
}

func (s *walletStore) writeChanges(
	txn *badger.Txn, walletID string, state *types.Snapshot, changes *types.StateChanges,
) error {
	for _, addr := range changes.Addresses {
		addr.WalletID = walletID
		record := toAddressRecord(addr)
		if err := s.db.TxUpsert(txn, addressKey(walletID, addr.Kind, addr.Index), &record); err != nil {
			return err
		}
	}
	for _, output := range changes.Outputs {
		record := toOutputRecord(walletID, output)
		if err := s.db.TxUpsert(txn, outputKey(walletID, output.Outpoint), &record); err != nil {
			return err
		}
	}
	for _, tx := range changes.Transactions {
		record := toTxRecord(walletID, tx)
		if err := s.db.TxUpsert(txn, txKey(walletID, tx.ID), &record); err != nil {
			return err
		}
	}

	cursors := make(map[types.AddressKind]uint32, len(types.AddressKinds))
	for kind, cursor := range state.Cursors {
		cursors[kind] = cursor
	}
	for kind, cursor := range changes.Cursors {
		cursors[kind] = cursor
	}
	return s.db.TxUpsert(txn, walletID, &walletStateRecord{
		WalletID: walletID,
		Sequence: changes.Sequence,
		Cursors:  cursors,
	})
}

func (s *walletStore) loadSnapshot(txn *badger.Txn, walletID string) (*types.Snapshot, error) {
	var record walletRecord
	if err := s.db.TxGet(txn, walletID, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
		}
		return nil, err
	}
	var state walletStateRecord
	if err := s.db.TxGet(txn, walletID, &state); err != nil {
		return nil, fmt.Errorf("failed to get state of wallet %s: %w", walletID, err)
	}

	addresses, err := s.findAddresses(txn, walletID)
	if err != nil {
		return nil, err
	}
	outputs, err := s.findOutputs(txn, walletID)
	if err != nil {
		return nil, err
	}
	txs, err := s.findTransactions(txn, walletID)
	if err != nil {
		return nil, err
	}

	cursors := make(map[types.AddressKind]uint32, len(types.AddressKinds))
	for kind, cursor := range state.Cursors {
		cursors[kind] = cursor
	}
	snapshot := &types.Snapshot{
		Version:      types.SnapshotVersion,
		Wallet:       record.toWallet(),
		Addresses:    addresses,
		Cursors:      cursors,
		Outputs:      outputs,
		Transactions: txs,
		Sequence:     state.Sequence,
	}
	snapshot.Canonicalize()
	return snapshot, nil
}

func (s *walletStore) findAddresses(txn *badger.Txn, walletID string) ([]types.Address, error) {
	var records []addressRecord
	query := badgerhold.Where("WalletID").Eq(walletID)
	if err := s.db.TxFind(txn, &records, query); err != nil {
		return nil, err
	}
	addresses := make([]types.Address, 0, len(records))
	for _, record := range records {
		addresses = append(addresses, record.toAddress())
	}
	sort.Slice(addresses, func(i, j int) bool {
		if addresses[i].Kind != addresses[j].Kind {
			return addresses[i].Kind < addresses[j].Kind
		}
		return addresses[i].Index < addresses[j].Index
	})
	return addresses, nil
}

func (s *walletStore) findOutputs(txn *badger.Txn, walletID string) ([]types.Output, error) {
	var records []outputRecord
	query := badgerhold.Where("WalletID").Eq(walletID)
	if err := s.db.TxFind(txn, &records, query); err != nil {
		return nil, err
	}
	outputs := make([]types.Output, 0, len(records))
	for _, record := range records {
		outputs = append(outputs, record.toOutput())
	}
	sort.Slice(outputs, func(i, j int) bool {
		return outputs[i].Outpoint.Less(outputs[j].Outpoint)
	})
	return outputs, nil
}

func (s *walletStore) findTransactions(
	txn *badger.Txn, walletID string,
) ([]types.Transaction, error) {
	var records []txRecord
	query := badgerhold.Where("WalletID").Eq(walletID)
	if err := s.db.TxFind(txn, &records, query); err != nil {
		return nil, err
	}
	txs := make([]types.Transaction, 0, len(records))
	for _, record := range records {
		tx, err := record.toTransaction()
		if err != nil {
			return nil, fmt.Errorf("failed to decode transaction %s: %w", record.Txid, err)
		}
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].ID < txs[j].ID
	})
	return txs, nil
}

func (s *walletStore) ensureWallet(txn *badger.Txn, walletID string) error {
	var record walletRecord
	if err := s.db.TxGet(txn, walletID, &record); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", types.ErrUnknownWallet, walletID)
		}
		return err
	}
	return nil
}

// checkDuplicate rejects a wallet whose key material is already tracked on
// the same network.
func (s *walletStore) checkDuplicate(txn *badger.Txn, wallet types.Wallet) error {
	var existing walletRecord
	err := s.db.TxGet(txn, wallet.ID, &existing)
	if err == nil {
		return fmt.Errorf("%w: %s", types.ErrDuplicateWallet, wallet.ID)
	}
	if !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	if len(wallet.Fingerprint) <= 0 {
		return nil
	}

	var records []walletRecord
	query := badgerhold.Where("Fingerprint").Eq(wallet.Fingerprint)
	if err := s.db.TxFind(txn, &records, query); err != nil {
		return err
	}
	for _, record := range records {
		if record.Network == wallet.Network.Name {
			return fmt.Errorf("%w: %s", types.ErrDuplicateWallet, wallet.Fingerprint)
		}
	}
	return nil
}

// update runs fn in a read-write transaction, retrying when badger detects a
// conflict with a concurrent transaction on another wallet.
func (s *walletStore) update(fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		err := s.db.Badger().Update(fn)
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			log.Debugf("retrying conflicting wallet db transaction (attempt %d)", attempt+1)
			continue
		}
		return err
	}
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
