package types

import (
	"context"
)

type Store interface {
	ConfigStore() ConfigStore
	WalletStore() WalletStore
	Close()
}

type ConfigStore interface {
	GetType() string
	GetDatadir() string
	AddData(ctx context.Context, data Config) error
	GetData(ctx context.Context) (*Config, error)
	CleanData(ctx context.Context) error
	Close()
}

// WalletStore is the single source of truth for every wallet entity.
// Mutations are serialized per wallet and applied atomically, reads observe a
// consistent view without taking the wallet write lock.
type WalletStore interface {
	CreateWallet(ctx context.Context, wallet Wallet) (string, error)
	GetWallet(ctx context.Context, walletID string) (*Wallet, error)
	ListWallets(ctx context.Context) ([]Wallet, error)
	DeleteWallet(ctx context.Context, walletID string) error

	GetAddresses(ctx context.Context, walletID string, kinds ...AddressKind) ([]Address, error)
	AllocateAddress(
		ctx context.Context, walletID string, kind AddressKind, derive DeriveFunc,
	) (*Address, error)

	GetOutputs(ctx context.Context, walletID string) (unspent, spent []Output, err error)
	RecordOutputs(
		ctx context.Context, walletID string, outputs []Output, asOfSequence uint64,
	) error
	MarkSpent(ctx context.Context, walletID string, outpoint Outpoint, spentBy string) error

	GetTransactions(ctx context.Context, walletID string) ([]Transaction, error)
	AppendTransaction(ctx context.Context, walletID string, tx Transaction) error

	GetSequence(ctx context.Context, walletID string) (uint64, error)
	ApplySyncBatch(ctx context.Context, batch SyncBatch) (uint64, error)
	MergeSnapshot(ctx context.Context, snapshot Snapshot) (*MergeReport, error)
	Snapshot(ctx context.Context, walletID string) (*Snapshot, error)

	GetSyncMetadata(ctx context.Context, walletID, deviceID string) (*SyncMetadata, error)
	UpdateSyncMetadata(ctx context.Context, metadata SyncMetadata) error

	GetEventChannel() <-chan WalletEvent
	Clean(ctx context.Context) error
	Close()
}
