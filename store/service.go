package store

import (
	"fmt"
	"path/filepath"

	filestore "github.com/arkade-os/arkive/store/file"
	kvstore "github.com/arkade-os/arkive/store/kv"
	sqlstore "github.com/arkade-os/arkive/store/sql"
	"github.com/arkade-os/arkive/types"
)

const (
	sqliteDir = "sqlite"
)

type service struct {
	configStore types.ConfigStore
	walletStore types.WalletStore
}

type Config struct {
	ConfigStoreType  string
	AppDataStoreType string

	BaseDir string
}

func NewStore(storeConfig Config) (types.Store, error) {
	var (
		configStore types.ConfigStore
		walletStore types.WalletStore
		err         error

		dir = storeConfig.BaseDir
	)

	switch storeConfig.ConfigStoreType {
	case types.InMemoryStore:
		configStore, err = filestore.NewConfigStore("")
	case types.FileStore:
		configStore, err = filestore.NewConfigStore(dir)
	default:
		err = fmt.Errorf("unknown config store type")
	}
	if err != nil {
		return nil, err
	}

	switch storeConfig.AppDataStoreType {
	case types.KVStore, types.InMemoryStore:
		if storeConfig.AppDataStoreType == types.InMemoryStore {
			dir = ""
		}
		walletStore, err = kvstore.NewWalletStore(dir, nil)
	case types.SQLStore:
		db, openErr := sqlstore.OpenDB(filepath.Join(dir, sqliteDir))
		if openErr != nil {
			err = openErr
			break
		}
		walletStore = sqlstore.NewWalletStore(db)
	default:
		err = fmt.Errorf("unknown appdata store type")
	}
	if err != nil {
		configStore.Close()
		return nil, err
	}

	return &service{configStore, walletStore}, nil
}

func (s *service) ConfigStore() types.ConfigStore {
	return s.configStore
}

func (s *service) WalletStore() types.WalletStore {
	return s.walletStore
}

func (s *service) Close() {
	s.configStore.Close()
	s.walletStore.Close()
}
