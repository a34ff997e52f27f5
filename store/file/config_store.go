package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/arkade-os/arkive/types"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

const (
	filename = "state.json"
)

type configStore struct {
	filePath string
	lock     *sync.RWMutex
	// used when no datadir is given
	memory map[string]any
}

// NewConfigStore returns a store persisting the engine config as JSON in
// dir. An empty dir keeps the config in memory.
func NewConfigStore(dir string) (types.ConfigStore, error) {
	store := &configStore{lock: &sync.RWMutex{}}
	if len(dir) <= 0 {
		store.memory = make(map[string]any)
		return store, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}
	store.filePath = filepath.Join(dir, filename)
	if _, err := os.Stat(store.filePath); errors.Is(err, os.ErrNotExist) {
		if err := store.write(map[string]any{}); err != nil {
			return nil, fmt.Errorf("failed to initialize store: %s", err)
		}
	}
	return store, nil
}

func (s *configStore) GetType() string {
	if s.memory != nil {
		return types.InMemoryStore
	}
	return types.FileStore
}

func (s *configStore) GetDatadir() string {
	if len(s.filePath) <= 0 {
		return ""
	}
	return filepath.Dir(s.filePath)
}

// AddData persists cfg. A device identifier is generated the first time one
// is missing and kept across later writes.
func (s *configStore) AddData(_ context.Context, cfg types.Config) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	current, err := s.read()
	if err != nil {
		return err
	}

	data := fromConfig(cfg)
	if len(data.DeviceID) <= 0 {
		if deviceID, ok := current["device_id"].(string); ok && len(deviceID) > 0 {
			data.DeviceID = deviceID
		} else {
			data.DeviceID = uuid.New().String()
		}
	}

	for k, v := range data.asMap() {
		current[k] = v
	}
	return s.write(current)
}

func (s *configStore) GetData(_ context.Context) (*types.Config, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	current, err := s.read()
	if err != nil {
		return nil, err
	}

	var data storeData
	if err := mapstructure.Decode(current, &data); err != nil {
		return nil, fmt.Errorf("failed to decode data: %s", err)
	}
	if data.isEmpty() {
		return nil, nil
	}
	cfg := data.decode()
	return &cfg, nil
}

func (s *configStore) CleanData(_ context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.write(map[string]any{})
}

func (s *configStore) Close() {}

func (s *configStore) read() (map[string]any, error) {
	if s.memory != nil {
		data := make(map[string]any, len(s.memory))
		for k, v := range s.memory {
			data[k] = v
		}
		return data, nil
	}

	buf, err := os.ReadFile(s.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file store: %s", err)
	}
	data := make(map[string]any)
	if len(buf) <= 0 {
		return data, nil
	}
	if err := json.Unmarshal(buf, &data); err != nil {
		return nil, fmt.Errorf("failed to parse file store: %s", err)
	}
	return data, nil
}

func (s *configStore) write(data map[string]any) error {
	if s.memory != nil {
		s.memory = data
		return nil
	}

	buf, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.filePath, buf, 0o600)
}
