package filestore_test

import (
	"context"
	"testing"

	arklib "github.com/arkade-os/arkd/pkg/ark-lib"
	filestore "github.com/arkade-os/arkive/store/file"
	"github.com/arkade-os/arkive/types"
	"github.com/stretchr/testify/require"
)

func TestConfigStore(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		dir  func(t *testing.T) string
		typ  string
	}{
		{
			name: "in memory",
			dir:  func(*testing.T) string { return "" },
			typ:  types.InMemoryStore,
		},
		{
			name: "file",
			dir:  func(t *testing.T) string { return t.TempDir() },
			typ:  types.FileStore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := tt.dir(t)
			store, err := filestore.NewConfigStore(dir)
			require.NoError(t, err)
			require.Equal(t, tt.typ, store.GetType())
			require.Equal(t, dir, store.GetDatadir())

			cfg, err := store.GetData(ctx)
			require.NoError(t, err)
			require.Nil(t, cfg)

			expected := types.NewConfig(arklib.BitcoinRegTest)
			expected.WithBlockFeed = true
			require.NoError(t, store.AddData(ctx, expected))

			cfg, err = store.GetData(ctx)
			require.NoError(t, err)
			require.NotNil(t, cfg)
			require.NotEmpty(t, cfg.DeviceID)
			deviceID := cfg.DeviceID

			expected.DeviceID = deviceID
			require.Equal(t, expected, *cfg)

			// the device id survives later updates that do not carry it
			update := types.NewConfig(arklib.BitcoinRegTest)
			update.MaxRetries = 7
			require.NoError(t, store.AddData(ctx, update))

			cfg, err = store.GetData(ctx)
			require.NoError(t, err)
			require.Equal(t, deviceID, cfg.DeviceID)
			require.Equal(t, 7, cfg.MaxRetries)

			require.NoError(t, store.CleanData(ctx))
			cfg, err = store.GetData(ctx)
			require.NoError(t, err)
			require.Nil(t, cfg)
		})
	}

	t.Run("reopen", func(t *testing.T) {
		dir := t.TempDir()
		store, err := filestore.NewConfigStore(dir)
		require.NoError(t, err)
		require.NoError(t, store.AddData(ctx, types.NewConfig(arklib.BitcoinMutinyNet)))
		store.Close()

		store, err = filestore.NewConfigStore(dir)
		require.NoError(t, err)
		cfg, err := store.GetData(ctx)
		require.NoError(t, err)
		require.Equal(t, arklib.BitcoinMutinyNet, cfg.Network)
		require.Equal(t, "https://mutinynet.arkade.sh", cfg.ServerUrl)
	})
}
