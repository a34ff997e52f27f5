package types_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/arkade-os/arkive/types"
	"github.com/stretchr/testify/require"
)

func TestExpiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	tests := []struct {
		name          string
		expiry        types.Expiry
		tip           uint32
		now           time.Time
		isHeight      bool
		expectElapsed bool
	}{
		{
			name:          "height not reached",
			expiry:        types.ExpiryAtHeight(100),
			tip:           99,
			isHeight:      true,
			expectElapsed: false,
		},
		{
			name:          "height equal to tip",
			expiry:        types.ExpiryAtHeight(100),
			tip:           100,
			isHeight:      true,
			expectElapsed: false,
		},
		{
			name:          "height passed",
			expiry:        types.ExpiryAtHeight(100),
			tip:           101,
			isHeight:      true,
			expectElapsed: true,
		},
		{
			name:          "timestamp in the future",
			expiry:        types.ExpiryAtTime(now.Add(time.Hour)),
			now:           now,
			expectElapsed: false,
		},
		{
			name:          "timestamp in the past",
			expiry:        types.ExpiryAtTime(now.Add(-time.Hour)),
			now:           now,
			expectElapsed: true,
		},
		{
			name:          "unset",
			expiry:        0,
			tip:           1_000_000,
			now:           now,
			expectElapsed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.isHeight, tt.expiry.IsBlockHeight())
			require.Equal(t, tt.expectElapsed, tt.expiry.Elapsed(tt.tip, tt.now))
		})
	}

	t.Run("within threshold", func(t *testing.T) {
		require.True(t, types.ExpiryAtHeight(110).Within(2*time.Hour, 100, now))
		require.False(t, types.ExpiryAtHeight(200).Within(2*time.Hour, 100, now))
		require.True(t, types.ExpiryAtTime(now.Add(30*time.Minute)).Within(time.Hour, 0, now))
		require.False(t, types.ExpiryAtTime(now.Add(3*time.Hour)).Within(time.Hour, 0, now))
	})
}

func TestParseOutpoint(t *testing.T) {
	op, err := types.ParseOutpoint("aabb:3")
	require.NoError(t, err)
	require.Equal(t, types.Outpoint{Txid: "aabb", VOut: 3}, op)
	require.Equal(t, "aabb:3", op.String())

	for _, invalid := range []string{"", "aabb", ":1", "aabb:x", "a:1:2"} {
		_, err := types.ParseOutpoint(invalid)
		require.Error(t, err, invalid)
	}
}

func TestAddressKindText(t *testing.T) {
	for _, kind := range types.AddressKinds {
		text, err := kind.MarshalText()
		require.NoError(t, err)

		var parsed types.AddressKind
		require.NoError(t, parsed.UnmarshalText(text))
		require.Equal(t, kind, parsed)
	}

	_, err := types.AddressKind(9).MarshalText()
	require.ErrorIs(t, err, types.ErrInvalidAddressKind)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err       error
		retryable bool
	}{
		{nil, false},
		{types.ErrInvalidPassphrase, false},
		{fmt.Errorf("import: %w", types.ErrUnsupportedBackupVersion), false},
		{types.ErrAlreadySpent, false},
		{types.ErrDuplicateTransaction, false},
		{&types.StaleSequenceError{WalletID: "w", Expected: 2, Got: 1}, true},
		{&types.SyncPartialError{Source: types.SourceChain, Err: errors.New("boom")}, true},
		{&types.RemoteUnavailableError{Source: types.SourceSettlement, Err: errors.New("x")}, true},
		{errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v", tt.err), func(t *testing.T) {
			require.Equal(t, tt.retryable, types.IsRetryable(tt.err))
		})
	}
}

func TestSyncPartialErrorSource(t *testing.T) {
	cause := &types.RemoteUnavailableError{Source: types.SourceSettlement, Err: errors.New("down")}
	err := fmt.Errorf("sync: %w", &types.SyncPartialError{
		WalletID: "w1", Source: types.SourceSettlement, Err: cause,
	})

	var partial *types.SyncPartialError
	require.ErrorAs(t, err, &partial)
	require.Equal(t, types.SourceSettlement, partial.Source)

	var unavailable *types.RemoteUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestConfigPresets(t *testing.T) {
	tests := []struct {
		network     string
		expectValid bool
	}{
		{"regtest", true},
		{"signet", true},
		{"mutinynet", true},
		{"bitcoin", false},
	}

	for _, tt := range tests {
		t.Run(tt.network, func(t *testing.T) {
			cfg := types.NewConfig(networkByName(tt.network))
			err := cfg.Validate()
			if tt.expectValid {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}

	cfg := types.NewConfig(networkByName("regtest"))
	cfg.BoardingPolicy = "whatever"
	require.Error(t, cfg.Validate())
}
