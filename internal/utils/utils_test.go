package utils

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/arkade-os/arkive/types"
	"github.com/stretchr/testify/require"
)

func TestSealSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 16)
	password := []byte("password")

	sealed, err := SealSeed(seed, password)
	require.NoError(t, err)
	require.NotContains(t, string(sealed), string(seed))

	opened, err := OpenSeed(sealed, password)
	require.NoError(t, err)
	require.Equal(t, seed, opened)

	_, err = OpenSeed(sealed, []byte("wrong"))
	require.ErrorIs(t, err, types.ErrInvalidPassphrase)

	_, err = OpenSeed(sealed[:10], password)
	require.Error(t, err)

	_, err = SealSeed(nil, password)
	require.Error(t, err)
	_, err = SealSeed(seed, nil)
	require.Error(t, err)
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster[int]()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, 1)
	other := b.Subscribe(context.Background(), 0)

	dropped := b.Publish(1)
	require.Equal(t, 1, dropped)
	require.Equal(t, 1, <-ch)

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	b.Close()
	_, ok := <-other
	require.False(t, ok)

	closed := b.Subscribe(context.Background(), 1)
	_, ok = <-closed
	require.False(t, ok)
}
