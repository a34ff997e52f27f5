package explorer

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestShouldExitReadLoop(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantExit bool
	}{
		{
			name:     "normal closure",
			err:      &websocket.CloseError{Code: websocket.CloseNormalClosure},
			wantExit: true,
		},
		{
			name:     "going away",
			err:      &websocket.CloseError{Code: websocket.CloseGoingAway},
			wantExit: true,
		},
		{
			name:     "abnormal closure",
			err:      &websocket.CloseError{Code: websocket.CloseAbnormalClosure},
			wantExit: true,
		},
		{
			name:     "closed connection",
			err:      net.ErrClosed,
			wantExit: true,
		},
		{
			name:     "timeout",
			err:      &timeoutError{},
			wantExit: true,
		},
		{
			name:     "deadline exceeded",
			err:      os.ErrDeadlineExceeded,
			wantExit: true,
		},
		{
			name:     "context canceled",
			err:      context.Canceled,
			wantExit: true,
		},
		{
			name:     "wrapped timeout",
			err:      wrapError(&timeoutError{}),
			wantExit: true,
		},
		{
			name:     "wrapped closed connection",
			err:      wrapError(net.ErrClosed),
			wantExit: true,
		},
		{
			name:     "generic error",
			err:      errors.New("temporary read error"),
			wantExit: false,
		},
		{
			name:     "internal server error",
			err:      &websocket.CloseError{Code: websocket.CloseInternalServerErr},
			wantExit: false,
		},
		{
			name:     "service restart",
			err:      &websocket.CloseError{Code: websocket.CloseServiceRestart},
			wantExit: false,
		},
		{
			name:     "nil",
			err:      nil,
			wantExit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.wantExit, shouldExitReadLoop(tt.err))
		})
	}
}

func TestDeriveWsURL(t *testing.T) {
	tests := []struct {
		baseUrl  string
		expected string
		err      bool
	}{
		{"https://mempool.space/api", "wss://mempool.space/api/v1/ws", false},
		{"https://mutinynet.com/api/", "wss://mutinynet.com/api/v1/ws", false},
		{"http://localhost:3000", "ws://localhost:3000/v1/ws", false},
		{"ftp://localhost", "", true},
		{"http://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.baseUrl, func(t *testing.T) {
			wsURL, err := deriveWsURL(tt.baseUrl)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.expected, wsURL)
		})
	}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "timeout error" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return false }

func wrapError(err error) error {
	return &wrappedError{err: err}
}

type wrappedError struct {
	err error
}

func (e *wrappedError) Error() string {
	return "wrapped: " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
