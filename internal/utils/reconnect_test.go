package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
		delay    time.Duration
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
			delay:    0,
		},
		{
			name:     "unavailable retries",
			err:      status.Error(codes.Unavailable, "server unavailable"),
			expected: true,
			delay:    time.Second,
		},
		{
			name:     "resource exhausted retries with longer backoff",
			err:      status.Error(codes.ResourceExhausted, "rate limited"),
			expected: true,
			delay:    5 * time.Second,
		},
		{
			name: "failed precondition retries (wallet not ready)",
			err: status.Error(
				codes.FailedPrecondition,
				"ark service not ready: wallet is locked or syncing",
			),
			expected: true,
			delay:    2 * time.Second,
		},
		{
			name:     "invalid argument does not retry",
			err:      status.Error(codes.InvalidArgument, "bad request"),
			expected: false,
			delay:    0,
		},
		{
			name:     "cloudflare 524 retries",
			err:      status.Error(codes.Unknown, "upstream timeout 524"),
			expected: true,
			delay:    5 * time.Second,
		},
		{
			name: "grpc briefly hits http gateway during restart",
			err: status.Error(
				codes.Unknown,
				"unexpected HTTP status code received from server: 200 (OK); malformed header: missing HTTP content-type",
			),
			expected: true,
			delay:    time.Second,
		},
		{
			name:     "http 503 retries",
			err:      &HTTPStatusError{Method: "GET", StatusCode: http.StatusServiceUnavailable},
			expected: true,
			delay:    time.Second,
		},
		{
			name:     "http 429 retries later",
			err:      fmt.Errorf("wrapped: %w", &HTTPStatusError{StatusCode: http.StatusTooManyRequests}),
			expected: true,
			delay:    5 * time.Second,
		},
		{
			name:     "http 400 does not retry",
			err:      &HTTPStatusError{Method: "POST", StatusCode: http.StatusBadRequest},
			expected: false,
			delay:    0,
		},
		{
			name:     "malformed response does not retry",
			err:      &MalformedResponseError{Err: errors.New("unexpected EOF")},
			expected: false,
			delay:    0,
		},
		{
			name:     "canceled context does not retry",
			err:      fmt.Errorf("fetch: %w", context.Canceled),
			expected: false,
			delay:    0,
		},
		{
			name:     "deadline exceeded retries",
			err:      context.DeadlineExceeded,
			expected: true,
			delay:    time.Second,
		},
		{
			name:     "plain error retries",
			err:      errors.New("connection dropped"),
			expected: true,
			delay:    time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, delay := ShouldRetry(tt.err)
			if got != tt.expected {
				t.Fatalf("expected shouldRetry=%v, got %v", tt.expected, got)
			}
			if delay != tt.delay {
				t.Fatalf("expected delay=%v, got %v", tt.delay, delay)
			}
		})
	}
}
