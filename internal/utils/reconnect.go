package utils

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	cloudflare524Error    = "524"
	grpcHTTPFallbackError = "unexpected HTTP status code received from server"
)

// HTTPStatusError is returned by the REST collaborators for any non 2xx
// response.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), body)
}

// MalformedResponseError marks a response that could not be parsed. It is a
// protocol level rejection and must never be retried.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response: %s", e.Err)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// ShouldRetry classifies an error returned by a remote collaborator, and
// returns the minimum delay before the next attempt.
func ShouldRetry(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}
	if errors.Is(err, context.Canceled) {
		return false, 0
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return false, 0
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 524:
			return true, 5 * time.Second
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return true, 5 * time.Second
		case httpErr.StatusCode >= 500:
			return true, time.Second
		default:
			return false, 0
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true, time.Second
	}

	// During arkd restart windows, gRPC calls may briefly hit the HTTP gateway
	// on the same port and get back a plain HTTP response.
	if strings.Contains(err.Error(), grpcHTTPFallbackError) {
		return true, time.Second
	}

	st, ok := status.FromError(err)
	if !ok {
		var netErr net.Error
		if errors.As(err, &netErr) {
			return true, time.Second
		}
		if strings.Contains(err.Error(), cloudflare524Error) {
			return true, 5 * time.Second
		}
		return true, time.Second
	}

	switch st.Code() {
	case codes.Unknown:
		if strings.Contains(st.Message(), cloudflare524Error) {
			return true, 5 * time.Second
		}
		return false, 0
	case codes.ResourceExhausted:
		return true, 5 * time.Second
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded, codes.Aborted:
		return true, time.Second
	case codes.FailedPrecondition:
		// arkd answers this while its wallet is still locked or syncing
		return true, 2 * time.Second
	default:
		return false, 0
	}
}
