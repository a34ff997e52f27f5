package explorer

import (
	"net/http"
	"time"
)

type Option func(*explorerSvc)

func WithHTTPClient(client *http.Client) Option {
	return func(svc *explorerSvc) {
		if client != nil {
			svc.httpClient = client
		}
	}
}

// WithMaxConcurrency caps the number of addresses queried in parallel.
func WithMaxConcurrency(n int) Option {
	return func(svc *explorerSvc) {
		if n > 0 {
			svc.maxConcurrency = n
		}
	}
}

// WithPingInterval sets how often the block feed pings the explorer. The
// connection is considered dead if no pong arrives within 10/9 of it.
func WithPingInterval(interval time.Duration) Option {
	return func(svc *explorerSvc) {
		if interval > 0 {
			svc.pingInterval = interval
		}
	}
}

// WithReconnectDelay sets the first wait before redialing a dropped block
// feed. It doubles up to a minute.
func WithReconnectDelay(delay time.Duration) Option {
	return func(svc *explorerSvc) {
		if delay > 0 {
			svc.reconnectDelay = delay
		}
	}
}
