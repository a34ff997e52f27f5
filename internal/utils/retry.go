package utils

import (
	"context"
	"time"

	"github.com/arkade-os/arkive/types"
	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

const (
	retryWaitDuration = 500 * time.Millisecond
	maxRetryDuration  = 10 * time.Second
	rateLimitDelay    = 5 * time.Second
)

type RetryConfig struct {
	Source     types.Source
	Timeout    time.Duration
	MaxRetries int
	// InitialInterval is the first wait between attempts, doubled after each
	// failure.
	InitialInterval time.Duration
}

// Retry runs fn with a per attempt timeout, retrying transient failures with
// exponential backoff at most MaxRetries times. Failures that are not
// transient are returned right away, exhausted retries are wrapped in a
// RemoteUnavailableError.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	initial := cfg.InitialInterval
	if initial <= 0 {
		initial = retryWaitDuration
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = initial
	expBackoff.Multiplier = 2
	expBackoff.MaxInterval = maxRetryDuration
	expBackoff.MaxElapsedTime = 0

	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(maxRetries)), ctx,
	)

	attempts := 0
	var lastTransient error
	operation := func() error {
		attempts++
		attemptCtx := ctx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}

		res, err := fn(attemptCtx)
		if err == nil {
			result = res
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		retry, minDelay := ShouldRetry(err)
		if !retry {
			return backoff.Permanent(err)
		}
		lastTransient = err
		if minDelay >= rateLimitDelay {
			// rate limited, wait for the hinted delay before the next attempt
			select {
			case <-time.After(minDelay):
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			}
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		log.WithError(err).Debugf(
			"%s: attempt %d failed, retrying in %s", cfg.Source, attempts, wait,
		)
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		if lastTransient != nil && err == lastTransient {
			return result, &types.RemoteUnavailableError{Source: cfg.Source, Err: err}
		}
		return result, err
	}
	return result, nil
}
