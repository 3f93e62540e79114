// Package retry runs an operation under a bounded exponential-backoff policy.
// Only errors whose retryable flag is set are re-attempted, and the backoff
// wait suspends just the calling goroutine, never unrelated requests.
package retry

import (
	"context"
	"time"

	"github.com/mpontes/llm-gateway/internal/domain"
)

type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// Backoff returns the delay before the retry that follows the given failed
// attempt (1-indexed): base, 2·base, 4·base, ...
func (p Policy) Backoff(attempt int) time.Duration {
	return p.BaseBackoff << (attempt - 1)
}

// Do invokes fn up to MaxAttempts times. A failure is retried only when the
// error is retryable and attempts remain; otherwise it propagates unchanged.
// The backoff timer is cancellable: ctx cancellation short-circuits the wait.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !domain.Retryable(err) || attempt == p.MaxAttempts {
			return zero, err
		}

		if err := sleep(ctx, p.Backoff(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
