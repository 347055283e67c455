package verification

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"bankcri/internal/platform/config"
)

// Retry runs op with exponential backoff starting at the configured base
// delay and doubling each attempt, up to MaxRetries retries. The wait is
// context-bound: a cancelled or deadline-exceeded context stops the loop
// rather than sleeping past the caller's deadline.
//
// op signals a non-retryable failure by returning backoff.Permanent(err).
func Retry(ctx context.Context, policy config.Retry, notify func(err error, next time.Duration), op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	wrapped := backoff.WithContext(backoff.WithMaxRetries(b, uint64(policy.MaxRetries)), ctx)
	if notify == nil {
		return backoff.Retry(op, wrapped)
	}
	return backoff.RetryNotify(op, wrapped, notify)
}
