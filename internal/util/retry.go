// Package util provides shared utility functions for doorcache.
package util

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
)

// ErrLockBusy marks a non-blocking lock attempt that found the lock held.
var ErrLockBusy = errors.New("lock busy")

// LockRetryOptions returns retry options for polling a contended file lock.
// Attempts are unbounded; the caller bounds the wait through ctx.
func LockRetryOptions(ctx context.Context, interval time.Duration) []retry.Option {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	return []retry.Option{
		retry.Attempts(0),
		retry.Delay(interval),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(IsLockBusy),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	}
}

// DefaultRetryOptions returns sensible defaults for retry operations.
func DefaultRetryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(10 * time.Millisecond),
		retry.MaxDelay(100 * time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
	}
}

// Retry executes fn with retry logic.
// Returns the last error if all attempts fail.
func Retry(ctx context.Context, fn func() error, opts ...retry.Option) error {
	if len(opts) == 0 {
		opts = DefaultRetryOptions(ctx)
	}
	return retry.Do(fn, opts...)
}

// IsLockBusy returns true if the error indicates a contended lock.
func IsLockBusy(err error) bool {
	return errors.Is(err, ErrLockBusy)
}
