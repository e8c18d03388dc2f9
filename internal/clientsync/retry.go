package clientsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/notesmd/notesync/internal/identity"
)

// ErrRetriesExhausted reports that the bounded reconnection budget ran
// out. Unlike an authorization rejection it is recoverable: a fresh
// explicit Connect may succeed later.
var ErrRetriesExhausted = errors.New("reconnect attempts exhausted")

// SleepFunc waits for the inter-attempt delay. Injected so tests can
// fast-forward the clock.
type SleepFunc func(ctx context.Context, delay time.Duration) error

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryBounded runs attempt up to maxAttempts times with a fixed delay
// between attempts. An error wrapping identity.ErrUnauthorized is
// terminal and returned immediately; context cancellation aborts the
// loop. Exhaustion wraps ErrRetriesExhausted around the last attempt
// error.
func retryBounded(
	ctx context.Context,
	maxAttempts int,
	delay time.Duration,
	sleep SleepFunc,
	attempt func(ctx context.Context) error,
) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if sleep == nil {
		sleep = waitWithContext
	}
	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, identity.ErrUnauthorized) {
			return lastErr
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if i < maxAttempts {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %d attempts, last error: %v", ErrRetriesExhausted, maxAttempts, lastErr)
}
