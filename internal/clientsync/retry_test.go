package clientsync

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/notesmd/notesync/internal/identity"
)

func TestRetryBoundedStopsAfterBudget(t *testing.T) {
	attempts := 0
	sleeps := 0
	sleep := func(ctx context.Context, delay time.Duration) error {
		sleeps++
		return nil
	}
	err := retryBounded(context.Background(), 10, time.Second, sleep, func(ctx context.Context) error {
		attempts++
		return errors.New("refused")
	})
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("err = %v, want ErrRetriesExhausted", err)
	}
	if attempts != 10 {
		t.Fatalf("attempts = %d, want 10", attempts)
	}
	if sleeps != 9 {
		t.Fatalf("sleeps = %d, want 9", sleeps)
	}
}

func TestRetryBoundedSucceedsMidway(t *testing.T) {
	attempts := 0
	err := retryBounded(context.Background(), 10, 0, nil, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v, want success", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestRetryBoundedUnauthorizedIsImmediate(t *testing.T) {
	attempts := 0
	sleep := func(ctx context.Context, delay time.Duration) error {
		t.Fatal("must not sleep after a terminal rejection")
		return nil
	}
	err := retryBounded(context.Background(), 10, time.Second, sleep, func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("%w: rejected", identity.ErrUnauthorized)
	})
	if !errors.Is(err, identity.ErrUnauthorized) {
		t.Fatalf("err = %v, want unauthorized", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestRetryBoundedHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := retryBounded(ctx, 10, time.Second, func(ctx context.Context, delay time.Duration) error {
		return waitWithContext(ctx, delay)
	}, func(ctx context.Context) error {
		attempts++
		cancel()
		return errors.New("refused")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}
