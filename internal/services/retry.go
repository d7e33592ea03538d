package services

import (
	"context"
	"fmt"
	"time"
)

// Backoff bounds a polling loop: at most Attempts calls, Delay apart.
type Backoff struct {
	Attempts int
	Delay    time.Duration
}

// RetryFunc is one polling round. Returning done stops the loop; an error
// returned together with done is final, otherwise it is kept as the last
// failure and the loop continues.
type RetryFunc func(ctx context.Context, attempt int) (done bool, err error)

// Retry runs fn until it reports done, the attempts run out or ctx ends.
func Retry(ctx context.Context, b Backoff, fn RetryFunc) error {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := fn(ctx, attempt)
		if done {
			return err
		}
		if err != nil {
			lastErr = err
		}

		if attempt == attempts {
			break
		}
		if err := sleep(ctx, b.Delay); err != nil {
			return err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, lastErr)
	}
	return fmt.Errorf("%w after %d attempts", ErrRetryExhausted, attempts)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
