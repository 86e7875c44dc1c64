package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Config controls a retry loop
type Config struct {
	MaxAttempts int
	Delay       time.Duration // base delay before the first retry
	MaxDelay    time.Duration // cap for the backed-off delay, 0 means no cap
	Jitter      bool
	// Retryable decides whether an error is worth another attempt.
	// nil means every error is retryable.
	Retryable func(error) bool
}

// Do runs fn until it succeeds, the attempts are exhausted, the error is not
// retryable, or the context is cancelled. The delay doubles per attempt.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.Delay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err

			if cfg.Retryable != nil && !cfg.Retryable(err) {
				return err
			}
			if attempt == cfg.MaxAttempts {
				return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, err)
			}

			wait := delay
			if cfg.Jitter && wait > 0 {
				wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
			}
			if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
				wait = cfg.MaxDelay
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}

			delay *= 2
			continue
		}
		return nil
	}

	return lastErr
}
