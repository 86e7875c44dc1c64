package store

import (
	"context"
	"strings"
	"time"

	"github.com/citynews/pulse/internal/retry"
)

// retryablePatterns match transient Postgres write failures. Anything else
// is terminal for the batch and surfaces to the caller.
var retryablePatterns = []string{
	"deadlock",
	"lock not available",
	"could not obtain lock",
	"lock timeout",
	"timeout",
	"serialize",
	"too many connections",
	"connection reset",
}

// IsRetryableWriteErr classifies a persistence error by message pattern
func IsRetryableWriteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range retryablePatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// Chunk splits items into batches of at most size elements
func Chunk[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

// withWriteRetry runs a write with backoff + jitter on transient errors.
// Callers must make the write idempotent: batches have no multi-statement
// transaction, so a retried batch may re-apply rows that already landed.
func withWriteRetry(ctx context.Context, fn func() error) error {
	return retry.Do(ctx, retry.Config{
		MaxAttempts: 4,
		Delay:       200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      true,
		Retryable:   IsRetryableWriteErr,
	}, fn)
}
