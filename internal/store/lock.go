package store

import (
	"context"
	"fmt"
	"time"

	"github.com/citynews/pulse/internal/logger"
)

// Acquire takes the named pipeline lock for this holder. The single
// insert-or-supersede statement is the atomicity point: it succeeds when no
// row exists or the existing row's TTL has elapsed, so a crashed holder is
// implicitly superseded and can never block later runs permanently.
func (s *Store) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_lock (name, holder, acquired_at, expires_at)
		VALUES ($1, $2, NOW(), NOW() + make_interval(secs => $3))
		ON CONFLICT (name) DO UPDATE SET
			holder = EXCLUDED.holder,
			acquired_at = NOW(),
			expires_at = EXCLUDED.expires_at
		WHERE pipeline_lock.expires_at < NOW()`,
		name, holder, ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock rows: %w", err)
	}
	return n > 0, nil
}

// Release clears the lock, but only for the holder that took it. A stale
// holder releasing after being superseded is a no-op. Best effort: a failed
// release just leaves the row to expire.
func (s *Store) Release(ctx context.Context, name, holder string) {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pipeline_lock WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		logger.Get().Warn().
			Str("lock", name).
			Err(err).
			Msg("Lock release failed, row will expire by TTL")
	}
}

// IsLocked is a cheap pre-check before attempting acquisition. Races are
// resolved by Acquire, never by this check.
func (s *Store) IsLocked(ctx context.Context, name string) (bool, error) {
	var locked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pipeline_lock WHERE name = $1 AND expires_at > NOW())`,
		name).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	return locked, nil
}
