package store

import (
	"context"
	"fmt"
)

// Stats are the operational counters exposed by the read API
type Stats struct {
	Articles  map[string]int `json:"articles"`
	Clusters  map[string]int `json:"clusters"`
	Summaries int            `json:"summaries"`
	Sources   int            `json:"sources"`
}

// Ping reports database liveness for the health endpoint
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CollectStats counts articles and clusters by status plus totals
func (s *Store) CollectStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Articles: make(map[string]int),
		Clusters: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM articles GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count articles: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan article count: %w", err)
		}
		stats.Articles[status] = n
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	crows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM clusters GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("count clusters: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var status string
		var n int
		if err := crows.Scan(&status, &n); err != nil {
			return stats, fmt.Errorf("scan cluster count: %w", err)
		}
		stats.Clusters[status] = n
	}
	if err := crows.Err(); err != nil {
		return stats, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM summaries`).Scan(&stats.Summaries); err != nil {
		return stats, fmt.Errorf("count summaries: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE enabled`).Scan(&stats.Sources); err != nil {
		return stats, fmt.Errorf("count sources: %w", err)
	}

	return stats, nil
}
