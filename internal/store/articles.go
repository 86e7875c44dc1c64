package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/citynews/pulse/internal/models"
	"github.com/lib/pq"
)

// UpsertSources syncs the registry into the sources table so articles and
// the read API can join against it
func (s *Store) UpsertSources(ctx context.Context, sources []models.Source) error {
	for _, batch := range Chunk(sources, 50) {
		batch := batch
		err := withWriteRetry(ctx, func() error {
			for _, src := range batch {
				_, err := s.db.ExecContext(ctx, `
					INSERT INTO sources (id, name, feed_url, base_domain, active, enabled, language)
					VALUES ($1, $2, $3, $4, $5, $6, $7)
					ON CONFLICT (id) DO UPDATE SET
						name = EXCLUDED.name,
						feed_url = EXCLUDED.feed_url,
						base_domain = EXCLUDED.base_domain,
						active = EXCLUDED.active,
						enabled = EXCLUDED.enabled,
						language = EXCLUDED.language`,
					src.ID, src.Name, src.FeedURL, src.BaseDomain, src.Active, src.Enabled, src.Language)
				if err != nil {
					return fmt.Errorf("upsert source %s: %w", src.ID, err)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ExistingHashes returns which of the given dedup hashes already exist
func (s *Store) ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error) {
	if len(hashes) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT hash FROM articles WHERE hash = ANY($1)`, pq.StringArray(hashes))
	if err != nil {
		return nil, fmt.Errorf("query existing hashes: %w", err)
	}
	defer rows.Close()

	result := make(map[string]bool)
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("scan hash: %w", err)
		}
		result[h] = true
	}
	return result, rows.Err()
}

// InsertArticles inserts new articles with status new. The hash unique
// constraint plus DO NOTHING makes re-insertion a no-op, so a retried batch
// cannot duplicate rows. Returns the number actually inserted.
func (s *Store) InsertArticles(ctx context.Context, articles []models.Article, batchSize int) (int, error) {
	inserted := 0
	for _, batch := range Chunk(articles, batchSize) {
		batch := batch
		err := withWriteRetry(ctx, func() error {
			for _, a := range batch {
				res, err := s.db.ExecContext(ctx, `
					INSERT INTO articles
						(source_id, title, url, guid, hash, content_excerpt, content_text,
						 published_at, lang, status, image_candidates)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
					ON CONFLICT (hash) DO NOTHING`,
					a.SourceID, a.Title, a.URL, a.GUID, a.Hash, a.ContentExcerpt, a.ContentText,
					a.PublishedAt, a.Lang, models.ArticleStatusNew, pq.StringArray(a.ImageCandidates))
				if err != nil {
					return fmt.Errorf("insert article %s: %w", a.Hash, err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					inserted++
				}
			}
			return nil
		})
		if err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

// PendingArticles counts articles still waiting to be claimed. The novelty
// gate uses it so leftovers from a capped or failed run keep forcing the
// next one even when no feed head moved.
func (s *Store) PendingArticles(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM articles WHERE status = $1`, models.ArticleStatusNew).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending articles: %w", err)
	}
	return n, nil
}

// ClaimNew atomically transitions up to limit articles from new to
// processing and returns them. The subselect with FOR UPDATE SKIP LOCKED
// makes the claim a single indivisible operation: two racing workers can
// never claim the same row.
func (s *Store) ClaimNew(ctx context.Context, limit int) ([]models.Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE articles SET status = $1
		WHERE id IN (
			SELECT id FROM articles
			WHERE status = $2
			ORDER BY published_at DESC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, source_id, title, url, guid, hash, content_excerpt, content_text,
		          published_at, lang, status, cluster_id, error_message, image_candidates`,
		models.ArticleStatusProcessing, models.ArticleStatusNew, limit)
	if err != nil {
		return nil, fmt.Errorf("claim articles: %w", err)
	}
	defer rows.Close()

	var claimed []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, a)
	}
	return claimed, rows.Err()
}

// AssignCluster links a processing article to its cluster
func (s *Store) AssignCluster(ctx context.Context, articleID int64, clusterID string) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE articles SET cluster_id = $1 WHERE id = $2`, clusterID, articleID)
		if err != nil {
			return fmt.Errorf("assign cluster: %w", err)
		}
		return nil
	})
}

// MarkProcessed moves processing articles forward to processed. The status
// guard keeps the transition one-way.
func (s *Store) MarkProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE articles SET status = $1, error_message = NULL
			 WHERE id = ANY($2) AND status = $3`,
			models.ArticleStatusProcessed, pq.Array(ids), models.ArticleStatusProcessing)
		if err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
		return nil
	})
}

// MarkFailed moves processing articles to failed, recording the reason
func (s *Store) MarkFailed(ctx context.Context, ids []int64, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE articles SET status = $1, error_message = $2
			 WHERE id = ANY($3) AND status = $4`,
			models.ArticleStatusFailed, reason, pq.Array(ids), models.ArticleStatusProcessing)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return nil
	})
}

// ClusterArticles returns every article linked to a cluster
func (s *Store) ClusterArticles(ctx context.Context, clusterID string) ([]models.Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, title, url, guid, hash, content_excerpt, content_text,
		       published_at, lang, status, cluster_id, error_message, image_candidates
		FROM articles WHERE cluster_id = $1
		ORDER BY published_at DESC`, clusterID)
	if err != nil {
		return nil, fmt.Errorf("query cluster articles: %w", err)
	}
	defer rows.Close()

	var out []models.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkProcessedByCluster moves a cluster's still-processing articles forward
func (s *Store) MarkProcessedByCluster(ctx context.Context, clusterID string) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE articles SET status = $1, error_message = NULL
			 WHERE cluster_id = $2 AND status = $3`,
			models.ArticleStatusProcessed, clusterID, models.ArticleStatusProcessing)
		if err != nil {
			return fmt.Errorf("mark processed by cluster: %w", err)
		}
		return nil
	})
}

// MarkFailedByCluster records a terminal enrichment failure on a cluster's
// still-processing articles
func (s *Store) MarkFailedByCluster(ctx context.Context, clusterID, reason string) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE articles SET status = $1, error_message = $2
			 WHERE cluster_id = $3 AND status = $4`,
			models.ArticleStatusFailed, reason, clusterID, models.ArticleStatusProcessing)
		if err != nil {
			return fmt.Errorf("mark failed by cluster: %w", err)
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (models.Article, error) {
	var a models.Article
	var clusterID, errMsg sql.NullString
	var candidates pq.StringArray

	err := row.Scan(&a.ID, &a.SourceID, &a.Title, &a.URL, &a.GUID, &a.Hash,
		&a.ContentExcerpt, &a.ContentText, &a.PublishedAt, &a.Lang, &a.Status,
		&clusterID, &errMsg, &candidates)
	if err != nil {
		return a, fmt.Errorf("scan article: %w", err)
	}

	a.ClusterID = clusterID.String
	a.ErrorMessage = errMsg.String
	a.ImageCandidates = candidates
	return a, nil
}
