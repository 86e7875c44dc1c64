package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/citynews/pulse/internal/models"
	"github.com/lib/pq"
)

const clusterColumns = `id, headline, headline_en, headline_da, headline_uk, slug,
	topic, topics, city, language, status, source_count, article_count,
	first_seen_at, last_seen_at, published_at, expires_at, image_url,
	meta_title_en, meta_title_da, meta_title_uk,
	meta_description_en, meta_description_da, meta_description_uk`

// OpenClusters returns clusters last seen within the window, newest first.
// These are the join candidates for the clustering engine.
func (s *Store) OpenClusters(ctx context.Context, window time.Duration) ([]models.Cluster, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clusterColumns+` FROM clusters
		 WHERE last_seen_at > NOW() - make_interval(secs => $1)
		 ORDER BY last_seen_at DESC`,
		window.Seconds())
	if err != nil {
		return nil, fmt.Errorf("query open clusters: %w", err)
	}
	defer rows.Close()

	return collectClusters(rows)
}

// CreateCluster inserts a draft cluster founded by one article
func (s *Store) CreateCluster(ctx context.Context, c models.Cluster) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO clusters
				(id, headline, language, status, source_count, article_count,
				 first_seen_at, last_seen_at, topics)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.Headline, c.Language, models.ClusterStatusDraft,
			c.SourceCount, c.ArticleCount, c.FirstSeenAt, c.LastSeenAt,
			pq.StringArray(c.Topics))
		if err != nil {
			return fmt.Errorf("create cluster: %w", err)
		}
		return nil
	})
}

// TouchCluster advances last_seen_at after an article joins
func (s *Store) TouchCluster(ctx context.Context, clusterID string, seenAt time.Time) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE clusters SET last_seen_at = GREATEST(last_seen_at, $1) WHERE id = $2`,
			seenAt, clusterID)
		if err != nil {
			return fmt.Errorf("touch cluster: %w", err)
		}
		return nil
	})
}

// RefreshCounts reconciles a cluster's source/article counts from its linked
// articles. Called on each enrichment pass; the counts are eventually
// consistent between passes.
func (s *Store) RefreshCounts(ctx context.Context, clusterID string) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE clusters SET
				article_count = sub.articles,
				source_count = sub.sources
			FROM (
				SELECT COUNT(*) AS articles, COUNT(DISTINCT source_id) AS sources
				FROM articles WHERE cluster_id = $1
			) AS sub
			WHERE id = $1`, clusterID)
		if err != nil {
			return fmt.Errorf("refresh counts: %w", err)
		}
		return nil
	})
}

// SaveEnrichment upserts whatever enrichment fields succeeded for a cluster.
// Empty fields keep their previous values so partial enrichment never
// erases earlier results.
func (s *Store) SaveEnrichment(ctx context.Context, c models.Cluster) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE clusters SET
				topic = COALESCE(NULLIF($2, ''), topic),
				topics = CASE WHEN cardinality($3::text[]) > 0 THEN $3 ELSE topics END,
				city = COALESCE(NULLIF($4, ''), city),
				slug = COALESCE(NULLIF($5, ''), slug),
				image_url = COALESCE(NULLIF($6, ''), image_url),
				headline_en = COALESCE(NULLIF($7, ''), headline_en),
				headline_da = COALESCE(NULLIF($8, ''), headline_da),
				headline_uk = COALESCE(NULLIF($9, ''), headline_uk),
				meta_title_en = COALESCE(NULLIF($10, ''), meta_title_en),
				meta_title_da = COALESCE(NULLIF($11, ''), meta_title_da),
				meta_title_uk = COALESCE(NULLIF($12, ''), meta_title_uk),
				meta_description_en = COALESCE(NULLIF($13, ''), meta_description_en),
				meta_description_da = COALESCE(NULLIF($14, ''), meta_description_da),
				meta_description_uk = COALESCE(NULLIF($15, ''), meta_description_uk)
			WHERE id = $1`,
			c.ID, c.Topic, pq.StringArray(c.Topics), c.City, c.Slug, c.ImageURL,
			c.HeadlineByLang["en"], c.HeadlineByLang["da"], c.HeadlineByLang["uk"],
			c.MetaTitle["en"], c.MetaTitle["da"], c.MetaTitle["uk"],
			c.MetaDescription["en"], c.MetaDescription["da"], c.MetaDescription["uk"])
		if err != nil {
			return fmt.Errorf("save enrichment: %w", err)
		}
		return nil
	})
}

// UpsertSummary writes the per-language summary record for a cluster
func (s *Store) UpsertSummary(ctx context.Context, sum models.Summary) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO summaries
				(cluster_id, summary_en, summary_da, summary_uk,
				 key_facts_en, key_facts_da, key_facts_uk,
				 confirmed_vs_differs_en, confirmed_vs_differs_da, confirmed_vs_differs_uk,
				 model, version, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
			ON CONFLICT (cluster_id) DO UPDATE SET
				summary_en = COALESCE(NULLIF(EXCLUDED.summary_en, ''), summaries.summary_en),
				summary_da = COALESCE(NULLIF(EXCLUDED.summary_da, ''), summaries.summary_da),
				summary_uk = COALESCE(NULLIF(EXCLUDED.summary_uk, ''), summaries.summary_uk),
				key_facts_en = COALESCE(NULLIF(EXCLUDED.key_facts_en, ''), summaries.key_facts_en),
				key_facts_da = COALESCE(NULLIF(EXCLUDED.key_facts_da, ''), summaries.key_facts_da),
				key_facts_uk = COALESCE(NULLIF(EXCLUDED.key_facts_uk, ''), summaries.key_facts_uk),
				confirmed_vs_differs_en = COALESCE(NULLIF(EXCLUDED.confirmed_vs_differs_en, ''), summaries.confirmed_vs_differs_en),
				confirmed_vs_differs_da = COALESCE(NULLIF(EXCLUDED.confirmed_vs_differs_da, ''), summaries.confirmed_vs_differs_da),
				confirmed_vs_differs_uk = COALESCE(NULLIF(EXCLUDED.confirmed_vs_differs_uk, ''), summaries.confirmed_vs_differs_uk),
				model = EXCLUDED.model,
				version = summaries.version + 1,
				updated_at = NOW()`,
			sum.ClusterID, sum.Text["en"], sum.Text["da"], sum.Text["uk"],
			sum.KeyFacts["en"], sum.KeyFacts["da"], sum.KeyFacts["uk"],
			sum.ConfirmedVsDiffers["en"], sum.ConfirmedVsDiffers["da"], sum.ConfirmedVsDiffers["uk"],
			sum.Model, sum.Version)
		if err != nil {
			return fmt.Errorf("upsert summary: %w", err)
		}
		return nil
	})
}

// Publish marks a cluster published and stamps published/expires timestamps
func (s *Store) Publish(ctx context.Context, clusterID string, ttl time.Duration) error {
	return withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE clusters SET
				status = $2,
				published_at = COALESCE(published_at, NOW()),
				expires_at = NOW() + make_interval(secs => $3)
			WHERE id = $1`,
			clusterID, models.ClusterStatusPublished, ttl.Seconds())
		if err != nil {
			return fmt.Errorf("publish cluster: %w", err)
		}
		return nil
	})
}

// SlugExists reports whether a slug is already taken
func (s *Store) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM clusters WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check slug: %w", err)
	}
	return exists, nil
}

// ClusterFilter narrows the published-cluster listing for the read API
type ClusterFilter struct {
	Language string
	Topic    string
	Since    time.Time
	Limit    int
}

// PublishedClusters is the front end's read contract
func (s *Store) PublishedClusters(ctx context.Context, f ClusterFilter) ([]models.Cluster, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+clusterColumns+` FROM clusters
		 WHERE status = $1
		   AND ($2 = '' OR language = $2)
		   AND ($3 = '' OR topic = $3 OR $3 = ANY(topics))
		   AND published_at >= $4
		 ORDER BY published_at DESC
		 LIMIT $5`,
		models.ClusterStatusPublished, f.Language, f.Topic, f.Since, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("query published clusters: %w", err)
	}
	defer rows.Close()

	return collectClusters(rows)
}

// ClusterBySlug fetches one published cluster for the read API
func (s *Store) ClusterBySlug(ctx context.Context, slug string) (models.Cluster, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+clusterColumns+` FROM clusters WHERE slug = $1`, slug)
	return scanCluster(row)
}

// SummaryByCluster fetches the summary record for one cluster
func (s *Store) SummaryByCluster(ctx context.Context, clusterID string) (models.Summary, error) {
	var sum models.Summary
	var txtEN, txtDA, txtUK sql.NullString
	var kfEN, kfDA, kfUK sql.NullString
	var cdEN, cdDA, cdUK sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT cluster_id, summary_en, summary_da, summary_uk,
		       key_facts_en, key_facts_da, key_facts_uk,
		       confirmed_vs_differs_en, confirmed_vs_differs_da, confirmed_vs_differs_uk,
		       model, version
		FROM summaries WHERE cluster_id = $1`, clusterID).
		Scan(&sum.ClusterID, &txtEN, &txtDA, &txtUK,
			&kfEN, &kfDA, &kfUK, &cdEN, &cdDA, &cdUK,
			&sum.Model, &sum.Version)
	if err != nil {
		return sum, fmt.Errorf("query summary: %w", err)
	}

	sum.Text = langMap(txtEN, txtDA, txtUK)
	sum.KeyFacts = langMap(kfEN, kfDA, kfUK)
	sum.ConfirmedVsDiffers = langMap(cdEN, cdDA, cdUK)
	return sum, nil
}

func collectClusters(rows *sql.Rows) ([]models.Cluster, error) {
	var out []models.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCluster(row rowScanner) (models.Cluster, error) {
	var c models.Cluster
	var slug, city, imageURL sql.NullString
	var hlEN, hlDA, hlUK sql.NullString
	var mtEN, mtDA, mtUK, mdEN, mdDA, mdUK sql.NullString
	var publishedAt, expiresAt sql.NullTime
	var topics pq.StringArray

	err := row.Scan(&c.ID, &c.Headline, &hlEN, &hlDA, &hlUK, &slug,
		&c.Topic, &topics, &city, &c.Language, &c.Status,
		&c.SourceCount, &c.ArticleCount, &c.FirstSeenAt, &c.LastSeenAt,
		&publishedAt, &expiresAt, &imageURL,
		&mtEN, &mtDA, &mtUK, &mdEN, &mdDA, &mdUK)
	if err != nil {
		return c, fmt.Errorf("scan cluster: %w", err)
	}

	c.Slug = slug.String
	c.City = city.String
	c.ImageURL = imageURL.String
	c.Topics = topics
	c.HeadlineByLang = langMap(hlEN, hlDA, hlUK)
	c.MetaTitle = langMap(mtEN, mtDA, mtUK)
	c.MetaDescription = langMap(mdEN, mdDA, mdUK)
	if publishedAt.Valid {
		t := publishedAt.Time
		c.PublishedAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	return c, nil
}

func langMap(en, da, uk sql.NullString) map[string]string {
	m := make(map[string]string)
	for lang, v := range map[string]sql.NullString{"en": en, "da": da, "uk": uk} {
		if v.Valid && v.String != "" {
			m[lang] = v.String
		}
	}
	if len(m) == 0 {
		return nil
	}
	return m
}
