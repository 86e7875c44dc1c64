package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/citynews/pulse/internal/logger"
	_ "github.com/lib/pq"
)

// Store is the Postgres data-access layer. Every query decodes into typed
// records at this boundary; nothing above it sees raw rows.
type Store struct {
	db *sql.DB
}

// New opens a connection pool and initializes the schema
func New(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Get().Info().Msg("Postgres store connected")
	return s, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id VARCHAR(64) PRIMARY KEY,
		name TEXT NOT NULL,
		feed_url TEXT NOT NULL,
		base_domain TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		language VARCHAR(8) NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS articles (
		id BIGSERIAL PRIMARY KEY,
		source_id VARCHAR(64) NOT NULL,
		title TEXT NOT NULL,
		url TEXT NOT NULL,
		guid TEXT NOT NULL DEFAULT '',
		hash VARCHAR(64) UNIQUE NOT NULL,
		content_excerpt TEXT NOT NULL DEFAULT '',
		content_text TEXT NOT NULL DEFAULT '',
		published_at TIMESTAMPTZ NOT NULL,
		lang VARCHAR(8) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'new',
		cluster_id UUID,
		error_message TEXT,
		image_candidates TEXT[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_articles_status ON articles(status);
	CREATE INDEX IF NOT EXISTS idx_articles_cluster ON articles(cluster_id);
	CREATE INDEX IF NOT EXISTS idx_articles_published_at ON articles(published_at);

	CREATE TABLE IF NOT EXISTS clusters (
		id UUID PRIMARY KEY,
		headline TEXT NOT NULL,
		headline_en TEXT,
		headline_da TEXT,
		headline_uk TEXT,
		slug TEXT UNIQUE,
		topic VARCHAR(32) NOT NULL DEFAULT '',
		topics TEXT[] NOT NULL DEFAULT '{}',
		city TEXT NOT NULL DEFAULT '',
		language VARCHAR(8) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'draft',
		source_count INTEGER NOT NULL DEFAULT 0,
		article_count INTEGER NOT NULL DEFAULT 0,
		first_seen_at TIMESTAMPTZ NOT NULL,
		last_seen_at TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		image_url TEXT NOT NULL DEFAULT '',
		meta_title_en TEXT,
		meta_title_da TEXT,
		meta_title_uk TEXT,
		meta_description_en TEXT,
		meta_description_da TEXT,
		meta_description_uk TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_clusters_status ON clusters(status);
	CREATE INDEX IF NOT EXISTS idx_clusters_last_seen ON clusters(last_seen_at);

	CREATE TABLE IF NOT EXISTS summaries (
		cluster_id UUID PRIMARY KEY,
		summary_en TEXT,
		summary_da TEXT,
		summary_uk TEXT,
		key_facts_en TEXT,
		key_facts_da TEXT,
		key_facts_uk TEXT,
		confirmed_vs_differs_en TEXT,
		confirmed_vs_differs_da TEXT,
		confirmed_vs_differs_uk TEXT,
		model VARCHAR(64) NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS pipeline_lock (
		name VARCHAR(64) PRIMARY KEY,
		holder VARCHAR(64) NOT NULL,
		acquired_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		expires_at TIMESTAMPTZ NOT NULL
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
