package models

import "time"

// Cluster statuses
const (
	ClusterStatusDraft     = "draft"
	ClusterStatusPublished = "published"
)

// Languages the pipeline publishes in. Per-language fields on Cluster and
// Summary are keyed by these codes.
var Languages = []string{"en", "da", "uk"}

// Cluster groups articles describing the same real-world event
type Cluster struct {
	ID               string            `json:"id"`
	Headline         string            `json:"headline"`
	HeadlineByLang   map[string]string `json:"headline_by_lang,omitempty"`
	Slug             string            `json:"slug"`
	Topic            string            `json:"topic"`
	Topics           []string          `json:"topics,omitempty"`
	City             string            `json:"city,omitempty"`
	Language         string            `json:"language"`
	Status           string            `json:"status"`
	SourceCount      int               `json:"source_count"`
	ArticleCount     int               `json:"article_count"`
	FirstSeenAt      time.Time         `json:"first_seen_at"`
	LastSeenAt       time.Time         `json:"last_seen_at"`
	PublishedAt      *time.Time        `json:"published_at,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
	ImageURL         string            `json:"image_url,omitempty"`
	MetaTitle        map[string]string `json:"meta_title,omitempty"`
	MetaDescription  map[string]string `json:"meta_description,omitempty"`
}

// Summary is the one-to-one enrichment record for a cluster
type Summary struct {
	ClusterID          string            `json:"cluster_id"`
	Text               map[string]string `json:"summary,omitempty"`
	KeyFacts           map[string]string `json:"key_facts,omitempty"`
	ConfirmedVsDiffers map[string]string `json:"confirmed_vs_differs,omitempty"`
	Model              string            `json:"model"`
	Version            int               `json:"version"`
}
