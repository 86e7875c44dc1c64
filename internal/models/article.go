package models

import "time"

// Article statuses. A status only moves forward: new -> processing -> processed/failed.
const (
	ArticleStatusNew        = "new"
	ArticleStatusProcessing = "processing"
	ArticleStatusProcessed  = "processed"
	ArticleStatusFailed     = "failed"
)

// FeedItem is a single parsed feed entry before insertion
type FeedItem struct {
	SourceID        string    `json:"source_id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	GUID            string    `json:"guid"`
	Excerpt         string    `json:"excerpt"`
	ContentText     string    `json:"content_text"`
	PublishedAt     time.Time `json:"published_at"`
	Language        string    `json:"language"`
	ImageURL        string    `json:"image"`
	ImageCandidates []string  `json:"image_candidates,omitempty"`
}

// Article is the persisted form of a feed item
type Article struct {
	ID              int64     `json:"id"`
	SourceID        string    `json:"source_id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	GUID            string    `json:"guid"`
	Hash            string    `json:"hash"`
	ContentExcerpt  string    `json:"content_excerpt"`
	ContentText     string    `json:"content_text"`
	PublishedAt     time.Time `json:"published_at"`
	Lang            string    `json:"lang"`
	Status          string    `json:"status"`
	ClusterID       string    `json:"cluster_id,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	ImageCandidates []string  `json:"image_candidates,omitempty"`
}
