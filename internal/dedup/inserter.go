package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/citynews/pulse/internal/cache"
	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/models"
)

// ArticleWriter is the slice of the store the inserter needs
type ArticleWriter interface {
	ExistingHashes(ctx context.Context, hashes []string) (map[string]bool, error)
	InsertArticles(ctx context.Context, articles []models.Article, batchSize int) (int, error)
}

// Report counts one insertion pass
type Report struct {
	Candidates   int `json:"candidates"`
	Inserted     int `json:"inserted"`
	Deduplicated int `json:"deduplicated"`
}

// Inserter filters already-seen items and persists only genuinely new ones
type Inserter struct {
	store     ArticleWriter
	state     cache.RunState
	batchSize int
	seenTTL   time.Duration
}

func NewInserter(store ArticleWriter, state cache.RunState, batchSize int, seenTTL time.Duration) *Inserter {
	return &Inserter{
		store:     store,
		state:     state,
		batchSize: batchSize,
		seenTTL:   seenTTL,
	}
}

// Insert deduplicates and inserts feed items. The redis seen-set is a fast
// path only; the articles table's unique hash constraint is the guarantee.
func (ins *Inserter) Insert(ctx context.Context, items []models.FeedItem) (Report, error) {
	log := logger.Get()
	report := Report{Candidates: len(items)}

	// Collapse duplicates inside the batch first: two sources emitting the
	// same item must yield one candidate.
	byHash := make(map[string]models.FeedItem, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		h := Hash(item.URL, item.GUID, item.Title)
		if _, ok := byHash[h]; ok {
			report.Deduplicated++
			continue
		}
		byHash[h] = item
		order = append(order, h)
	}

	// Fast path: drop hashes the cache has seen recently
	unknown := make([]string, 0, len(order))
	for _, h := range order {
		seen, err := ins.state.IsSeen(ctx, h)
		if err != nil {
			log.Warn().Err(err).Msg("Seen-cache check failed, falling through to store")
			seen = false
		}
		if seen {
			report.Deduplicated++
			continue
		}
		unknown = append(unknown, h)
	}

	// Authoritative check against the articles table, batched
	existing := make(map[string]bool)
	for _, batch := range chunk(unknown, ins.batchSize) {
		found, err := ins.store.ExistingHashes(ctx, batch)
		if err != nil {
			return report, fmt.Errorf("check existing hashes: %w", err)
		}
		for h := range found {
			existing[h] = true
		}
	}

	var fresh []models.Article
	for _, h := range unknown {
		if existing[h] {
			report.Deduplicated++
			continue
		}
		item := byHash[h]
		fresh = append(fresh, models.Article{
			SourceID:        item.SourceID,
			Title:           item.Title,
			URL:             item.URL,
			GUID:            item.GUID,
			Hash:            h,
			ContentExcerpt:  item.Excerpt,
			ContentText:     item.ContentText,
			PublishedAt:     item.PublishedAt,
			Lang:            item.Language,
			Status:          models.ArticleStatusNew,
			ImageCandidates: item.ImageCandidates,
		})
	}

	inserted, err := ins.store.InsertArticles(ctx, fresh, ins.batchSize)
	report.Inserted = inserted
	// Anything the insert skipped on conflict was a concurrent duplicate
	report.Deduplicated += len(fresh) - inserted
	if err != nil {
		return report, fmt.Errorf("insert articles: %w", err)
	}

	for _, a := range fresh {
		if cacheErr := ins.state.MarkSeen(ctx, a.Hash, ins.seenTTL); cacheErr != nil {
			log.Warn().Err(cacheErr).Msg("Failed to mark hash as seen")
		}
	}

	log.Info().
		Int("candidates", report.Candidates).
		Int("inserted", report.Inserted).
		Int("deduplicated", report.Deduplicated).
		Msg("Insertion pass finished")

	return report, nil
}

func chunk(items []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}
