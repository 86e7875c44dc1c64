package feed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/models"
	"github.com/citynews/pulse/internal/retry"
	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/semaphore"
)

// FeedFormatError marks a response body that is not a parseable feed
type FeedFormatError struct {
	Reason string
}

func (e *FeedFormatError) Error() string {
	return "feed format error: " + e.Reason
}

// FeedHTTPError marks a non-2xx response from a feed endpoint
type FeedHTTPError struct {
	StatusCode int
}

func (e *FeedHTTPError) Error() string {
	return fmt.Sprintf("feed http error: status %d", e.StatusCode)
}

// SourceResult is the outcome of fetching one source
type SourceResult struct {
	Source   models.Source
	Items    []models.FeedItem
	Duration time.Duration
	Err      error
}

type Fetcher struct {
	client  *resty.Client
	parser  *Parser
	retries int
}

func NewFetcher(timeout time.Duration, retries int) *Fetcher {
	return &Fetcher{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("User-Agent", "pulse-feed-fetcher/1.0"),
		parser:  NewParser(),
		retries: retries,
	}
}

// Fetch retrieves and parses one source's feed
func (f *Fetcher) Fetch(ctx context.Context, src models.Source) ([]models.FeedItem, error) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml").
		Get(src.FeedURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed from %s: %w", src.FeedURL, err)
	}

	if code := resp.StatusCode(); code < 200 || code > 299 {
		return nil, &FeedHTTPError{StatusCode: code}
	}

	body := stripPreamble(resp.Body())
	if looksLikeHTML(body) {
		return nil, &FeedFormatError{Reason: "html_instead_of_xml"}
	}

	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &FeedFormatError{Reason: "unparseable: " + err.Error()}
	}

	items := make([]models.FeedItem, 0, len(parsed.Items))
	for _, raw := range parsed.Items {
		item, ok := f.parser.Convert(src, raw)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	return items, nil
}

// FetchWithRetry wraps Fetch in the shared retry loop. Format errors are
// terminal for the run; HTTP errors retry only when the server may recover.
func (f *Fetcher) FetchWithRetry(ctx context.Context, src models.Source) ([]models.FeedItem, error) {
	var items []models.FeedItem

	err := retry.Do(ctx, retry.Config{
		MaxAttempts: f.retries,
		Delay:       500 * time.Millisecond,
		Jitter:      true,
		Retryable:   retryableFeedError,
	}, func() error {
		var err error
		items, err = f.Fetch(ctx, src)
		return err
	})

	return items, err
}

// FetchAll fetches every source concurrently, bounded per language. A failing
// source is reported in its SourceResult and never aborts the batch.
func (f *Fetcher) FetchAll(ctx context.Context, sources []models.Source, perLanguage int) []SourceResult {
	log := logger.Get()

	if perLanguage < 1 {
		perLanguage = 1
	}

	sems := make(map[string]*semaphore.Weighted)
	for _, src := range sources {
		if _, ok := sems[src.Language]; !ok {
			sems[src.Language] = semaphore.NewWeighted(int64(perLanguage))
		}
	}

	results := make([]SourceResult, len(sources))
	var wg sync.WaitGroup

	for i, src := range sources {
		sem := sems[src.Language]

		wg.Add(1)
		go func(i int, src models.Source, sem *semaphore.Weighted) {
			defer wg.Done()

			// Acquired inside the goroutine: a saturated language must not
			// block submission of the other languages' fetches
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = SourceResult{Source: src, Err: err}
				return
			}
			defer sem.Release(1)

			start := time.Now()
			items, err := f.FetchWithRetry(ctx, src)
			results[i] = SourceResult{Source: src, Items: items, Duration: time.Since(start), Err: err}

			if err != nil {
				log.Warn().
					Str("source", src.ID).
					Str("language", src.Language).
					Err(err).
					Msg("Source fetch failed, skipping for this run")
				return
			}
			log.Info().
				Str("source", src.ID).
				Str("language", src.Language).
				Int("items", len(items)).
				Dur("duration", time.Since(start)).
				Msg("Fetched feed")
		}(i, src, sem)
	}

	wg.Wait()
	return results
}

// Probe fetches a feed and returns the head item's guid-or-url mark, used by
// the early-exit gate as a cheap novelty check.
func (f *Fetcher) Probe(ctx context.Context, src models.Source) (string, error) {
	items, err := f.Fetch(ctx, src)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "", nil
	}
	head := items[0]
	if head.GUID != "" {
		return head.GUID, nil
	}
	return head.URL, nil
}

func retryableFeedError(err error) bool {
	var formatErr *FeedFormatError
	if errors.As(err, &formatErr) {
		return false
	}
	var httpErr *FeedHTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}
	// Transport errors and timeouts are worth another attempt
	return true
}

// stripPreamble drops a UTF-8 BOM and anything before the first '<'
func stripPreamble(body []byte) []byte {
	body = bytes.TrimPrefix(body, []byte{0xEF, 0xBB, 0xBF})
	if idx := bytes.IndexByte(body, '<'); idx > 0 {
		body = body[idx:]
	}
	return bytes.TrimSpace(body)
}

func looksLikeHTML(body []byte) bool {
	head := strings.ToLower(string(body[:min(len(body), 256)]))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
