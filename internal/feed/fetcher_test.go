package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/citynews/pulse/internal/models"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <item>
      <title>First story</title>
      <link>https://example.com/first</link>
      <guid>guid-first</guid>
      <description>Something happened downtown.</description>
      <pubDate>Mon, 24 Aug 2026 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Second story</title>
      <link>https://example.com/second</link>
      <guid>guid-second</guid>
      <description>Something else happened.</description>
      <pubDate>Mon, 24 Aug 2026 09:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func testSource(feedURL string) models.Source {
	return models.Source{
		ID:       "test",
		Name:     "Test Source",
		FeedURL:  feedURL,
		Language: "en",
		Active:   true,
		Enabled:  true,
	}
}

func TestFetchParsesValidFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1)
	items, err := f.Fetch(context.Background(), testSource(srv.URL))
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(items))
	}
	if items[0].Title != "First story" || items[0].GUID != "guid-first" {
		t.Errorf("Unexpected head item: %+v", items[0])
	}
	if items[0].Language != "en" {
		t.Errorf("Items must inherit the source language, got %q", items[0].Language)
	}
}

func TestFetchRejectsHTMLBody(t *testing.T) {
	// A misconfigured endpoint serving its homepage instead of a feed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<!DOCTYPE html><html><body>not a feed</body></html>"))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1)
	_, err := f.Fetch(context.Background(), testSource(srv.URL))

	var formatErr *FeedFormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("Expected FeedFormatError, got %v", err)
	}
	if formatErr.Reason != "html_instead_of_xml" {
		t.Errorf("Expected reason html_instead_of_xml, got %q", formatErr.Reason)
	}
}

func TestFetchReportsHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1)
	_, err := f.Fetch(context.Background(), testSource(srv.URL))

	var httpErr *FeedHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("Expected FeedHTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", httpErr.StatusCode)
	}
}

func TestFetchToleratesPreambleAndBOM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(append([]byte{0xEF, 0xBB, 0xBF, '\n', ' '}, []byte(sampleRSS)...))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1)
	items, err := f.Fetch(context.Background(), testSource(srv.URL))
	if err != nil {
		t.Fatalf("BOM and leading whitespace must not break parsing: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 items, got %d", len(items))
	}
}

func TestRetryableFeedError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"format error never retries", &FeedFormatError{Reason: "html_instead_of_xml"}, false},
		{"client error never retries", &FeedHTTPError{StatusCode: 404}, false},
		{"rate limit retries", &FeedHTTPError{StatusCode: 429}, true},
		{"server error retries", &FeedHTTPError{StatusCode: 503}, true},
		{"transport error retries", errors.New("connection reset"), true},
	}

	for _, c := range cases {
		if got := retryableFeedError(c.err); got != c.want {
			t.Errorf("%s: retryableFeedError(%v) = %v, want %v", c.name, c.err, got, c.want)
		}
	}
}

func TestFetchWithRetryRecoversFromTransient503(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 3)
	items, err := f.FetchWithRetry(context.Background(), testSource(srv.URL))
	if err != nil {
		t.Fatalf("Second attempt should have succeeded: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("Expected 2 items after retry, got %d", len(items))
	}
	if calls != 2 {
		t.Errorf("Expected exactly 2 requests, got %d", calls)
	}
}

func TestFetchAllIsolatesFailingSource(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<!DOCTYPE html><html></html>"))
	}))
	defer bad.Close()

	f := NewFetcher(5*time.Second, 1)
	results := f.FetchAll(context.Background(), []models.Source{
		testSource(good.URL),
		{ID: "broken", FeedURL: bad.URL, Language: "en", Active: true, Enabled: true},
	}, 2)

	if len(results) != 2 {
		t.Fatalf("Expected a result per source, got %d", len(results))
	}
	if results[0].Err != nil || len(results[0].Items) != 2 {
		t.Errorf("Healthy source must succeed regardless of its neighbor: %+v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("Broken source must report its error without aborting the batch")
	}
}

func TestFetchAllLanguagesRunIndependently(t *testing.T) {
	// Two Danish sources saturate their per-language slot; the first one
	// only responds after the English source has been fetched. If submission
	// waited on the saturated Danish slot, English would never start and the
	// Danish fetch would stall until its timeout.
	enFetched := make(chan struct{})
	var once sync.Once

	slowDA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-enFetched
		w.Write([]byte(sampleRSS))
	}))
	defer slowDA.Close()
	fastDA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer fastDA.Close()
	en := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(enFetched) })
		w.Write([]byte(sampleRSS))
	}))
	defer en.Close()

	f := NewFetcher(5*time.Second, 1)
	results := f.FetchAll(context.Background(), []models.Source{
		{ID: "da-slow", FeedURL: slowDA.URL, Language: "da", Active: true, Enabled: true},
		{ID: "da-fast", FeedURL: fastDA.URL, Language: "da", Active: true, Enabled: true},
		{ID: "en", FeedURL: en.URL, Language: "en", Active: true, Enabled: true},
	}, 1)

	for _, res := range results {
		if res.Err != nil {
			t.Errorf("Source %s must complete despite the saturated slot: %v", res.Source.ID, res.Err)
		}
	}
}

func TestProbeReturnsHeadMark(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleRSS))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, 1)
	mark, err := f.Probe(context.Background(), testSource(srv.URL))
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if mark != "guid-first" {
		t.Errorf("Probe must return the head item's guid, got %q", mark)
	}
}
