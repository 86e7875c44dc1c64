package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/citynews/pulse/internal/cache"
	"github.com/citynews/pulse/internal/cluster"
	"github.com/citynews/pulse/internal/dedup"
	"github.com/citynews/pulse/internal/enrich"
	"github.com/citynews/pulse/internal/feed"
	"github.com/citynews/pulse/internal/gate"
	"github.com/citynews/pulse/internal/metrics"
	"github.com/citynews/pulse/internal/models"
)

// fakeStore implements the pipeline's store slice in memory
type fakeStore struct {
	mu           sync.Mutex
	locked       bool
	acquireOK    bool
	acquireCalls int
	released     bool
	pending      int
	claimLimit   int
	claimable    []models.Article
	open         []models.Cluster
	created      []models.Cluster
	assigned     map[int64]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{acquireOK: true, assigned: make(map[int64]string)}
}

func (f *fakeStore) UpsertSources(ctx context.Context, sources []models.Source) error { return nil }

func (f *fakeStore) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquireCalls++
	return f.acquireOK, nil
}

func (f *fakeStore) Release(ctx context.Context, name, holder string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = true
}

func (f *fakeStore) IsLocked(ctx context.Context, name string) (bool, error) {
	return f.locked, nil
}

func (f *fakeStore) PendingArticles(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeStore) ClaimNew(ctx context.Context, limit int) ([]models.Article, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimLimit = limit
	if len(f.claimable) > limit {
		return f.claimable[:limit], nil
	}
	return f.claimable, nil
}

func (f *fakeStore) OpenClusters(ctx context.Context, window time.Duration) ([]models.Cluster, error) {
	return f.open, nil
}

func (f *fakeStore) CreateCluster(ctx context.Context, c models.Cluster) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, c)
	return nil
}

func (f *fakeStore) TouchCluster(ctx context.Context, clusterID string, seenAt time.Time) error {
	return nil
}

func (f *fakeStore) AssignCluster(ctx context.Context, articleID int64, clusterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned[articleID] = clusterID
	return nil
}

type fakeFetcher struct {
	results []feed.SourceResult
}

func (f *fakeFetcher) FetchAll(ctx context.Context, sources []models.Source, perLanguage int) []feed.SourceResult {
	return f.results
}

type fakeInserter struct {
	report dedup.Report
	items  []models.FeedItem
}

func (f *fakeInserter) Insert(ctx context.Context, items []models.FeedItem) (dedup.Report, error) {
	f.items = items
	return f.report, nil
}

type fakeEnricher struct {
	mu       sync.Mutex
	received []models.Cluster
}

func (f *fakeEnricher) Run(ctx context.Context, clusters []models.Cluster, collector *metrics.Collector) enrich.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, clusters...)
	return enrich.Outcome{Published: len(clusters)}
}

type probeFunc func(ctx context.Context, src models.Source) (string, error)

func (p probeFunc) Probe(ctx context.Context, src models.Source) (string, error) {
	return p(ctx, src)
}

func testSource() models.Source {
	return models.Source{
		ID: "s1", Name: "Source One", FeedURL: "https://example.com/feed",
		Language: "en", Active: true, Enabled: true,
	}
}

func testOptions() Options {
	return Options{
		LockName:         "pipeline",
		LockTTL:          time.Hour,
		ArticleCeiling:   100,
		FetchConcurrency: 2,
		ClusterWindow:    48 * time.Hour,
		WatermarkTTL:     time.Hour,
	}
}

type harness struct {
	store    *fakeStore
	state    *cache.MockRunState
	fetcher  *fakeFetcher
	inserter *fakeInserter
	enricher *fakeEnricher
	pipe     *Pipeline
}

func newHarness(opts Options) *harness {
	h := &harness{
		store:    newFakeStore(),
		state:    cache.NewMockRunState(),
		fetcher:  &fakeFetcher{},
		inserter: &fakeInserter{},
		enricher: &fakeEnricher{},
	}

	registry := func() ([]models.Source, error) {
		return []models.Source{testSource()}, nil
	}
	prober := probeFunc(func(ctx context.Context, src models.Source) (string, error) {
		return "fresh-head", nil
	})

	h.pipe = New(h.store, h.state, registry, h.fetcher, h.inserter,
		cluster.NewEngine(opts.ClusterWindow, 0.35), h.enricher,
		gate.New(h.state, prober, h.store, 20*time.Minute), opts)
	return h
}

func TestRunSkipsWhenLockIsHeld(t *testing.T) {
	h := newHarness(testOptions())
	h.store.locked = true

	res := h.pipe.Run(context.Background(), false)

	if !res.OK || !res.Skipped || res.Reason != ReasonLocked {
		t.Fatalf("Concurrent trigger must skip with %s, got %+v", ReasonLocked, res)
	}
	if h.store.acquireCalls != 0 {
		t.Error("Pre-check hit; acquisition should not have been attempted")
	}
}

func TestRunSkipsWhenAcquisitionLoses(t *testing.T) {
	h := newHarness(testOptions())
	h.store.acquireOK = false

	res := h.pipe.Run(context.Background(), false)

	if !res.OK || !res.Skipped || res.Reason != ReasonLocked {
		t.Fatalf("Losing the atomic acquire must skip with %s, got %+v", ReasonLocked, res)
	}
}

func TestRunSkipsTooRecentRun(t *testing.T) {
	h := newHarness(testOptions())
	if err := h.state.SetLastRun(context.Background(), time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}

	res := h.pipe.Run(context.Background(), false)

	if !res.Skipped || res.Reason != gate.ReasonTooSoon {
		t.Fatalf("Expected %s skip, got %+v", gate.ReasonTooSoon, res)
	}
	if !h.store.released {
		t.Error("The lock must be released even when the run skips")
	}
}

func TestRunForceBypassesRecency(t *testing.T) {
	h := newHarness(testOptions())
	if err := h.state.SetLastRun(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}

	res := h.pipe.Run(context.Background(), true)

	if res.Skipped {
		t.Fatalf("Forced run must not skip on recency, got %+v", res)
	}
}

func TestRunFullPass(t *testing.T) {
	h := newHarness(testOptions())

	items := []models.FeedItem{
		{SourceID: "s1", Title: "Metro extension opens", URL: "https://example.com/1", GUID: "g1", Language: "en", PublishedAt: time.Now().UTC()},
		{SourceID: "s1", Title: "Football final tonight", URL: "https://example.com/2", GUID: "g2", Language: "en", PublishedAt: time.Now().UTC()},
	}
	h.fetcher.results = []feed.SourceResult{{Source: testSource(), Items: items}}
	h.inserter.report = dedup.Report{Candidates: 2, Inserted: 2}
	h.store.claimable = []models.Article{
		{ID: 1, Title: "Metro extension opens", Lang: "en", Status: models.ArticleStatusProcessing, PublishedAt: time.Now().UTC()},
		{ID: 2, Title: "Football final tonight", Lang: "en", Status: models.ArticleStatusProcessing, PublishedAt: time.Now().UTC()},
	}

	res := h.pipe.Run(context.Background(), false)

	if !res.OK || res.Skipped {
		t.Fatalf("Expected a completed run, got %+v", res)
	}
	if res.Stats.Inserted != 2 || res.Stats.Claimed != 2 {
		t.Errorf("Expected 2 inserted and 2 claimed, got %+v", res.Stats)
	}
	// The two dissimilar articles found two new clusters
	if res.Stats.ClustersCreated != 2 {
		t.Errorf("Expected 2 clusters created, got %d", res.Stats.ClustersCreated)
	}
	if len(h.store.assigned) != 2 {
		t.Errorf("Every claimed article must be assigned a cluster, got %v", h.store.assigned)
	}
	if len(h.enricher.received) != 2 {
		t.Errorf("Both new clusters must reach enrichment, got %d", len(h.enricher.received))
	}
	if !h.store.released {
		t.Error("The lock must be released after the run")
	}

	// A finished run stamps the recency guard and the feed watermark
	last, err := h.state.LastRun(context.Background())
	if err != nil || last.IsZero() {
		t.Errorf("Last-run stamp missing after a successful pass: %v %v", last, err)
	}
	mark, err := h.state.Watermark(context.Background(), "s1")
	if err != nil || mark != "g1" {
		t.Errorf("Watermark must advance to the head guid, got %q %v", mark, err)
	}
}

func TestRunHonorsArticleCeiling(t *testing.T) {
	opts := testOptions()
	opts.ArticleCeiling = 1
	h := newHarness(opts)

	h.fetcher.results = []feed.SourceResult{{Source: testSource()}}
	h.store.claimable = []models.Article{
		{ID: 1, Title: "One", Lang: "en", PublishedAt: time.Now().UTC()},
		{ID: 2, Title: "Two", Lang: "en", PublishedAt: time.Now().UTC()},
	}

	res := h.pipe.Run(context.Background(), false)

	if h.store.claimLimit != 1 {
		t.Errorf("Claim must be bounded by the per-run ceiling, got limit %d", h.store.claimLimit)
	}
	if res.Stats.Claimed != 1 {
		t.Errorf("Only the ceiling's worth of articles may enter the run, got %d", res.Stats.Claimed)
	}
}

func TestRunDrainsBacklogDespiteQuietFeeds(t *testing.T) {
	// The feed head matches its watermark, so the novelty guard alone would
	// skip. Articles left unclaimed by an earlier capped run must still force
	// the pass and get claimed.
	h := newHarness(testOptions())
	if err := h.state.SetWatermark(context.Background(), "s1", "fresh-head", time.Hour); err != nil {
		t.Fatal(err)
	}

	h.fetcher.results = []feed.SourceResult{{Source: testSource()}}
	h.store.pending = 2
	h.store.claimable = []models.Article{
		{ID: 1, Title: "Leftover one", Lang: "en", PublishedAt: time.Now().UTC()},
		{ID: 2, Title: "Leftover two", Lang: "en", PublishedAt: time.Now().UTC()},
	}

	res := h.pipe.Run(context.Background(), false)

	if res.Skipped {
		t.Fatalf("A pending backlog must override unchanged feed heads, got %+v", res)
	}
	if res.Stats.Claimed != 2 {
		t.Errorf("The leftover articles must be claimed, got %d", res.Stats.Claimed)
	}
}

func TestRunReenrichesDraftClustersInWindow(t *testing.T) {
	// A cluster deferred by an earlier breaker trip is still draft; the next
	// pass must hand it to enrichment again even with no new articles in it
	h := newHarness(testOptions())
	h.fetcher.results = []feed.SourceResult{{Source: testSource()}}
	h.store.open = []models.Cluster{{
		ID:         "stuck-draft",
		Headline:   "Older story",
		Language:   "en",
		Status:     models.ClusterStatusDraft,
		LastSeenAt: time.Now().Add(-2 * time.Hour),
	}}

	res := h.pipe.Run(context.Background(), false)

	if !res.OK {
		t.Fatalf("Run failed: %+v", res)
	}
	if len(h.enricher.received) != 1 || h.enricher.received[0].ID != "stuck-draft" {
		t.Errorf("Draft cluster in window must be re-attempted, got %v", h.enricher.received)
	}
}
