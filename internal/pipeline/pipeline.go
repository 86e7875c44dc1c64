package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/citynews/pulse/internal/cache"
	"github.com/citynews/pulse/internal/cluster"
	"github.com/citynews/pulse/internal/dedup"
	"github.com/citynews/pulse/internal/enrich"
	"github.com/citynews/pulse/internal/feed"
	"github.com/citynews/pulse/internal/gate"
	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/metrics"
	"github.com/citynews/pulse/internal/models"
	srcreg "github.com/citynews/pulse/internal/sources"
	"github.com/google/uuid"
)

// Skip reason for lock contention; the gate owns the other reasons
const ReasonLocked = "locked"

// Store is the slice of the data layer the pipeline drives directly
type Store interface {
	UpsertSources(ctx context.Context, sources []models.Source) error
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, holder string)
	IsLocked(ctx context.Context, name string) (bool, error)
	ClaimNew(ctx context.Context, limit int) ([]models.Article, error)
	OpenClusters(ctx context.Context, window time.Duration) ([]models.Cluster, error)
	CreateCluster(ctx context.Context, c models.Cluster) error
	TouchCluster(ctx context.Context, clusterID string, seenAt time.Time) error
	AssignCluster(ctx context.Context, articleID int64, clusterID string) error
}

// Fetcher fans out over the source registry
type Fetcher interface {
	FetchAll(ctx context.Context, sources []models.Source, perLanguage int) []feed.SourceResult
}

// Inserter deduplicates and persists fetched items
type Inserter interface {
	Insert(ctx context.Context, items []models.FeedItem) (dedup.Report, error)
}

// Enricher runs the bounded-concurrency enrichment stage
type Enricher interface {
	Run(ctx context.Context, clusters []models.Cluster, collector *metrics.Collector) enrich.Outcome
}

// RegistryLoader loads the source registry for a run
type RegistryLoader func() ([]models.Source, error)

// Options are the run-level knobs
type Options struct {
	LockName         string
	LockTTL          time.Duration
	RunBudget        time.Duration
	ArticleCeiling   int
	FetchConcurrency int
	ClusterWindow    time.Duration
	WatermarkTTL     time.Duration
}

// Result is what the trigger caller receives
type Result struct {
	OK      bool             `json:"ok"`
	Skipped bool             `json:"skipped,omitempty"`
	Reason  string           `json:"reason,omitempty"`
	Error   string           `json:"error,omitempty"`
	Stats   metrics.Snapshot `json:"stats"`
}

// Pipeline is the content pipeline: fetch, dedup, claim, cluster, enrich.
// One run at a time across all processes, enforced by the pipeline lock.
type Pipeline struct {
	store    Store
	state    cache.RunState
	registry RegistryLoader
	fetcher  Fetcher
	inserter Inserter
	engine   *cluster.Engine
	enricher Enricher
	gate     *gate.Gate
	opts     Options
}

func New(store Store, state cache.RunState, registry RegistryLoader, fetcher Fetcher,
	inserter Inserter, engine *cluster.Engine, enricher Enricher, g *gate.Gate, opts Options) *Pipeline {
	return &Pipeline{
		store:    store,
		state:    state,
		registry: registry,
		fetcher:  fetcher,
		inserter: inserter,
		engine:   engine,
		enricher: enricher,
		gate:     g,
		opts:     opts,
	}
}

// Run executes one pipeline pass. Failed acquisition is a normal skipped
// outcome, not an error. Unhandled panics are caught here; the caller only
// ever sees a generic failure plus the stats gathered so far.
func (p *Pipeline) Run(ctx context.Context, force bool) (result Result) {
	log := logger.Get()
	collector := metrics.NewCollector()
	collector.OnProgress(func(ev metrics.Event) {
		log.Debug().
			Str("stage", ev.Stage).
			Int("current", ev.Current).
			Int("total", ev.Total).
			Str("message", ev.Message).
			Msg("Pipeline progress")
	})

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Pipeline run panicked")
			collector.AddError("run", fmt.Sprintf("panic: %v", r))
			result = Result{Error: "internal error", Stats: collector.Finalize()}
		}
	}()

	// Cheap pre-check; the atomic acquire below resolves any race
	if locked, err := p.store.IsLocked(ctx, p.opts.LockName); err == nil && locked {
		log.Info().Msg("Pipeline already running, skipping")
		return Result{OK: true, Skipped: true, Reason: ReasonLocked, Stats: collector.Finalize()}
	}

	holder := uuid.NewString()
	acquired, err := p.store.Acquire(ctx, p.opts.LockName, holder, p.opts.LockTTL)
	if err != nil {
		collector.AddError("lock", err.Error())
		return Result{Error: "lock acquisition failed", Stats: collector.Finalize()}
	}
	if !acquired {
		log.Info().Msg("Pipeline lock held elsewhere, skipping")
		return Result{OK: true, Skipped: true, Reason: ReasonLocked, Stats: collector.Finalize()}
	}
	defer p.store.Release(context.WithoutCancel(ctx), p.opts.LockName, holder)

	if d := p.gate.CheckRecency(ctx, force); d.ShouldSkip {
		return Result{OK: true, Skipped: true, Reason: d.Reason, Stats: collector.Finalize()}
	}

	all, err := p.registry()
	if err != nil {
		collector.AddError("registry", err.Error())
		return Result{Error: "source registry unavailable", Stats: collector.Finalize()}
	}
	enabled := srcreg.Enabled(all)

	if d := p.gate.CheckNovelty(ctx, enabled); d.ShouldSkip {
		return Result{OK: true, Skipped: true, Reason: d.Reason, Stats: collector.Finalize()}
	}

	// The wall-clock budget is backpressure against platform time limits:
	// work not finished in time is deferred to the next invocation.
	runCtx := ctx
	if p.opts.RunBudget > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.opts.RunBudget)
		defer cancel()
	}

	if err := p.run(runCtx, enabled, collector); err != nil {
		log.Error().Err(err).Msg("Pipeline run failed")
		collector.AddError("run", err.Error())
		return Result{Error: "pipeline run failed", Stats: collector.Finalize()}
	}

	if err := p.state.SetLastRun(context.WithoutCancel(ctx), time.Now().UTC()); err != nil {
		log.Warn().Err(err).Msg("Failed to record last run stamp")
	}

	snap := collector.Finalize()
	log.Info().
		Int("inserted", snap.Inserted).
		Int("deduplicated", snap.Deduplicated).
		Int("claimed", snap.Claimed).
		Int("clusters_created", snap.ClustersCreated).
		Int("published", snap.Published).
		Dur("duration", snap.Duration).
		Msg("Pipeline run finished")

	return Result{OK: true, Stats: snap}
}

func (p *Pipeline) run(ctx context.Context, enabled []models.Source, collector *metrics.Collector) error {
	if err := p.store.UpsertSources(ctx, enabled); err != nil {
		return fmt.Errorf("sync sources: %w", err)
	}

	// Stage 1: fetch everything concurrently; failures are per-source
	collector.Progress("fetch", 0, len(enabled), "")
	results := p.fetcher.FetchAll(ctx, enabled, p.opts.FetchConcurrency)

	var items []models.FeedItem
	for i, res := range results {
		collector.RecordFetch(res.Source.ID, res.Source.Language, len(res.Items), res.Duration, res.Err)
		if res.Err != nil {
			collector.AddError("fetch", fmt.Sprintf("source %s: %v", res.Source.ID, res.Err))
			continue
		}
		items = append(items, res.Items...)
		collector.Progress("fetch", i+1, len(enabled), res.Source.ID)
	}

	// Stage 2: dedup + insert
	report, err := p.inserter.Insert(ctx, items)
	collector.RecordInsertion(report.Candidates, report.Inserted, report.Deduplicated)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	p.advanceWatermarks(ctx, results)

	// Stage 3: claim new work atomically, bounded by the per-run ceiling
	claimed, err := p.store.ClaimNew(ctx, p.opts.ArticleCeiling)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	collector.RecordClaimed(len(claimed))
	collector.Progress("claim", len(claimed), len(claimed), "")

	// Stage 4: cluster claimed articles against the open set
	open, err := p.store.OpenClusters(ctx, p.opts.ClusterWindow)
	if err != nil {
		return fmt.Errorf("load open clusters: %w", err)
	}

	assignments := p.engine.Assign(time.Now().UTC(), claimed, open)
	created, joined := 0, 0
	touched := make(map[string]models.Cluster)

	for _, as := range assignments {
		if as.Created {
			if err := p.store.CreateCluster(ctx, as.Cluster); err != nil {
				return fmt.Errorf("create cluster: %w", err)
			}
			created++
			touched[as.ClusterID] = as.Cluster
		} else {
			seenAt := as.Article.PublishedAt
			if err := p.store.TouchCluster(ctx, as.ClusterID, seenAt); err != nil {
				return fmt.Errorf("touch cluster: %w", err)
			}
			joined++
		}
		if err := p.store.AssignCluster(ctx, as.Article.ID, as.ClusterID); err != nil {
			return fmt.Errorf("assign cluster: %w", err)
		}
	}
	collector.RecordClustering(created, joined)
	collector.Progress("cluster", len(assignments), len(assignments), "")

	// Stage 5: enrich every draft cluster in the window, so clusters
	// deferred by an earlier breaker trip get their next attempt here
	for _, c := range open {
		if c.Status == models.ClusterStatusDraft {
			touched[c.ID] = c
		}
	}
	for _, as := range assignments {
		if !as.Created {
			if c, ok := findCluster(open, as.ClusterID); ok {
				touched[c.ID] = c
			}
		}
	}

	candidates := make([]models.Cluster, 0, len(touched))
	for _, c := range touched {
		candidates = append(candidates, c)
	}

	if len(candidates) > 0 {
		p.enricher.Run(ctx, candidates, collector)
	}
	return nil
}

// advanceWatermarks stores each source's feed head so the novelty gate can
// recognize an unchanged feed next tick
func (p *Pipeline) advanceWatermarks(ctx context.Context, results []feed.SourceResult) {
	for _, res := range results {
		if res.Err != nil || len(res.Items) == 0 {
			continue
		}
		head := res.Items[0]
		mark := head.GUID
		if mark == "" {
			mark = head.URL
		}
		if err := p.state.SetWatermark(ctx, res.Source.ID, mark, p.opts.WatermarkTTL); err != nil {
			logger.Get().Warn().Str("source", res.Source.ID).Err(err).Msg("Failed to store watermark")
		}
	}
}

func findCluster(clusters []models.Cluster, id string) (models.Cluster, bool) {
	for _, c := range clusters {
		if c.ID == id {
			return c, true
		}
	}
	return models.Cluster{}, false
}
