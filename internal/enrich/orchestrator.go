package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/metrics"
	"github.com/citynews/pulse/internal/models"
	"github.com/citynews/pulse/internal/retry"
)

// ClusterStore is the slice of the store the orchestrator needs
type ClusterStore interface {
	ClusterArticles(ctx context.Context, clusterID string) ([]models.Article, error)
	SaveEnrichment(ctx context.Context, c models.Cluster) error
	UpsertSummary(ctx context.Context, sum models.Summary) error
	RefreshCounts(ctx context.Context, clusterID string) error
	Publish(ctx context.Context, clusterID string, ttl time.Duration) error
	SlugExists(ctx context.Context, slug string) (bool, error)
	MarkProcessedByCluster(ctx context.Context, clusterID string) error
	MarkFailedByCluster(ctx context.Context, clusterID, reason string) error
}

// Options tune the enrichment stage
type Options struct {
	Concurrency      int
	TaskRetries      int
	BreakerThreshold int
	PublishTTL       time.Duration
	Model            string
}

// Outcome summarizes one enrichment stage
type Outcome struct {
	Published int `json:"published"`
	Drafted   int `json:"drafted"`
	Deferred  int `json:"deferred"`
	// TrippedKind names the task kind that tripped the breaker, if any
	TrippedKind string `json:"tripped_kind,omitempty"`
}

// Orchestrator runs per-cluster enrichment tasks on a bounded worker pool.
// Each cluster is independent; each task within a cluster fails in
// isolation. Only the circuit breaker halts the whole stage.
type Orchestrator struct {
	store ClusterStore
	llm   LLM
	opts  Options
}

func NewOrchestrator(store ClusterStore, llm LLM, opts Options) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.TaskRetries < 1 {
		opts.TaskRetries = 1
	}
	return &Orchestrator{store: store, llm: llm, opts: opts}
}

// Run enriches the given clusters with at most Concurrency workers. Clusters
// not dispatched before the breaker trips are deferred to the next run.
func (o *Orchestrator) Run(ctx context.Context, clusters []models.Cluster, collector *metrics.Collector) Outcome {
	log := logger.Get()
	breaker := NewBreaker(o.opts.BreakerThreshold)

	queue := make(chan models.Cluster)
	var outcome Outcome
	var mu sync.Mutex
	var wg sync.WaitGroup

	for w := 0; w < o.opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				if breaker.Tripped() || ctx.Err() != nil {
					mu.Lock()
					outcome.Deferred++
					mu.Unlock()
					continue
				}

				published := o.enrichOne(ctx, c, breaker, collector)
				mu.Lock()
				if published {
					outcome.Published++
				} else if breaker.Tripped() {
					outcome.Deferred++
				} else {
					outcome.Drafted++
				}
				mu.Unlock()
			}
		}()
	}

	total := len(clusters)
	for i, c := range clusters {
		collector.Progress("enrich", i+1, total, c.Headline)
		queue <- c
	}
	close(queue)
	wg.Wait()

	outcome.TrippedKind = breaker.TrippedKind()
	if outcome.TrippedKind != "" {
		log.Error().
			Str("task", outcome.TrippedKind).
			Int("deferred", outcome.Deferred).
			Msg("Circuit breaker tripped, enrichment stage halted")
		collector.AddError("enrich", "circuit breaker tripped on task "+outcome.TrippedKind)
	}

	collector.RecordPublished(outcome.Published)
	return outcome
}

// enrichOne runs the task sequence for a single cluster and persists
// whatever succeeded. Returns true when the cluster was published.
func (o *Orchestrator) enrichOne(ctx context.Context, c models.Cluster, breaker *Breaker, collector *metrics.Collector) bool {
	log := logger.Get()

	articles, err := o.store.ClusterArticles(ctx, c.ID)
	if err != nil {
		log.Error().Str("cluster", c.ID).Err(err).Msg("Failed to load cluster articles")
		collector.AddError("enrich", fmt.Sprintf("cluster %s: load articles: %v", c.ID, err))
		return false
	}

	input := ClusterInput{Headline: c.Headline, Language: c.Language}
	imageCandidates := make([]string, 0, len(articles))
	for _, a := range articles {
		body := a.ContentText
		if body == "" {
			body = a.ContentExcerpt
		}
		input.Bodies = append(input.Bodies, body)
		imageCandidates = append(imageCandidates, a.ImageCandidates...)
	}

	update := models.Cluster{
		ID:              c.ID,
		HeadlineByLang:  map[string]string{},
		MetaTitle:       map[string]string{},
		MetaDescription: map[string]string{},
	}
	summary := models.Summary{
		ClusterID:          c.ID,
		Text:               map[string]string{},
		KeyFacts:           map[string]string{},
		ConfirmedVsDiffers: map[string]string{},
		Model:              o.opts.Model,
		Version:            1,
	}

	// categorize: failure still assigns the fallback topic
	var cat CategorizeResult
	catOK := o.runTask(ctx, breaker, collector, c.ID, TaskCategorize, func() error {
		var err error
		cat, err = o.llm.Categorize(ctx, input)
		return err
	})
	if catOK {
		update.Topic = NormalizeTopic(cat.Topic)
		for _, t := range cat.Topics {
			if n := NormalizeTopic(t); n != TopicFallback && n != update.Topic {
				update.Topics = append(update.Topics, n)
			}
		}
		update.City = cat.City
	} else {
		update.Topic = TopicFallback
	}

	// summarize in the cluster's own language
	var sum SummaryResult
	sumOK := !breaker.Tripped() && o.runTask(ctx, breaker, collector, c.ID, TaskSummarize, func() error {
		var err error
		sum, err = o.llm.Summarize(ctx, input)
		return err
	})
	if sumOK {
		summary.Text[c.Language] = sum.Summary
		summary.KeyFacts[c.Language] = sum.KeyFacts
		summary.ConfirmedVsDiffers[c.Language] = sum.ConfirmedVsDiffers
	}

	// translate the summary into the remaining publication languages;
	// each target fails independently
	if sumOK {
		for _, lang := range models.Languages {
			if lang == c.Language || breaker.Tripped() {
				continue
			}
			lang := lang
			o.runTask(ctx, breaker, collector, c.ID, TaskTranslate, func() error {
				text, err := o.llm.Translate(ctx, sum.Summary, c.Language, lang)
				if err != nil {
					return err
				}
				summary.Text[lang] = text
				return nil
			})
		}
	}

	// seo metadata; the slug falls back to a local slugification so a
	// published cluster always has a link
	var seo SEOResult
	seoOK := !breaker.Tripped() && o.runTask(ctx, breaker, collector, c.ID, TaskSEO, func() error {
		var err error
		seo, err = o.llm.SEO(ctx, input, sum.Summary)
		return err
	})
	if seoOK {
		update.Slug = Slugify(seo.Slug)
		for lang, v := range seo.Headline {
			update.HeadlineByLang[lang] = v
		}
		for lang, v := range seo.Title {
			update.MetaTitle[lang] = v
		}
		for lang, v := range seo.Description {
			update.MetaDescription[lang] = v
		}
	}
	if update.Slug == "" {
		update.Slug = Slugify(c.Headline)
	}
	update.Slug = o.uniqueSlug(ctx, c.Slug, update.Slug)

	// image selection is local work but isolated like any other task
	o.runTask(ctx, breaker, collector, c.ID, TaskImage, func() error {
		update.ImageURL = SelectImage(imageCandidates)
		return nil
	})

	// persist whatever succeeded; partial enrichment is acceptable
	if err := o.store.SaveEnrichment(ctx, update); err != nil {
		log.Error().Str("cluster", c.ID).Err(err).Msg("Failed to persist enrichment")
		collector.AddError("enrich", fmt.Sprintf("cluster %s: save: %v", c.ID, err))
		o.failArticles(ctx, c.ID, "enrichment persistence failed")
		return false
	}
	if len(summary.Text) > 0 {
		if err := o.store.UpsertSummary(ctx, summary); err != nil {
			log.Error().Str("cluster", c.ID).Err(err).Msg("Failed to persist summary")
			collector.AddError("enrich", fmt.Sprintf("cluster %s: summary: %v", c.ID, err))
			sumOK = false
		}
	}
	if err := o.store.RefreshCounts(ctx, c.ID); err != nil {
		log.Warn().Str("cluster", c.ID).Err(err).Msg("Failed to refresh cluster counts")
	}

	// Minimum to publish: a real topic assignment plus one summary
	if catOK && sumOK {
		if err := o.store.Publish(ctx, c.ID, o.opts.PublishTTL); err != nil {
			log.Error().Str("cluster", c.ID).Err(err).Msg("Failed to publish cluster")
			collector.AddError("enrich", fmt.Sprintf("cluster %s: publish: %v", c.ID, err))
			return false
		}
		if err := o.store.MarkProcessedByCluster(ctx, c.ID); err != nil {
			log.Warn().Str("cluster", c.ID).Err(err).Msg("Failed to mark cluster articles processed")
		}
		log.Info().
			Str("cluster", c.ID).
			Str("slug", update.Slug).
			Str("topic", update.Topic).
			Msg("Cluster published")
		return true
	}

	if breaker.Tripped() {
		// Deferred: the next run re-attempts this draft cluster
		return false
	}

	// The cluster had its full attempt and still lacks the minimum; keep the
	// draft and settle its articles so they do not linger in processing
	o.failArticles(ctx, c.ID, "enrichment incomplete")
	log.Warn().
		Str("cluster", c.ID).
		Bool("categorized", catOK).
		Bool("summarized", sumOK).
		Msg("Cluster kept as draft, minimum enrichment not reached")
	return false
}

// runTask executes one task with bounded retries, feeding the breaker and
// the metrics collector. Returns true on success.
func (o *Orchestrator) runTask(ctx context.Context, breaker *Breaker, collector *metrics.Collector, clusterID, kind string, fn func() error) bool {
	start := time.Now()
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: o.opts.TaskRetries,
		Delay:       time.Second,
		MaxDelay:    15 * time.Second,
		Jitter:      true,
	}, fn)

	collector.RecordTask(kind, time.Since(start), err)
	breaker.Record(kind, err)

	if err != nil {
		logger.Get().Warn().
			Str("cluster", clusterID).
			Str("task", kind).
			Err(err).
			Msg("Enrichment task failed")
		collector.AddError("enrich", fmt.Sprintf("cluster %s: %s: %v", clusterID, kind, err))
		return false
	}
	return true
}

// uniqueSlug keeps an already-assigned slug and otherwise suffixes until the
// candidate is free. Slug uniqueness is what keeps published links stable.
func (o *Orchestrator) uniqueSlug(ctx context.Context, existing, candidate string) string {
	if existing != "" {
		return existing
	}
	if candidate == "" {
		candidate = "story"
	}

	slug := candidate
	for i := 2; i <= 20; i++ {
		taken, err := o.store.SlugExists(ctx, slug)
		if err != nil {
			logger.Get().Warn().Err(err).Msg("Slug check failed")
			return slug
		}
		if !taken {
			return slug
		}
		slug = fmt.Sprintf("%s-%d", candidate, i)
	}
	return slug
}

func (o *Orchestrator) failArticles(ctx context.Context, clusterID, reason string) {
	if err := o.store.MarkFailedByCluster(ctx, clusterID, reason); err != nil {
		logger.Get().Warn().Str("cluster", clusterID).Err(err).Msg("Failed to mark cluster articles failed")
	}
}
