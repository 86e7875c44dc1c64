package gate

import (
	"context"
	"time"

	"github.com/citynews/pulse/internal/cache"
	"github.com/citynews/pulse/internal/logger"
	"github.com/citynews/pulse/internal/models"
)

// Skip reasons reported to the trigger caller
const (
	ReasonTooSoon    = "too_soon"
	ReasonNoNewItems = "no_new_items"
)

// Decision is the structured outcome of a guard. Guards never mutate state.
type Decision struct {
	ShouldSkip bool   `json:"should_skip"`
	Reason     string `json:"reason,omitempty"`
}

// Prober fetches a feed head mark for the novelty guard
type Prober interface {
	Probe(ctx context.Context, src models.Source) (string, error)
}

// PendingCounter reports how many ingested articles still wait for a claim
type PendingCounter interface {
	PendingArticles(ctx context.Context) (int, error)
}

// Gate runs the cheap pre-checks that keep a schedule tick from spending
// network and LLM quota when it cannot produce new output
type Gate struct {
	state       cache.RunState
	prober      Prober
	pending     PendingCounter
	minInterval time.Duration
}

func New(state cache.RunState, prober Prober, pending PendingCounter, minInterval time.Duration) *Gate {
	return &Gate{state: state, prober: prober, pending: pending, minInterval: minInterval}
}

// CheckRecency skips when the last successful run is too recent, unless the
// caller forces the run.
func (g *Gate) CheckRecency(ctx context.Context, force bool) Decision {
	if force {
		return Decision{}
	}

	last, err := g.state.LastRun(ctx)
	if err != nil {
		logger.Get().Warn().Err(err).Msg("Last-run check failed, allowing run")
		return Decision{}
	}
	if last.IsZero() {
		return Decision{}
	}

	if since := time.Since(last); since < g.minInterval {
		logger.Get().Info().
			Dur("since_last_run", since).
			Dur("min_interval", g.minInterval).
			Msg("Skipping run, last run too recent")
		return Decision{ShouldSkip: true, Reason: ReasonTooSoon}
	}
	return Decision{}
}

// CheckNovelty probes each source's feed head and compares it against the
// stored watermark. It skips only when every probed source matches AND no
// ingested articles are still waiting for a claim; a probe failure, a missing
// watermark or a failed backlog count always counts as possibly-new. The
// backlog check matters because a feed head can stay unchanged while earlier
// runs left articles behind, either beyond the per-run ceiling or after a
// failed run.
func (g *Gate) CheckNovelty(ctx context.Context, sources []models.Source) Decision {
	log := logger.Get()

	if len(sources) == 0 {
		return Decision{}
	}

	backlog, err := g.pending.PendingArticles(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Backlog count failed, assuming new items")
		return Decision{}
	}
	if backlog > 0 {
		log.Info().Int("pending", backlog).Msg("Unclaimed articles waiting, running regardless of feed heads")
		return Decision{}
	}

	for _, src := range sources {
		mark, err := g.prober.Probe(ctx, src)
		if err != nil {
			log.Debug().Str("source", src.ID).Err(err).Msg("Probe failed, assuming new items")
			return Decision{}
		}
		if mark == "" {
			continue
		}

		stored, err := g.state.Watermark(ctx, src.ID)
		if err != nil {
			log.Debug().Str("source", src.ID).Err(err).Msg("Watermark read failed, assuming new items")
			return Decision{}
		}
		if stored == "" || stored != mark {
			return Decision{}
		}
	}

	log.Info().Int("sources", len(sources)).Msg("All feed heads unchanged, skipping run")
	return Decision{ShouldSkip: true, Reason: ReasonNoNewItems}
}
