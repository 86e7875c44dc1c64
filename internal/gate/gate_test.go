package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/citynews/pulse/internal/cache"
	"github.com/citynews/pulse/internal/models"
)

// fakeProber returns a scripted mark per source id
type fakeProber struct {
	marks map[string]string
	err   error
}

func (f *fakeProber) Probe(ctx context.Context, src models.Source) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.marks[src.ID], nil
}

// fakePending is a scripted backlog counter
type fakePending struct {
	count int
	err   error
}

func (f *fakePending) PendingArticles(ctx context.Context) (int, error) {
	return f.count, f.err
}

func source(id string) models.Source {
	return models.Source{ID: id, FeedURL: "https://example.com/" + id, Active: true, Enabled: true}
}

func TestCheckRecencySkipsRecentRun(t *testing.T) {
	state := cache.NewMockRunState()
	if err := state.SetLastRun(context.Background(), time.Now().Add(-5*time.Minute)); err != nil {
		t.Fatal(err)
	}

	g := New(state, &fakeProber{}, &fakePending{}, 20*time.Minute)
	d := g.CheckRecency(context.Background(), false)

	if !d.ShouldSkip || d.Reason != ReasonTooSoon {
		t.Errorf("Run 5 minutes after the last one must skip with %s, got %+v", ReasonTooSoon, d)
	}
}

func TestCheckRecencyForceOverrides(t *testing.T) {
	state := cache.NewMockRunState()
	if err := state.SetLastRun(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}

	g := New(state, &fakeProber{}, &fakePending{}, 20*time.Minute)
	if d := g.CheckRecency(context.Background(), true); d.ShouldSkip {
		t.Errorf("Force must bypass the recency guard, got %+v", d)
	}
}

func TestCheckRecencyAllowsFirstRun(t *testing.T) {
	g := New(cache.NewMockRunState(), &fakeProber{}, &fakePending{}, 20*time.Minute)
	if d := g.CheckRecency(context.Background(), false); d.ShouldSkip {
		t.Errorf("With no recorded run the guard must allow, got %+v", d)
	}
}

func TestCheckNoveltySkipsWhenAllHeadsMatch(t *testing.T) {
	ctx := context.Background()
	state := cache.NewMockRunState()
	srcs := []models.Source{source("a"), source("b")}

	for _, s := range srcs {
		if err := state.SetWatermark(ctx, s.ID, "head-"+s.ID, time.Hour); err != nil {
			t.Fatal(err)
		}
	}

	prober := &fakeProber{marks: map[string]string{"a": "head-a", "b": "head-b"}}
	d := New(state, prober, &fakePending{}, 0).CheckNovelty(ctx, srcs)

	if !d.ShouldSkip || d.Reason != ReasonNoNewItems {
		t.Errorf("Unchanged feed heads must skip with %s, got %+v", ReasonNoNewItems, d)
	}
}

func TestCheckNoveltyRunsOnAnyNewHead(t *testing.T) {
	ctx := context.Background()
	state := cache.NewMockRunState()
	srcs := []models.Source{source("a"), source("b")}

	if err := state.SetWatermark(ctx, "a", "head-a", time.Hour); err != nil {
		t.Fatal(err)
	}
	if err := state.SetWatermark(ctx, "b", "stale", time.Hour); err != nil {
		t.Fatal(err)
	}

	prober := &fakeProber{marks: map[string]string{"a": "head-a", "b": "head-b"}}
	if d := New(state, prober, &fakePending{}, 0).CheckNovelty(ctx, srcs); d.ShouldSkip {
		t.Errorf("One changed head is enough to run, got %+v", d)
	}
}

func TestCheckNoveltyRunsOnMissingWatermark(t *testing.T) {
	prober := &fakeProber{marks: map[string]string{"a": "head-a"}}
	d := New(cache.NewMockRunState(), prober, &fakePending{}, 0).CheckNovelty(context.Background(), []models.Source{source("a")})

	if d.ShouldSkip {
		t.Errorf("No stored watermark means possibly-new items, got %+v", d)
	}
}

func TestCheckNoveltyRunsOnPendingBacklog(t *testing.T) {
	// Every feed head matches its watermark, but a previous run left
	// unclaimed articles behind. The backlog alone must force the run,
	// otherwise those articles starve until a feed happens to move.
	ctx := context.Background()
	state := cache.NewMockRunState()
	srcs := []models.Source{source("a")}

	if err := state.SetWatermark(ctx, "a", "head-a", time.Hour); err != nil {
		t.Fatal(err)
	}

	prober := &fakeProber{marks: map[string]string{"a": "head-a"}}
	d := New(state, prober, &fakePending{count: 7}, 0).CheckNovelty(ctx, srcs)

	if d.ShouldSkip {
		t.Errorf("A pending backlog must override unchanged feed heads, got %+v", d)
	}
}

func TestCheckNoveltyRunsOnBacklogCountFailure(t *testing.T) {
	pending := &fakePending{err: errors.New("db down")}
	d := New(cache.NewMockRunState(), &fakeProber{}, pending, 0).CheckNovelty(context.Background(), []models.Source{source("a")})

	if d.ShouldSkip {
		t.Errorf("A failed backlog count must never suppress the run, got %+v", d)
	}
}

func TestCheckNoveltyRunsOnProbeFailure(t *testing.T) {
	prober := &fakeProber{err: errors.New("connection refused")}
	d := New(cache.NewMockRunState(), prober, &fakePending{}, 0).CheckNovelty(context.Background(), []models.Source{source("a")})

	if d.ShouldSkip {
		t.Errorf("A probe failure must never suppress the run, got %+v", d)
	}
}
