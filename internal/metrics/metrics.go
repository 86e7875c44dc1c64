package metrics

import (
	"sync"
	"time"
)

const maxErrorLog = 50

// Event is a discrete progress notification emitted as a stage advances
type Event struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Message string `json:"message,omitempty"`
}

// FetchStat aggregates one source's fetch outcome
type FetchStat struct {
	SourceID string        `json:"source_id"`
	Language string        `json:"language"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration_ms"`
	Error    string        `json:"error,omitempty"`
}

// TaskStat aggregates one enrichment task kind across the run
type TaskStat struct {
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	TotalDuration time.Duration `json:"-"`
	AvgDuration   time.Duration `json:"avg_duration_ms"`
}

// RunError is one entry of the bounded error log
type RunError struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Snapshot is the finalized, JSON-ready view of a run
type Snapshot struct {
	StartedAt       time.Time            `json:"started_at"`
	FinishedAt      time.Time            `json:"finished_at"`
	Duration        time.Duration        `json:"duration_ms"`
	Fetches         []FetchStat          `json:"fetches,omitempty"`
	Candidates      int                  `json:"candidates"`
	Inserted        int                  `json:"inserted"`
	Deduplicated    int                  `json:"deduplicated"`
	Claimed         int                  `json:"claimed"`
	ClustersCreated int                  `json:"clusters_created"`
	ClustersJoined  int                  `json:"clusters_joined"`
	Published       int                  `json:"published"`
	Tasks           map[string]*TaskStat `json:"tasks,omitempty"`
	Errors          []RunError           `json:"errors,omitempty"`
	ErrorsDropped   int                  `json:"errors_dropped,omitempty"`
}

// Collector accumulates one run's counters and emits progress events.
// Operational visibility only; it never gates correctness.
type Collector struct {
	mu        sync.Mutex
	snap      Snapshot
	callbacks []func(Event)
}

func NewCollector() *Collector {
	return &Collector{
		snap: Snapshot{
			StartedAt: time.Now().UTC(),
			Tasks:     make(map[string]*TaskStat),
		},
	}
}

// OnProgress registers a callback for progress events
func (c *Collector) OnProgress(fn func(Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// Progress emits a progress event to every registered callback
func (c *Collector) Progress(stage string, current, total int, message string) {
	c.mu.Lock()
	cbs := make([]func(Event), len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()

	ev := Event{Stage: stage, Current: current, Total: total, Message: message}
	for _, fn := range cbs {
		fn(ev)
	}
}

func (c *Collector) RecordFetch(sourceID, language string, items int, dur time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stat := FetchStat{SourceID: sourceID, Language: language, Items: items, Duration: dur}
	if err != nil {
		stat.Error = err.Error()
	}
	c.snap.Fetches = append(c.snap.Fetches, stat)
}

func (c *Collector) RecordInsertion(candidates, inserted, deduplicated int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Candidates += candidates
	c.snap.Inserted += inserted
	c.snap.Deduplicated += deduplicated
}

func (c *Collector) RecordClaimed(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Claimed += n
}

func (c *Collector) RecordClustering(created, joined int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.ClustersCreated += created
	c.snap.ClustersJoined += joined
}

func (c *Collector) RecordPublished(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.Published += n
}

// RecordTask counts one enrichment task attempt outcome and its duration
func (c *Collector) RecordTask(kind string, dur time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stat, ok := c.snap.Tasks[kind]
	if !ok {
		stat = &TaskStat{}
		c.snap.Tasks[kind] = stat
	}

	if err != nil {
		stat.Failed++
	} else {
		stat.Succeeded++
	}
	stat.TotalDuration += dur
	if n := stat.Succeeded + stat.Failed; n > 0 {
		stat.AvgDuration = stat.TotalDuration / time.Duration(n)
	}
}

// AddError appends to the bounded error log; overflow is counted, not kept
func (c *Collector) AddError(stage, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.snap.Errors) >= maxErrorLog {
		c.snap.ErrorsDropped++
		return
	}
	c.snap.Errors = append(c.snap.Errors, RunError{
		Stage:   stage,
		Message: message,
		At:      time.Now().UTC(),
	})
}

// Finalize stamps the end time and returns the completed snapshot
func (c *Collector) Finalize() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap.FinishedAt = time.Now().UTC()
	c.snap.Duration = c.snap.FinishedAt.Sub(c.snap.StartedAt)
	return c.snap
}
