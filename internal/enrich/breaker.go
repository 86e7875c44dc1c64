package enrich

import "sync"

// Breaker halts the enrichment stage after too many consecutive failures of
// the same task kind. Streaks are tracked per kind, so a systemic outage
// that fails every kind of task still trips once any one kind reaches the
// threshold. Per-item noise resets only the kind that succeeded.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	kind      string
	tripped   bool
}

func NewBreaker(threshold int) *Breaker {
	return &Breaker{threshold: threshold, counts: make(map[string]int)}
}

// Record feeds one task outcome into the breaker. A success for a kind
// breaks that kind's failure streak and no other.
func (b *Breaker) Record(kind string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		delete(b.counts, kind)
		return
	}

	b.counts[kind]++
	if b.counts[kind] >= b.threshold && !b.tripped {
		b.tripped = true
		b.kind = kind
	}
}

// Tripped reports whether the stage must halt
func (b *Breaker) Tripped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped
}

// TrippedKind names the failing task kind once tripped
func (b *Breaker) TrippedKind() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped {
		return ""
	}
	return b.kind
}
