package cache

import (
	"context"
	"sync"
	"time"
)

// MockRunState provides an in-memory implementation for tests and for
// running without Redis.
type MockRunState struct {
	mu         sync.Mutex
	seen       map[string]bool
	lastRun    time.Time
	watermarks map[string]string
}

var _ RunState = (*MockRunState)(nil)

func NewMockRunState() *MockRunState {
	return &MockRunState{
		seen:       make(map[string]bool),
		watermarks: make(map[string]string),
	}
}

func (m *MockRunState) Close() error {
	return nil
}

func (m *MockRunState) IsSeen(ctx context.Context, hash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[hash], nil
}

func (m *MockRunState) MarkSeen(ctx context.Context, hash string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[hash] = true
	return nil
}

func (m *MockRunState) LastRun(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRun, nil
}

func (m *MockRunState) SetLastRun(ctx context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastRun = t
	return nil
}

func (m *MockRunState) Watermark(ctx context.Context, sourceID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermarks[sourceID], nil
}

func (m *MockRunState) SetWatermark(ctx context.Context, sourceID, mark string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[sourceID] = mark
	return nil
}
