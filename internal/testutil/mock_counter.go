package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/workhubhq/gatekeeper/internal/counter"
)

// MockCounter implements counter.Store with a plain map and a single
// injectable error. Windows never expire unless Reset is called, which
// keeps tests deterministic.
type MockCounter struct {
	mu   sync.Mutex
	hits map[string]int64
	err  error
}

// NewMockCounter returns an empty MockCounter.
func NewMockCounter() *MockCounter {
	return &MockCounter{hits: make(map[string]int64)}
}

// SetError makes every subsequent Increment fail with err until cleared
// with SetError(nil).
func (m *MockCounter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockCounter) Increment(_ context.Context, key string, window time.Duration) (counter.Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return counter.Hit{}, m.err
	}
	m.hits[key]++
	return counter.Hit{TotalHits: m.hits[key], ResetAfter: window}, nil
}

// Hits returns the current count for key.
func (m *MockCounter) Hits(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[key]
}

// Reset clears all windows.
func (m *MockCounter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hits = make(map[string]int64)
}
