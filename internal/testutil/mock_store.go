// Package testutil provides in-memory doubles for the rule store and
// counter backends, with per-method error injection.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/workhubhq/gatekeeper/internal/rule"
)

// MockRuleStore implements rule.Store with an in-memory map for testing.
// All methods are safe for concurrent use.
type MockRuleStore struct {
	mu    sync.Mutex
	rules map[string]rule.Rule
	next  int

	// Error injection: method -> next error (consumed on first call)
	errors map[string]error
}

// NewMockRuleStore returns a zero-state MockRuleStore ready for use.
func NewMockRuleStore() *MockRuleStore {
	return &MockRuleStore{
		rules:  make(map[string]rule.Rule),
		errors: make(map[string]error),
	}
}

// SetError injects an error to be returned on the next call to the named method.
func (m *MockRuleStore) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = err
}

func (m *MockRuleStore) popError(method string) error {
	err := m.errors[method]
	delete(m.errors, method)
	return err
}

// Seed inserts a rule directly, bypassing validation and conflict checks.
// An empty ID is assigned a sequential one.
func (m *MockRuleStore) Seed(r rule.Rule) rule.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		m.next++
		r.ID = fmt.Sprintf("rule-%03d", m.next)
	}
	m.rules[r.ID] = r
	return r
}

func (m *MockRuleStore) List(_ context.Context) ([]rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("List"); err != nil {
		return nil, err
	}
	out := make([]rule.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *MockRuleStore) ListActive(_ context.Context) ([]rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("ListActive"); err != nil {
		return nil, err
	}
	out := make([]rule.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.IsActive {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockRuleStore) Get(_ context.Context, id string) (rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Get"); err != nil {
		return rule.Rule{}, err
	}
	r, ok := m.rules[id]
	if !ok {
		return rule.Rule{}, rule.ErrNotFound
	}
	return r, nil
}

func (m *MockRuleStore) Create(_ context.Context, draft rule.Rule) (rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Create"); err != nil {
		return rule.Rule{}, err
	}
	draft.Method = strings.ToUpper(draft.Method)
	if err := draft.Validate(); err != nil {
		return rule.Rule{}, err
	}
	if m.conflicts(draft.RoutePattern, draft.Method, draft.Scope, "") {
		return rule.Rule{}, rule.ErrConflict
	}
	m.next++
	draft.ID = fmt.Sprintf("rule-%03d", m.next)
	draft.CreatedAt = time.Now().UTC()
	draft.UpdatedAt = draft.CreatedAt
	m.rules[draft.ID] = draft
	return draft, nil
}

func (m *MockRuleStore) Update(_ context.Context, id string, patch rule.Patch) (rule.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Update"); err != nil {
		return rule.Rule{}, err
	}
	merged, ok := m.rules[id]
	if !ok {
		return rule.Rule{}, rule.ErrNotFound
	}
	identityChanged := false
	if patch.RoutePattern != nil {
		merged.RoutePattern = *patch.RoutePattern
		identityChanged = true
	}
	if patch.Method != nil {
		merged.Method = strings.ToUpper(*patch.Method)
		identityChanged = true
	}
	if patch.Scope != nil {
		merged.Scope = *patch.Scope
		identityChanged = true
	}
	if patch.MaxRequests != nil {
		merged.MaxRequests = *patch.MaxRequests
	}
	if patch.WindowSeconds != nil {
		merged.WindowSeconds = *patch.WindowSeconds
	}
	if patch.IsActive != nil {
		merged.IsActive = *patch.IsActive
	}
	if err := merged.Validate(); err != nil {
		return rule.Rule{}, err
	}
	if identityChanged && m.conflicts(merged.RoutePattern, merged.Method, merged.Scope, id) {
		return rule.Rule{}, rule.ErrConflict
	}
	merged.UpdatedAt = time.Now().UTC()
	m.rules[id] = merged
	return merged, nil
}

func (m *MockRuleStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popError("Delete"); err != nil {
		return err
	}
	if _, ok := m.rules[id]; !ok {
		return rule.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MockRuleStore) Ping(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.popError("Ping")
}

func (m *MockRuleStore) Close() error { return nil }

func (m *MockRuleStore) conflicts(pattern, method, scope, excludeID string) bool {
	for id, r := range m.rules {
		if id == excludeID {
			continue
		}
		if r.RoutePattern == pattern && r.Method == method && r.Scope == scope {
			return true
		}
	}
	return false
}
