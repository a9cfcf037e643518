// Package store provides an in-memory engine.Store implementation
// (for testing/dev). It enforces the same invariants as the SQLite
// store: version-guarded batch writes, open-alert uniqueness, and
// append-only actions with idempotency keys.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yoamart/shelflife/engine"
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	batches  map[engine.BatchID]engine.Batch
	alerts   map[engine.AlertID]engine.Alert
	actions  []engine.Action
	rules    map[engine.RuleID]engine.AlertRule
	products map[engine.ProductID]engine.Product
	runs     []engine.EvaluationRun

	idempotency map[string]bool
}

func NewMemory() *Memory {
	return &Memory{
		batches:     make(map[engine.BatchID]engine.Batch),
		alerts:      make(map[engine.AlertID]engine.Alert),
		rules:       make(map[engine.RuleID]engine.AlertRule),
		products:    make(map[engine.ProductID]engine.Product),
		idempotency: make(map[string]bool),
	}
}

// =============================================================================
// BATCHES
// =============================================================================

func (m *Memory) CreateBatch(_ context.Context, b engine.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches[b.ID] = b
	return nil
}

func (m *Memory) GetBatch(_ context.Context, id engine.BatchID) (*engine.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.batches[id]
	if !ok {
		return nil, engine.ErrBatchNotFound
	}
	out := b
	return &out, nil
}

func (m *Memory) ListBatches(_ context.Context, filter engine.BatchFilter, page engine.Page) ([]engine.Batch, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []engine.Batch
	for _, b := range m.batches {
		if filter.Status != nil && b.Status != *filter.Status {
			continue
		}
		if filter.ProductID != nil && b.ProductID != *filter.ProductID {
			continue
		}
		if filter.ActiveOnly && b.Status.IsTerminal() {
			continue
		}
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ExpiryDate.Equal(all[j].ExpiryDate) {
			return all[i].ID < all[j].ID
		}
		return all[i].ExpiryDate.Before(all[j].ExpiryDate)
	})
	total := len(all)
	return paginate(all, page), total, nil
}

func (m *Memory) UpdateBatchGuarded(_ context.Context, b engine.Batch, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.batches[b.ID]
	if !ok {
		return engine.ErrBatchNotFound
	}
	if current.Version != expectedVersion {
		return &engine.ConflictError{BatchID: b.ID, ExpectedVersion: expectedVersion}
	}
	b.Version = expectedVersion + 1
	b.QuantityTotal = current.QuantityTotal // immutable after creation
	b.CreatedAt = current.CreatedAt
	m.batches[b.ID] = b
	return nil
}

// =============================================================================
// ALERTS
// =============================================================================

func (m *Memory) CreateAlert(_ context.Context, a engine.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.alerts {
		if existing.Open() && existing.BatchID == a.BatchID && existing.AlertType == a.AlertType {
			return engine.ErrDuplicateOpenAlert
		}
	}
	m.alerts[a.ID] = a
	return nil
}

func (m *Memory) GetAlert(_ context.Context, id engine.AlertID) (*engine.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, engine.ErrAlertNotFound
	}
	out := a
	return &out, nil
}

func (m *Memory) ListAlerts(_ context.Context, filter engine.AlertFilter, page engine.Page) ([]engine.Alert, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []engine.Alert
	for _, a := range m.alerts {
		if filter.BatchID != nil && a.BatchID != *filter.BatchID {
			continue
		}
		if filter.AlertType != nil && a.AlertType != *filter.AlertType {
			continue
		}
		if filter.OpenOnly && !a.Open() {
			continue
		}
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].AlertDate.Equal(all[j].AlertDate) {
			return all[i].ID < all[j].ID
		}
		return all[i].AlertDate.After(all[j].AlertDate)
	})
	total := len(all)
	return paginate(all, page), total, nil
}

func (m *Memory) CloseAlert(_ context.Context, id engine.AlertID, resolution engine.Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return engine.ErrAlertNotFound
	}
	if !a.Open() {
		return nil
	}
	a.Closed = true
	a.Resolution = resolution
	m.alerts[id] = a
	return nil
}

func (m *Memory) AcknowledgeAlert(_ context.Context, id engine.AlertID, by string, at time.Time) (*engine.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return nil, engine.ErrAlertNotFound
	}
	if a.Acknowledged || a.Closed {
		return nil, engine.ErrAlreadyAcknowledged
	}
	a.Acknowledged = true
	a.AcknowledgedBy = by
	ackAt := at
	a.AcknowledgedAt = &ackAt
	a.Resolution = engine.ResolutionAcknowledged
	m.alerts[id] = a
	out := a
	return &out, nil
}

// =============================================================================
// ACTIONS (append-only)
// =============================================================================

func (m *Memory) AppendAction(_ context.Context, a engine.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.IdempotencyKey != "" {
		if m.idempotency[a.IdempotencyKey] {
			return engine.ErrDuplicateIdempotencyKey
		}
		m.idempotency[a.IdempotencyKey] = true
	}
	m.actions = append(m.actions, a)
	return nil
}

func (m *Memory) ListActions(_ context.Context, filter engine.ActionFilter, page engine.Page) ([]engine.Action, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []engine.Action
	for _, a := range m.actions {
		if filter.BatchID != nil && a.BatchID != *filter.BatchID {
			continue
		}
		if filter.ActionType != nil && a.ActionType != *filter.ActionType {
			continue
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PerformedAt.After(all[j].PerformedAt) })
	total := len(all)
	return paginate(all, page), total, nil
}

func (m *Memory) ActionExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}

// =============================================================================
// RULES
// =============================================================================

func (m *Memory) SaveRule(_ context.Context, r engine.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

func (m *Memory) GetRule(_ context.Context, id engine.RuleID) (*engine.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, engine.ErrRuleNotFound
	}
	out := r
	return &out, nil
}

func (m *Memory) ListRules(_ context.Context, activeOnly bool) ([]engine.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []engine.AlertRule
	for _, r := range m.rules {
		if activeOnly && !r.Active {
			continue
		}
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].DaysBeforeExpiry < all[j].DaysBeforeExpiry })
	return all, nil
}

func (m *Memory) DeleteRule(_ context.Context, id engine.RuleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return engine.ErrRuleNotFound
	}
	delete(m.rules, id)
	return nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (m *Memory) SaveProduct(_ context.Context, p engine.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id engine.ProductID) (*engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, engine.ErrProductNotFound
	}
	out := p
	return &out, nil
}

func (m *Memory) ListProducts(_ context.Context, activeOnly bool) ([]engine.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []engine.Product
	for _, p := range m.products {
		if activeOnly && !p.Active {
			continue
		}
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all, nil
}

// =============================================================================
// RUNS
// =============================================================================

func (m *Memory) SaveRun(_ context.Context, run engine.EvaluationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.runs {
		if existing.ID == run.ID {
			m.runs[i] = run
			return nil
		}
	}
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]engine.EvaluationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	runs := make([]engine.EvaluationRun, len(m.runs))
	copy(runs, m.runs)
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx runs fn against the store itself. The memory store has no
// rollback; tests that need failure atomicity use the SQLite store.
// Individual operations are still serialized by the store mutex.
func (m *Memory) WithTx(_ context.Context, fn func(engine.Store) error) error {
	return fn(m)
}

// Reset wipes all data.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batches = make(map[engine.BatchID]engine.Batch)
	m.alerts = make(map[engine.AlertID]engine.Alert)
	m.actions = nil
	m.rules = make(map[engine.RuleID]engine.AlertRule)
	m.products = make(map[engine.ProductID]engine.Product)
	m.runs = nil
	m.idempotency = make(map[string]bool)
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func paginate[T any](all []T, page engine.Page) []T {
	if page.Limit <= 0 {
		return all
	}
	offset := page.Offset()
	if offset >= len(all) {
		return nil
	}
	end := offset + page.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
