// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/finflow/budgetsync/internal/models"
)

// MemoryStore is an in-memory BudgetStore and AlertStore. Suitable for tests
// and for running without durable storage.
type MemoryStore struct {
	mu      sync.RWMutex
	budgets map[string]*models.Budget
	alerts  map[string]*models.Alert
}

var (
	_ BudgetStore = (*MemoryStore)(nil)
	_ AlertStore  = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		budgets: make(map[string]*models.Budget),
		alerts:  make(map[string]*models.Alert),
	}
}

// Get returns a copy of the budget with the given id.
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.budgets[id]
	if !ok {
		return nil, ErrBudgetNotFound
	}
	return b.Clone(), nil
}

// ListByUser returns copies of all budgets owned by userID.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*models.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Budget
	for _, b := range s.budgets {
		if b.UserID == userID {
			out = append(out, b.Clone())
		}
	}
	sortBudgets(out)
	return out, nil
}

// ListByUserCategory returns copies of budgets matching (userID, category).
func (s *MemoryStore) ListByUserCategory(_ context.Context, userID, category string) ([]*models.Budget, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Budget
	for _, b := range s.budgets {
		if b.UserID == userID && b.Category == category {
			out = append(out, b.Clone())
		}
	}
	sortBudgets(out)
	return out, nil
}

// UserIDs returns the distinct owners of stored budgets, sorted.
func (s *MemoryStore) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, b := range s.budgets {
		if _, ok := seen[b.UserID]; !ok {
			seen[b.UserID] = struct{}{}
			out = append(out, b.UserID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Create stores a new budget. The stored record starts at version 1.
func (s *MemoryStore) Create(_ context.Context, budget *models.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := budget.Clone()
	clone.Version = 1
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = clone.CreatedAt
	s.budgets[clone.ID] = clone
	budget.Version = clone.Version
	return nil
}

// Update replaces the stored record iff the caller holds the current version.
func (s *MemoryStore) Update(_ context.Context, budget *models.Budget) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.budgets[budget.ID]
	if !ok {
		return ErrBudgetNotFound
	}
	if current.Version != budget.Version {
		return ErrVersionConflict
	}

	clone := budget.Clone()
	clone.Version++
	clone.UpdatedAt = time.Now().UTC()
	s.budgets[clone.ID] = clone
	budget.Version = clone.Version
	budget.UpdatedAt = clone.UpdatedAt
	return nil
}

// Delete removes the budget with the given id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.budgets[id]; !ok {
		return ErrBudgetNotFound
	}
	delete(s.budgets, id)
	return nil
}

// CreateAlert stores a new alert record.
func (s *MemoryStore) CreateAlert(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = cloneAlert(alert)
	return nil
}

// GetAlert returns the alert with the given id.
func (s *MemoryStore) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrAlertNotFound
	}
	return cloneAlert(a), nil
}

// ListAlertsByUser returns all alerts for a user, newest first.
func (s *MemoryStore) ListAlertsByUser(_ context.Context, userID string) ([]*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Alert
	for _, a := range s.alerts {
		if a.UserID == userID {
			out = append(out, cloneAlert(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead flags an alert as read. The userID must match the alert owner.
func (s *MemoryStore) MarkRead(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return ErrAlertNotFound
	}
	a.Read = true
	return nil
}

// Acknowledge flags an alert as acknowledged. The userID must match the owner.
func (s *MemoryStore) Acknowledge(_ context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return ErrAlertNotFound
	}
	a.Acknowledged = true
	return nil
}

func cloneAlert(a *models.Alert) *models.Alert {
	clone := *a
	if a.Data != nil {
		clone.Data = make(map[string]any, len(a.Data))
		for k, v := range a.Data {
			clone.Data[k] = v
		}
	}
	return &clone
}

func sortBudgets(budgets []*models.Budget) {
	sort.Slice(budgets, func(i, j int) bool { return budgets[i].ID < budgets[j].ID })
}
