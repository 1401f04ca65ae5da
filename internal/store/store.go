// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Package store provides keyed access to budget and alert records.
//
// The sync core only depends on the interfaces here; persistence is a
// collaborator. Two adapters are provided: a BadgerDB-backed store for
// durable single-node deployments and an in-memory store for tests and
// ephemeral wiring. Both enforce optimistic concurrency via the budget's
// Version field.
package store

import (
	"context"
	"errors"

	"github.com/finflow/budgetsync/internal/models"
)

// Store errors.
var (
	// ErrBudgetNotFound is returned when no budget exists for the given id.
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrVersionConflict is returned by Update when the record changed since
	// it was read. Callers retry the read-modify-write with fresh state.
	ErrVersionConflict = errors.New("budget version conflict")

	// ErrAlertNotFound is returned when no alert exists for the given id.
	ErrAlertNotFound = errors.New("alert not found")
)

// BudgetStore is the keyed read/update collaborator for budget records.
//
// Update performs a compare-and-swap on Version: it succeeds only when the
// stored version equals the caller's snapshot version, and increments the
// version on success. This is the store half of the lost-update protection;
// the sync service adds per-id mutual exclusion on top.
type BudgetStore interface {
	Get(ctx context.Context, id string) (*models.Budget, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Budget, error)
	ListByUserCategory(ctx context.Context, userID, category string) ([]*models.Budget, error)
	// UserIDs returns the distinct owners of all stored budgets. Used by the
	// periodic reconciler to enumerate its work.
	UserIDs(ctx context.Context) ([]string, error)
	Create(ctx context.Context, budget *models.Budget) error
	Update(ctx context.Context, budget *models.Budget) error
	Delete(ctx context.Context, id string) error
}

// AlertStore holds threshold alert records. Method names are distinct from
// BudgetStore so one adapter can implement both.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListAlertsByUser(ctx context.Context, userID string) ([]*models.Alert, error)
	MarkRead(ctx context.Context, id, userID string) error
	Acknowledge(ctx context.Context, id, userID string) error
}
