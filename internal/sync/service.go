// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/metrics"
	"github.com/finflow/budgetsync/internal/models"
	"github.com/finflow/budgetsync/internal/store"
)

// Operation is the direction of a spend delta.
type Operation string

// Delta directions.
const (
	OpAdd      Operation = "add"
	OpSubtract Operation = "subtract"
)

// ErrInvalidOperation is returned for an unknown delta direction.
var ErrInvalidOperation = errors.New("invalid spend operation")

// SpendDelta is one incremental adjustment to the budgets covering a
// (user, category) pair.
//
// ExpenseDate decides which budget windows the delta lands in; EventTime is
// the bus timestamp of the originating event and decides precedence against
// reconciliation snapshots.
type SpendDelta struct {
	UserID      string
	Category    string
	Amount      float64
	Operation   Operation
	ExpenseDate time.Time
	EventTime   time.Time
}

// Service applies spend deltas and runs reconciliation against the expense
// service. All budget writes go through a per-budget lock plus the store's
// version CAS, so concurrent deltas and reconciliation passes never lose
// updates.
type Service struct {
	budgets      store.BudgetStore
	expenses     ExpenseAPI
	publisher    *BudgetEventPublisher
	locks        *keyedMutex
	writeRetries int
}

// NewService creates the sync service.
func NewService(budgets store.BudgetStore, expenses ExpenseAPI, publisher *BudgetEventPublisher, writeRetries int) *Service {
	if writeRetries < 1 {
		writeRetries = 1
	}
	return &Service{
		budgets:      budgets,
		expenses:     expenses,
		publisher:    publisher,
		locks:        newKeyedMutex(),
		writeRetries: writeRetries,
	}
}

// ApplySpendDelta adjusts Spent on every budget of the user and category
// whose window covers the expense date. Returns the budgets that were
// actually updated.
//
// Rules, in order, per candidate budget:
//   - inactive budgets and budgets whose window excludes ExpenseDate are
//     skipped
//   - deltas older than the budget's LastSyncedAt are discarded: a
//     reconciliation snapshot taken after the event already accounts for it
//   - Spent never goes below zero
//   - Remaining is recomputed in the same write
func (s *Service) ApplySpendDelta(ctx context.Context, delta SpendDelta) ([]*models.Budget, error) {
	if delta.Operation != OpAdd && delta.Operation != OpSubtract {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOperation, delta.Operation)
	}

	candidates, err := s.budgets.ListByUserCategory(ctx, delta.UserID, delta.Category)
	if err != nil {
		return nil, fmt.Errorf("list budgets for %s/%s: %w", delta.UserID, delta.Category, err)
	}

	var updated []*models.Budget
	for _, candidate := range candidates {
		budget, err := s.applyToBudget(ctx, candidate.ID, delta)
		if err != nil {
			return updated, err
		}
		if budget != nil {
			updated = append(updated, budget)
		}
	}

	return updated, nil
}

// applyToBudget runs the locked read-modify-write cycle for one budget.
// Returns nil without error when the delta doesn't apply.
func (s *Service) applyToBudget(ctx context.Context, budgetID string, delta SpendDelta) (*models.Budget, error) {
	s.locks.Lock(budgetID)
	defer s.locks.Unlock(budgetID)

	var lastErr error
	for attempt := 1; attempt <= s.writeRetries; attempt++ {
		budget, err := s.budgets.Get(ctx, budgetID)
		if err != nil {
			if errors.Is(err, store.ErrBudgetNotFound) {
				return nil, nil
			}
			return nil, fmt.Errorf("get budget %s: %w", budgetID, err)
		}

		if !budget.IsActiveForDate(delta.ExpenseDate) {
			logging.Debug().
				Str("budget_id", budget.ID).
				Time("expense_date", delta.ExpenseDate).
				Msg("Expense date outside budget window, skipping delta")
			return nil, nil
		}

		if !delta.EventTime.IsZero() && delta.EventTime.Before(budget.LastSyncedAt) {
			metrics.SpendDeltasDiscarded.Inc()
			logging.Debug().
				Str("budget_id", budget.ID).
				Time("event_time", delta.EventTime).
				Time("last_synced_at", budget.LastSyncedAt).
				Msg("Delta predates reconciliation snapshot, discarding")
			return nil, nil
		}

		previous := budget.Clone()
		budget.Spent = newSpent(budget.Spent, delta.Amount, delta.Operation)
		budget.CalculateRemaining()

		if err := s.budgets.Update(ctx, budget); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				metrics.WriteConflictRetries.Inc()
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("update budget %s: %w", budgetID, err)
		}

		metrics.SpendDeltasApplied.WithLabelValues(string(delta.Operation)).Inc()
		s.publisher.PublishUpdated(ctx, previous, budget)
		return budget, nil
	}

	return nil, fmt.Errorf("update budget %s after %d attempts: %w", budgetID, s.writeRetries, lastErr)
}

// newSpent applies the delta and clamps at zero. Over-subtraction happens
// when a delete event arrives for an expense the delta path never saw.
func newSpent(current, amount float64, op Operation) float64 {
	var next float64
	switch op {
	case OpAdd:
		next = current + amount
	case OpSubtract:
		next = current - amount
	}
	if next < 0 {
		return 0
	}
	return next
}

// SyncUserBudgets reconciles every active budget of the user against the
// expense service. Individual budget failures don't abort the pass; the
// joined error reports everything that went wrong.
func (s *Service) SyncUserBudgets(ctx context.Context, userID string) ([]*models.Budget, error) {
	budgets, err := s.budgets.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list budgets for %s: %w", userID, err)
	}

	var (
		synced []*models.Budget
		errs   []error
	)
	for _, budget := range budgets {
		if !budget.IsActive {
			continue
		}
		fresh, err := s.SyncBudgetWithExpenses(ctx, budget.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("sync budget %s: %w", budget.ID, err))
			continue
		}
		if fresh != nil {
			synced = append(synced, fresh)
		}
	}

	return synced, errors.Join(errs...)
}

// SyncBudgetWithExpenses re-derives the budget's Spent total from the
// expense service and overwrites the local value.
//
// The LastSyncedAt stamp is taken before the remote fetch: any delta event
// arriving after the stamp survives, any event the fetch already counted is
// discarded by the precedence check in ApplySpendDelta.
func (s *Service) SyncBudgetWithExpenses(ctx context.Context, budgetID string) (*models.Budget, error) {
	s.locks.Lock(budgetID)
	defer s.locks.Unlock(budgetID)

	budget, err := s.budgets.Get(ctx, budgetID)
	if err != nil {
		if errors.Is(err, store.ErrBudgetNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get budget %s: %w", budgetID, err)
	}

	snapshot := time.Now().UTC()
	total, err := s.expenses.CategoryTotal(ctx, budget.UserID, budget.Category, budget.StartDate, budget.EndDate)
	if err != nil {
		return nil, fmt.Errorf("fetch expense total for %s/%s: %w", budget.UserID, budget.Category, err)
	}
	if total < 0 {
		total = 0
	}

	var lastErr error
	for attempt := 1; attempt <= s.writeRetries; attempt++ {
		if attempt > 1 {
			budget, err = s.budgets.Get(ctx, budgetID)
			if err != nil {
				return nil, fmt.Errorf("get budget %s: %w", budgetID, err)
			}
		}

		changed := budget.Spent != total
		previous := budget.Clone()
		budget.Spent = total
		budget.LastSyncedAt = snapshot
		budget.CalculateRemaining()

		if err := s.budgets.Update(ctx, budget); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				metrics.WriteConflictRetries.Inc()
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("update budget %s: %w", budgetID, err)
		}

		if changed {
			logging.Info().
				Str("budget_id", budget.ID).
				Str("user_id", budget.UserID).
				Str("category", budget.Category).
				Float64("previous_spent", previous.Spent).
				Float64("spent", budget.Spent).
				Msg("Reconciliation corrected budget spending")
			s.publisher.PublishUpdated(ctx, previous, budget)
		}
		return budget, nil
	}

	return nil, fmt.Errorf("update budget %s after %d attempts: %w", budgetID, s.writeRetries, lastErr)
}
