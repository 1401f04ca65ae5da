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

// AlertService evaluates budget thresholds, records alerts, and emits
// warning and exceeded events.
//
// Exceeded fires on every evaluation while spending stays above the cap.
// Warning fires once per period: the budget's WarningTriggered flag
// suppresses repeats until the flag is reset at period rollover.
type AlertService struct {
	budgets          store.BudgetStore
	alerts           store.AlertStore
	publisher        *BudgetEventPublisher
	locks            *keyedMutex
	warningThreshold float64
	writeRetries     int
}

// NewAlertService creates the alert service. warningThreshold is the default
// spent percentage that raises a warning for budgets without their own
// threshold; zero or negative falls back to models.DefaultWarningThreshold.
func NewAlertService(budgets store.BudgetStore, alerts store.AlertStore, publisher *BudgetEventPublisher, warningThreshold float64, writeRetries int) *AlertService {
	if warningThreshold <= 0 {
		warningThreshold = models.DefaultWarningThreshold
	}
	if writeRetries < 1 {
		writeRetries = 1
	}
	return &AlertService{
		budgets:          budgets,
		alerts:           alerts,
		publisher:        publisher,
		locks:            newKeyedMutex(),
		warningThreshold: warningThreshold,
		writeRetries:     writeRetries,
	}
}

// effectiveThreshold prefers the budget's own threshold over the configured
// service default.
func (a *AlertService) effectiveThreshold(budget *models.Budget) float64 {
	if budget.WarningThreshold > 0 {
		return budget.WarningThreshold
	}
	return a.warningThreshold
}

// CheckThresholds evaluates one budget and raises at most one alert.
// Returns the alert that was created, or nil when the budget is healthy or
// the warning was already triggered this period.
func (a *AlertService) CheckThresholds(ctx context.Context, budget *models.Budget) (*models.Alert, error) {
	state := models.Classify(budget.Spent, budget.Amount, a.effectiveThreshold(budget))

	switch state {
	case models.HealthExceeded:
		return a.triggerExceeded(ctx, budget)
	case models.HealthWarning:
		if budget.WarningTriggered {
			return nil, nil
		}
		return a.triggerWarning(ctx, budget)
	default:
		return nil, nil
	}
}

func (a *AlertService) triggerExceeded(ctx context.Context, budget *models.Budget) (*models.Alert, error) {
	alert := models.NewAlert(budget.UserID, budget.ID, models.AlertExceeded, models.SeverityCritical)
	alert.Title = "Budget Exceeded"
	alert.Message = fmt.Sprintf("You have exceeded your %s budget of $%.2f. Current spending: $%.2f.",
		budget.Category, budget.Amount, budget.Spent)
	alert.Data = map[string]any{
		"category":  budget.Category,
		"amount":    budget.Amount,
		"spent":     budget.Spent,
		"overspend": budget.Spent - budget.Amount,
	}

	if err := a.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("store exceeded alert: %w", err)
	}

	metrics.AlertsTriggered.WithLabelValues(string(models.AlertExceeded)).Inc()
	a.publisher.PublishExceeded(ctx, budget)

	logging.Warn().
		Str("budget_id", budget.ID).
		Str("user_id", budget.UserID).
		Str("category", budget.Category).
		Float64("spent", budget.Spent).
		Float64("amount", budget.Amount).
		Msg("Budget exceeded")

	return alert, nil
}

func (a *AlertService) triggerWarning(ctx context.Context, budget *models.Budget) (*models.Alert, error) {
	flagged, err := a.setWarningTriggered(ctx, budget.ID)
	if err != nil {
		return nil, err
	}
	if flagged == nil {
		// Another evaluator won the race and raised the warning.
		return nil, nil
	}

	alert := models.NewAlert(flagged.UserID, flagged.ID, models.AlertWarning, models.SeverityMedium)
	alert.Title = "Budget Warning"
	alert.Message = fmt.Sprintf("You have used %.0f%% of your %s budget. $%.2f remaining.",
		flagged.SpentPercentage(), flagged.Category, flagged.Remaining)
	alert.Data = map[string]any{
		"category":   flagged.Category,
		"amount":     flagged.Amount,
		"spent":      flagged.Spent,
		"percentage": flagged.SpentPercentage(),
	}

	if err := a.alerts.CreateAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("store warning alert: %w", err)
	}

	metrics.AlertsTriggered.WithLabelValues(string(models.AlertWarning)).Inc()
	a.publisher.PublishWarning(ctx, flagged)

	logging.Info().
		Str("budget_id", flagged.ID).
		Str("user_id", flagged.UserID).
		Str("category", flagged.Category).
		Float64("percentage", flagged.SpentPercentage()).
		Msg("Budget warning threshold reached")

	return alert, nil
}

// setWarningTriggered flips the flag under the per-budget lock. Returns the
// updated budget, or nil when the flag was already set by a concurrent
// evaluation.
func (a *AlertService) setWarningTriggered(ctx context.Context, budgetID string) (*models.Budget, error) {
	a.locks.Lock(budgetID)
	defer a.locks.Unlock(budgetID)

	var lastErr error
	for attempt := 1; attempt <= a.writeRetries; attempt++ {
		budget, err := a.budgets.Get(ctx, budgetID)
		if err != nil {
			return nil, fmt.Errorf("get budget %s: %w", budgetID, err)
		}
		if budget.WarningTriggered {
			return nil, nil
		}

		budget.WarningTriggered = true
		if err := a.budgets.Update(ctx, budget); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				metrics.WriteConflictRetries.Inc()
				lastErr = err
				continue
			}
			return nil, fmt.Errorf("update budget %s: %w", budgetID, err)
		}
		return budget, nil
	}

	return nil, fmt.Errorf("flag budget %s after %d attempts: %w", budgetID, a.writeRetries, lastErr)
}

// ResetWarningFlags rolls expired budgets of the user into their next period
// window: the warning flag clears, the window advances, and a budget.reset
// event goes out. Spending totals are left for the next reconciliation pass
// to re-derive.
func (a *AlertService) ResetWarningFlags(ctx context.Context, userID string, now time.Time) error {
	budgets, err := a.budgets.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list budgets for %s: %w", userID, err)
	}

	var errs []error
	for _, budget := range budgets {
		if !budget.IsActive || !now.After(budget.EndDate) {
			continue
		}
		if err := a.rolloverBudget(ctx, budget.ID, now); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (a *AlertService) rolloverBudget(ctx context.Context, budgetID string, now time.Time) error {
	a.locks.Lock(budgetID)
	defer a.locks.Unlock(budgetID)

	var lastErr error
	for attempt := 1; attempt <= a.writeRetries; attempt++ {
		budget, err := a.budgets.Get(ctx, budgetID)
		if err != nil {
			return fmt.Errorf("get budget %s: %w", budgetID, err)
		}
		if !now.After(budget.EndDate) {
			return nil
		}

		start, end, err := models.CalculateBudgetPeriod(budget.Period, now)
		if err != nil {
			return fmt.Errorf("roll budget %s: %w", budget.ID, err)
		}

		budget.StartDate = start
		budget.EndDate = end
		budget.WarningTriggered = false
		budget.Spent = 0
		budget.LastSyncedAt = time.Time{}
		budget.CalculateRemaining()

		if err := a.budgets.Update(ctx, budget); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				metrics.WriteConflictRetries.Inc()
				lastErr = err
				continue
			}
			return fmt.Errorf("update budget %s: %w", budgetID, err)
		}

		a.publisher.PublishReset(ctx, budget)

		logging.Info().
			Str("budget_id", budget.ID).
			Str("user_id", budget.UserID).
			Time("start", start).
			Time("end", end).
			Msg("Budget rolled into new period")

		return nil
	}

	return fmt.Errorf("roll budget %s after %d attempts: %w", budgetID, a.writeRetries, lastErr)
}

// MarkRead marks one alert as read for the owning user.
func (a *AlertService) MarkRead(ctx context.Context, alertID, userID string) error {
	return a.alerts.MarkRead(ctx, alertID, userID)
}

// Acknowledge acknowledges one alert for the owning user.
func (a *AlertService) Acknowledge(ctx context.Context, alertID, userID string) error {
	return a.alerts.Acknowledge(ctx, alertID, userID)
}

// ListAlerts returns the user's alerts, newest first.
func (a *AlertService) ListAlerts(ctx context.Context, userID string) ([]*models.Alert, error) {
	return a.alerts.ListAlertsByUser(ctx, userID)
}
