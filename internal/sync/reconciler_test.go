// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/finflow/budgetsync/internal/events"
	"github.com/finflow/budgetsync/internal/models"
)

// currentBudget returns a budget whose window spans the wall clock, since
// the reconciler evaluates periods against time.Now.
func currentBudget(id, userID, category string, amount float64) *models.Budget {
	now := time.Now().UTC()
	return &models.Budget{
		ID:        id,
		UserID:    userID,
		Category:  category,
		Amount:    amount,
		Remaining: amount,
		Period:    models.PeriodMonthly,
		StartDate: now.AddDate(0, 0, -7),
		EndDate:   now.AddDate(0, 0, 7),
		IsActive:  true,
	}
}

func TestReconcilerPassSyncsAndEvaluates(t *testing.T) {
	f := newFixture(t)
	b := currentBudget("b1", "u1", "groceries", 100)
	b.Spent = 10
	f.createBudget(t, b)
	f.expenses.setTotal("u1", "groceries", 150)

	r := NewReconciler(f.store, f.service, f.alerts, time.Hour, false)
	r.runPass(context.Background())

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 150 {
		t.Errorf("Spent = %v, want reconciled 150", stored.Spent)
	}

	// The corrected total is over the cap, so the pass raises the alert.
	alerts, _ := f.alerts.ListAlerts(context.Background(), "u1")
	if len(alerts) != 1 || alerts[0].Type != models.AlertExceeded {
		t.Errorf("alerts = %+v, want one exceeded alert", alerts)
	}
	if f.bus.count(events.TopicBudgetExceeded) != 1 {
		t.Errorf("published %d exceeded events, want 1", f.bus.count(events.TopicBudgetExceeded))
	}
}

func TestReconcilerPassRollsExpiredPeriods(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	expired := currentBudget("b1", "u1", "groceries", 100)
	expired.StartDate = now.AddDate(0, -2, 0)
	expired.EndDate = now.AddDate(0, -1, 0)
	expired.Spent = 95
	expired.WarningTriggered = true
	f.createBudget(t, expired)
	f.expenses.setTotal("u1", "groceries", 20)

	r := NewReconciler(f.store, f.service, f.alerts, time.Hour, false)
	r.runPass(context.Background())

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.WarningTriggered {
		t.Error("rollover should clear the warning flag")
	}
	if !stored.EndDate.After(now) {
		t.Errorf("EndDate = %v, want a window containing now", stored.EndDate)
	}
	// The rolled budget re-syncs in the same pass.
	if stored.Spent != 20 {
		t.Errorf("Spent = %v, want the new period's total 20", stored.Spent)
	}
	if f.bus.count(events.TopicBudgetReset) != 1 {
		t.Errorf("published %d reset events, want 1", f.bus.count(events.TopicBudgetReset))
	}
}

func TestReconcilerPassContinuesPastFailingUser(t *testing.T) {
	f := newFixture(t)
	f.createBudget(t, currentBudget("b1", "u1", "groceries", 100))
	f.createBudget(t, currentBudget("b2", "u2", "groceries", 100))

	// The shared expense fake fails for everyone; the pass must still visit
	// both users without aborting.
	f.expenses.err = errors.New("expense service down")
	r := NewReconciler(f.store, f.service, f.alerts, time.Hour, false)
	r.runPass(context.Background())

	if f.expenses.calls != 2 {
		t.Errorf("expense service saw %d calls, want one per user", f.expenses.calls)
	}
}
