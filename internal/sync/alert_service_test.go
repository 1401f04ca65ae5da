// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/finflow/budgetsync/internal/events"
	"github.com/finflow/budgetsync/internal/models"
)

func TestCheckThresholdsHealthyBudget(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 100
	f.createBudget(t, b)

	alert, err := f.alerts.CheckThresholds(context.Background(), b)
	if err != nil {
		t.Fatalf("CheckThresholds: %v", err)
	}
	if alert != nil {
		t.Errorf("healthy budget raised alert %+v", alert)
	}
}

func TestCheckThresholdsWarningOncePerPeriod(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 420
	b.CalculateRemaining()
	f.createBudget(t, b)

	alert, err := f.alerts.CheckThresholds(context.Background(), b)
	if err != nil {
		t.Fatalf("CheckThresholds: %v", err)
	}
	if alert == nil {
		t.Fatal("84% spend should raise a warning")
	}
	if alert.Type != models.AlertWarning || alert.Severity != models.SeverityMedium {
		t.Errorf("alert = %s/%s, want BUDGET_WARNING/MEDIUM", alert.Type, alert.Severity)
	}
	if !strings.Contains(alert.Message, "84%") {
		t.Errorf("message %q should state the spend percentage", alert.Message)
	}
	if f.bus.count(events.TopicBudgetWarning) != 1 {
		t.Errorf("published %d warning events, want 1", f.bus.count(events.TopicBudgetWarning))
	}

	// The flag is now set; a second evaluation stays quiet.
	stored, _ := f.store.Get(context.Background(), "b1")
	if !stored.WarningTriggered {
		t.Fatal("WarningTriggered should be set after the first warning")
	}

	again, err := f.alerts.CheckThresholds(context.Background(), stored)
	if err != nil {
		t.Fatalf("second CheckThresholds: %v", err)
	}
	if again != nil {
		t.Error("warning must fire only once per period")
	}
	if f.bus.count(events.TopicBudgetWarning) != 1 {
		t.Error("no second warning event should be published")
	}
}

func TestCheckThresholdsExceeded(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 620
	b.CalculateRemaining()
	f.createBudget(t, b)

	alert, err := f.alerts.CheckThresholds(context.Background(), b)
	if err != nil {
		t.Fatalf("CheckThresholds: %v", err)
	}
	if alert == nil {
		t.Fatal("overspent budget should raise an exceeded alert")
	}
	if alert.Type != models.AlertExceeded || alert.Severity != models.SeverityCritical {
		t.Errorf("alert = %s/%s, want BUDGET_EXCEEDED/CRITICAL", alert.Type, alert.Severity)
	}
	if !strings.Contains(alert.Message, "500.00") || !strings.Contains(alert.Message, "620.00") {
		t.Errorf("message %q should state cap and spending", alert.Message)
	}
	if f.bus.count(events.TopicBudgetExceeded) != 1 {
		t.Errorf("published %d exceeded events, want 1", f.bus.count(events.TopicBudgetExceeded))
	}

	// Exceeded has no suppression flag: it fires on every evaluation.
	if _, err := f.alerts.CheckThresholds(context.Background(), b); err != nil {
		t.Fatalf("second CheckThresholds: %v", err)
	}
	if f.bus.count(events.TopicBudgetExceeded) != 2 {
		t.Error("exceeded should fire again while spending stays above the cap")
	}
}

func TestCheckThresholdsConfiguredDefaultThreshold(t *testing.T) {
	f := newFixture(t)
	// Service-wide default lowered to 50%; the budget has no threshold of
	// its own.
	alerts := NewAlertService(f.store, f.store, NewBudgetEventPublisher(f.bus), 50, 3)

	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 300
	b.CalculateRemaining()
	f.createBudget(t, b)

	alert, err := alerts.CheckThresholds(context.Background(), b)
	if err != nil {
		t.Fatalf("CheckThresholds: %v", err)
	}
	if alert == nil || alert.Type != models.AlertWarning {
		t.Fatalf("60%% spend should warn at a 50%% default threshold, got %+v", alert)
	}

	// A budget carrying its own threshold still wins over the default.
	own := augustBudget("b2", "u1", "groceries", 500)
	own.Spent = 300
	own.WarningThreshold = 90
	own.CalculateRemaining()
	f.createBudget(t, own)

	alert, err = alerts.CheckThresholds(context.Background(), own)
	if err != nil {
		t.Fatalf("CheckThresholds: %v", err)
	}
	if alert != nil {
		t.Errorf("60%% spend is below the budget's own 90%% threshold, got %+v", alert)
	}
}

func TestCheckThresholdsAtExactCapIsWarning(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 500
	b.CalculateRemaining()
	f.createBudget(t, b)

	alert, err := f.alerts.CheckThresholds(context.Background(), b)
	if err != nil {
		t.Fatalf("CheckThresholds: %v", err)
	}
	if alert == nil || alert.Type != models.AlertWarning {
		t.Errorf("spend equal to cap should warn, not exceed; got %+v", alert)
	}
}

func TestResetWarningFlagsRollsExpiredBudget(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 450
	b.WarningTriggered = true
	b.LastSyncedAt = augustDate(30)
	f.createBudget(t, b)

	// Mid-September: the August window has ended.
	now := time.Date(2026, time.September, 15, 10, 0, 0, 0, time.UTC)
	if err := f.alerts.ResetWarningFlags(context.Background(), "u1", now); err != nil {
		t.Fatalf("ResetWarningFlags: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.WarningTriggered {
		t.Error("warning flag should clear at rollover")
	}
	if stored.Spent != 0 {
		t.Errorf("Spent = %v, want 0 after rollover", stored.Spent)
	}
	if !stored.StartDate.Equal(time.Date(2026, time.September, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("StartDate = %v, want September 1", stored.StartDate)
	}
	if !stored.EndDate.Equal(time.Date(2026, time.September, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EndDate = %v, want September 30", stored.EndDate)
	}
	if !stored.LastSyncedAt.IsZero() {
		t.Error("rollover should clear the reconciliation stamp")
	}
	if f.bus.count(events.TopicBudgetReset) != 1 {
		t.Errorf("published %d reset events, want 1", f.bus.count(events.TopicBudgetReset))
	}
}

func TestResetWarningFlagsLeavesCurrentPeriodAlone(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.WarningTriggered = true
	f.createBudget(t, b)

	now := augustDate(20)
	if err := f.alerts.ResetWarningFlags(context.Background(), "u1", now); err != nil {
		t.Fatalf("ResetWarningFlags: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if !stored.WarningTriggered {
		t.Error("flag must survive while the period is still running")
	}
	if f.bus.count(events.TopicBudgetReset) != 0 {
		t.Error("no reset event for a budget still in its period")
	}
}

func TestAlertLifecycle(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 620
	f.createBudget(t, b)

	alert, err := f.alerts.CheckThresholds(context.Background(), b)
	if err != nil || alert == nil {
		t.Fatalf("CheckThresholds: alert=%v err=%v", alert, err)
	}

	if err := f.alerts.MarkRead(context.Background(), alert.ID, "u1"); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if err := f.alerts.Acknowledge(context.Background(), alert.ID, "u1"); err != nil {
		t.Fatalf("Acknowledge: %v", err)
	}

	list, err := f.alerts.ListAlerts(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(list) != 1 || !list[0].Read || !list[0].Acknowledged {
		t.Errorf("alert list = %+v, want one read+acknowledged alert", list)
	}
}
