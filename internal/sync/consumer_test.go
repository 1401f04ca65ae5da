// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"testing"
	"time"

	"github.com/finflow/budgetsync/internal/events"
)

func newTestConsumer(f *testFixture, identity IdentityAPI) *Consumer {
	return NewConsumer(nil, f.service, f.alerts, identity, 0)
}

func createdEvent(userID, category string, amount float64, day int) *events.ExpenseEvent {
	return &events.ExpenseEvent{
		EventType: events.ExpenseCreated,
		Timestamp: time.Now().UTC(),
		Data: events.ExpenseData{
			ExpenseID: "e1",
			UserID:    userID,
			Category:  category,
			Amount:    amount,
			Date:      augustDate(day),
		},
	}
}

func TestProcessEventCreatedAddsSpend(t *testing.T) {
	f := newFixture(t)
	f.createBudget(t, augustBudget("b1", "u1", "groceries", 500))
	c := newTestConsumer(f, nil)

	if err := c.ProcessEvent(context.Background(), createdEvent("u1", "groceries", 75, 10)); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 75 {
		t.Errorf("Spent = %v, want 75", stored.Spent)
	}
	if f.bus.count(events.TopicBudgetUpdated) != 1 {
		t.Errorf("published %d updated events, want 1", f.bus.count(events.TopicBudgetUpdated))
	}
}

func TestProcessEventUpdatedCategoryMove(t *testing.T) {
	f := newFixture(t)
	old := augustBudget("b1", "u1", "dining", 300)
	old.Spent = 40
	f.createBudget(t, old)
	f.createBudget(t, augustBudget("b2", "u1", "groceries", 500))
	c := newTestConsumer(f, nil)

	// The expense moved from dining to groceries and grew to 55.
	ev := createdEvent("u1", "groceries", 55, 12)
	ev.EventType = events.ExpenseUpdated
	ev.PreviousData = &events.ExpenseData{
		ExpenseID: "e1",
		UserID:    "u1",
		Category:  "dining",
		Amount:    40,
		Date:      augustDate(12),
	}

	if err := c.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	dining, _ := f.store.Get(context.Background(), "b1")
	if dining.Spent != 0 {
		t.Errorf("dining Spent = %v, want 0 after the move", dining.Spent)
	}
	groceries, _ := f.store.Get(context.Background(), "b2")
	if groceries.Spent != 55 {
		t.Errorf("groceries Spent = %v, want 55", groceries.Spent)
	}
	if f.bus.count(events.TopicBudgetUpdated) != 2 {
		t.Errorf("published %d updated events, want one per touched budget", f.bus.count(events.TopicBudgetUpdated))
	}
}

func TestProcessEventUpdatedAmountChange(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 100
	f.createBudget(t, b)
	c := newTestConsumer(f, nil)

	ev := createdEvent("u1", "groceries", 30, 12)
	ev.EventType = events.ExpenseUpdated
	ev.PreviousData = &events.ExpenseData{
		ExpenseID: "e1",
		UserID:    "u1",
		Category:  "groceries",
		Amount:    80,
		Date:      augustDate(12),
	}

	if err := c.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 50 {
		t.Errorf("Spent = %v, want 50 (100 - 80 + 30)", stored.Spent)
	}
}

func TestProcessEventUpdatedNoChange(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 100
	f.createBudget(t, b)
	c := newTestConsumer(f, nil)

	ev := createdEvent("u1", "groceries", 80, 12)
	ev.EventType = events.ExpenseUpdated
	ev.PreviousData = &events.ExpenseData{
		ExpenseID: "e1",
		UserID:    "u1",
		Category:  "groceries",
		Amount:    80,
		Date:      augustDate(12),
	}

	if err := c.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 100 {
		t.Errorf("Spent = %v, want unchanged 100", stored.Spent)
	}
	if f.bus.count(events.TopicBudgetUpdated) != 0 {
		t.Error("an update changing neither amount nor category must publish nothing")
	}
}

func TestProcessEventDeletedWithDetails(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 120
	f.createBudget(t, b)
	c := newTestConsumer(f, nil)

	ev := createdEvent("u1", "groceries", 45, 12)
	ev.EventType = events.ExpenseDeleted

	if err := c.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 75 {
		t.Errorf("Spent = %v, want 75 after deletion", stored.Spent)
	}
	if f.expenses.calls != 0 {
		t.Error("a detailed deletion should not hit the expense service")
	}
}

func TestProcessEventDeletedWithoutDetailsFallsBackToSync(t *testing.T) {
	f := newFixture(t)
	b := augustBudget("b1", "u1", "groceries", 500)
	b.Spent = 120
	f.createBudget(t, b)
	f.expenses.setTotal("u1", "groceries", 75)
	c := newTestConsumer(f, nil)

	ev := &events.ExpenseEvent{
		EventType: events.ExpenseDeleted,
		Timestamp: time.Now().UTC(),
		Data:      events.ExpenseData{ExpenseID: "e1", UserID: "u1"},
	}

	if err := c.ProcessEvent(context.Background(), ev); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	if f.expenses.calls == 0 {
		t.Fatal("a bare deletion must trigger a full budget sync")
	}
	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 75 {
		t.Errorf("Spent = %v, want authoritative 75", stored.Spent)
	}
	if stored.LastSyncedAt.IsZero() {
		t.Error("the fallback sync should stamp LastSyncedAt")
	}
}

func TestProcessEventUnknownUserDropped(t *testing.T) {
	f := newFixture(t)
	f.createBudget(t, augustBudget("b1", "u1", "groceries", 500))
	c := newTestConsumer(f, &fakeIdentityAPI{unknown: map[string]bool{"u1": true}})

	if err := c.ProcessEvent(context.Background(), createdEvent("u1", "groceries", 75, 10)); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 0 {
		t.Errorf("Spent = %v, want 0 for a dropped event", stored.Spent)
	}
}

func TestProcessEventTriggersThresholdAlert(t *testing.T) {
	f := newFixture(t)
	f.createBudget(t, augustBudget("b1", "u1", "groceries", 100))
	c := newTestConsumer(f, nil)

	if err := c.ProcessEvent(context.Background(), createdEvent("u1", "groceries", 150, 10)); err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}

	alerts, err := f.alerts.ListAlerts(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 1 || alerts[0].Type != "BUDGET_EXCEEDED" {
		t.Errorf("alerts = %+v, want one exceeded alert", alerts)
	}
	if f.bus.count(events.TopicBudgetExceeded) != 1 {
		t.Errorf("published %d exceeded events, want 1", f.bus.count(events.TopicBudgetExceeded))
	}
}

func TestProcessBatchEvaluatesThresholdsOnce(t *testing.T) {
	f := newFixture(t)
	f.createBudget(t, augustBudget("b1", "u1", "groceries", 100))
	c := newTestConsumer(f, nil)

	// Five small expenses cross the warning threshold mid-batch. Deferred
	// evaluation means exactly one warning, not one per crossing event.
	var batch []*events.ExpenseEvent
	for i := 0; i < 5; i++ {
		batch = append(batch, createdEvent("u1", "groceries", 18, 10+i))
	}

	if err := c.ProcessBatch(context.Background(), batch); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 90 {
		t.Errorf("Spent = %v, want 90", stored.Spent)
	}

	alerts, _ := f.alerts.ListAlerts(context.Background(), "u1")
	if len(alerts) != 1 {
		t.Fatalf("batch raised %d alerts, want 1", len(alerts))
	}
	if f.bus.count(events.TopicBudgetWarning) != 1 {
		t.Errorf("published %d warning events, want 1", f.bus.count(events.TopicBudgetWarning))
	}
}

func TestProcessBatchChunksByConfiguredSize(t *testing.T) {
	f := newFixture(t)
	f.createBudget(t, augustBudget("b1", "u1", "groceries", 10))
	c := NewConsumer(nil, f.service, f.alerts, nil, 2)

	// Every event pushes spending further over the cap. With a chunk size
	// of 2, five events split into three chunks and exceeded fires at each
	// chunk boundary instead of once for the whole batch.
	var batch []*events.ExpenseEvent
	for i := 0; i < 5; i++ {
		batch = append(batch, createdEvent("u1", "groceries", 18, 10+i))
	}

	if err := c.ProcessBatch(context.Background(), batch); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 90 {
		t.Errorf("Spent = %v, want 90", stored.Spent)
	}
	if got := f.bus.count(events.TopicBudgetExceeded); got != 3 {
		t.Errorf("published %d exceeded events, want one per chunk (3)", got)
	}
}

func TestProcessBatchDropsInvalidEvents(t *testing.T) {
	f := newFixture(t)
	f.createBudget(t, augustBudget("b1", "u1", "groceries", 500))
	c := newTestConsumer(f, nil)

	invalid := createdEvent("", "groceries", 50, 10)
	valid := createdEvent("u1", "groceries", 30, 11)

	if err := c.ProcessBatch(context.Background(), []*events.ExpenseEvent{invalid, valid}); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}

	stored, _ := f.store.Get(context.Background(), "b1")
	if stored.Spent != 30 {
		t.Errorf("Spent = %v, want 30 from the valid event only", stored.Spent)
	}
}
