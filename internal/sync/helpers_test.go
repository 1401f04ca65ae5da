// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/finflow/budgetsync/internal/events"
	"github.com/finflow/budgetsync/internal/models"
	"github.com/finflow/budgetsync/internal/store"
)

// recordingBus captures published budget events for assertions.
type recordingBus struct {
	mu        sync.Mutex
	published []busRecord
	failWith  error
}

type busRecord struct {
	topic string
	event *events.BudgetEvent
}

func (b *recordingBus) Publish(_ context.Context, topic string, msg *message.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failWith != nil {
		return b.failWith
	}

	event, err := events.DecodeBudgetEvent(msg.Payload)
	if err != nil {
		return err
	}
	b.published = append(b.published, busRecord{topic: topic, event: event})
	return nil
}

func (b *recordingBus) records(topic string) []busRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []busRecord
	for _, r := range b.published {
		if r.topic == topic {
			out = append(out, r)
		}
	}
	return out
}

func (b *recordingBus) count(topic string) int {
	return len(b.records(topic))
}

// fakeExpenseAPI serves canned category totals.
type fakeExpenseAPI struct {
	mu     sync.Mutex
	totals map[string]float64 // keyed user|category
	err    error
	calls  int
}

func newFakeExpenseAPI() *fakeExpenseAPI {
	return &fakeExpenseAPI{totals: make(map[string]float64)}
}

func (f *fakeExpenseAPI) setTotal(userID, category string, total float64) {
	f.mu.Lock()
	f.totals[userID+"|"+category] = total
	f.mu.Unlock()
}

func (f *fakeExpenseAPI) CategoryTotal(_ context.Context, userID, category string, _, _ time.Time) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.totals[userID+"|"+category], nil
}

func (f *fakeExpenseAPI) Ping(context.Context) error {
	return f.err
}

// fakeIdentityAPI reports a fixed set of known users.
type fakeIdentityAPI struct {
	unknown map[string]bool
}

func (f *fakeIdentityAPI) VerifyUser(_ context.Context, userID string) bool {
	return !f.unknown[userID]
}

func (f *fakeIdentityAPI) Ping(context.Context) error { return nil }

// testFixture bundles the sync stack over an in-memory store.
type testFixture struct {
	store    *store.MemoryStore
	bus      *recordingBus
	expenses *fakeExpenseAPI
	service  *Service
	alerts   *AlertService
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()

	st := store.NewMemoryStore()
	bus := &recordingBus{}
	expenses := newFakeExpenseAPI()
	publisher := NewBudgetEventPublisher(bus)

	return &testFixture{
		store:    st,
		bus:      bus,
		expenses: expenses,
		service:  NewService(st, expenses, publisher, 3),
		alerts:   NewAlertService(st, st, publisher, 0, 3),
	}
}

func (f *testFixture) createBudget(t *testing.T, b *models.Budget) *models.Budget {
	t.Helper()
	if err := f.store.Create(context.Background(), b); err != nil {
		t.Fatalf("create budget %s: %v", b.ID, err)
	}
	return b
}

func augustBudget(id, userID, category string, amount float64) *models.Budget {
	return &models.Budget{
		ID:        id,
		UserID:    userID,
		Category:  category,
		Amount:    amount,
		Remaining: amount,
		Period:    models.PeriodMonthly,
		StartDate: time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
	}
}

func augustDate(day int) time.Time {
	return time.Date(2026, time.August, day, 12, 0, 0, 0, time.UTC)
}
