// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("open badger store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close badger store: %v", err)
		}
	})
	return s
}

func TestBadgerStoreStampsTimestamps(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	b := newTestBudget("b1", "u1", "groceries")
	if err := s.Create(ctx, b); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		t.Fatal("Create must stamp CreatedAt and UpdatedAt")
	}
	if !b.UpdatedAt.Equal(b.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want CreatedAt %v on a fresh record", b.UpdatedAt, b.CreatedAt)
	}

	stored, err := s.Get(ctx, "b1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.CreatedAt.IsZero() || stored.UpdatedAt.IsZero() {
		t.Error("stored record must carry the stamped timestamps")
	}

	time.Sleep(5 * time.Millisecond)
	stored.Spent = 100
	if err := s.Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !stored.UpdatedAt.After(stored.CreatedAt) {
		t.Errorf("UpdatedAt = %v, want later than CreatedAt %v after an update", stored.UpdatedAt, stored.CreatedAt)
	}

	again, _ := s.Get(ctx, "b1")
	if !again.UpdatedAt.Equal(stored.UpdatedAt) {
		t.Errorf("stored UpdatedAt = %v, want %v", again.UpdatedAt, stored.UpdatedAt)
	}
	if !again.CreatedAt.Equal(stored.CreatedAt) {
		t.Error("CreatedAt must not change on update")
	}
}

func TestBadgerStoreVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	if err := s.Create(ctx, newTestBudget("b1", "u1", "groceries")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, _ := s.Get(ctx, "b1")
	second, _ := s.Get(ctx, "b1")

	first.Spent = 100
	if err := s.Update(ctx, first); err != nil {
		t.Fatalf("first Update: %v", err)
	}

	second.Spent = 200
	if err := s.Update(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale Update = %v, want ErrVersionConflict", err)
	}

	stored, _ := s.Get(ctx, "b1")
	if stored.Spent != 100 || stored.Version != 2 {
		t.Errorf("stored = spent %v version %d, want 100/2", stored.Spent, stored.Version)
	}
}

func TestBadgerStoreListingAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)

	for _, id := range []struct{ id, user, category string }{
		{"b1", "u1", "groceries"},
		{"b2", "u1", "dining"},
		{"b3", "u2", "groceries"},
	} {
		if err := s.Create(ctx, newTestBudget(id.id, id.user, id.category)); err != nil {
			t.Fatalf("Create %s: %v", id.id, err)
		}
	}

	byUser, err := s.ListByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(byUser) != 2 {
		t.Errorf("ListByUser(u1) returned %d budgets, want 2", len(byUser))
	}

	byCat, err := s.ListByUserCategory(ctx, "u1", "groceries")
	if err != nil {
		t.Fatalf("ListByUserCategory: %v", err)
	}
	if len(byCat) != 1 || byCat[0].ID != "b1" {
		t.Errorf("ListByUserCategory(u1, groceries) = %+v, want only b1", byCat)
	}

	users, err := s.UserIDs(ctx)
	if err != nil {
		t.Fatalf("UserIDs: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Errorf("UserIDs = %v, want [u1 u2]", users)
	}

	if err := s.Delete(ctx, "b2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "b2"); !errors.Is(err, ErrBudgetNotFound) {
		t.Errorf("Get after delete = %v, want ErrBudgetNotFound", err)
	}
	byUser, _ = s.ListByUser(ctx, "u1")
	if len(byUser) != 1 {
		t.Errorf("ListByUser after delete returned %d budgets, want 1", len(byUser))
	}
}
