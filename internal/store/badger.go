// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/finflow/budgetsync/internal/models"
)

// Key prefixes for BadgerDB storage.
const (
	budgetKeyPrefix     = "budget:"
	budgetUserKeyPrefix = "budget_user:"
	alertKeyPrefix      = "alert:"
	alertUserKeyPrefix  = "alert_user:"
)

// BadgerStore implements BudgetStore and AlertStore on BadgerDB for durable
// single-node storage across restarts.
//
// Layout:
//
//	budget:<id>                 -> budget JSON
//	budget_user:<user>:<id>     -> <id>           (owner index)
//	alert:<id>                  -> alert JSON
//	alert_user:<user>:<id>      -> <id>           (owner index)
//
// Version CAS runs inside a single Badger update transaction, so the
// read-compare-write is atomic with respect to other writers.
type BadgerStore struct {
	db *badger.DB
}

var (
	_ BudgetStore = (*BadgerStore)(nil)
	_ AlertStore  = (*BadgerStore)(nil)
)

// NewBadgerStore wraps an open Badger database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// OpenBadgerStore opens (or creates) a Badger database at dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return NewBadgerStore(db), nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Get retrieves a budget by id.
func (s *BadgerStore) Get(_ context.Context, id string) (*models.Budget, error) {
	var budget models.Budget

	err := s.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, budgetKeyPrefix+id, &budget, ErrBudgetNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &budget, nil
}

// ListByUser returns all budgets owned by userID.
func (s *BadgerStore) ListByUser(ctx context.Context, userID string) ([]*models.Budget, error) {
	return s.listBudgets(ctx, userID, "")
}

// ListByUserCategory returns budgets matching (userID, category).
func (s *BadgerStore) ListByUserCategory(ctx context.Context, userID, category string) ([]*models.Budget, error) {
	return s.listBudgets(ctx, userID, category)
}

func (s *BadgerStore) listBudgets(_ context.Context, userID, category string) ([]*models.Budget, error) {
	var out []*models.Budget

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(budgetUserKeyPrefix + userID + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			var budget models.Budget
			if err := readJSON(txn, budgetKeyPrefix+id, &budget, ErrBudgetNotFound); err != nil {
				if errors.Is(err, ErrBudgetNotFound) {
					continue // dangling index entry
				}
				return err
			}
			if category != "" && budget.Category != category {
				continue
			}
			out = append(out, &budget)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortBudgets(out)
	return out, nil
}

// UserIDs returns the distinct owners of stored budgets, sorted.
func (s *BadgerStore) UserIDs(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(budgetUserKeyPrefix)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			rest := strings.TrimPrefix(key, budgetUserKeyPrefix)
			if idx := strings.IndexByte(rest, ':'); idx > 0 {
				seen[rest[:idx]] = struct{}{}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Create stores a new budget at version 1 and writes the owner index entry.
func (s *BadgerStore) Create(_ context.Context, budget *models.Budget) error {
	clone := budget.Clone()
	clone.Version = 1
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	clone.UpdatedAt = clone.CreatedAt

	data, err := json.Marshal(clone)
	if err != nil {
		return fmt.Errorf("marshal budget: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(budgetKeyPrefix+clone.ID), data); err != nil {
			return fmt.Errorf("set budget: %w", err)
		}
		userKey := []byte(budgetUserKeyPrefix + clone.UserID + ":" + clone.ID)
		if err := txn.Set(userKey, []byte(clone.ID)); err != nil {
			return fmt.Errorf("set owner index: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	budget.Version = clone.Version
	budget.CreatedAt = clone.CreatedAt
	budget.UpdatedAt = clone.UpdatedAt
	return nil
}

// Update replaces the stored record iff the caller holds the current version.
// The compare and the write happen in one transaction.
func (s *BadgerStore) Update(_ context.Context, budget *models.Budget) error {
	updatedAt := time.Now().UTC()

	err := s.db.Update(func(txn *badger.Txn) error {
		var current models.Budget
		if err := readJSON(txn, budgetKeyPrefix+budget.ID, &current, ErrBudgetNotFound); err != nil {
			return err
		}
		if current.Version != budget.Version {
			return ErrVersionConflict
		}

		next := budget.Clone()
		next.Version++
		next.UpdatedAt = updatedAt

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal budget: %w", err)
		}
		return txn.Set([]byte(budgetKeyPrefix+budget.ID), data)
	})
	if err != nil {
		return err
	}

	budget.Version++
	budget.UpdatedAt = updatedAt
	return nil
}

// Delete removes a budget and its owner index entry.
func (s *BadgerStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var current models.Budget
		if err := readJSON(txn, budgetKeyPrefix+id, &current, ErrBudgetNotFound); err != nil {
			return err
		}
		if err := txn.Delete([]byte(budgetKeyPrefix + id)); err != nil {
			return fmt.Errorf("delete budget: %w", err)
		}
		return txn.Delete([]byte(budgetUserKeyPrefix + current.UserID + ":" + id))
	})
}

// CreateAlert stores a new alert record and its owner index entry.
func (s *BadgerStore) CreateAlert(_ context.Context, alert *models.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(alertKeyPrefix+alert.ID), data); err != nil {
			return fmt.Errorf("set alert: %w", err)
		}
		userKey := []byte(alertUserKeyPrefix + alert.UserID + ":" + alert.ID)
		return txn.Set(userKey, []byte(alert.ID))
	})
}

// GetAlert retrieves an alert by id.
func (s *BadgerStore) GetAlert(_ context.Context, id string) (*models.Alert, error) {
	var alert models.Alert
	err := s.db.View(func(txn *badger.Txn) error {
		return readJSON(txn, alertKeyPrefix+id, &alert, ErrAlertNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListAlertsByUser returns all alerts for a user, newest first.
func (s *BadgerStore) ListAlertsByUser(_ context.Context, userID string) ([]*models.Alert, error) {
	var out []*models.Alert

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(alertUserKeyPrefix + userID + ":")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var id string
			if err := it.Item().Value(func(val []byte) error {
				id = string(val)
				return nil
			}); err != nil {
				return err
			}

			var alert models.Alert
			if err := readJSON(txn, alertKeyPrefix+id, &alert, ErrAlertNotFound); err != nil {
				if errors.Is(err, ErrAlertNotFound) {
					continue
				}
				return err
			}
			out = append(out, &alert)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MarkRead flags an alert as read. The userID must match the alert owner.
func (s *BadgerStore) MarkRead(ctx context.Context, id, userID string) error {
	return s.mutateAlert(id, userID, func(a *models.Alert) { a.Read = true })
}

// Acknowledge flags an alert as acknowledged.
func (s *BadgerStore) Acknowledge(ctx context.Context, id, userID string) error {
	return s.mutateAlert(id, userID, func(a *models.Alert) { a.Acknowledged = true })
}

func (s *BadgerStore) mutateAlert(id, userID string, mutate func(*models.Alert)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var alert models.Alert
		if err := readJSON(txn, alertKeyPrefix+id, &alert, ErrAlertNotFound); err != nil {
			return err
		}
		if alert.UserID != userID {
			return ErrAlertNotFound
		}

		mutate(&alert)

		data, err := json.Marshal(&alert)
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		return txn.Set([]byte(alertKeyPrefix+id), data)
	})
}

// readJSON loads and unmarshals a value, mapping a missing key to notFound.
func readJSON(txn *badger.Txn, key string, dst any, notFound error) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}
