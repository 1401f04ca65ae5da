// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Package models defines the budget domain types shared across the service.
package models

import (
	"time"
)

// Period identifies the calendar window a budget covers.
type Period string

// Supported budget periods.
const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
	PeriodYearly  Period = "yearly"
)

// DefaultWarningThreshold is the percentage of the budget cap at which a
// warning is raised when the budget does not specify its own threshold.
const DefaultWarningThreshold = 80.0

// Budget tracks spending against a cap for one (user, category, period) triple.
//
// Spent is derived state: it is only written by the sync service's delta and
// reconciliation paths and is always re-derivable from expense history.
// Remaining is recomputed atomically with every Spent mutation and may go
// negative. Version supports optimistic concurrency control in the store;
// LastSyncedAt records the snapshot time of the last full reconciliation and
// is used to discard deltas computed from older data.
type Budget struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Category         string    `json:"category"`
	Amount           float64   `json:"amount"`
	Spent            float64   `json:"spent"`
	Remaining        float64   `json:"remaining"`
	Period           Period    `json:"period"`
	StartDate        time.Time `json:"startDate"`
	EndDate          time.Time `json:"endDate"`
	WarningThreshold float64   `json:"warningThreshold"`
	WarningTriggered bool      `json:"warningTriggered"`
	IsActive         bool      `json:"isActive"`
	LastSyncedAt     time.Time `json:"lastSyncedAt"`
	Version          uint64    `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the budget.
func (b *Budget) Clone() *Budget {
	if b == nil {
		return nil
	}
	clone := *b
	return &clone
}

// CalculateRemaining recomputes and returns the remaining amount.
func (b *Budget) CalculateRemaining() float64 {
	b.Remaining = b.Amount - b.Spent
	return b.Remaining
}

// SpentPercentage returns how much of the cap has been spent, as a percentage.
// A zero-amount budget reports 0 to avoid division by zero.
func (b *Budget) SpentPercentage() float64 {
	if b.Amount == 0 {
		return 0
	}
	return b.Spent / b.Amount * 100
}

// EffectiveWarningThreshold returns the configured threshold, or the default
// when unset.
func (b *Budget) EffectiveWarningThreshold() float64 {
	if b.WarningThreshold <= 0 {
		return DefaultWarningThreshold
	}
	return b.WarningThreshold
}

// IsExceeded reports whether spending is strictly above the cap.
func (b *Budget) IsExceeded() bool {
	return b.Spent > b.Amount
}

// IsWarningThresholdReached reports whether spending has reached the warning
// threshold percentage.
func (b *Budget) IsWarningThresholdReached() bool {
	return Classify(b.Spent, b.Amount, b.EffectiveWarningThreshold()) != HealthOK
}

// IsActiveForDate reports whether the budget is active and the given date
// falls inside its [StartDate, EndDate] window. Comparison is by calendar day
// in UTC, so a time-of-day after the EndDate midnight still counts.
func (b *Budget) IsActiveForDate(date time.Time) bool {
	if !b.IsActive {
		return false
	}
	d := dateOnly(date)
	return !d.Before(dateOnly(b.StartDate)) && !d.After(dateOnly(b.EndDate))
}

// dateOnly truncates a timestamp to its UTC calendar day.
func dateOnly(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
