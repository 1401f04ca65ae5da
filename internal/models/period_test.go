// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package models

import (
	"errors"
	"testing"
	"time"
)

func TestCalculateBudgetPeriod(t *testing.T) {
	// 2026-08-19 is a Wednesday.
	ref := time.Date(2026, time.August, 19, 15, 4, 5, 0, time.UTC)

	tests := []struct {
		name      string
		period    Period
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "monthly spans the calendar month",
			period:    PeriodMonthly,
			wantStart: time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "weekly spans Sunday through Saturday",
			period:    PeriodWeekly,
			wantStart: time.Date(2026, time.August, 16, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.August, 22, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "yearly spans the calendar year",
			period:    PeriodYearly,
			wantStart: time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.December, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "period is case-insensitive",
			period:    Period("Monthly"),
			wantStart: time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, time.August, 31, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := CalculateBudgetPeriod(tt.period, ref)
			if err != nil {
				t.Fatalf("CalculateBudgetPeriod returned error: %v", err)
			}
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantEnd) {
				t.Errorf("end = %v, want %v", end, tt.wantEnd)
			}
		})
	}
}

func TestCalculateBudgetPeriodWeeklyOnSunday(t *testing.T) {
	// A Sunday reference starts its own week.
	ref := time.Date(2026, time.August, 16, 8, 0, 0, 0, time.UTC)

	start, end, err := CalculateBudgetPeriod(PeriodWeekly, ref)
	if err != nil {
		t.Fatalf("CalculateBudgetPeriod returned error: %v", err)
	}
	if !start.Equal(time.Date(2026, time.August, 16, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v, want the Sunday itself", start)
	}
	if !end.Equal(time.Date(2026, time.August, 22, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v, want the following Saturday", end)
	}
}

func TestCalculateBudgetPeriodInvalid(t *testing.T) {
	_, _, err := CalculateBudgetPeriod(Period("quarterly"), time.Now())
	if !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("error = %v, want ErrInvalidPeriod", err)
	}
}

func TestCalculateBudgetPeriodMonthlyFebruary(t *testing.T) {
	ref := time.Date(2026, time.February, 10, 0, 0, 0, 0, time.UTC)

	_, end, err := CalculateBudgetPeriod(PeriodMonthly, ref)
	if err != nil {
		t.Fatalf("CalculateBudgetPeriod returned error: %v", err)
	}
	if end.Day() != 28 {
		t.Errorf("February 2026 should end on the 28th, got %d", end.Day())
	}
}
