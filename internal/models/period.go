// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidPeriod is returned for period strings outside weekly/monthly/yearly.
var ErrInvalidPeriod = errors.New("invalid budget period")

// CalculateBudgetPeriod returns the calendar window containing referenceDate
// for the given period. Used when a caller creates a budget without explicit
// start/end dates.
//
//   - monthly: first through last calendar day of the reference month
//   - weekly: the Sunday-to-Saturday week containing the reference date
//   - yearly: January 1 through December 31 of the reference year
//
// Both bounds are midnight UTC of the respective day; the window is inclusive.
func CalculateBudgetPeriod(period Period, referenceDate time.Time) (start, end time.Time, err error) {
	ref := referenceDate.UTC()

	switch Period(strings.ToLower(string(period))) {
	case PeriodMonthly:
		start = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
		end = start.AddDate(0, 1, -1)
	case PeriodWeekly:
		day := dateOnly(ref)
		start = day.AddDate(0, 0, -int(day.Weekday()))
		end = start.AddDate(0, 0, 6)
	case PeriodYearly:
		start = time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		end = time.Date(ref.Year(), time.December, 31, 0, 0, 0, 0, time.UTC)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}

	return start, end, nil
}
