// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package models

// HealthState classifies a budget's spend ratio.
type HealthState string

// Health states, ordered by severity.
const (
	HealthOK       HealthState = "OK"
	HealthWarning  HealthState = "WARNING"
	HealthExceeded HealthState = "EXCEEDED"
)

// Classify returns the health state for the given spend figures.
//
// EXCEEDED when spent is strictly above amount. WARNING when the spend ratio
// has reached warningThreshold percent but the cap is not yet exceeded. A
// zero-amount budget is EXCEEDED as soon as anything is spent, OK otherwise;
// there is no ratio to warn on.
func Classify(spent, amount, warningThreshold float64) HealthState {
	if amount == 0 {
		if spent > 0 {
			return HealthExceeded
		}
		return HealthOK
	}
	if spent > amount {
		return HealthExceeded
	}
	if spent/amount*100 >= warningThreshold {
		return HealthWarning
	}
	return HealthOK
}
