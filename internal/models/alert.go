// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType identifies which threshold an alert reports.
type AlertType string

// Alert types.
const (
	AlertWarning  AlertType = "BUDGET_WARNING"
	AlertExceeded AlertType = "BUDGET_EXCEEDED"
)

// Severity grades an alert for downstream notification routing.
type Severity string

// Alert severities.
const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is a notification record created when a budget newly crosses a
// threshold. One alert exists per (budget, threshold type) crossing; its
// lifecycle ends when a consumer marks it read or acknowledged.
type Alert struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	BudgetID     string         `json:"budgetId"`
	Type         AlertType      `json:"type"`
	Severity     Severity       `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Data         map[string]any `json:"data,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	Read         bool           `json:"read"`
	Acknowledged bool           `json:"acknowledged"`
}

// NewAlert creates an unread, unacknowledged alert with a fresh ID.
func NewAlert(userID, budgetID string, typ AlertType, severity Severity) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		UserID:    userID,
		BudgetID:  budgetID,
		Type:      typ,
		Severity:  severity,
		CreatedAt: time.Now().UTC(),
	}
}
