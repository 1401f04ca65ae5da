// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Package events defines the wire envelopes exchanged over the message bus:
// inbound expense lifecycle events consumed from the expense service, and
// outbound budget domain events published by this service.
//
// Envelopes are validated at the boundary; malformed payloads never reach
// business logic.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Inbound topics published by the expense service.
const (
	TopicExpenseCreated = "expense.created"
	TopicExpenseUpdated = "expense.updated"
	TopicExpenseDeleted = "expense.deleted"
)

// ExpenseEventType discriminates expense lifecycle events.
type ExpenseEventType string

// Expense event types.
const (
	ExpenseCreated ExpenseEventType = "CREATED"
	ExpenseUpdated ExpenseEventType = "UPDATED"
	ExpenseDeleted ExpenseEventType = "DELETED"
)

// ExpenseData carries the expense fields relevant to budget tracking.
type ExpenseData struct {
	ExpenseID   string    `json:"expenseId,omitempty"`
	UserID      string    `json:"userId"`
	Category    string    `json:"category"`
	Amount      float64   `json:"amount"`
	Date        time.Time `json:"date"`
	Description string    `json:"description,omitempty"`
}

// ExpenseEvent is an immutable fact about the expense domain. For UPDATED
// events PreviousData holds the pre-mutation snapshot so consumers can diff.
type ExpenseEvent struct {
	EventType    ExpenseEventType `json:"eventType"`
	Timestamp    time.Time        `json:"timestamp"`
	Data         ExpenseData      `json:"data"`
	PreviousData *ExpenseData     `json:"previousData,omitempty"`
}

// ValidationError reports a missing or malformed envelope field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate checks the envelope for the fields its event type requires.
//
// CREATED and UPDATED need userId, category, and a positive amount; UPDATED
// additionally needs previousData. DELETED only needs userId: a deletion
// without amount/category is still actionable, it triggers a full
// reconciliation instead of a delta.
func (e *ExpenseEvent) Validate() error {
	if e.Data.UserID == "" {
		return &ValidationError{Field: "data.userId", Message: "required"}
	}

	switch e.EventType {
	case ExpenseCreated:
		return validateSpendFields(&e.Data, "data")
	case ExpenseUpdated:
		if err := validateSpendFields(&e.Data, "data"); err != nil {
			return err
		}
		if e.PreviousData == nil {
			return &ValidationError{Field: "previousData", Message: "required for UPDATED"}
		}
		return validateSpendFields(e.PreviousData, "previousData")
	case ExpenseDeleted:
		return nil
	default:
		return &ValidationError{Field: "eventType", Message: fmt.Sprintf("unknown type %q", e.EventType)}
	}
}

func validateSpendFields(d *ExpenseData, prefix string) error {
	if d.Category == "" {
		return &ValidationError{Field: prefix + ".category", Message: "required"}
	}
	if d.Amount <= 0 {
		return &ValidationError{Field: prefix + ".amount", Message: "must be positive"}
	}
	return nil
}

// HasDeletionDetails reports whether a DELETED event carries enough data to
// apply an incremental delta rather than a full reconciliation.
func (e *ExpenseEvent) HasDeletionDetails() bool {
	return e.Data.Category != "" && e.Data.Amount > 0
}

// DecodeExpenseEvent unmarshals and validates an inbound expense envelope.
func DecodeExpenseEvent(payload []byte) (*ExpenseEvent, error) {
	var ev ExpenseEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal expense event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// EncodeExpenseEvent marshals an expense envelope. Used by tests and by the
// expense-side publisher contract.
func EncodeExpenseEvent(ev *ExpenseEvent) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal expense event: %w", err)
	}
	return data, nil
}
