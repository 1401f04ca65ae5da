// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/finflow/budgetsync/internal/models"
)

// ServiceName tags every outbound event with its producer.
const ServiceName = "budget-service"

// Outbound topics, one per budget state transition.
const (
	TopicBudgetCreated  = "budget.created"
	TopicBudgetUpdated  = "budget.updated"
	TopicBudgetDeleted  = "budget.deleted"
	TopicBudgetWarning  = "budget.warning"
	TopicBudgetExceeded = "budget.exceeded"
	TopicBudgetReset    = "budget.reset"
)

// Priority levels for outbound events.
const (
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// BudgetEvent is the outbound domain event envelope. Data holds the budget
// snapshot after the transition; PreviousData, when present, holds the
// snapshot before it so consumers can diff.
type BudgetEvent struct {
	EventID      string         `json:"eventId"`
	EventType    string         `json:"eventType"`
	Timestamp    time.Time      `json:"timestamp"`
	Service      string         `json:"service"`
	Data         *models.Budget `json:"data"`
	PreviousData *models.Budget `json:"previousData,omitempty"`
	Priority     string         `json:"priority,omitempty"`
	// Detail carries transition-specific figures (overspend, threshold).
	Detail map[string]float64 `json:"detail,omitempty"`
}

// NewBudgetEvent builds an envelope for the given transition topic.
func NewBudgetEvent(eventType string, budget *models.Budget) *BudgetEvent {
	return &BudgetEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
		Service:   ServiceName,
		Data:      budget,
	}
}

// Encode marshals the envelope for publication.
func (e *BudgetEvent) Encode() ([]byte, error) {
	if e.Data == nil {
		return nil, &ValidationError{Field: "data", Message: "required"}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal budget event: %w", err)
	}
	return data, nil
}

// DecodeBudgetEvent unmarshals an outbound envelope. Used by tests and by
// downstream consumers of this service's events.
func DecodeBudgetEvent(payload []byte) (*BudgetEvent, error) {
	var ev BudgetEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal budget event: %w", err)
	}
	return &ev, nil
}
