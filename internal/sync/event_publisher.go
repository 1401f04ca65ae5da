// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/finflow/budgetsync/internal/events"
	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/models"
)

// BusPublisher is the transport surface needed to emit budget events.
type BusPublisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// BudgetEventPublisher emits budget lifecycle and alert events to the bus.
//
// Publishing is fire-and-forget: the store is the source of truth and a
// budget mutation must never be rolled back because the bus was down.
// Every method returns whether the event actually went out so callers can
// log and count, not so they can abort.
type BudgetEventPublisher struct {
	bus BusPublisher
}

// NewBudgetEventPublisher creates a publisher over the given transport.
func NewBudgetEventPublisher(bus BusPublisher) *BudgetEventPublisher {
	return &BudgetEventPublisher{bus: bus}
}

// PublishCreated emits a budget.created event.
func (p *BudgetEventPublisher) PublishCreated(ctx context.Context, budget *models.Budget) bool {
	event := events.NewBudgetEvent(events.TopicBudgetCreated, budget)
	return p.publish(ctx, events.TopicBudgetCreated, event)
}

// PublishUpdated emits a budget.updated event carrying both the previous and
// the new budget state so consumers can diff without a read-back.
func (p *BudgetEventPublisher) PublishUpdated(ctx context.Context, previous, updated *models.Budget) bool {
	event := events.NewBudgetEvent(events.TopicBudgetUpdated, updated)
	event.PreviousData = previous
	return p.publish(ctx, events.TopicBudgetUpdated, event)
}

// PublishDeleted emits a budget.deleted event.
func (p *BudgetEventPublisher) PublishDeleted(ctx context.Context, budget *models.Budget) bool {
	event := events.NewBudgetEvent(events.TopicBudgetDeleted, budget)
	return p.publish(ctx, events.TopicBudgetDeleted, event)
}

// PublishWarning emits a budget.warning event with spend detail for
// notification rendering.
func (p *BudgetEventPublisher) PublishWarning(ctx context.Context, budget *models.Budget) bool {
	event := events.NewBudgetEvent(events.TopicBudgetWarning, budget)
	event.Priority = events.PriorityHigh
	event.Detail = map[string]float64{
		"spent":      budget.Spent,
		"amount":     budget.Amount,
		"percentage": budget.SpentPercentage(),
	}
	return p.publish(ctx, events.TopicBudgetWarning, event)
}

// PublishExceeded emits a budget.exceeded event.
func (p *BudgetEventPublisher) PublishExceeded(ctx context.Context, budget *models.Budget) bool {
	event := events.NewBudgetEvent(events.TopicBudgetExceeded, budget)
	event.Priority = events.PriorityCritical
	event.Detail = map[string]float64{
		"spent":     budget.Spent,
		"amount":    budget.Amount,
		"overspend": budget.Spent - budget.Amount,
	}
	return p.publish(ctx, events.TopicBudgetExceeded, event)
}

// PublishReset emits a budget.reset event after warning flags are cleared
// for a new period.
func (p *BudgetEventPublisher) PublishReset(ctx context.Context, budget *models.Budget) bool {
	event := events.NewBudgetEvent(events.TopicBudgetReset, budget)
	return p.publish(ctx, events.TopicBudgetReset, event)
}

func (p *BudgetEventPublisher) publish(ctx context.Context, topic string, event *events.BudgetEvent) bool {
	payload, err := event.Encode()
	if err != nil {
		logging.Error().Err(err).Str("topic", topic).Msg("Failed to encode budget event")
		return false
	}

	msg := message.NewMessage(uuid.New().String(), payload)
	if err := p.bus.Publish(ctx, topic, msg); err != nil {
		logging.Error().
			Err(err).
			Str("topic", topic).
			Str("event_id", event.EventID).
			Msg("Failed to publish budget event")
		return false
	}

	return true
}
