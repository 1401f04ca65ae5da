// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/finflow/budgetsync/internal/eventbus"
	"github.com/finflow/budgetsync/internal/events"
	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/metrics"
	"github.com/finflow/budgetsync/internal/models"
)

// Consumer subscribes to the expense lifecycle topics and turns each event
// into spend deltas plus threshold evaluation.
//
// Invalid events are dropped, processing failures are logged and counted,
// and messages are always acked either way. Reconciliation is the recovery
// path, not redelivery.
type Consumer struct {
	subscriber *eventbus.Subscriber
	service    *Service
	alerts     *AlertService
	identity   IdentityAPI
	batchSize  int
}

// defaultBatchSize bounds one batch-recovery chunk when no size is configured.
const defaultBatchSize = 100

// NewConsumer creates the expense event consumer. batchSize bounds how many
// replayed events are applied between threshold evaluations during batch
// recovery; zero or negative uses the default.
func NewConsumer(subscriber *eventbus.Subscriber, service *Service, alerts *AlertService, identity IdentityAPI, batchSize int) *Consumer {
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}
	return &Consumer{
		subscriber: subscriber,
		service:    service,
		alerts:     alerts,
		identity:   identity,
		batchSize:  batchSize,
	}
}

// Serve runs one handler loop per expense topic until the context is
// canceled. Implements suture.Service.
func (c *Consumer) Serve(ctx context.Context) error {
	topics := []string{
		events.TopicExpenseCreated,
		events.TopicExpenseUpdated,
		events.TopicExpenseDeleted,
	}

	errCh := make(chan error, len(topics))
	for _, topic := range topics {
		handler := c.subscriber.NewMessageHandler(topic).Handle(c.handleMessage)
		go func(topic string) {
			errCh <- handler.Run(ctx)
		}(topic)
	}

	var errs []error
	for range topics {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return ctx.Err()
}

func (c *Consumer) handleMessage(ctx context.Context, msg *message.Message) error {
	event, err := events.DecodeExpenseEvent(msg.Payload)
	if err != nil {
		var vErr *events.ValidationError
		topic := topicFor(event, msg)
		if errors.As(err, &vErr) {
			metrics.EventsConsumed.WithLabelValues(topic, "dropped").Inc()
			logging.Warn().
				Err(err).
				Str("message_uuid", msg.UUID).
				Msg("Dropping invalid expense event")
			return nil
		}
		metrics.EventsConsumed.WithLabelValues(topic, "dropped").Inc()
		logging.Warn().
			Err(err).
			Str("message_uuid", msg.UUID).
			Msg("Dropping undecodable expense event")
		return nil
	}

	return c.ProcessEvent(ctx, event)
}

// topicFor derives the metrics label when decoding already failed.
func topicFor(event *events.ExpenseEvent, msg *message.Message) string {
	if event != nil {
		return topicForType(event.EventType)
	}
	if t := msg.Metadata.Get("topic"); t != "" {
		return t
	}
	return "unknown"
}

func topicForType(t events.ExpenseEventType) string {
	switch t {
	case events.ExpenseCreated:
		return events.TopicExpenseCreated
	case events.ExpenseUpdated:
		return events.TopicExpenseUpdated
	case events.ExpenseDeleted:
		return events.TopicExpenseDeleted
	default:
		return "unknown"
	}
}

// ProcessEvent applies one validated expense event and evaluates thresholds
// on every budget it touched.
func (c *Consumer) ProcessEvent(ctx context.Context, event *events.ExpenseEvent) error {
	topic := topicForType(event.EventType)

	updated, err := c.apply(ctx, event)
	if err != nil {
		metrics.EventsConsumed.WithLabelValues(topic, "failed").Inc()
		return err
	}
	metrics.EventsConsumed.WithLabelValues(topic, "processed").Inc()

	var errs []error
	for _, budget := range updated {
		if _, err := c.alerts.CheckThresholds(ctx, budget); err != nil {
			errs = append(errs, fmt.Errorf("check thresholds for budget %s: %w", budget.ID, err))
		}
	}
	return errors.Join(errs...)
}

// apply routes the event to its delta or reconciliation handling and returns
// the budgets whose spending changed.
func (c *Consumer) apply(ctx context.Context, event *events.ExpenseEvent) ([]*models.Budget, error) {
	if c.identity != nil && !c.identity.VerifyUser(ctx, event.Data.UserID) {
		logging.Warn().
			Str("user_id", event.Data.UserID).
			Str("event_type", string(event.EventType)).
			Msg("Dropping expense event for unknown user")
		return nil, nil
	}

	switch event.EventType {
	case events.ExpenseCreated:
		return c.handleCreated(ctx, event)
	case events.ExpenseUpdated:
		return c.handleUpdated(ctx, event)
	case events.ExpenseDeleted:
		return c.handleDeleted(ctx, event)
	default:
		return nil, fmt.Errorf("unhandled event type %q", event.EventType)
	}
}

func (c *Consumer) handleCreated(ctx context.Context, event *events.ExpenseEvent) ([]*models.Budget, error) {
	return c.service.ApplySpendDelta(ctx, SpendDelta{
		UserID:      event.Data.UserID,
		Category:    event.Data.Category,
		Amount:      event.Data.Amount,
		Operation:   OpAdd,
		ExpenseDate: event.Data.Date,
		EventTime:   event.Timestamp,
	})
}

// handleUpdated diffs the previous and current expense state.
//
// A category move is two deltas: the old amount leaves the old category's
// budgets, the new amount enters the new category's. An in-place amount
// change is a single delta for the difference. An update that changes
// neither is a no-op here.
func (c *Consumer) handleUpdated(ctx context.Context, event *events.ExpenseEvent) ([]*models.Budget, error) {
	prev := event.PreviousData
	curr := event.Data

	if prev.Category != curr.Category {
		removed, err := c.service.ApplySpendDelta(ctx, SpendDelta{
			UserID:      curr.UserID,
			Category:    prev.Category,
			Amount:      prev.Amount,
			Operation:   OpSubtract,
			ExpenseDate: prev.Date,
			EventTime:   event.Timestamp,
		})
		if err != nil {
			return removed, err
		}

		added, err := c.service.ApplySpendDelta(ctx, SpendDelta{
			UserID:      curr.UserID,
			Category:    curr.Category,
			Amount:      curr.Amount,
			Operation:   OpAdd,
			ExpenseDate: curr.Date,
			EventTime:   event.Timestamp,
		})
		return append(removed, added...), err
	}

	diff := curr.Amount - prev.Amount
	if diff == 0 {
		return nil, nil
	}

	op := OpAdd
	if diff < 0 {
		op = OpSubtract
		diff = -diff
	}

	return c.service.ApplySpendDelta(ctx, SpendDelta{
		UserID:      curr.UserID,
		Category:    curr.Category,
		Amount:      diff,
		Operation:   op,
		ExpenseDate: curr.Date,
		EventTime:   event.Timestamp,
	})
}

// handleDeleted subtracts the deleted expense when the event says what was
// deleted. A bare deletion forces a full reconciliation of the user's
// budgets, the only way to know what the totals should now be.
func (c *Consumer) handleDeleted(ctx context.Context, event *events.ExpenseEvent) ([]*models.Budget, error) {
	if event.HasDeletionDetails() {
		return c.service.ApplySpendDelta(ctx, SpendDelta{
			UserID:      event.Data.UserID,
			Category:    event.Data.Category,
			Amount:      event.Data.Amount,
			Operation:   OpSubtract,
			ExpenseDate: event.Data.Date,
			EventTime:   event.Timestamp,
		})
	}

	logging.Info().
		Str("user_id", event.Data.UserID).
		Msg("Deletion without details, falling back to full budget sync")
	return c.service.SyncUserBudgets(ctx, event.Data.UserID)
}

// ProcessBatch replays a slice of expense events, typically recovered from
// an upstream outage. The batch is applied in configured-size chunks: deltas
// within a chunk apply in order, and threshold evaluation is deferred to the
// chunk boundary and runs once per touched budget, so a noisy (user,
// category) pair raises a single alert per threshold instead of one per
// event. Chunking bounds the touched set held in memory for large replays.
func (c *Consumer) ProcessBatch(ctx context.Context, batch []*events.ExpenseEvent) error {
	var errs []error
	for start := 0; start < len(batch); start += c.batchSize {
		end := start + c.batchSize
		if end > len(batch) {
			end = len(batch)
		}
		if err := c.processChunk(ctx, batch[start:end]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Consumer) processChunk(ctx context.Context, chunk []*events.ExpenseEvent) error {
	touched := make(map[string]*models.Budget)
	var errs []error

	for _, event := range chunk {
		if err := event.Validate(); err != nil {
			metrics.EventsConsumed.WithLabelValues(topicForType(event.EventType), "dropped").Inc()
			logging.Warn().Err(err).Msg("Dropping invalid expense event in batch")
			continue
		}

		updated, err := c.apply(ctx, event)
		if err != nil {
			metrics.EventsConsumed.WithLabelValues(topicForType(event.EventType), "failed").Inc()
			errs = append(errs, err)
			continue
		}
		metrics.EventsConsumed.WithLabelValues(topicForType(event.EventType), "processed").Inc()

		// Last write wins; only the final state matters for thresholds.
		for _, budget := range updated {
			touched[budget.ID] = budget
		}
	}

	for _, budget := range touched {
		if _, err := c.alerts.CheckThresholds(ctx, budget); err != nil {
			errs = append(errs, fmt.Errorf("check thresholds for budget %s: %w", budget.ID, err))
		}
	}

	return errors.Join(errs...)
}
