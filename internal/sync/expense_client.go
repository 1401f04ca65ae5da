// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/finflow/budgetsync/internal/config"
	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/metrics"
)

// ExpenseAPI is the read surface of the expense service used during
// reconciliation.
type ExpenseAPI interface {
	// CategoryTotal returns the sum of expense amounts for the user and
	// category inside the window [start, end].
	CategoryTotal(ctx context.Context, userID, category string, start, end time.Time) (float64, error)
	// Ping probes the expense service health endpoint.
	Ping(ctx context.Context) error
}

// ExpenseClient calls the expense service through the resilient HTTP client
// with a circuit breaker in front. Reconciliation runs on a timer, so an
// open circuit just delays the next pass instead of cascading failures.
type ExpenseClient struct {
	client *ResilientClient
	cb     *gobreaker.CircuitBreaker[float64]
	name   string
}

var _ ExpenseAPI = (*ExpenseClient)(nil)

type categoryTotalResponse struct {
	UserID   string  `json:"userId"`
	Category string  `json:"category"`
	Total    float64 `json:"total"`
}

// NewExpenseClient creates the expense service client.
func NewExpenseClient(cfg config.RemoteConfig) *ExpenseClient {
	cbName := "expense-api"
	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0)

	cb := gobreaker.NewCircuitBreaker[float64](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Expense circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})

	return &ExpenseClient{
		client: NewResilientClient("expense", cfg),
		cb:     cb,
		name:   cbName,
	}
}

// CategoryTotal fetches the authoritative spend total for one budget window.
func (c *ExpenseClient) CategoryTotal(ctx context.Context, userID, category string, start, end time.Time) (float64, error) {
	total, err := c.cb.Execute(func() (float64, error) {
		q := url.Values{}
		q.Set("userId", userID)
		q.Set("category", category)
		q.Set("startDate", start.UTC().Format(time.RFC3339))
		q.Set("endDate", end.UTC().Format(time.RFC3339))

		data, err := c.client.Get(ctx, "/api/expenses/total?"+q.Encode())
		if err != nil {
			return 0, err
		}

		var resp categoryTotalResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return 0, fmt.Errorf("decode total response: %w", err)
		}
		return resp.Total, nil
	})

	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			logging.Warn().Err(err).Str("breaker", c.name).Msg("Expense request rejected by circuit breaker")
		}
		return 0, err
	}

	return total, nil
}

// Ping probes the expense service health endpoint.
func (c *ExpenseClient) Ping(ctx context.Context) error {
	return c.client.HealthCheck(ctx)
}

// TokenSource exposes the service token for rotation and expiry inspection.
func (c *ExpenseClient) TokenSource() *TokenSource {
	return c.client.TokenSource()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
