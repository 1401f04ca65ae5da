// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Package metrics provides Prometheus instrumentation for the sync core:
// bus publish/consume throughput, handler failures, reconciliation timing,
// write-conflict retries, and circuit breaker state.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsConsumed counts inbound expense events by topic and outcome
	// (processed, dropped, failed).
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetsync_events_consumed_total",
			Help: "Total inbound expense events by topic and outcome",
		},
		[]string{"topic", "outcome"},
	)

	// EventsPublished counts outbound budget events by topic and status.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetsync_events_published_total",
			Help: "Total outbound budget events by topic and status",
		},
		[]string{"topic", "status"},
	)

	// SpendDeltasApplied counts applied spend deltas by direction.
	SpendDeltasApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetsync_spend_deltas_applied_total",
			Help: "Total spend deltas applied to budgets",
		},
		[]string{"direction"},
	)

	// SpendDeltasDiscarded counts deltas dropped by the reconciliation
	// precedence rule (event older than last sync snapshot).
	SpendDeltasDiscarded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budgetsync_spend_deltas_discarded_total",
			Help: "Deltas discarded as older than the last reconciliation snapshot",
		},
	)

	// WriteConflictRetries counts optimistic-concurrency retries on budget writes.
	WriteConflictRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budgetsync_write_conflict_retries_total",
			Help: "Budget write retries after version conflicts",
		},
	)

	// ReconcileDuration measures full budget reconciliation passes.
	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "budgetsync_reconcile_duration_seconds",
			Help:    "Duration of full budget reconciliation passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ReconcileFailures counts reconciliation passes that gave up after
	// exhausting remote retries. Operators alert on this.
	ReconcileFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "budgetsync_reconcile_failures_total",
			Help: "Reconciliation passes aborted after exhausting retries",
		},
	)

	// AlertsTriggered counts threshold alerts by type.
	AlertsTriggered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetsync_alerts_triggered_total",
			Help: "Threshold alerts raised by type",
		},
		[]string{"type"},
	)

	// RemoteRequests counts resilient client calls by service and outcome.
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetsync_remote_requests_total",
			Help: "Remote service calls by service and outcome",
		},
		[]string{"service", "outcome"},
	)

	// RemoteRetries counts retry attempts made by the resilient client.
	RemoteRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "budgetsync_remote_retries_total",
			Help: "Retry attempts made by the resilient HTTP client",
		},
		[]string{"service"},
	)

	// CircuitBreakerState reports breaker state per breaker
	// (0=closed, 1=half-open, 2=open).
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "budgetsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// ObserveReconcile records a reconciliation pass duration.
func ObserveReconcile(start time.Time) {
	ReconcileDuration.Observe(time.Since(start).Seconds())
}
