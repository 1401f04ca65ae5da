// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/metrics"
	"github.com/finflow/budgetsync/internal/store"
)

// Reconciler periodically re-derives every budget's spending from the
// expense service. Implements suture.Service so the supervisor restarts it
// if a pass panics.
type Reconciler struct {
	budgets    store.BudgetStore
	service    *Service
	alerts     *AlertService
	interval   time.Duration
	runOnStart bool
}

// NewReconciler creates the periodic reconciliation job.
func NewReconciler(budgets store.BudgetStore, service *Service, alerts *AlertService, interval time.Duration, runOnStart bool) *Reconciler {
	return &Reconciler{
		budgets:    budgets,
		service:    service,
		alerts:     alerts,
		interval:   interval,
		runOnStart: runOnStart,
	}
}

// Serve runs reconciliation passes until the context is canceled.
func (r *Reconciler) Serve(ctx context.Context) error {
	if r.runOnStart {
		r.runPass(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

// runPass reconciles all users. A failing user doesn't stop the pass.
func (r *Reconciler) runPass(ctx context.Context) {
	start := time.Now()
	defer metrics.ObserveReconcile(start)

	userIDs, err := r.budgets.UserIDs(ctx)
	if err != nil {
		metrics.ReconcileFailures.Inc()
		logging.Error().Err(err).Msg("Reconciliation pass could not enumerate users")
		return
	}

	var failed int
	for _, userID := range userIDs {
		if ctx.Err() != nil {
			return
		}
		if err := r.reconcileUser(ctx, userID); err != nil {
			failed++
			logging.Error().Err(err).Str("user_id", userID).Msg("User reconciliation failed")
		}
	}

	if failed > 0 {
		metrics.ReconcileFailures.Inc()
	}

	logging.Info().
		Int("users", len(userIDs)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Reconciliation pass complete")
}

// reconcileUser rolls expired periods, re-syncs totals, and re-evaluates
// thresholds for one user.
func (r *Reconciler) reconcileUser(ctx context.Context, userID string) error {
	var errs []error

	if err := r.alerts.ResetWarningFlags(ctx, userID, time.Now().UTC()); err != nil {
		errs = append(errs, fmt.Errorf("reset warning flags: %w", err))
	}

	synced, err := r.service.SyncUserBudgets(ctx, userID)
	if err != nil {
		errs = append(errs, err)
	}

	for _, budget := range synced {
		if _, err := r.alerts.CheckThresholds(ctx, budget); err != nil {
			errs = append(errs, fmt.Errorf("check thresholds for budget %s: %w", budget.ID, err))
		}
	}

	return errors.Join(errs...)
}
