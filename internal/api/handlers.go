// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (rt *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz reports 503 until every registered dependency probe passes.
func (rt *Router) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]bool, len(rt.readiness))
	ready := true
	for name, check := range rt.readiness {
		ok := check()
		checks[name] = ok
		if !ok {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

func (rt *Router) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userID is required")
		return
	}

	budgets, err := rt.budgets.ListByUser(r.Context(), userID)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Failed to list budgets")
		writeError(w, http.StatusInternalServerError, "failed to list budgets")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"budgets": budgets})
}

func (rt *Router) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userID is required")
		return
	}

	alerts, err := rt.alerts.ListAlerts(r.Context(), userID)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Failed to list alerts")
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (rt *Router) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	rt.mutateAlert(w, r, rt.alerts.MarkRead)
}

func (rt *Router) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	rt.mutateAlert(w, r, rt.alerts.Acknowledge)
}

func (rt *Router) mutateAlert(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, alertID, userID string) error) {
	userID := chi.URLParam(r, "userID")
	alertID := chi.URLParam(r, "alertID")
	if userID == "" || alertID == "" {
		writeError(w, http.StatusBadRequest, "userID and alertID are required")
		return
	}

	if err := fn(r.Context(), alertID, userID); err != nil {
		if errors.Is(err, store.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		logging.Error().Err(err).Str("alert_id", alertID).Msg("Failed to update alert")
		writeError(w, http.StatusInternalServerError, "failed to update alert")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSync triggers an on-demand reconciliation for one user. Used by
// operators after an expense-service incident instead of waiting for the
// next scheduled pass.
func (rt *Router) handleSync(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userID is required")
		return
	}

	synced, err := rt.service.SyncUserBudgets(r.Context(), userID)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("Manual sync failed")
		writeError(w, http.StatusBadGateway, "sync failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"synced":  len(synced),
		"budgets": synced,
	})
}
