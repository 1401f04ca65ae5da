// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Package api exposes the service's operational HTTP surface: health and
// readiness probes, Prometheus metrics, and a small read/ack API over
// budgets and alerts. Budget mutations stay event-driven; nothing here
// writes spending.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/finflow/budgetsync/internal/store"
	syncsvc "github.com/finflow/budgetsync/internal/sync"
)

// ReadinessCheck reports whether one dependency is ready to serve.
type ReadinessCheck func() bool

// Router builds the HTTP handler tree.
type Router struct {
	budgets   store.BudgetStore
	alerts    *syncsvc.AlertService
	service   *syncsvc.Service
	timeout   time.Duration
	readiness map[string]ReadinessCheck
}

// NewRouter creates the API router.
func NewRouter(budgets store.BudgetStore, alerts *syncsvc.AlertService, service *syncsvc.Service, timeout time.Duration) *Router {
	return &Router{
		budgets:   budgets,
		alerts:    alerts,
		service:   service,
		timeout:   timeout,
		readiness: make(map[string]ReadinessCheck),
	}
}

// AddReadinessCheck registers a named dependency probe for /readyz.
func (rt *Router) AddReadinessCheck(name string, check ReadinessCheck) {
	rt.readiness[name] = check
}

// Handler assembles the chi router.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(rt.timeout))

	r.Get("/healthz", rt.handleHealthz)
	r.Get("/readyz", rt.handleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/users/{userID}", func(r chi.Router) {
		r.Get("/budgets", rt.handleListBudgets)
		r.Get("/alerts", rt.handleListAlerts)
		r.Post("/alerts/{alertID}/read", rt.handleMarkRead)
		r.Post("/alerts/{alertID}/acknowledge", rt.handleAcknowledge)
		r.Post("/sync", rt.handleSync)
	})

	return r
}
