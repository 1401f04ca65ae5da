// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Package sync keeps budget spending totals synchronized with expense
// activity. It consumes expense lifecycle events from the bus, applies
// incremental spend deltas to the matching budgets, evaluates warning and
// exceeded thresholds, and publishes budget events for downstream services.
//
// Two mechanisms cooperate:
//
//   - Delta application: each expense event adjusts Spent on the budgets
//     covering the expense's (user, category, date). Fast but drifts if
//     events are lost.
//
//   - Reconciliation: a periodic pass re-derives Spent authoritatively from
//     the expense service and overwrites the local total. Heals any drift
//     left by lost or failed events.
//
// When the two race, reconciliation wins: every budget carries a
// LastSyncedAt snapshot, and deltas whose event time precedes it are
// discarded as already accounted for.
package sync
