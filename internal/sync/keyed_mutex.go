// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import "sync"

// keyedMutex serializes operations per key. Budget writes are serialized per
// budget ID so delta application and reconciliation never interleave their
// read-modify-write cycles on the same budget.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*keyedLock),
	}
}

// Lock acquires the lock for key, creating it on first use.
func (km *keyedMutex) Lock(key string) {
	km.mu.Lock()
	l, ok := km.locks[key]
	if !ok {
		l = &keyedLock{}
		km.locks[key] = l
	}
	l.refs++
	km.mu.Unlock()

	l.mu.Lock()
}

// Unlock releases the lock for key and frees it when no one else is waiting.
func (km *keyedMutex) Unlock(key string) {
	km.mu.Lock()
	l := km.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(km.locks, key)
	}
	km.mu.Unlock()

	l.mu.Unlock()
}
