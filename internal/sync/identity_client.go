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
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/finflow/budgetsync/internal/config"
	"github.com/finflow/budgetsync/internal/logging"
)

// IdentityAPI verifies that users referenced by expense events still exist.
type IdentityAPI interface {
	// VerifyUser reports whether the user exists and is active. When the
	// identity service is unreachable the client degrades to true so event
	// processing never stalls on an auxiliary dependency.
	VerifyUser(ctx context.Context, userID string) bool
	// Ping probes the identity service health endpoint.
	Ping(ctx context.Context) error
}

// IdentityClient calls the identity service through the resilient HTTP
// client. Verification results are cached briefly to keep batch recovery
// from hammering the service with repeated lookups.
type IdentityClient struct {
	client   *ResilientClient
	mu       sync.Mutex
	cache    map[string]identityCacheEntry
	cacheTTL time.Duration
}

var _ IdentityAPI = (*IdentityClient)(nil)

type identityCacheEntry struct {
	active  bool
	expires time.Time
}

type userResponse struct {
	ID       string `json:"id"`
	IsActive bool   `json:"isActive"`
}

// NewIdentityClient creates the identity service client.
func NewIdentityClient(cfg config.RemoteConfig) *IdentityClient {
	return &IdentityClient{
		client:   NewResilientClient("identity", cfg),
		cache:    make(map[string]identityCacheEntry),
		cacheTTL: 5 * time.Minute,
	}
}

// VerifyUser checks whether the user is known and active. Unreachable
// identity service degrades to true: budgets must keep tracking spending
// even when user lookups are down.
func (c *IdentityClient) VerifyUser(ctx context.Context, userID string) bool {
	c.mu.Lock()
	if entry, ok := c.cache[userID]; ok && time.Now().Before(entry.expires) {
		c.mu.Unlock()
		return entry.active
	}
	c.mu.Unlock()

	data, err := c.client.Get(ctx, "/api/users/"+url.PathEscape(userID))
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
			c.store(userID, false)
			return false
		}
		logging.Warn().Err(err).Str("user_id", userID).
			Msg("Identity service unavailable, assuming user is active")
		return true
	}

	var resp userResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		logging.Warn().Err(err).Str("user_id", userID).
			Msg("Malformed identity response, assuming user is active")
		return true
	}

	c.store(userID, resp.IsActive)
	return resp.IsActive
}

// Ping probes the identity service health endpoint.
func (c *IdentityClient) Ping(ctx context.Context) error {
	return c.client.HealthCheck(ctx)
}

// TokenSource exposes the service token for rotation and expiry inspection.
func (c *IdentityClient) TokenSource() *TokenSource {
	return c.client.TokenSource()
}

func (c *IdentityClient) store(userID string, active bool) {
	c.mu.Lock()
	c.cache[userID] = identityCacheEntry{
		active:  active,
		expires: time.Now().Add(c.cacheTTL),
	}
	c.mu.Unlock()
}

// TokenSource holds the service-to-service bearer token and reports when it
// is about to expire so the operator can rotate it.
type TokenSource struct {
	mu    sync.RWMutex
	token string
}

// NewTokenSource creates a token source from a static token.
func NewTokenSource(token string) *TokenSource {
	return &TokenSource{token: token}
}

// Token returns the current token.
func (t *TokenSource) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Rotate replaces the token.
func (t *TokenSource) Rotate(token string) {
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
}

// ExpiresWithin reports whether the token expires inside the given window.
// The token is only inspected, never verified: the receiving services own
// signature validation.
func (t *TokenSource) ExpiresWithin(window time.Duration) (bool, error) {
	t.mu.RLock()
	token := t.token
	t.mu.RUnlock()

	if token == "" {
		return false, nil
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false, fmt.Errorf("parse service token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false, fmt.Errorf("read token expiry: %w", err)
	}
	if exp == nil {
		return false, nil
	}

	return time.Until(exp.Time) < window, nil
}
