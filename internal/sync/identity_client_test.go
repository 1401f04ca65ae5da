// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIdentityClientVerifyUser(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch r.URL.Path {
		case "/api/users/u1":
			w.Write([]byte(`{"id":"u1","isActive":true}`))
		case "/api/users/u2":
			w.Write([]byte(`{"id":"u2","isActive":false}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewIdentityClient(testRemoteConfig(srv.URL))
	ctx := context.Background()

	if !client.VerifyUser(ctx, "u1") {
		t.Error("active user should verify")
	}
	if client.VerifyUser(ctx, "u2") {
		t.Error("inactive user should not verify")
	}
	if client.VerifyUser(ctx, "ghost") {
		t.Error("unknown user should not verify")
	}

	// Repeat lookups come from the cache.
	before := requests.Load()
	client.VerifyUser(ctx, "u1")
	client.VerifyUser(ctx, "ghost")
	if requests.Load() != before {
		t.Errorf("server saw %d extra requests, cached lookups should make none", requests.Load()-before)
	}
}

func TestIdentityClientDegradesWhenUnreachable(t *testing.T) {
	cfg := testRemoteConfig("http://127.0.0.1:1")
	cfg.RetryAttempts = 1
	client := NewIdentityClient(cfg)

	if !client.VerifyUser(context.Background(), "u1") {
		t.Error("an unreachable identity service must not block event processing")
	}
}

func TestIdentityClientDegradesOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewIdentityClient(testRemoteConfig(srv.URL))
	if !client.VerifyUser(context.Background(), "u1") {
		t.Error("a malformed identity response should degrade to active")
	}
}

func signedTestToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "budgetsync",
		"exp": exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestTokenSourceExpiresWithin(t *testing.T) {
	source := NewTokenSource(signedTestToken(t, time.Now().Add(30*time.Minute)))

	expiring, err := source.ExpiresWithin(time.Hour)
	if err != nil {
		t.Fatalf("ExpiresWithin: %v", err)
	}
	if !expiring {
		t.Error("a token expiring in 30m is inside a 1h window")
	}

	expiring, err = source.ExpiresWithin(10 * time.Minute)
	if err != nil {
		t.Fatalf("ExpiresWithin: %v", err)
	}
	if expiring {
		t.Error("a token expiring in 30m is outside a 10m window")
	}

	source.Rotate(signedTestToken(t, time.Now().Add(24*time.Hour)))
	expiring, err = source.ExpiresWithin(time.Hour)
	if err != nil {
		t.Fatalf("ExpiresWithin after rotation: %v", err)
	}
	if expiring {
		t.Error("rotation should push expiry out of the window")
	}
}

func TestTokenSourceEdgeCases(t *testing.T) {
	empty := NewTokenSource("")
	if expiring, err := empty.ExpiresWithin(time.Hour); err != nil || expiring {
		t.Errorf("empty token = (%v, %v), want (false, nil)", expiring, err)
	}

	garbage := NewTokenSource("not-a-jwt")
	if _, err := garbage.ExpiresWithin(time.Hour); err == nil {
		t.Error("an unparseable token should return an error")
	}
}
