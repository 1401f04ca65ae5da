// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/finflow/budgetsync/internal/config"
	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/metrics"
)

// StatusError is returned when a remote service responds with a
// non-success status code.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

// IsRetryable reports whether the status indicates a transient condition.
// Server errors, request timeout, and rate limiting are retryable; all
// other client errors are permanent.
func (e *StatusError) IsRetryable() bool {
	if e.StatusCode >= 500 {
		return true
	}
	return e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// ResilientClient is an HTTP client with bounded retries, per-request
// timeouts, and client-side rate limiting for calls to upstream services.
//
// Retry policy: network errors and retryable statuses (5xx, 408, 429) are
// retried up to the configured attempt count, doubling the delay between
// attempts. Other 4xx responses fail immediately.
type ResilientClient struct {
	serviceName string
	baseURL     string
	client      *http.Client
	attempts    int
	retryDelay  time.Duration
	limiter     *rate.Limiter
	tokens      *TokenSource
}

// NewResilientClient creates a client for one upstream service.
func NewResilientClient(serviceName string, cfg config.RemoteConfig) *ResilientClient {
	attempts := cfg.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &ResilientClient{
		serviceName: serviceName,
		baseURL:     cfg.URL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		attempts:   attempts,
		retryDelay: cfg.RetryDelay,
		limiter:    limiter,
		tokens:     NewTokenSource(cfg.ServiceToken),
	}
}

// SetToken replaces the bearer token attached to outgoing requests.
func (c *ResilientClient) SetToken(token string) {
	c.tokens.Rotate(token)
}

// TokenSource exposes the service token for rotation and expiry inspection.
func (c *ResilientClient) TokenSource() *TokenSource {
	return c.tokens
}

// Get performs a GET request against the service and returns the response body.
func (c *ResilientClient) Get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body against the service.
func (c *ResilientClient) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *ResilientClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			metrics.RemoteRetries.WithLabelValues(c.serviceName).Inc()
			delay := c.retryDelay << (attempt - 2)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			metrics.RemoteRequests.WithLabelValues(c.serviceName, "ok").Inc()
			return data, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if !isRetryable(err) {
			metrics.RemoteRequests.WithLabelValues(c.serviceName, "permanent_error").Inc()
			return nil, err
		}

		logging.Warn().
			Err(err).
			Str("service", c.serviceName).
			Str("path", path).
			Int("attempt", attempt).
			Int("max_attempts", c.attempts).
			Msg("Remote request failed, will retry")
	}

	metrics.RemoteRequests.WithLabelValues(c.serviceName, "exhausted").Inc()
	return nil, fmt.Errorf("%s request to %s failed after %d attempts: %w",
		c.serviceName, path, c.attempts, lastErr)
}

func (c *ResilientClient) doOnce(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(data),
		}
	}

	return data, nil
}

// HealthCheck probes the service's health endpoint with a short timeout and
// no retries. A slow dependency should report unhealthy, not block startup.
func (c *ResilientClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := c.doOnce(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return fmt.Errorf("%s health check: %w", c.serviceName, err)
	}
	return nil
}

// isRetryable classifies an error as transient. Network-level failures are
// always retryable; HTTP statuses delegate to StatusError.
func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.IsRetryable()
	}
	// Network error, timeout, or connection refused
	return true
}
