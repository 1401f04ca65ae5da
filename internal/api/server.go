// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/finflow/budgetsync/internal/logging"
)

// Server runs the HTTP listener as a supervised service.
type Server struct {
	server *http.Server
}

// NewServer creates the HTTP server around the router's handler.
func NewServer(addr string, handler http.Handler, timeout time.Duration) *Server {
	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       timeout,
			WriteTimeout:      timeout,
			IdleTimeout:       2 * timeout,
		},
	}
}

// Serve runs the listener until the context is canceled, then shuts down
// gracefully. Implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	}
}
