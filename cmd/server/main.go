// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Command server runs the budget synchronization service: an embedded or
// external NATS JetStream bus, the expense event consumer, the periodic
// reconciler, and the operational HTTP API, all under one supervisor tree.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/finflow/budgetsync/internal/api"
	"github.com/finflow/budgetsync/internal/config"
	"github.com/finflow/budgetsync/internal/eventbus"
	"github.com/finflow/budgetsync/internal/logging"
	"github.com/finflow/budgetsync/internal/store"
	"github.com/finflow/budgetsync/internal/supervisor"
	syncsvc "github.com/finflow/budgetsync/internal/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("nats_url", cfg.NATS.URL).
		Str("store_backend", cfg.Store.Backend).
		Msg("Starting budget sync service")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Embedded broker for single-binary deployments.
	var embedded *eventbus.EmbeddedServer
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		serverCfg := eventbus.DefaultServerConfig()
		serverCfg.StoreDir = cfg.NATS.StoreDir
		serverCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		serverCfg.JetStreamMaxStore = cfg.NATS.MaxStore

		embedded, err = eventbus.NewEmbeddedServer(&serverCfg)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		natsURL = embedded.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	}

	// The stream must exist before publishers and subscribers attach.
	nc, err := nats.Connect(natsURL, nats.RetryOnFailedConnect(true))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to NATS")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create JetStream context")
	}

	streamCfg := eventbus.DefaultStreamConfig()
	streamCfg.Name = cfg.NATS.StreamName
	streamCfg.MaxAge = time.Duration(cfg.NATS.RetentionDays) * 24 * time.Hour

	streamInit, err := eventbus.NewStreamInitializer(js, &streamCfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stream initializer")
	}
	if _, err := streamInit.EnsureStreamWithRetry(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision event stream")
	}
	logging.Info().Str("stream", streamCfg.Name).Msg("Event stream ready")

	wmLogger := logging.NewWatermillAdapter()

	publisher, err := eventbus.NewPublisher(eventbus.DefaultPublisherConfig(natsURL), wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create publisher")
	}
	defer publisher.Close()
	publisher.EnableCircuitBreaker(eventbus.DefaultCircuitBreakerConfig("budget-publish"))

	subCfg := eventbus.DefaultSubscriberConfig(natsURL)
	subCfg.DurableName = cfg.NATS.DurableName
	subCfg.QueueGroup = cfg.NATS.QueueGroup
	subCfg.SubscribersCount = cfg.NATS.SubscribersCount
	subCfg.AckWaitTimeout = cfg.NATS.AckWait
	subCfg.StreamName = cfg.NATS.StreamName

	subscriber, err := eventbus.NewSubscriber(&subCfg, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create subscriber")
	}
	defer subscriber.Close()

	budgetStore, alertStore, closeStore, err := openStores(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer closeStore()

	expenseClient := syncsvc.NewExpenseClient(cfg.Expense)
	identityClient := syncsvc.NewIdentityClient(cfg.Identity)

	if err := expenseClient.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Expense service unreachable at startup (will retry)")
	}
	if err := identityClient.Ping(ctx); err != nil {
		logging.Warn().Err(err).Msg("Identity service unreachable at startup (will retry)")
	}
	warnIfTokenExpiring("expense", expenseClient.TokenSource())
	warnIfTokenExpiring("identity", identityClient.TokenSource())

	eventPublisher := syncsvc.NewBudgetEventPublisher(publisher)
	service := syncsvc.NewService(budgetStore, expenseClient, eventPublisher, cfg.Sync.WriteRetries)
	alerts := syncsvc.NewAlertService(budgetStore, alertStore, eventPublisher,
		cfg.Alerts.WarningThreshold, cfg.Sync.WriteRetries)
	consumer := syncsvc.NewConsumer(subscriber, service, alerts, identityClient, cfg.Sync.BatchSize)
	reconciler := syncsvc.NewReconciler(budgetStore, service, alerts,
		cfg.Sync.ReconcileInterval, cfg.Sync.ReconcileOnStart)

	router := api.NewRouter(budgetStore, alerts, service, cfg.Server.Timeout)
	router.AddReadinessCheck("stream", func() bool {
		checkCtx, checkCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer checkCancel()
		return streamInit.IsHealthy(checkCtx)
	})
	if embedded != nil {
		router.AddReadinessCheck("nats", embedded.IsRunning)
	}

	httpServer := api.NewServer(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		router.Handler(),
		cfg.Server.Timeout,
	)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(consumer)
	tree.AddMessagingService(reconciler)
	tree.AddAPIService(httpServer)

	err = tree.Serve(ctx)

	if embedded != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if sErr := embedded.Shutdown(shutdownCtx); sErr != nil {
			logging.Warn().Err(sErr).Msg("Embedded NATS shutdown incomplete")
		}
		shutdownCancel()
	}
	nc.Close()

	if err != nil && ctx.Err() == nil {
		logging.Fatal().Err(err).Msg("Supervisor exited with error")
	}
	logging.Info().Msg("Budget sync service stopped")
}

// warnIfTokenExpiring flags a service token that is about to expire so the
// operator can rotate it before requests start failing with 401s.
func warnIfTokenExpiring(service string, tokens *syncsvc.TokenSource) {
	if tokens.Token() == "" {
		return
	}
	expiring, err := tokens.ExpiresWithin(24 * time.Hour)
	if err != nil {
		// Opaque static tokens are fine, their expiry just can't be watched.
		logging.Debug().Err(err).Str("service", service).Msg("Service token is not inspectable")
		return
	}
	if expiring {
		logging.Warn().Str("service", service).Msg("Service token expires within 24h, rotate it")
	}
}

// openStores builds the configured store backend. Both return values point
// at the same adapter; the interfaces keep callers honest about which
// surface they use.
func openStores(cfg config.StoreConfig) (store.BudgetStore, store.AlertStore, func(), error) {
	switch cfg.Backend {
	case "memory":
		ms := store.NewMemoryStore()
		return ms, ms, func() {}, nil
	default:
		bs, err := store.OpenBadgerStore(cfg.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if err := bs.Close(); err != nil {
				logging.Warn().Err(err).Msg("Store close failed")
			}
		}
		return bs, bs, closeFn, nil
	}
}
