// Budgetsync - Event-Driven Budget Synchronization Service
// Copyright 2026 FinFlow contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/finflow/budgetsync

// Package config loads application configuration with Koanf v2 in three
// layers: struct defaults, an optional YAML file, then environment
// variables. Precedence is ENV > file > defaults. Config is immutable
// after Load and safe for concurrent reads.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/budgetsync/config.yaml",
	"/etc/budgetsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Config holds all application configuration.
type Config struct {
	NATS     NATSConfig    `koanf:"nats"`
	Store    StoreConfig   `koanf:"store"`
	Sync     SyncConfig    `koanf:"sync"`
	Alerts   AlertsConfig  `koanf:"alerts"`
	Expense  RemoteConfig  `koanf:"expense"`
	Identity RemoteConfig  `koanf:"identity"`
	Server   ServerConfig  `koanf:"server"`
	Logging  LoggingConfig `koanf:"logging"`
}

// NATSConfig holds event bus transport settings.
type NATSConfig struct {
	URL              string        `koanf:"url" validate:"required"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	MaxMemory        int64         `koanf:"max_memory"`
	MaxStore         int64         `koanf:"max_store"`
	StreamName       string        `koanf:"stream_name" validate:"required"`
	RetentionDays    int           `koanf:"stream_retention_days" validate:"gte=1"`
	DurableName      string        `koanf:"durable_name" validate:"required"`
	QueueGroup       string        `koanf:"queue_group" validate:"required"`
	SubscribersCount int           `koanf:"subscribers_count" validate:"gte=1"`
	AckWait          time.Duration `koanf:"ack_wait"`
}

// StoreConfig selects and configures the budget store backend.
type StoreConfig struct {
	// Backend is "badger" for durable storage or "memory" for tests
	// and ephemeral deployments.
	Backend string `koanf:"backend" validate:"oneof=badger memory"`
	Path    string `koanf:"path"`
}

// SyncConfig holds delta application and reconciliation settings.
type SyncConfig struct {
	ReconcileInterval time.Duration `koanf:"reconcile_interval" validate:"gt=0"`
	ReconcileOnStart  bool          `koanf:"reconcile_on_start"`
	WriteRetries      int           `koanf:"write_retries" validate:"gte=1"`
	BatchSize         int           `koanf:"batch_size" validate:"gte=1"`
}

// AlertsConfig holds threshold evaluation settings.
type AlertsConfig struct {
	// WarningThreshold is the default spent percentage that raises a
	// warning when a budget doesn't carry its own threshold.
	WarningThreshold float64 `koanf:"warning_threshold" validate:"gt=0,lte=100"`
}

// RemoteConfig holds settings for one upstream service consumed through the
// resilient HTTP client.
type RemoteConfig struct {
	URL           string        `koanf:"url"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	RetryAttempts int           `koanf:"retry_attempts" validate:"gte=0"`
	RetryDelay    time.Duration `koanf:"retry_delay" validate:"gte=0"`
	RatePerSecond float64       `koanf:"rate_per_second"`
	RateBurst     int           `koanf:"rate_burst"`
	ServiceToken  string        `koanf:"service_token"`
}

// ServerConfig holds the HTTP listener for health and metrics endpoints.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns built-in defaults, applied before file and env layers.
func defaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			MaxMemory:        1 << 30,
			MaxStore:         10 << 30,
			StreamName:       "FINFLOW_EVENTS",
			RetentionDays:    7,
			DurableName:      "budget-sync",
			QueueGroup:       "budget-processors",
			SubscribersCount: 1,
			AckWait:          30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "badger",
			Path:    "/data/budgetsync",
		},
		Sync: SyncConfig{
			ReconcileInterval: 6 * time.Hour,
			ReconcileOnStart:  false,
			WriteRetries:      3,
			BatchSize:         100,
		},
		Alerts: AlertsConfig{
			WarningThreshold: 80.0,
		},
		Expense: RemoteConfig{
			URL:           "http://expense-service:3000",
			Timeout:       5 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    1 * time.Second,
			RatePerSecond: 50,
			RateBurst:     10,
		},
		Identity: RemoteConfig{
			URL:           "http://identity-service:3000",
			Timeout:       5 * time.Second,
			RetryAttempts: 3,
			RetryDelay:    1 * time.Second,
			RatePerSecond: 50,
			RateBurst:     10,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3861,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks structural constraints plus cross-field rules that
// struct tags can't express.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	if c.Store.Backend == "badger" && c.Store.Path == "" {
		return fmt.Errorf("store.path is required for the badger backend")
	}
	if c.NATS.EmbeddedServer && c.NATS.StoreDir == "" {
		return fmt.Errorf("nats.store_dir is required when the embedded server is enabled")
	}

	return nil
}

// findConfigFile returns the first config file found, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so unrelated environment noise never leaks
// into the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"nats_url":            "nats.url",
		"nats_embedded":       "nats.embedded_server",
		"nats_store_dir":      "nats.store_dir",
		"nats_max_memory":     "nats.max_memory",
		"nats_max_store":      "nats.max_store",
		"nats_stream_name":    "nats.stream_name",
		"nats_retention_days": "nats.stream_retention_days",
		"nats_durable_name":   "nats.durable_name",
		"nats_queue_group":    "nats.queue_group",
		"nats_subscribers":    "nats.subscribers_count",
		"nats_ack_wait":       "nats.ack_wait",

		"store_backend": "store.backend",
		"store_path":    "store.path",

		"sync_reconcile_interval": "sync.reconcile_interval",
		"sync_reconcile_on_start": "sync.reconcile_on_start",
		"sync_write_retries":      "sync.write_retries",
		"sync_batch_size":         "sync.batch_size",

		"alerts_warning_threshold": "alerts.warning_threshold",

		"expense_service_url":     "expense.url",
		"expense_timeout":         "expense.timeout",
		"expense_retry_attempts":  "expense.retry_attempts",
		"expense_retry_delay":     "expense.retry_delay",
		"expense_rate_per_second": "expense.rate_per_second",
		"expense_rate_burst":      "expense.rate_burst",
		"expense_service_token":   "expense.service_token",

		"identity_service_url":     "identity.url",
		"identity_timeout":         "identity.timeout",
		"identity_retry_attempts":  "identity.retry_attempts",
		"identity_retry_delay":     "identity.retry_delay",
		"identity_rate_per_second": "identity.rate_per_second",
		"identity_rate_burst":      "identity.rate_burst",
		"identity_service_token":   "identity.service_token",

		"http_port":    "server.port",
		"http_host":    "server.host",
		"http_timeout": "server.timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	return ""
}
