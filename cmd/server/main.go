// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package main is the entry point for the OpenAurae server.
//
// OpenAurae ingests telemetry published by Zigbee and air-quality devices
// over MQTT, normalizes it into readings keyed by device, sensor, reading
// type and time, and periodically mirrors measurements held by Nemo cloud
// accounts into the same store.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: defaults, optional YAML file, environment (Koanf v2)
//  2. Database: DuckDB or PostgreSQL reading store
//  3. Quarantine: BadgerDB store for payloads that fail normalization
//  4. Bus: in-memory GoChannel or NATS JetStream between MQTT and ingestion
//  5. WebSocket Hub: live readings per device
//  6. Ingest Dispatcher: strictly ordered normalization and persistence
//  7. MQTT Bridge: broker subscription and sensor unpairing
//  8. Sync Manager: scheduled Nemo account reconciliation
//  9. HTTP Server: operator API, health and Prometheus metrics
//
// Every long-running component runs under a suture supervisor tree and is
// restarted with backoff when it fails.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (MQTT_HOST, BUS_MODE, DATABASE_DRIVER, NEMO_S5_URL, ...)
//   - Config file (CONFIG_PATH, ./config.yaml or /etc/openaurae/config.yaml)
//   - Built-in defaults
//
// A Nemo account takes part in the sync only when its URL is set. When
// REDIS_URL is set, sync runs take a Redis lock per account so that only one
// instance reconciles an account at a time.
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections and drains in-flight requests
//   - Disconnects from the broker and stops the dispatcher after the current message
//   - Waits for running account syncs
//   - Closes the bus, quarantine and database
//
// # Example Usage
//
//	export MQTT_HOST=mosquitto
//	export DUCKDB_PATH=/data/openaurae.duckdb
//	export NEMO_S5_URL=https://nemo.example.org
//	export NEMO_S5_OPERATOR=ops NEMO_S5_PASSWORD=secret NEMO_S5_COMPANY=acme
//	./openaurae
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openaurae/openaurae/internal/api"
	"github.com/openaurae/openaurae/internal/bus"
	"github.com/openaurae/openaurae/internal/config"
	"github.com/openaurae/openaurae/internal/database"
	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/supervisor"
	"github.com/openaurae/openaurae/internal/supervisor/services"
)

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// Load configuration first to get logging settings
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	logging.Info().
		Str("config", cfg.String()).
		Bool("mqtt_enabled", cfg.MQTT.Enabled).
		Bool("quarantine_enabled", cfg.Quarantine.Enabled).
		Msg("Starting OpenAurae with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Str("driver", cfg.Database.Driver).Msg("Database initialized successfully")

	qstore, err := openQuarantine(&cfg.Quarantine)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open quarantine store")
	}
	if qstore != nil {
		defer func() {
			if err := qstore.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing quarantine store")
			}
		}()
	}

	b, err := bus.New(ctx, cfg.Bus)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to start message bus")
	}
	defer func() {
		if err := b.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing message bus")
		}
	}()
	logging.Info().Str("mode", cfg.Bus.Mode).Str("topic", b.Topic()).Msg("Message bus ready")

	locker, closeLocker, err := newLocker(ctx, &cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize sync lock")
	}
	defer closeLocker()

	comps := buildComponents(cfg, db, qstore, b, locker)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}
	comps.register(tree)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(api.NewHandler(comps.apiDeps), api.NewMiddleware(api.MiddlewareConfigFromServer(&cfg.Server))).Setup(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server configured")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree stopped unexpectedly")
		}
		cancel()
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error during shutdown")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Server stopped")
}
