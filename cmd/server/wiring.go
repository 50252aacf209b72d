// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/openaurae/openaurae/internal/api"
	"github.com/openaurae/openaurae/internal/bus"
	"github.com/openaurae/openaurae/internal/config"
	"github.com/openaurae/openaurae/internal/ingest"
	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/mqtt"
	"github.com/openaurae/openaurae/internal/quarantine"
	"github.com/openaurae/openaurae/internal/supervisor"
	"github.com/openaurae/openaurae/internal/supervisor/services"
	cloudsync "github.com/openaurae/openaurae/internal/sync"
	"github.com/openaurae/openaurae/internal/websocket"
)

// Store is what the server needs from the database across ingestion, sync
// and the operator API.
type Store interface {
	ingest.ReadingStore
	cloudsync.Store
	api.ReadingStore
}

// components holds everything the supervisor tree runs, plus the operator
// API dependencies built from them.
type components struct {
	hub        *websocket.Hub
	dispatcher *ingest.Dispatcher
	bridge     *mqtt.Bridge
	sync       *cloudsync.Manager
	gc         *quarantine.GCRunner
	apiDeps    api.Dependencies
}

// openQuarantine returns nil when quarantine is disabled.
func openQuarantine(cfg *config.QuarantineConfig) (*quarantine.Store, error) {
	if !cfg.Enabled {
		logging.Info().Msg("Quarantine disabled, rejected payloads are only logged")
		return nil, nil
	}
	return quarantine.Open(quarantine.Config{
		Path:     cfg.Path,
		InMemory: cfg.InMemory,
		TTL:      cfg.TTL,
	})
}

// newLocker picks the Redis lock when a URL is configured and the
// process-local lock otherwise. The returned func releases the client.
func newLocker(ctx context.Context, cfg *config.RedisConfig) (cloudsync.Locker, func(), error) {
	if cfg.URL == "" {
		logging.Info().Msg("Redis not configured, sync lock is process-local")
		return cloudsync.NewLocalLocker(), func() {}, nil
	}

	locker, err := cloudsync.NewRedisLocker(cfg.URL, cfg.LockTTL)
	if err != nil {
		return nil, nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := locker.Ping(pingCtx); err != nil {
		_ = locker.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logging.Info().Dur("lock_ttl", cfg.LockTTL).Msg("Sync lock backed by Redis")
	return locker, func() {
		if err := locker.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing Redis client")
		}
	}, nil
}

// buildComponents wires ingestion, live delivery, the MQTT bridge and the
// cloud sync around store. qstore may be nil.
func buildComponents(cfg *config.Config, store Store, qstore *quarantine.Store, b *bus.Bus, locker cloudsync.Locker) *components {
	c := &components{hub: websocket.NewHub()}

	dcfg := ingest.DispatcherConfig{
		Normalizer: ingest.NewNormalizer(),
		Store:      store,
		Live:       c.hub,
		Subscriber: b.Subscriber(),
		Topic:      b.Topic(),
	}
	upgrader := websocket.NewUpgrader(cfg.Server.CORSOrigins)
	c.apiDeps = api.Dependencies{
		Store:    store,
		Hub:      c.hub,
		Upgrader: &upgrader,
	}

	// Interface fields stay nil unless the component exists; the handlers
	// answer 503 for nil dependencies.
	if qstore != nil {
		dcfg.Quarantine = qstore
		c.apiDeps.Quarantine = qstore
		c.gc = quarantine.NewGCRunner(qstore, cfg.Quarantine.GCInterval)
	}
	c.dispatcher = ingest.NewDispatcher(dcfg)

	if cfg.MQTT.Enabled {
		c.bridge = mqtt.NewBridge(cfg.MQTT, b)
		c.apiDeps.Pairing = c.bridge
	} else {
		logging.Warn().Msg("MQTT disabled, no device telemetry will be ingested")
	}

	c.sync = cloudsync.NewManagerFromConfig(&cfg.Nemo, store, locker)
	c.apiDeps.Sync = c.sync
	if accounts := cfg.Nemo.ActiveAccounts(); len(accounts) > 0 {
		logging.Info().Strs("accounts", accounts).Dur("interval", cfg.Nemo.Interval).Msg("Nemo sync configured")
	} else {
		logging.Info().Msg("No Nemo account has a URL, cloud sync is idle")
	}

	return c
}

// register adds every component to its layer. The API layer is added by the
// caller once the HTTP server exists.
func (c *components) register(tree *supervisor.SupervisorTree) {
	if c.gc != nil {
		tree.AddDataService(services.NewRunnerService("quarantine-gc", c.gc.RunWithContext))
	}

	tree.AddMessagingService(services.NewRunnerService("live-hub", c.hub.RunWithContext))
	tree.AddMessagingService(services.NewRunnerService("ingest-dispatcher", c.dispatcher.Run))
	if c.bridge != nil {
		tree.AddMessagingService(services.NewRunnerService("mqtt-bridge", c.bridge.RunWithContext))
	}
	tree.AddMessagingService(services.NewSyncService(c.sync))
}
