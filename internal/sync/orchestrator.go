// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
	"github.com/openaurae/openaurae/internal/nemo"
)

// DefaultMaxConcurrentDevices bounds parallel reconciliations per account.
const DefaultMaxConcurrentDevices = 4

// RunResult summarizes one account run.
type RunResult struct {
	Account   string
	Mode      Mode
	Devices   int
	Succeeded int
	Absent    int
	Failed    int
	Migrated  int
	Readings  int
	Duration  time.Duration
}

// Orchestrator runs reconciliations for every device of one account.
type Orchestrator struct {
	account       string
	session       nemo.Session
	reconciler    *Reconciler
	maxConcurrent int
	logger        zerolog.Logger
}

// NewOrchestrator builds an Orchestrator. maxConcurrent <= 0 uses the default.
func NewOrchestrator(account string, session nemo.Session, reconciler *Reconciler, maxConcurrent int) *Orchestrator {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentDevices
	}
	return &Orchestrator{
		account:       account,
		session:       session,
		reconciler:    reconciler,
		maxConcurrent: maxConcurrent,
		logger:        logging.WithComponent("sync").With().Str("account", account).Logger(),
	}
}

// Account is the account this orchestrator runs.
func (o *Orchestrator) Account() string {
	return o.account
}

// Run logs in, lists devices and reconciles all of them. Only a failed login
// or device listing fails the run; device failures are logged and counted.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{Account: o.account, Mode: mode}
	if logging.CorrelationIDFromContext(ctx) == "" {
		ctx = logging.ContextWithNewCorrelationID(ctx)
	}
	logger := runLogger(ctx, o.logger)

	if err := o.session.Login(ctx); err != nil {
		return nil, fmt.Errorf("login to %s: %w", o.account, err)
	}
	devices, err := o.session.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices of %s: %w", o.account, err)
	}
	result.Devices = len(devices)
	logger.Info().Int("devices", len(devices)).Str("mode", string(mode)).Msg("sync run started")

	var (
		mu stdsync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.maxConcurrent)

	for _, d := range devices {
		serial := d.Serial
		g.Go(func() error {
			res, err := o.reconciler.ReconcileDevice(ctx, serial, mode)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				metrics.SyncDevices.WithLabelValues(o.account, "error").Inc()
				logger.Error().Err(err).Str("device_id", serial).Msg("device sync failed")
			case res.Absent:
				result.Absent++
				metrics.SyncDevices.WithLabelValues(o.account, "absent").Inc()
			default:
				result.Succeeded++
				result.Migrated += res.Migrated
				result.Readings += res.Readings
				metrics.SyncDevices.WithLabelValues(o.account, "success").Inc()
			}
			// Never fail the group: siblings must keep running.
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(start)
	logger.Info().
		Int("devices", result.Devices).
		Int("succeeded", result.Succeeded).
		Int("absent", result.Absent).
		Int("failed", result.Failed).
		Int("migrated", result.Migrated).
		Int("readings", result.Readings).
		Dur("duration", result.Duration).
		Msg("sync run finished")
	return result, nil
}

// runLogger adds the correlation id carried by ctx to base.
func runLogger(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	return *logging.Ctx(logging.ContextWithLogger(ctx, base))
}
