// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package quarantine

import (
	"context"
	"time"

	"github.com/openaurae/openaurae/internal/logging"
)

// GCRunner calls RunGC on an interval until its context ends.
type GCRunner struct {
	store    *Store
	interval time.Duration
}

// NewGCRunner returns a runner for s.
func NewGCRunner(s *Store, interval time.Duration) *GCRunner {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GCRunner{store: s, interval: interval}
}

// RunWithContext blocks until ctx is done.
func (g *GCRunner) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := g.store.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("quarantine GC failed")
			}
		}
	}
}
