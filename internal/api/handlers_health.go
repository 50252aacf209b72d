// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package api

import (
	"net/http"
	"time"

	"github.com/openaurae/openaurae/internal/logging"
)

// HealthStatus is the body of GET /healthz.
type HealthStatus struct {
	Status            string  `json:"status"`
	DatabaseConnected bool    `json:"database_connected"`
	Uptime            float64 `json:"uptime_seconds"`
}

// Health reports process and database health. It answers 200 even when the
// database is down so the status field, not the code, carries the verdict.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	connected := false
	if h.deps.Store != nil {
		if err := h.deps.Store.Ping(r.Context()); err != nil {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("health check: database ping failed")
		} else {
			connected = true
		}
	}

	status := "healthy"
	if !connected {
		status = "degraded"
	}
	respondData(w, http.StatusOK, HealthStatus{
		Status:            status,
		DatabaseConnected: connected,
		Uptime:            time.Since(h.startTime).Seconds(),
	}, start)
}
