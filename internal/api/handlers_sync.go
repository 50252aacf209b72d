// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openaurae/openaurae/internal/logging"
	cloudsync "github.com/openaurae/openaurae/internal/sync"
)

// TriggerFullSync starts a full backfill of one vendor account in the
// background.
func (h *Handler) TriggerFullSync(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Sync == nil {
		unavailable(w, "cloud sync")
		return
	}
	account := chi.URLParam(r, "account")

	err := h.deps.Sync.TriggerFull(account)
	switch {
	case errors.Is(err, cloudsync.ErrUnknownAccount):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown account", nil)
		return
	case errors.Is(err, cloudsync.ErrLocked):
		respondError(w, http.StatusConflict, "CONFLICT", "a sync is already running for this account", nil)
		return
	case errors.Is(err, cloudsync.ErrNotRunning):
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "cloud sync is not running", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to start sync", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("account", sanitizeLogValue(account)).Msg("full sync accepted")
	respondData(w, http.StatusAccepted, map[string]string{
		"account": account,
		"mode":    string(cloudsync.ModeFull),
	}, start)
}
