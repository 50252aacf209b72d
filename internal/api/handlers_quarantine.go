// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package api

import (
	"net/http"
	"time"

	"github.com/openaurae/openaurae/internal/quarantine"
)

// Quarantine lists the most recent rejected messages, newest first.
func (h *Handler) Quarantine(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Quarantine == nil {
		unavailable(w, "quarantine")
		return
	}
	req, apiErr := parseListRequest(r)
	if apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	entries, err := h.deps.Quarantine.List(r.Context(), req.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list quarantine", err)
		return
	}
	if entries == nil {
		entries = []*quarantine.Entry{}
	}
	respondData(w, http.StatusOK, entries, start)
}
