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
	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/mqtt"
	"github.com/openaurae/openaurae/internal/validation"
)

// pathIDs returns the device and sensor path parameters, answering 400 and
// false when either is not a valid identifier.
func pathIDs(w http.ResponseWriter, r *http.Request, withSensor bool) (deviceID, sensorID string, ok bool) {
	deviceID = chi.URLParam(r, "deviceID")
	if !validation.IsEntityID(deviceID) {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid device id", nil)
		return "", "", false
	}
	if withSensor {
		sensorID = chi.URLParam(r, "sensorID")
		if !validation.IsEntityID(sensorID) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid sensor id", nil)
			return "", "", false
		}
	}
	return deviceID, sensorID, true
}

// Readings lists the latest readings of one sensor.
func (h *Handler) Readings(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Store == nil {
		unavailable(w, "reading store")
		return
	}
	deviceID, sensorID, ok := pathIDs(w, r, true)
	if !ok {
		return
	}
	req, apiErr := parseListRequest(r)
	if apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	readings, err := h.deps.Store.ListReadings(r.Context(), deviceID, sensorID, req.Limit)
	switch {
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "unknown sensor", nil)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "DATABASE_ERROR", "failed to list readings", err)
		return
	}
	if readings == nil {
		readings = []models.Reading{}
	}
	respondData(w, http.StatusOK, readings, start)
}

// UnpairSensor publishes a removal request to the sensor's bridge. The
// bridge acts asynchronously, so success means the request was delivered
// to the broker.
func (h *Handler) UnpairSensor(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.deps.Pairing == nil {
		unavailable(w, "MQTT")
		return
	}
	deviceID, sensorID, ok := pathIDs(w, r, true)
	if !ok {
		return
	}

	err := h.deps.Pairing.RequestSensorRemoval(r.Context(), deviceID, sensorID)
	switch {
	case errors.Is(err, mqtt.ErrNotConnected):
		respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "MQTT broker is not connected", nil)
		return
	case err != nil:
		respondError(w, http.StatusBadGateway, "BROKER_ERROR", "failed to publish removal request", err)
		return
	}

	logging.Ctx(r.Context()).Info().Str("device_id", deviceID).Str("sensor_id", sensorID).Msg("sensor removal requested")
	respondData(w, http.StatusAccepted, map[string]string{
		"device_id": deviceID,
		"sensor_id": sensorID,
	}, start)
}

// Live upgrades to a websocket that receives every reading stored for the
// device from now on.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	if h.deps.Hub == nil || h.deps.Upgrader == nil {
		unavailable(w, "live hub")
		return
	}
	deviceID, _, ok := pathIDs(w, r, false)
	if !ok {
		return
	}
	// The upgrader has already written an HTTP error on failure.
	if err := h.deps.Hub.ServeDevice(h.deps.Upgrader, w, r, deviceID); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Str("device_id", deviceID).Msg("websocket upgrade failed")
	}
}
