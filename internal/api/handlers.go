// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package api

import (
	"context"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/quarantine"
)

// ReadingStore is the read side of the database used by the API.
type ReadingStore interface {
	Ping(ctx context.Context) error
	ListReadings(ctx context.Context, deviceID, sensorID string, limit int) ([]models.Reading, error)
}

// PairingController asks a Zigbee bridge to forget a sensor.
type PairingController interface {
	RequestSensorRemoval(ctx context.Context, deviceID, sensorID string) error
}

// SyncTrigger starts an operator backfill for one vendor account.
type SyncTrigger interface {
	TriggerFull(account string) error
}

// QuarantineLister lists recently rejected messages.
type QuarantineLister interface {
	List(ctx context.Context, limit int) ([]*quarantine.Entry, error)
}

// LiveHub upgrades a request into a live reading subscription.
type LiveHub interface {
	ServeDevice(upgrader *gorillaws.Upgrader, w http.ResponseWriter, r *http.Request, deviceID string) error
}

// Dependencies are the collaborators behind the handlers. Nil members
// turn their routes into 503 responses.
type Dependencies struct {
	Store      ReadingStore
	Pairing    PairingController
	Sync       SyncTrigger
	Quarantine QuarantineLister
	Hub        LiveHub
	Upgrader   *gorillaws.Upgrader
}

// Handler implements the operator endpoints.
type Handler struct {
	deps      Dependencies
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps, startTime: time.Now()}
}

const defaultListLimit = 100

// listRequest bounds list endpoints.
type listRequest struct {
	Limit int `validate:"gte=1,lte=1000"`
}

func parseListRequest(r *http.Request) (listRequest, *models.APIError) {
	req := listRequest{Limit: getIntParam(r, "limit", defaultListLimit)}
	return req, validateRequest(&req)
}

func unavailable(w http.ResponseWriter, what string) {
	respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", what+" is not enabled", nil)
}
