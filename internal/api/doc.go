// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
Package api serves the operator HTTP surface over chi.

Routes:

	GET    /healthz                                           database ping
	GET    /metrics                                           Prometheus exposition
	GET    /api/devices/{deviceID}/live                       websocket live readings
	GET    /api/devices/{deviceID}/sensors/{sensorID}/readings recent readings, newest first
	DELETE /api/devices/{deviceID}/sensors/{sensorID}/pairing remove a Zigbee sensor from its bridge
	POST   /api/sync/{account}/full                           start a full backfill
	GET    /api/quarantine                                    recent rejected messages

JSON bodies use the models.APIResponse envelope. Routes under /api/ that
mutate state or hit the vendor are throttled per client IP with httprate.
*/
package api
