// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
Package websocket pushes freshly persisted readings to browsers watching a
device.

The Hub keeps one client set per device id. The ingestion dispatcher calls
PublishReading after every successful upsert; the hub queues the frame and
its run loop copies it into the send buffer of each client subscribed to that
device. Nothing on the publish path blocks: a full hub queue or a full client
buffer drops the frame and increments live_messages_dropped_total.

Each Client owns two goroutines:
  - readPump: answers application-level pings and detects disconnects
  - writePump: writes frames and keeps the connection alive with pings

Frames are JSON objects:

	{"type": "reading", "data": {"device_id": "...", "sensor_id": "...", "type": "zigbee_temp", "time": "...", "metrics": {...}}}

Usage:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	upgrader := websocket.NewUpgrader(cfg.Server.CORSOrigins)
	_ = hub.ServeDevice(&upgrader, w, r, deviceID)
*/
package websocket
