// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
Package services adapts server components to suture.Service.

  - HTTPServerService: ListenAndServe plus graceful Shutdown.
  - SyncService: a Start/Stop manager such as the cloud sync manager.
  - RunnerService: any blocking func(ctx) error, used for the live hub,
    the ingestion dispatcher, the MQTT bridge and quarantine GC.

Every wrapper implements fmt.Stringer so supervisor events name it.
*/
package services
