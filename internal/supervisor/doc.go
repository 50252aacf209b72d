// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
Package supervisor runs the long-lived services of the server under a
suture v4 tree.

	root ("openaurae")
	├── data ("data-layer")
	│   └── quarantine-gc
	├── messaging ("messaging-layer")
	│   ├── live-hub
	│   ├── ingest-dispatcher
	│   ├── mqtt-bridge        (when mqtt.enabled)
	│   └── sync-manager       (when a nemo account is configured)
	└── api ("api-layer")
	    └── http-server

Each layer counts failures independently, so a broker outage that keeps
restarting the MQTT bridge does not take down the HTTP server. Supervisor
events are logged through sutureslog on the zerolog-backed slog logger.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	if err != nil {
	    return err
	}
	tree.AddDataService(services.NewRunnerService("quarantine-gc", gc.RunWithContext))
	tree.AddMessagingService(services.NewSyncService(manager))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	err = tree.Serve(ctx)
*/
package supervisor
