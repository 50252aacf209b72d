// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
Package sync copies Nemo Cloud measurements into the reading store.

Three layers:
  - Reconciler handles one device: details, location, measure-set
    selection, checkpoint comparison and per-timestamp reading upserts.
  - Orchestrator handles one account: login, device listing and a bounded
    fan-out of reconciliations where no device can fail another.
  - Manager schedules incremental runs for every active account and starts
    operator-requested full backfills.

Modes:
  - incremental: only measure-sets ending at or after the newest stored
    nemo_cloud reading of the device (every set when none is stored)
  - full: every measure-set of the device

In both modes measure-sets are migrated oldest first and at most
nemo.max_measure_sets_per_device new or changed sets are migrated per device
per run; the rest are picked up by the next run. A measure-set whose value
count matches its checkpoint is not fetched again, but the checkpoint window
is still refreshed.

Every write is an idempotent upsert, so an interrupted run needs no cleanup.
A Locker keeps two runs of the same account from overlapping, across
instances when Redis is configured.
*/
package sync
