// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package models

import "errors"

// ErrNotFound is returned by stores when a keyed record does not exist.
var ErrNotFound = errors.New("not found")
