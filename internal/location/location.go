// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package location decodes "<building>_<room>[_Env]" labels into a
// building and a room.
package location

import (
	"regexp"
	"strings"

	"github.com/openaurae/openaurae/internal/models"
)

// DefaultRoomLabel is the label the vendor assigns to devices without a room.
const DefaultRoomLabel = "Pièce par défaut"

// The building is everything before the first underscore; a single trailing
// "_Env" is dropped from the room.
var labelPattern = regexp.MustCompile(`^([^_]+?)_(.+?)(_Env)?$`)

// Parse splits a label. Empty, default and unmatched labels yield an empty
// Location.
//
//	Parse("60_G.25_MSM_Central_Env") // building "60", room "G.25 MSM Central"
func Parse(label string) models.Location {
	label = strings.TrimSpace(label)
	if label == "" || label == DefaultRoomLabel {
		return models.Location{}
	}

	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return models.Location{}
	}

	building := m[1]
	room := strings.ReplaceAll(m[2], "_", " ")
	return models.Location{Building: &building, Room: &room}
}
