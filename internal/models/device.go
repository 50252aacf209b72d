// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package models defines the records shared by ingestion, cloud sync and
// storage.
package models

import (
	"time"

	"github.com/openaurae/openaurae/internal/schema"
)

// Device is a physical or cloud-registered box carrying one or more sensors.
// IsPublic and UserID belong to the API layer; ingestion and sync never
// overwrite them on an existing row.
type Device struct {
	ID        string            `json:"id" validate:"required,max=64"`
	Name      string            `json:"name"`
	Type      schema.DeviceType `json:"type" validate:"required,oneof=zigbee air_quality nemo_cloud"`
	Latitude  *float64          `json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude *float64          `json:"longitude,omitempty" validate:"omitempty,longitude"`
	Building  *string           `json:"building,omitempty"`
	Room      *string           `json:"room,omitempty"`
	IsPublic  bool              `json:"is_public"`
	UserID    *string           `json:"user_id,omitempty"`
}

// Sensor is unique per (DeviceID, ID).
type Sensor struct {
	DeviceID string            `json:"device_id" validate:"required,max=64"`
	ID       string            `json:"id" validate:"required,max=64"`
	Name     string            `json:"name"`
	Type     schema.SensorType `json:"type" validate:"required,sensortype"`
}

// Location is a building/room pair decoded from a free-text label.
// Both fields are nil for an unset label.
type Location struct {
	Building *string `json:"building,omitempty"`
	Room     *string `json:"room,omitempty"`
}

// SyncCheckpoint records what was last migrated for one vendor measure-set.
type SyncCheckpoint struct {
	DeviceID     string    `json:"device_id"`
	MeasureSetID int64     `json:"measure_set_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	ValuesNumber int64     `json:"values_number"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Unchanged reports whether the vendor still reports the same value count.
func (c *SyncCheckpoint) Unchanged(valuesNumber int64) bool {
	return c != nil && c.ValuesNumber == valuesNumber
}

// WindowMoved reports whether the vendor window differs from the stored one.
func (c *SyncCheckpoint) WindowMoved(start, end time.Time) bool {
	return c == nil || !c.Start.Equal(start) || !c.End.Equal(end)
}
