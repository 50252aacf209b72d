// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/schema"
)

// UpsertDevice inserts or refreshes a device. IsPublic and UserID are only
// written on insert; an existing row keeps its values.
func (db *DB) UpsertDevice(ctx context.Context, d *models.Device) error {
	query := `INSERT INTO devices (id, name, type, latitude, longitude, building, room, is_public, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			building = EXCLUDED.building,
			room = EXCLUDED.room`

	return db.withRetry(ctx, "upsert_device", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, query,
			d.ID, d.Name, string(d.Type), d.Latitude, d.Longitude, d.Building, d.Room, d.IsPublic, d.UserID)
		if err != nil {
			return fmt.Errorf("failed to upsert device %s: %w", d.ID, err)
		}
		return nil
	})
}

// GetDeviceByID returns ErrNotFound when the device does not exist.
func (db *DB) GetDeviceByID(ctx context.Context, id string) (*models.Device, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	start := time.Now()

	query := `SELECT id, name, type, latitude, longitude, building, room, is_public, user_id
		FROM devices WHERE id = $1`

	var (
		d          models.Device
		deviceType string
		lat, lon   sql.NullFloat64
		building   sql.NullString
		room       sql.NullString
		userID     sql.NullString
	)
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&d.ID, &d.Name, &deviceType, &lat, &lon, &building, &room, &d.IsPublic, &userID)
	if errors.Is(err, sql.ErrNoRows) {
		observe("get_device", start, nil)
		return nil, ErrNotFound
	}
	observe("get_device", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get device %s: %w", id, err)
	}

	d.Type = schema.DeviceType(deviceType)
	d.Latitude = nullFloat(lat)
	d.Longitude = nullFloat(lon)
	d.Building = nullString(building)
	d.Room = nullString(room)
	d.UserID = nullString(userID)
	return &d, nil
}

// UpsertSensor inserts a sensor or refreshes its name and type.
func (db *DB) UpsertSensor(ctx context.Context, s *models.Sensor) error {
	query := `INSERT INTO sensors (device_id, id, name, type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (device_id, id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type`

	return db.withRetry(ctx, "upsert_sensor", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, query, s.DeviceID, s.ID, s.Name, string(s.Type))
		if err != nil {
			return fmt.Errorf("failed to upsert sensor %s/%s: %w", s.DeviceID, s.ID, err)
		}
		return nil
	})
}

// GetSensorByID returns ErrNotFound when the sensor is not registered.
func (db *DB) GetSensorByID(ctx context.Context, deviceID, sensorID string) (*models.Sensor, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	start := time.Now()

	var (
		s          models.Sensor
		sensorType string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT device_id, id, name, type FROM sensors WHERE device_id = $1 AND id = $2`,
		deviceID, sensorID,
	).Scan(&s.DeviceID, &s.ID, &s.Name, &sensorType)
	if errors.Is(err, sql.ErrNoRows) {
		observe("get_sensor", start, nil)
		return nil, ErrNotFound
	}
	observe("get_sensor", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor %s/%s: %w", deviceID, sensorID, err)
	}

	t, err := schema.ParseSensorType(sensorType)
	if err != nil {
		return nil, fmt.Errorf("sensor %s/%s: %w", deviceID, sensorID, err)
	}
	s.Type = t
	return &s, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
