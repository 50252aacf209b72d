// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package database

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/schema"
)

// UpsertReading writes r into the table of its sensor type. On a repeated
// (device, sensor, time) key only the metrics present in r are overwritten,
// so delivering the same reading twice leaves one row.
func (db *DB) UpsertReading(ctx context.Context, r *models.Reading) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("refusing to store reading: %w", err)
	}

	names := r.MetricNames()
	columns := make([]string, 0, len(names)+3)
	columns = append(columns, "device_id", "sensor_id", quoteIdent("time"))
	updates := make([]string, 0, len(names))
	args := make([]interface{}, 0, len(names)+3)
	args = append(args, r.DeviceID, r.SensorID, r.Time.UTC())

	for _, name := range names {
		col := quoteIdent(name)
		columns = append(columns, col)
		updates = append(updates, col+" = EXCLUDED."+col)
		args = append(args, r.Metrics[name].Interface())
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT (device_id, sensor_id, "time") DO UPDATE SET %s`,
		readingsTable(r.Type), strings.Join(columns, ", "), placeholders(1, len(args)), strings.Join(updates, ", "))

	return db.withRetry(ctx, "upsert_reading", func(ctx context.Context) error {
		if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to upsert %s reading for %s/%s: %w", r.Type, r.DeviceID, r.SensorID, err)
		}
		return nil
	})
}

// LatestReadingTime returns the newest stored reading time of sensor type t
// for a device. ok is false when the device has no such reading.
func (db *DB) LatestReadingTime(ctx context.Context, deviceID string, t schema.SensorType) (latest time.Time, ok bool, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	start := time.Now()

	var v sql.NullTime
	query := fmt.Sprintf(`SELECT MAX("time") FROM %s WHERE device_id = $1`, readingsTable(t))
	err = db.conn.QueryRowContext(ctx, query, deviceID).Scan(&v)
	observe("latest_reading_time", start, err)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest %s reading for %s: %w", t, deviceID, err)
	}
	if !v.Valid {
		return time.Time{}, false, nil
	}
	return v.Time.UTC(), true, nil
}

// ListReadings returns up to limit readings of one sensor, newest first.
func (db *DB) ListReadings(ctx context.Context, deviceID, sensorID string, limit int) ([]models.Reading, error) {
	sensor, err := db.GetSensorByID(ctx, deviceID, sensorID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	start := time.Now()

	fields := schema.FieldsFor(sensor.Type)
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	columns := make([]string, 0, len(fields)+1)
	columns = append(columns, quoteIdent("time"))
	for _, f := range fields {
		columns = append(columns, quoteIdent(f.Name))
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE device_id = $1 AND sensor_id = $2 ORDER BY "time" DESC LIMIT $3`,
		strings.Join(columns, ", "), readingsTable(sensor.Type))

	rows, err := db.conn.QueryContext(ctx, query, deviceID, sensorID, limit)
	if err != nil {
		observe("list_readings", start, err)
		return nil, fmt.Errorf("failed to list readings for %s/%s: %w", deviceID, sensorID, err)
	}
	defer closeWithLog(rows, "rows")

	var readings []models.Reading
	for rows.Next() {
		r, err := scanReading(rows, sensor, fields)
		if err != nil {
			observe("list_readings", start, err)
			return nil, err
		}
		readings = append(readings, r)
	}
	err = rows.Err()
	observe("list_readings", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}

func scanReading(rows *sql.Rows, sensor *models.Sensor, fields []schema.Field) (models.Reading, error) {
	var ts time.Time
	dest := make([]interface{}, 0, len(fields)+1)
	dest = append(dest, &ts)

	nums := make(map[string]*sql.NullFloat64)
	strs := make(map[string]*sql.NullString)
	bools := make(map[string]*sql.NullBool)
	for _, f := range fields {
		switch f.Kind {
		case schema.KindString:
			v := new(sql.NullString)
			strs[f.Name] = v
			dest = append(dest, v)
		case schema.KindBool:
			v := new(sql.NullBool)
			bools[f.Name] = v
			dest = append(dest, v)
		default:
			v := new(sql.NullFloat64)
			nums[f.Name] = v
			dest = append(dest, v)
		}
	}

	if err := rows.Scan(dest...); err != nil {
		return models.Reading{}, fmt.Errorf("failed to scan reading: %w", err)
	}

	metrics := make(map[string]models.Value)
	for name, v := range nums {
		if v.Valid {
			metrics[name] = models.Number(v.Float64)
		}
	}
	for name, v := range strs {
		if v.Valid {
			metrics[name] = models.String(v.String)
		}
	}
	for name, v := range bools {
		if v.Valid {
			metrics[name] = models.Bool(v.Bool)
		}
	}

	return models.Reading{
		DeviceID: sensor.DeviceID,
		SensorID: sensor.ID,
		Type:     sensor.Type,
		Time:     ts.UTC(),
		Metrics:  metrics,
	}, nil
}
