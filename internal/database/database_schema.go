// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
database_schema.go - Table bootstrap

Tables:
  - devices: one row per physical box or cloud device
  - sensors: keyed by (device_id, id), carries the sensor type
  - readings_<sensor_type>: one table per sensor type, one nullable column
    per declared metric, keyed by (device_id, sensor_id, time)
  - nemo_measure_sets: sync checkpoints keyed by (device_id, measure_set_id)

Reading tables are generated from the schema registry so a new metric only
needs a registry entry. Column types are spelled so DuckDB and Postgres
accept the same DDL. Tables are created IF NOT EXISTS, and metric columns
declared after a table was created are added with ADD COLUMN IF NOT EXISTS.
Nothing is ever dropped.
*/

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openaurae/openaurae/internal/schema"
)

// readingsTable returns the table holding readings of sensor type t.
func readingsTable(t schema.SensorType) string {
	return "readings_" + string(t)
}

func sqlType(k schema.Kind) string {
	switch k {
	case schema.KindString:
		return "TEXT"
	case schema.KindBool:
		return "BOOLEAN"
	default:
		return "FLOAT8"
	}
}

func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	for _, query := range tableCreationQueries() {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}
	return nil
}

func tableCreationQueries() []string {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			latitude FLOAT8,
			longitude FLOAT8,
			building TEXT,
			room TEXT,
			is_public BOOLEAN NOT NULL DEFAULT false,
			user_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS sensors (
			device_id TEXT NOT NULL,
			id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			PRIMARY KEY (device_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS nemo_measure_sets (
			device_id TEXT NOT NULL,
			measure_set_id BIGINT NOT NULL,
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP NOT NULL,
			values_number BIGINT NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (device_id, measure_set_id)
		)`,
	}
	for _, t := range schema.AllSensorTypes() {
		queries = append(queries, readingsTableDDL(t))
		queries = append(queries, readingsColumnDDL(t)...)
	}
	return queries
}

// readingsColumnDDL adds every declared metric column missing from an older table.
func readingsColumnDDL(t schema.SensorType) []string {
	fields := schema.FieldsFor(t)
	queries := make([]string, 0, len(fields))
	for _, f := range fields {
		queries = append(queries, fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s",
			readingsTable(t), quoteIdent(f.Name), sqlType(f.Kind)))
	}
	return queries
}

func readingsTableDDL(t schema.SensorType) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", readingsTable(t))
	b.WriteString("\t\t\tdevice_id TEXT NOT NULL,\n")
	b.WriteString("\t\t\tsensor_id TEXT NOT NULL,\n")
	b.WriteString("\t\t\t\"time\" TIMESTAMP NOT NULL,\n")
	for _, f := range schema.FieldsFor(t) {
		fmt.Fprintf(&b, "\t\t\t%s %s,\n", quoteIdent(f.Name), sqlType(f.Kind))
	}
	b.WriteString("\t\t\tPRIMARY KEY (device_id, sensor_id, \"time\")\n\t\t)")
	return b.String()
}
