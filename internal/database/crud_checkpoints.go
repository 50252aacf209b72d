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
)

// GetSyncCheckpoint returns ErrNotFound when the measure-set was never
// migrated.
func (db *DB) GetSyncCheckpoint(ctx context.Context, deviceID string, measureSetID int64) (*models.SyncCheckpoint, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()
	start := time.Now()

	var cp models.SyncCheckpoint
	err := db.conn.QueryRowContext(ctx,
		`SELECT device_id, measure_set_id, start_time, end_time, values_number, updated_at
		FROM nemo_measure_sets WHERE device_id = $1 AND measure_set_id = $2`,
		deviceID, measureSetID,
	).Scan(&cp.DeviceID, &cp.MeasureSetID, &cp.Start, &cp.End, &cp.ValuesNumber, &cp.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		observe("get_checkpoint", start, nil)
		return nil, ErrNotFound
	}
	observe("get_checkpoint", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint %s/%d: %w", deviceID, measureSetID, err)
	}

	cp.Start = cp.Start.UTC()
	cp.End = cp.End.UTC()
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return &cp, nil
}

// UpsertSyncCheckpoint records the window and value count last migrated.
// It must only be called after every reading of the measure-set is stored.
func (db *DB) UpsertSyncCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	query := `INSERT INTO nemo_measure_sets (device_id, measure_set_id, start_time, end_time, values_number, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (device_id, measure_set_id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			values_number = EXCLUDED.values_number,
			updated_at = EXCLUDED.updated_at`

	return db.withRetry(ctx, "upsert_checkpoint", func(ctx context.Context) error {
		_, err := db.conn.ExecContext(ctx, query,
			cp.DeviceID, cp.MeasureSetID, cp.Start.UTC(), cp.End.UTC(), cp.ValuesNumber, cp.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert checkpoint %s/%d: %w", cp.DeviceID, cp.MeasureSetID, err)
		}
		return nil
	})
}
