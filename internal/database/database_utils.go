// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openaurae/openaurae/internal/metrics"
)

const defaultQueryTimeout = 30 * time.Second

// ensureContext adds a 30 second timeout to contexts without a deadline.
func (db *DB) ensureContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), defaultQueryTimeout)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		return context.WithTimeout(ctx, defaultQueryTimeout)
	}
	return ctx, func() {}
}

// Checkpoint forces a DuckDB WAL checkpoint. It is a no-op on Postgres.
func (db *DB) Checkpoint(ctx context.Context) error {
	if db.driver != DriverDuckDB {
		return nil
	}
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		return fmt.Errorf("checkpoint failed: %w", err)
	}
	return nil
}

// withRetry runs a write, retrying transaction conflicts with a short
// exponential backoff. Other errors are returned at once.
func (db *DB) withRetry(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	const maxRetries = 3
	start := time.Now()
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			metrics.RecordDBQuery(operation, time.Since(start), nil)
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			metrics.RecordDBQuery(operation, time.Since(start), err)
			return fmt.Errorf("operation timed out or canceled: %w", ctx.Err())
		}
		if !isTransactionConflict(err) || attempt == maxRetries-1 {
			break
		}

		backoff := time.Millisecond * time.Duration(1<<uint(attempt))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			metrics.RecordDBQuery(operation, time.Since(start), ctx.Err())
			return ctx.Err()
		}
	}

	metrics.RecordDBQuery(operation, time.Since(start), lastErr)
	return lastErr
}

// observe records the duration of a read.
func observe(operation string, start time.Time, err error) {
	metrics.RecordDBQuery(operation, time.Since(start), err)
}

// quoteIdent quotes an identifier for both engines. Names come from the
// schema registry, never from input.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholders returns "$from, $from+1, ..." for n arguments.
func placeholders(from, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", from+i)
	}
	return b.String()
}
