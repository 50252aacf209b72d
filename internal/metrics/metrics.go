// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package metrics declares the Prometheus collectors for ingestion, cloud
// sync, storage and the live hub. Collectors register on the default
// registry and are served by promhttp on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion
	IngestMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_total",
			Help: "Inbound telemetry messages by domain and outcome",
		},
		[]string{"domain", "outcome"}, // outcome: accepted, ignored, rejected, referential, store_error
	)

	IngestRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rejections_total",
			Help: "Rejected telemetry messages by reason",
		},
		[]string{"reason"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_processing_duration_seconds",
			Help:    "Time from bus delivery to upsert and fan-out",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
	)

	// Live fan-out
	LiveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_subscribers",
			Help: "Currently registered live reading subscribers",
		},
	)

	LiveMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "live_messages_dropped_total",
			Help: "Live frames dropped because a subscriber buffer was full",
		},
	)

	// Cloud sync
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_runs_total",
			Help: "Account sync runs by mode and status",
		},
		[]string{"account", "mode", "status"}, // status: success, error, locked
	)

	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sync_run_duration_seconds",
			Help:    "Duration of one account sync run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"account", "mode"},
	)

	SyncDevices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_devices_total",
			Help: "Device reconciliations by status",
		},
		[]string{"account", "status"}, // status: success, error, absent
	)

	SyncMeasureSets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_measure_sets_total",
			Help: "Measure-set decisions by result",
		},
		[]string{"account", "result"}, // result: migrated, unchanged, window_extended, capped, error
	)

	SyncReadingsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_readings_upserted_total",
			Help: "Readings written by cloud sync",
		},
		[]string{"account"},
	)

	// Vendor API
	NemoRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nemo_requests_total",
			Help: "Vendor API calls by endpoint and HTTP status",
		},
		[]string{"account", "endpoint", "status"},
	)

	NemoRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nemo_request_duration_seconds",
			Help:    "Vendor API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	NemoRelogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nemo_relogins_total",
			Help: "Session re-authentications after an expired session",
		},
		[]string{"account"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Storage
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "ReadingStore query latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "ReadingStore query errors",
		},
		[]string{"operation"},
	)

	// Operator API
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Operator API requests by method, route pattern and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Operator API request latency by route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Quarantine
	QuarantineEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quarantine_entries_total",
			Help: "Rejected messages written to quarantine",
		},
	)
)

// RecordIngest counts one processed message.
func RecordIngest(domain, outcome string, duration time.Duration) {
	IngestMessages.WithLabelValues(domain, outcome).Inc()
	IngestDuration.Observe(duration.Seconds())
}

// RecordRejection counts a normalizer rejection.
func RecordRejection(reason string) {
	IngestRejections.WithLabelValues(reason).Inc()
}

// RecordDBQuery observes one store operation.
func RecordDBQuery(operation string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

// RecordNemoRequest observes one vendor API call. status is the HTTP status
// code as text, or "error" when no response was received.
func RecordNemoRequest(account, endpoint, status string, duration time.Duration) {
	NemoRequests.WithLabelValues(account, endpoint, status).Inc()
	NemoRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordSyncRun observes one account run.
func RecordSyncRun(account, mode, status string, duration time.Duration) {
	SyncRuns.WithLabelValues(account, mode, status).Inc()
	SyncRunDuration.WithLabelValues(account, mode).Observe(duration.Seconds())
}

// RecordAPIRequest observes one operator API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequests.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
