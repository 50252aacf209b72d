// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/openaurae/openaurae/internal/location"
	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/nemo"
	"github.com/openaurae/openaurae/internal/schema"
)

// Mode selects which measure-sets a run considers.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// DefaultMaxMeasureSets caps migrated measure-sets per device per run.
const DefaultMaxMeasureSets = 2

// Store is the part of the reading store the sync writes through.
type Store interface {
	UpsertDevice(ctx context.Context, d *models.Device) error
	UpsertSensor(ctx context.Context, s *models.Sensor) error
	UpsertReading(ctx context.Context, r *models.Reading) error
	LatestReadingTime(ctx context.Context, deviceID string, t schema.SensorType) (time.Time, bool, error)
	GetSyncCheckpoint(ctx context.Context, deviceID string, measureSetID int64) (*models.SyncCheckpoint, error)
	UpsertSyncCheckpoint(ctx context.Context, cp *models.SyncCheckpoint) error
}

// DeviceResult summarizes one reconciliation.
type DeviceResult struct {
	Serial         string
	Absent         bool
	Candidates     int
	Migrated       int
	Unchanged      int
	WindowExtended int
	Capped         int
	Failed         int
	Readings       int
}

// Reconciler brings one device of one account up to date.
type Reconciler struct {
	account        string
	session        nemo.Session
	store          Store
	maxMeasureSets int
	logger         zerolog.Logger
}

// NewReconciler builds a Reconciler. maxMeasureSets <= 0 uses the default.
func NewReconciler(account string, session nemo.Session, store Store, maxMeasureSets int) *Reconciler {
	if maxMeasureSets <= 0 {
		maxMeasureSets = DefaultMaxMeasureSets
	}
	return &Reconciler{
		account:        account,
		session:        session,
		store:          store,
		maxMeasureSets: maxMeasureSets,
		logger:         logging.WithComponent("sync").With().Str("account", account).Logger(),
	}
}

// ReconcileDevice syncs one device. A returned error means the device could
// not be processed at all; measure-set failures are logged and counted in
// the result instead.
func (r *Reconciler) ReconcileDevice(ctx context.Context, serial string, mode Mode) (*DeviceResult, error) {
	result := &DeviceResult{Serial: serial}
	logger := runLogger(ctx, r.logger).With().Str("device_id", serial).Str("mode", string(mode)).Logger()

	details, err := r.session.DeviceDetails(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("device details: %w", err)
	}
	if details == nil {
		logger.Info().Msg("device no longer exists upstream, skipping")
		result.Absent = true
		return result, nil
	}

	device, err := r.buildDevice(ctx, serial, details)
	if err != nil {
		return nil, err
	}
	if err := r.store.UpsertDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("upsert device: %w", err)
	}

	sets, err := r.session.DeviceMeasureSets(ctx, serial)
	if err != nil {
		return nil, fmt.Errorf("measure-sets: %w", err)
	}

	candidates, err := r.candidates(ctx, serial, sets, mode)
	if err != nil {
		return nil, err
	}
	result.Candidates = len(candidates)

	for i := range candidates {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		set := &candidates[i]

		if result.Migrated >= r.maxMeasureSets {
			result.Capped = len(candidates) - i
			metrics.SyncMeasureSets.WithLabelValues(r.account, "capped").Add(float64(result.Capped))
			logger.Debug().Int("remaining", result.Capped).Msg("measure-set cap reached")
			break
		}

		outcome, readings, err := r.reconcileMeasureSet(ctx, serial, set)
		if err != nil {
			result.Failed++
			metrics.SyncMeasureSets.WithLabelValues(r.account, "error").Inc()
			logger.Error().Err(err).Int64("measure_set_id", set.Bid).Msg("measure-set sync failed")
			continue
		}
		metrics.SyncMeasureSets.WithLabelValues(r.account, outcome).Inc()

		switch outcome {
		case outcomeMigrated:
			result.Migrated++
			result.Readings += readings
		case outcomeWindowExtended:
			result.WindowExtended++
		default:
			result.Unchanged++
		}
	}

	logger.Info().
		Int("candidates", result.Candidates).
		Int("migrated", result.Migrated).
		Int("unchanged", result.Unchanged+result.WindowExtended).
		Int("capped", result.Capped).
		Int("failed", result.Failed).
		Int("readings", result.Readings).
		Msg("device reconciled")
	return result, nil
}

func (r *Reconciler) buildDevice(ctx context.Context, serial string, details *nemo.DeviceDetails) (*models.Device, error) {
	name := details.Name
	if name == "" {
		name = serial
	}
	device := &models.Device{
		ID:        serial,
		Name:      name,
		Type:      schema.DeviceNemoCloud,
		Latitude:  details.Latitude,
		Longitude: details.Longitude,
	}

	if details.RoomBid == nil {
		return device, nil
	}
	room, err := r.session.RoomInfo(ctx, *details.RoomBid)
	if err != nil {
		return nil, fmt.Errorf("room %d: %w", *details.RoomBid, err)
	}
	if room != nil {
		loc := location.Parse(room.Name)
		device.Building = loc.Building
		device.Room = loc.Room
	}
	return device, nil
}

// candidates selects and orders the measure-sets to consider.
func (r *Reconciler) candidates(ctx context.Context, serial string, sets []nemo.MeasureSet, mode Mode) ([]nemo.MeasureSet, error) {
	selected := sets
	if mode != ModeFull {
		latest, ok, err := r.store.LatestReadingTime(ctx, serial, schema.NemoCloud)
		if err != nil {
			return nil, fmt.Errorf("latest reading: %w", err)
		}
		if ok {
			selected = make([]nemo.MeasureSet, 0, len(sets))
			for _, s := range sets {
				if !s.EndTime().Before(latest) {
					selected = append(selected, s)
				}
			}
		}
	}

	out := make([]nemo.MeasureSet, len(selected))
	copy(out, selected)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Bid < out[j].Bid
	})
	return out, nil
}

const (
	outcomeMigrated       = "migrated"
	outcomeUnchanged      = "unchanged"
	outcomeWindowExtended = "window_extended"
)

func (r *Reconciler) reconcileMeasureSet(ctx context.Context, serial string, set *nemo.MeasureSet) (string, int, error) {
	cp, err := r.store.GetSyncCheckpoint(ctx, serial, set.Bid)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return "", 0, fmt.Errorf("checkpoint: %w", err)
	}

	next := &models.SyncCheckpoint{
		DeviceID:     serial,
		MeasureSetID: set.Bid,
		Start:        set.StartTime(),
		End:          set.EndTime(),
		ValuesNumber: set.ValuesNumber,
	}

	if cp.Unchanged(set.ValuesNumber) {
		outcome := outcomeUnchanged
		if cp.WindowMoved(next.Start, next.End) {
			outcome = outcomeWindowExtended
		}
		if err := r.store.UpsertSyncCheckpoint(ctx, next); err != nil {
			return "", 0, fmt.Errorf("checkpoint: %w", err)
		}
		return outcome, 0, nil
	}

	readings, err := r.migrate(ctx, serial, set)
	if err != nil {
		return "", 0, err
	}
	if err := r.store.UpsertSyncCheckpoint(ctx, next); err != nil {
		return "", 0, fmt.Errorf("checkpoint: %w", err)
	}
	return outcomeMigrated, readings, nil
}

// migrate copies every value of a measure-set, one reading per timestamp.
func (r *Reconciler) migrate(ctx context.Context, serial string, set *nemo.MeasureSet) (int, error) {
	probe, err := r.session.MeasureSetSensor(ctx, set.Bid)
	if err != nil {
		return 0, fmt.Errorf("sensor: %w", err)
	}
	if probe == nil || probe.Serial == "" {
		return 0, fmt.Errorf("measure-set %d has no sensor", set.Bid)
	}

	name := probe.RefExposition
	if name == "" {
		name = probe.Serial
	}
	sensor := &models.Sensor{DeviceID: serial, ID: probe.Serial, Name: name, Type: schema.NemoCloud}
	if err := r.store.UpsertSensor(ctx, sensor); err != nil {
		return 0, fmt.Errorf("upsert sensor: %w", err)
	}

	measures, err := r.session.Measures(ctx, set.Bid)
	if err != nil {
		return 0, fmt.Errorf("measures: %w", err)
	}

	grouped := make(map[int64]map[string]models.Value)
	for i := range measures {
		metric, ok := nemo.MetricFor(&measures[i])
		if !ok {
			continue
		}
		values, err := r.session.MeasureValues(ctx, measures[i].MeasureBid)
		if err != nil {
			return 0, fmt.Errorf("values of measure %d: %w", measures[i].MeasureBid, err)
		}
		for _, v := range values {
			if v.Value == nil {
				continue
			}
			row, ok := grouped[v.Time]
			if !ok {
				row = make(map[string]models.Value)
				grouped[v.Time] = row
			}
			row[metric] = models.Number(*v.Value)
		}
	}

	times := make([]int64, 0, len(grouped))
	for ts := range grouped {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	for _, ts := range times {
		reading := &models.Reading{
			DeviceID: serial,
			SensorID: sensor.ID,
			Type:     schema.NemoCloud,
			Time:     time.Unix(ts, 0).UTC(),
			Metrics:  grouped[ts],
		}
		if err := r.store.UpsertReading(ctx, reading); err != nil {
			return 0, fmt.Errorf("upsert reading at %d: %w", ts, err)
		}
	}

	metrics.SyncReadingsUpserted.WithLabelValues(r.account).Add(float64(len(times)))
	return len(times), nil
}
