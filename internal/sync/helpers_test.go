// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package sync

import (
	"context"
	"io"
	stdsync "sync"
	"time"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/nemo"
	"github.com/openaurae/openaurae/internal/schema"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

// fakeSession serves canned vendor data. Maps are filled before use and
// only read afterwards; counters are guarded by mu.
type fakeSession struct {
	loginErr   error
	devices    []nemo.Device
	details    map[string]*nemo.DeviceDetails
	detailsErr map[string]error
	rooms      map[int64]*nemo.Room
	sets       map[string][]nemo.MeasureSet
	sensors    map[int64]*nemo.Sensor
	measures   map[int64][]nemo.Measure
	values     map[int64][]nemo.MeasureValue
	valuesErr  map[int64]error

	// detailsDelay slows DeviceDetails to observe concurrency.
	detailsDelay time.Duration

	mu          stdsync.Mutex
	calls       map[string]int
	inFlight    int
	maxInFlight int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		details:    make(map[string]*nemo.DeviceDetails),
		detailsErr: make(map[string]error),
		rooms:      make(map[int64]*nemo.Room),
		sets:       make(map[string][]nemo.MeasureSet),
		sensors:    make(map[int64]*nemo.Sensor),
		measures:   make(map[int64][]nemo.Measure),
		values:     make(map[int64][]nemo.MeasureValue),
		valuesErr:  make(map[int64]error),
		calls:      make(map[string]int),
	}
}

func (f *fakeSession) count(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

func (f *fakeSession) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeSession) Login(context.Context) error {
	f.count("login")
	return f.loginErr
}

func (f *fakeSession) ListDevices(context.Context) ([]nemo.Device, error) {
	f.count("devices")
	return f.devices, nil
}

func (f *fakeSession) DeviceDetails(_ context.Context, serial string) (*nemo.DeviceDetails, error) {
	f.count("details")
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.detailsDelay > 0 {
		time.Sleep(f.detailsDelay)
	}
	if err := f.detailsErr[serial]; err != nil {
		return nil, err
	}
	return f.details[serial], nil
}

func (f *fakeSession) RoomInfo(_ context.Context, bid int64) (*nemo.Room, error) {
	f.count("room")
	return f.rooms[bid], nil
}

func (f *fakeSession) MeasureSets(_ context.Context, filter nemo.MeasureSetFilter) ([]nemo.DeviceMeasureSets, error) {
	f.count("measure_sets")
	sets, ok := f.sets[filter.DeviceSerial]
	if !ok {
		return nil, nil
	}
	return []nemo.DeviceMeasureSets{{DeviceSerialNumber: filter.DeviceSerial, MeasureSets: sets}}, nil
}

func (f *fakeSession) DeviceMeasureSets(ctx context.Context, serial string) ([]nemo.MeasureSet, error) {
	lists, err := f.MeasureSets(ctx, nemo.MeasureSetFilter{DeviceSerial: serial})
	if err != nil || len(lists) == 0 {
		return nil, err
	}
	return lists[0].MeasureSets, nil
}

func (f *fakeSession) MeasureSetSensor(_ context.Context, bid int64) (*nemo.Sensor, error) {
	f.count("sensor")
	return f.sensors[bid], nil
}

func (f *fakeSession) Measures(_ context.Context, bid int64) ([]nemo.Measure, error) {
	f.count("measures")
	return f.measures[bid], nil
}

func (f *fakeSession) MeasureValues(_ context.Context, bid int64) ([]nemo.MeasureValue, error) {
	f.count("values")
	if err := f.valuesErr[bid]; err != nil {
		return nil, err
	}
	return f.values[bid], nil
}

type readingKey struct {
	device, sensor string
	at             int64
}

// memStore is an in-memory Store with sparse reading upserts.
type memStore struct {
	mu          stdsync.Mutex
	devices     map[string]models.Device
	sensors     map[[2]string]models.Sensor
	readings    map[readingKey]models.Reading
	checkpoints map[[2]interface{}]models.SyncCheckpoint
}

func newMemStore() *memStore {
	return &memStore{
		devices:     make(map[string]models.Device),
		sensors:     make(map[[2]string]models.Sensor),
		readings:    make(map[readingKey]models.Reading),
		checkpoints: make(map[[2]interface{}]models.SyncCheckpoint),
	}
}

func (s *memStore) UpsertDevice(_ context.Context, d *models.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.devices[d.ID]; ok {
		d.IsPublic, d.UserID = old.IsPublic, old.UserID
	}
	s.devices[d.ID] = *d
	return nil
}

func (s *memStore) UpsertSensor(_ context.Context, sensor *models.Sensor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[[2]string{sensor.DeviceID, sensor.ID}] = *sensor
	return nil
}

func (s *memStore) UpsertReading(_ context.Context, r *models.Reading) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := readingKey{r.DeviceID, r.SensorID, r.Time.Unix()}
	merged, ok := s.readings[key]
	if !ok {
		merged = models.Reading{DeviceID: r.DeviceID, SensorID: r.SensorID, Type: r.Type, Time: r.Time, Metrics: map[string]models.Value{}}
	}
	for k, v := range r.Metrics {
		merged.Metrics[k] = v
	}
	s.readings[key] = merged
	return nil
}

func (s *memStore) LatestReadingTime(_ context.Context, deviceID string, t schema.SensorType) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	found := false
	for _, r := range s.readings {
		if r.DeviceID == deviceID && r.Type == t && (!found || r.Time.After(latest)) {
			latest, found = r.Time, true
		}
	}
	return latest, found, nil
}

func (s *memStore) GetSyncCheckpoint(_ context.Context, deviceID string, id int64) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.checkpoints[[2]interface{}{deviceID, id}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &cp, nil
}

func (s *memStore) UpsertSyncCheckpoint(_ context.Context, cp *models.SyncCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[[2]interface{}{cp.DeviceID, cp.MeasureSetID}] = *cp
	return nil
}

func (s *memStore) readingCount(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.readings {
		if k.device == deviceID {
			n++
		}
	}
	return n
}

func (s *memStore) reading(deviceID, sensorID string, at int64) (models.Reading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.readings[readingKey{deviceID, sensorID, at}]
	return r, ok
}

func ptr[T any](v T) *T { return &v }

// seedDevice registers a device with one measure-set holding temperature
// and humidity at two timestamps.
func seedDevice(f *fakeSession, serial string, setBid int64) {
	f.devices = append(f.devices, nemo.Device{Serial: serial})
	f.details[serial] = &nemo.DeviceDetails{Device: nemo.Device{Serial: serial, Name: "Box " + serial}}
	f.sets[serial] = []nemo.MeasureSet{{Bid: setBid, Start: 100, End: 200, ValuesNumber: 3}}
	f.sensors[setBid] = &nemo.Sensor{Serial: "probe-" + serial, RefExposition: "Ref " + serial}
	f.measures[setBid] = []nemo.Measure{
		{MeasureBid: setBid * 10, Variable: &nemo.Variable{Name: "Temperature"}},
		{MeasureBid: setBid*10 + 1, Variable: &nemo.Variable{Name: "Humidity"}},
	}
	f.values[setBid*10] = []nemo.MeasureValue{{Time: 100, Value: ptr(21.0)}, {Time: 200, Value: ptr(22.0)}}
	f.values[setBid*10+1] = []nemo.MeasureValue{{Time: 100, Value: ptr(40.0)}}
}
