// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/quarantine"
	"github.com/openaurae/openaurae/internal/schema"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type readingKey struct {
	device, sensor string
	at             time.Time
}

// fakeStore keeps readings keyed by (device, sensor, time) like the real
// tables do.
type fakeStore struct {
	mu        sync.Mutex
	sensors   map[[2]string]schema.SensorType
	readings  map[readingKey]models.Reading
	upserts   int
	lookupErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sensors:  make(map[[2]string]schema.SensorType),
		readings: make(map[readingKey]models.Reading),
	}
}

func (s *fakeStore) register(deviceID, sensorID string, t schema.SensorType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensors[[2]string{deviceID, sensorID}] = t
}

func (s *fakeStore) GetSensorByID(_ context.Context, deviceID, sensorID string) (*models.Sensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	t, ok := s.sensors[[2]string{deviceID, sensorID}]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &models.Sensor{DeviceID: deviceID, ID: sensorID, Type: t}, nil
}

func (s *fakeStore) UpsertReading(_ context.Context, r *models.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	s.readings[readingKey{r.DeviceID, r.SensorID, r.Time}] = *r
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readings)
}

type fakeLive struct {
	mu       sync.Mutex
	received []models.Reading
}

func (l *fakeLive) PublishReading(r *models.Reading) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.received = append(l.received, *r)
}

func (l *fakeLive) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.received)
}

func newTestDispatcher(t *testing.T, store *fakeStore, live *fakeLive) (*Dispatcher, *quarantine.Store) {
	t.Helper()
	q, err := quarantine.Open(quarantine.Config{InMemory: true, TTL: time.Hour})
	if err != nil {
		t.Fatalf("quarantine.Open: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })

	d := NewDispatcher(DispatcherConfig{
		Normalizer: newTestNormalizer(),
		Store:      store,
		Live:       live,
		Quarantine: q,
	})
	return d, q
}

func TestDispatcherAcceptsAndIsIdempotent(t *testing.T) {
	store := newFakeStore()
	store.register("dev1", "s1", schema.ZigbeeTemp)
	live := &fakeLive{}
	d, _ := newTestDispatcher(t, store, live)
	ctx := context.Background()

	payload := []byte(`{"temperature": 22.1, "humidity": 51, "time": "2026-05-04T08:00:00Z"}`)
	for i := 0; i < 2; i++ {
		if got := d.Handle(ctx, "zigbee/dev1/s1", payload); got != OutcomeAccepted {
			t.Fatalf("delivery %d: outcome = %s", i, got)
		}
	}

	if store.count() != 1 {
		t.Errorf("expected one stored reading after redelivery, got %d", store.count())
	}
	if store.upserts != 2 {
		t.Errorf("expected 2 upserts, got %d", store.upserts)
	}
	if live.len() != 2 {
		t.Errorf("expected 2 live publications, got %d", live.len())
	}
}

func TestDispatcherUnknownSensor(t *testing.T) {
	store := newFakeStore()
	live := &fakeLive{}
	d, q := newTestDispatcher(t, store, live)
	ctx := context.Background()

	if got := d.Handle(ctx, "zigbee/dev1/ghost", []byte(`{"contact": true}`)); got != OutcomeReferential {
		t.Fatalf("outcome = %s, want %s", got, OutcomeReferential)
	}
	if store.count() != 0 || live.len() != 0 {
		t.Error("reading for an unregistered sensor must not be stored or published")
	}

	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("referential drops are not quarantined, got %d entries", len(entries))
	}
}

func TestDispatcherRejectsAndQuarantines(t *testing.T) {
	store := newFakeStore()
	d, q := newTestDispatcher(t, store, &fakeLive{})
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.IngestRejections.WithLabelValues(string(ReasonMalformedPayload)))

	if got := d.Handle(ctx, "zigbee/dev1/s1", []byte(`{"temperature": {"v": 1}}`)); got != OutcomeRejected {
		t.Fatalf("outcome = %s", got)
	}

	after := testutil.ToFloat64(metrics.IngestRejections.WithLabelValues(string(ReasonMalformedPayload)))
	if after-before != 1 {
		t.Errorf("rejection counter moved by %v", after-before)
	}

	entries, err := q.List(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 quarantined entry, got %d", len(entries))
	}
	if entries[0].Topic != "zigbee/dev1/s1" || entries[0].Reason != string(ReasonMalformedPayload) {
		t.Errorf("unexpected entry %+v", entries[0])
	}
}

func TestDispatcherTypeConflict(t *testing.T) {
	store := newFakeStore()
	store.register("dev1", "s1", schema.ZigbeeContact)
	d, q := newTestDispatcher(t, store, &fakeLive{})
	ctx := context.Background()

	if got := d.Handle(ctx, "zigbee/dev1/s1", []byte(`{"temperature": 20}`)); got != OutcomeRejected {
		t.Fatalf("outcome = %s", got)
	}
	if store.count() != 0 {
		t.Error("conflicting reading must not be stored")
	}
	entries, _ := q.List(ctx, 1)
	if len(entries) != 1 || entries[0].Reason != string(ReasonSchemaMismatch) {
		t.Errorf("expected schema_mismatch entry, got %+v", entries)
	}
}

func TestDispatcherStoreError(t *testing.T) {
	store := newFakeStore()
	store.lookupErr = errors.New("connection refused")
	d, _ := newTestDispatcher(t, store, &fakeLive{})

	if got := d.Handle(context.Background(), "zigbee/dev1/s1", []byte(`{"contact": true}`)); got != OutcomeStoreError {
		t.Fatalf("outcome = %s", got)
	}
}

func TestDispatcherIgnoresBridge(t *testing.T) {
	store := newFakeStore()
	d, q := newTestDispatcher(t, store, &fakeLive{})
	ctx := context.Background()

	if got := d.Handle(ctx, "zigbee/bridge/devices", []byte(`[{"ieee": "0x1"}]`)); got != OutcomeIgnored {
		t.Fatalf("outcome = %s", got)
	}
	entries, _ := q.List(ctx, 10)
	if len(entries) != 0 {
		t.Error("ignored topics must not be quarantined")
	}
}

func TestDispatcherRunConsumesBus(t *testing.T) {
	store := newFakeStore()
	store.register("dev1", "s1", schema.ZigbeePower)
	store.register("box1", "ptqs1005", schema.PTQS1005)
	live := &fakeLive{}

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		Persistent:                     true,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	d, _ := newTestDispatcher(t, store, live)
	d.subscriber = pubSub
	d.topic = "telemetry.raw"

	send := func(topic, payload string) {
		msg := message.NewMessage(watermill.NewUUID(), []byte(payload))
		msg.Metadata.Set(MetadataTopic, topic)
		if err := pubSub.Publish(d.topic, msg); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	send("zigbee/dev1/s1", `{"power": 3.5, "state": "ON", "time": 1746345600000}`)
	send("air-quality/lab", `{"sensor": "PTQS1005", "device": "box1", "co2": 420, "time": 1746345600000}`)
	send("zigbee/dev1", `{"power": 1}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for store.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run returned %v", err)
	}
	if store.count() != 2 {
		t.Fatalf("expected 2 stored readings, got %d", store.count())
	}
	if live.len() != 2 {
		t.Errorf("expected 2 live publications, got %d", live.len())
	}
}

func TestDispatcherRunWithoutSubscriber(t *testing.T) {
	d := NewDispatcher(DispatcherConfig{Store: newFakeStore()})
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("expected error without a subscriber")
	}
}
