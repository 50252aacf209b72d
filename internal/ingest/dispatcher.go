// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/quarantine"
)

// MetadataTopic is the watermill metadata key holding the broker topic.
const MetadataTopic = "mqtt_topic"

// ErrUnknownSensor marks a reading for a (device, sensor) pair that is not
// registered.
var ErrUnknownSensor = errors.New("sensor is not registered")

// ReadingStore is the subset of the store the dispatcher writes through.
type ReadingStore interface {
	GetSensorByID(ctx context.Context, deviceID, sensorID string) (*models.Sensor, error)
	UpsertReading(ctx context.Context, r *models.Reading) error
}

// LivePublisher receives every persisted reading. Implementations must not
// block.
type LivePublisher interface {
	PublishReading(r *models.Reading)
}

// QuarantineSink keeps rejected messages for inspection.
type QuarantineSink interface {
	Put(ctx context.Context, e *quarantine.Entry) error
}

// Dispatcher consumes raw messages from the bus and handles them strictly
// one at a time.
type Dispatcher struct {
	normalizer *Normalizer
	store      ReadingStore
	live       LivePublisher
	quarantine QuarantineSink
	subscriber message.Subscriber
	topic      string
	logger     zerolog.Logger
}

// DispatcherConfig wires a Dispatcher. Live and Quarantine are optional.
type DispatcherConfig struct {
	Normalizer *Normalizer
	Store      ReadingStore
	Live       LivePublisher
	Quarantine QuarantineSink
	Subscriber message.Subscriber
	Topic      string
}

// NewDispatcher builds a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	n := cfg.Normalizer
	if n == nil {
		n = NewNormalizer()
	}
	return &Dispatcher{
		normalizer: n,
		store:      cfg.Store,
		live:       cfg.Live,
		quarantine: cfg.Quarantine,
		subscriber: cfg.Subscriber,
		topic:      cfg.Topic,
		logger:     logging.WithComponent("ingest"),
	}
}

// Run subscribes to the bus topic and processes messages until ctx is done.
// Every message is acked whatever its outcome: there is nothing to gain
// from redelivering a message that failed to normalize or persist.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.subscriber == nil {
		return fmt.Errorf("dispatcher has no subscriber")
	}
	msgs, err := d.subscriber.Subscribe(ctx, d.topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", d.topic, err)
	}

	d.logger.Info().Str("bus_topic", d.topic).Msg("ingestion dispatcher started")
	for {
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("ingestion dispatcher stopped")
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("subscription to %s closed", d.topic)
			}
			d.Handle(ctx, msg.Metadata.Get(MetadataTopic), msg.Payload)
			msg.Ack()
		}
	}
}

// Handle processes one message and reports what happened to it.
func (d *Dispatcher) Handle(ctx context.Context, topic string, payload []byte) Outcome {
	start := time.Now()
	result := d.normalizer.Normalize(topic, payload)
	outcome := d.dispatch(ctx, topic, payload, result)
	metrics.RecordIngest(string(result.Domain()), string(outcome), time.Since(start))
	return outcome
}

func (d *Dispatcher) dispatch(ctx context.Context, topic string, payload []byte, result Result) Outcome {
	switch res := result.(type) {
	case Ignored:
		d.logger.Debug().Str("topic", topic).Msg("control topic ignored")
		return OutcomeIgnored

	case Rejected:
		d.reject(ctx, topic, payload, res)
		return OutcomeRejected

	case Accepted:
		return d.persist(ctx, topic, payload, &res)

	default:
		d.logger.Error().Str("topic", topic).Msgf("unexpected result %T", result)
		return OutcomeRejected
	}
}

func (d *Dispatcher) persist(ctx context.Context, topic string, payload []byte, acc *Accepted) Outcome {
	r := &acc.Reading

	sensor, err := d.store.GetSensorByID(ctx, r.DeviceID, r.SensorID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			err = ErrUnknownSensor
			d.logger.Warn().Str("topic", topic).
				Str("device_id", r.DeviceID).Str("sensor_id", r.SensorID).
				Err(err).Msg("reading dropped")
			return OutcomeReferential
		}
		d.logger.Error().Err(err).Str("topic", topic).Msg("sensor lookup failed")
		return OutcomeStoreError
	}

	if sensor.Type != r.Type {
		d.reject(ctx, topic, payload, Rejected{
			In:     acc.In,
			Reason: ReasonSchemaMismatch,
			Detail: fmt.Sprintf("sensor %s/%s is registered as %s, payload looks like %s", r.DeviceID, r.SensorID, sensor.Type, r.Type),
		})
		return OutcomeRejected
	}

	if err := d.store.UpsertReading(ctx, r); err != nil {
		d.logger.Error().Err(err).Str("topic", topic).
			Str("device_id", r.DeviceID).Str("sensor_id", r.SensorID).
			Msg("failed to store reading")
		return OutcomeStoreError
	}

	if d.live != nil {
		d.live.PublishReading(r)
	}
	return OutcomeAccepted
}

func (d *Dispatcher) reject(ctx context.Context, topic string, payload []byte, r Rejected) {
	metrics.RecordRejection(string(r.Reason))
	d.logger.Warn().Str("topic", topic).Str("reason", string(r.Reason)).Str("detail", r.Detail).Msg("message rejected")

	if d.quarantine == nil {
		return
	}
	entry := quarantine.NewEntry(topic, payload, string(r.Reason), r.Detail)
	if err := d.quarantine.Put(ctx, entry); err != nil {
		d.logger.Error().Err(err).Str("topic", topic).Msg("failed to quarantine message")
	}
}
