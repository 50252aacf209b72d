// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

/*
Package mqtt connects to the telemetry broker and forwards every message it
receives onto the internal bus.

The bridge subscribes to the configured topic filters on every (re)connect,
so a broker restart does not silently end ingestion. Message handling runs
on the paho router goroutine with ordering enabled; with the in-memory bus a
publish blocks until the dispatcher has processed the message, which keeps
ingestion strictly sequential.
*/
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/url"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/openaurae/openaurae/internal/config"
	"github.com/openaurae/openaurae/internal/ingest"
	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/validation"
)

// ErrNotConnected is returned when publishing while the broker is unreachable.
var ErrNotConnected = errors.New("mqtt client is not connected")

const (
	defaultConnectTimeout = 10 * time.Second
	publishTimeout        = 5 * time.Second
	disconnectQuiesceMs   = 250
)

// RawPublisher forwards a raw broker message to the ingestion dispatcher.
type RawPublisher interface {
	PublishRaw(mqttTopic string, payload []byte) error
}

// Bridge owns the paho client.
type Bridge struct {
	cfg       config.MQTTConfig
	client    paho.Client
	bus       RawPublisher
	connected atomic.Bool
	forwarded atomic.Uint64
	logger    zerolog.Logger
}

// NewBridge builds a bridge; nothing connects until RunWithContext.
func NewBridge(cfg config.MQTTConfig, bus RawPublisher) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		bus:    bus,
		logger: logging.WithComponent("mqtt"),
	}
	b.client = paho.NewClient(b.clientOptions())
	return b
}

func (b *Bridge) clientOptions() *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(b.cfg.BrokerURL())
	opts.SetClientID(b.cfg.ClientID)
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	if b.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(b.cfg.KeepAlive)
	}
	opts.SetConnectTimeout(b.connectTimeout())
	if b.cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(b.cfg.MaxReconnectInterval)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.SetConnectionAttemptHandler(func(broker *url.URL, tlsCfg *tls.Config) *tls.Config {
		b.logger.Debug().Str("broker", broker.Redacted()).Msg("connecting to MQTT broker")
		return tlsCfg
	})
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	opts.SetReconnectingHandler(func(_ paho.Client, _ *paho.ClientOptions) {
		b.logger.Info().Msg("reconnecting to MQTT broker")
	})
	opts.SetDefaultPublishHandler(b.handleMessage)
	return opts
}

func (b *Bridge) connectTimeout() time.Duration {
	if b.cfg.ConnectTimeout > 0 {
		return b.cfg.ConnectTimeout
	}
	return defaultConnectTimeout
}

func (b *Bridge) onConnect(c paho.Client) {
	b.connected.Store(true)

	filters := make(map[string]byte, len(b.cfg.Topics))
	for _, topic := range b.cfg.Topics {
		filters[topic] = byte(b.cfg.QoS)
	}

	token := c.SubscribeMultiple(filters, b.handleMessage)
	if !token.WaitTimeout(b.connectTimeout()) {
		b.logger.Error().Strs("topics", b.cfg.Topics).Msg("timed out subscribing to MQTT topics")
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Error().Err(err).Strs("topics", b.cfg.Topics).Msg("failed to subscribe to MQTT topics")
		return
	}
	b.logger.Info().Str("broker", b.cfg.BrokerURL()).Strs("topics", b.cfg.Topics).Msg("connected to MQTT broker")
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	b.connected.Store(false)
	b.logger.Warn().Err(err).Msg("lost connection to MQTT broker")
}

// handleMessage forwards one broker message. Failures are logged and the
// message is dropped.
func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	if err := b.bus.PublishRaw(msg.Topic(), payload); err != nil {
		b.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("failed to forward MQTT message")
		return
	}
	b.forwarded.Add(1)
}

// RunWithContext connects and stays connected until ctx is canceled.
func (b *Bridge) RunWithContext(ctx context.Context) error {
	token := b.client.Connect()
	select {
	case <-ctx.Done():
		b.client.Disconnect(disconnectQuiesceMs)
		return ctx.Err()
	case <-token.Done():
	}
	// With ConnectRetry the token completes only once connected or closed.
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to MQTT broker %s: %w", b.cfg.BrokerURL(), err)
	}

	<-ctx.Done()
	b.client.Disconnect(disconnectQuiesceMs)
	b.connected.Store(false)
	b.logger.Info().Uint64("forwarded", b.forwarded.Load()).Msg("disconnected from MQTT broker")
	return ctx.Err()
}

// IsConnected reports whether the broker connection is up.
func (b *Bridge) IsConnected() bool {
	return b.connected.Load()
}

// Forwarded is the number of messages handed to the bus since start.
func (b *Bridge) Forwarded() uint64 {
	return b.forwarded.Load()
}

// RequestSensorRemoval asks the zigbee2mqtt bridge of deviceID to unpair
// sensorID. The payload is the sensor id as a JSON string.
func (b *Bridge) RequestSensorRemoval(ctx context.Context, deviceID, sensorID string) error {
	if !validation.IsEntityID(deviceID) {
		return fmt.Errorf("invalid device id %q", deviceID)
	}
	if !validation.IsEntityID(sensorID) {
		return fmt.Errorf("invalid sensor id %q", sensorID)
	}
	if !b.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(sensorID)
	if err != nil {
		return fmt.Errorf("encode removal request: %w", err)
	}

	topic := ingest.UnpairTopic(deviceID)
	token := b.client.Publish(topic, byte(b.cfg.QoS), false, payload)

	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("publish to %s timed out", topic)
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	b.logger.Info().Str("device_id", deviceID).Str("sensor_id", sensorID).Msg("sensor removal requested")
	return nil
}
