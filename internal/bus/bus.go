// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"

	"github.com/openaurae/openaurae/internal/config"
	"github.com/openaurae/openaurae/internal/ingest"
	"github.com/openaurae/openaurae/internal/logging"
)

const (
	ModeMemory = "memory"
	ModeNATS   = "nats"

	// StreamName is the JetStream stream carrying raw telemetry.
	StreamName = "OPENAURAE_TELEMETRY"

	defaultAckWait      = 30 * time.Second
	defaultCloseTimeout = 30 * time.Second
)

// ErrClosed is returned when publishing to a closed bus.
var ErrClosed = errors.New("bus is closed")

// Bus carries raw broker messages from the MQTT callback to the ingestion
// dispatcher. In memory mode Publish blocks until the dispatcher acks, so
// messages are handled strictly one at a time in arrival order.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	server     *EmbeddedServer
	topic      string
	mode       string

	mu     sync.RWMutex
	closed bool
	logger zerolog.Logger
}

// New builds the bus selected by cfg.Mode.
func New(ctx context.Context, cfg config.BusConfig) (*Bus, error) {
	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())

	switch cfg.Mode {
	case "", ModeMemory:
		return newMemoryBus(cfg, wmLogger), nil
	case ModeNATS:
		return newNATSBus(ctx, cfg, wmLogger)
	default:
		return nil, fmt.Errorf("unsupported bus mode %q", cfg.Mode)
	}
}

func newMemoryBus(cfg config.BusConfig, logger watermill.LoggerAdapter) *Bus {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            0,
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	return &Bus{
		publisher:  pubSub,
		subscriber: pubSub,
		topic:      cfg.Topic,
		mode:       ModeMemory,
		logger:     logging.WithComponent("bus"),
	}
}

func newNATSBus(ctx context.Context, cfg config.BusConfig, logger watermill.LoggerAdapter) (*Bus, error) {
	b := &Bus{
		topic:  cfg.Topic,
		mode:   ModeNATS,
		logger: logging.WithComponent("bus"),
	}

	url := cfg.NATSURL
	if cfg.EmbeddedServer {
		srv, err := NewEmbeddedServer(ServerConfig{Port: server.RANDOM_PORT, StoreDir: cfg.StoreDir})
		if err != nil {
			return nil, err
		}
		b.server = srv
		url = srv.ClientURL()
		b.logger.Info().Str("url", url).Str("store_dir", cfg.StoreDir).Msg("embedded NATS server started")
	}

	if err := ensureStream(ctx, url, cfg.Topic); err != nil {
		b.shutdownServer()
		return nil, err
	}

	pub, err := newNATSPublisher(url, logger)
	if err != nil {
		b.shutdownServer()
		return nil, err
	}
	sub, err := newNATSSubscriber(url, cfg, logger)
	if err != nil {
		_ = pub.Close()
		b.shutdownServer()
		return nil, err
	}

	b.publisher = pub
	b.subscriber = sub
	return b, nil
}

func natsOptions(logger watermill.LoggerAdapter) []natsgo.Option {
	return []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{
				"url": nc.ConnectedUrl(),
			})
		}),
	}
}

func newNATSPublisher(url string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOptions(logger),
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}
	return pub, nil
}

func newNATSSubscriber(url string, cfg config.BusConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	ackWait := cfg.AckWaitTimeout
	if ackWait <= 0 {
		ackWait = defaultAckWait
	}
	closeTimeout := cfg.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL: url,
		// One consumer goroutine keeps delivery sequential.
		SubscribersCount: 1,
		AckWaitTimeout:   ackWait,
		CloseTimeout:     closeTimeout,
		NatsOptions:      natsOptions(logger),
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			AckAsync:      false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(StreamName),
				natsgo.MaxAckPending(1),
				natsgo.AckWait(ackWait),
				natsgo.DeliverAll(),
			},
			DurablePrefix: cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}
	return sub, nil
}

// ensureStream creates the telemetry stream, or updates it when it already
// exists.
func ensureStream(ctx context.Context, url, topic string) error {
	nc, err := natsgo.Connect(url)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	streamCfg := jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{topic},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   jetstream.FileStorage,
		Discard:   jetstream.DiscardOld,
	}

	_, err = js.Stream(ctx, StreamName)
	switch {
	case err == nil:
		if _, err := js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", StreamName, err)
		}
		return nil
	case errors.Is(err, jetstream.ErrStreamNotFound):
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", StreamName, err)
		}
		return nil
	default:
		return fmt.Errorf("check stream %s: %w", StreamName, err)
	}
}

// Topic is the bus topic raw messages are published to.
func (b *Bus) Topic() string {
	return b.topic
}

// Mode reports "memory" or "nats".
func (b *Bus) Mode() string {
	return b.mode
}

// Subscriber is what the ingestion dispatcher consumes.
func (b *Bus) Subscriber() message.Subscriber {
	return b.subscriber
}

// PublishRaw forwards one broker message. The broker topic travels in the
// message metadata.
func (b *Bus) PublishRaw(mqttTopic string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(ingest.MetadataTopic, mqttTopic)
	if b.mode == ModeNATS {
		msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	}

	if err := b.publisher.Publish(b.topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", b.topic, err)
	}
	return nil
}

// Close stops the publisher, the subscriber and the embedded server.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	var errs []error
	if err := b.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	// gochannel uses one value for both sides.
	if b.mode == ModeNATS {
		if err := b.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	b.shutdownServer()
	return errors.Join(errs...)
}

func (b *Bus) shutdownServer() {
	if b.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.server.Shutdown(ctx); err != nil {
		b.logger.Warn().Err(err).Msg("embedded NATS server shutdown incomplete")
	}
}
