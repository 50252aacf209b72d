// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
	"github.com/openaurae/openaurae/internal/models"
	"github.com/openaurae/openaurae/internal/schema"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

// setupHub starts a hub stopped at test cleanup.
func setupHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// createTestClient builds a client without a connection; tests read its
// send channel directly.
func createTestClient(hub *Hub, deviceID string) *Client {
	return &Client{id: clientIDCounter.Add(1), deviceID: deviceID, hub: hub, send: make(chan Message, clientBuffer)}
}

func testReading(deviceID string) *models.Reading {
	return &models.Reading{
		DeviceID: deviceID,
		SensorID: "s1",
		Type:     schema.ZigbeeContact,
		Time:     time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
		Metrics:  map[string]models.Value{"contact": models.Bool(true)},
	}
}

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		return msg, ok
	case <-time.After(time.Second):
		t.Fatalf("client %d received nothing", c.id)
		return Message{}, false
	}
}

func TestHubDeliversOnlyToSubscribedDevice(t *testing.T) {
	hub := setupHub(t)
	a := createTestClient(hub, "dev-a")
	b := createTestClient(hub, "dev-b")
	hub.Subscribe(a)
	hub.Subscribe(b)

	hub.PublishReading(testReading("dev-a"))

	msg, ok := receive(t, a)
	if !ok || msg.Type != MessageTypeReading {
		t.Fatalf("unexpected frame %+v", msg)
	}
	r, isReading := msg.Data.(*models.Reading)
	if !isReading || r.DeviceID != "dev-a" {
		t.Errorf("unexpected payload %#v", msg.Data)
	}

	select {
	case msg := <-b.send:
		t.Errorf("client of another device got %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubFanOutToSeveralClients(t *testing.T) {
	hub := setupHub(t)
	clients := []*Client{
		createTestClient(hub, "dev-a"),
		createTestClient(hub, "dev-a"),
		createTestClient(hub, "dev-a"),
	}
	for _, c := range clients {
		hub.Subscribe(c)
	}
	if got := hub.DeviceClientCount("dev-a"); got != 3 {
		t.Fatalf("DeviceClientCount = %d", got)
	}

	hub.PublishReading(testReading("dev-a"))
	for _, c := range clients {
		if _, ok := receive(t, c); !ok {
			t.Errorf("client %d channel closed", c.id)
		}
	}
}

func TestHubUnsubscribe(t *testing.T) {
	hub := NewHub()
	c := createTestClient(hub, "dev-a")
	hub.Subscribe(c)

	hub.Unsubscribe(c)
	hub.Unsubscribe(c)

	if hub.GetClientCount() != 0 {
		t.Errorf("GetClientCount = %d", hub.GetClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel must be closed after unsubscribe")
	}
	hub.mu.RLock()
	_, present := hub.devices["dev-a"]
	hub.mu.RUnlock()
	if present {
		t.Error("empty device set must be removed")
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	hub := NewHub()
	slow := &Client{id: clientIDCounter.Add(1), deviceID: "dev-a", hub: hub, send: make(chan Message, 1)}
	hub.Subscribe(slow)

	before := testutil.ToFloat64(metrics.LiveMessagesDropped)
	for i := 0; i < 3; i++ {
		hub.sendToDevice(deviceMessage{deviceID: "dev-a", msg: Message{Type: MessageTypeReading}})
	}
	if got := testutil.ToFloat64(metrics.LiveMessagesDropped) - before; got != 2 {
		t.Errorf("dropped = %v, want 2", got)
	}
	if hub.DeviceClientCount("dev-a") != 1 {
		t.Error("slow client must stay subscribed")
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < publishQueueSize+10; i++ {
			hub.PublishReading(testReading("dev-a"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with no running hub")
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub()
	c := createTestClient(hub, "dev-a")
	hub.Subscribe(c)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- hub.RunWithContext(ctx) }()
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Errorf("RunWithContext = %v", err)
	}
	if _, ok := <-c.send; ok {
		t.Error("client must be closed on shutdown")
	}
	if hub.GetClientCount() != 0 {
		t.Errorf("GetClientCount = %d", hub.GetClientCount())
	}
}

func TestGetShutdownReason(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := getShutdownReason(ctx); got != ShutdownReasonContextCanceled {
		t.Errorf("got %s", got)
	}

	ctx, cancel = context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()
	if got := getShutdownReason(ctx); got != ShutdownReasonContextDeadline {
		t.Errorf("got %s", got)
	}
}
