// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package websocket

import (
	"context"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
	"github.com/openaurae/openaurae/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Message types for websocket frames
const (
	MessageTypeReading = "reading"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
)

// publishQueueSize bounds readings waiting for fan-out.
const publishQueueSize = 1024

// Message is one websocket frame.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type deviceMessage struct {
	deviceID string
	msg      Message
}

// Hub fans readings out to the clients watching each device.
//
// Publishing never blocks the caller: when the hub queue or a client buffer
// is full the frame is dropped and counted.
type Hub struct {
	// device id -> subscribed clients
	devices   map[string]map[*Client]struct{}
	broadcast chan deviceMessage
	mu        sync.RWMutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		devices:   make(map[string]map[*Client]struct{}),
		broadcast: make(chan deviceMessage, publishQueueSize),
	}
}

// RunWithContext delivers queued frames until ctx is done, then closes
// every client.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Shutdown wins over pending frames.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case dm := <-h.broadcast:
			h.sendToDevice(dm)
		}
	}
}

// Subscribe registers c under its device.
func (h *Hub) Subscribe(c *Client) {
	h.mu.Lock()
	clients, ok := h.devices[c.deviceID]
	if !ok {
		clients = make(map[*Client]struct{})
		h.devices[c.deviceID] = clients
	}
	clients[c] = struct{}{}
	h.mu.Unlock()

	metrics.LiveSubscribers.Inc()
	logging.Debug().Str("device_id", c.deviceID).Uint64("client_id", c.id).Msg("live subscriber added")
}

// Unsubscribe removes c and closes its send channel. Unknown clients are
// ignored, so it is safe to call more than once.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.devices[c.deviceID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.devices, c.deviceID)
	}

	metrics.LiveSubscribers.Dec()
	logging.Debug().Str("device_id", c.deviceID).Uint64("client_id", c.id).Msg("live subscriber removed")
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "live-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("live hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	if ctx.Err() == context.DeadlineExceeded {
		return ShutdownReasonContextDeadline
	}
	return ShutdownReasonContextCanceled
}

// sortedClients returns clients by id so delivery order is stable.
func sortedClients(set map[*Client]struct{}) []*Client {
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})
	return clients
}

// sendToDevice delivers a frame to the device's clients. A slow client
// loses the frame but stays subscribed.
func (h *Hub) sendToDevice(dm deviceMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range sortedClients(h.devices[dm.deviceID]) {
		select {
		case client.send <- dm.msg:
		default:
			metrics.LiveMessagesDropped.Inc()
			logging.Debug().Str("device_id", dm.deviceID).Uint64("client_id", client.id).Msg("client buffer full, frame dropped")
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for deviceID, set := range h.devices {
		for _, client := range sortedClients(set) {
			close(client.send)
			metrics.LiveSubscribers.Dec()
		}
		delete(h.devices, deviceID)
	}
}

// Publish queues a frame for the clients of deviceID.
func (h *Hub) Publish(deviceID string, msg Message) {
	select {
	case h.broadcast <- deviceMessage{deviceID: deviceID, msg: msg}:
	default:
		metrics.LiveMessagesDropped.Inc()
		logging.Warn().Str("device_id", deviceID).Str("message_type", msg.Type).Msg("live queue full, dropping frame")
	}
}

// PublishReading sends a persisted reading to the subscribers of its device.
func (h *Hub) PublishReading(r *models.Reading) {
	copied := *r
	h.Publish(r.DeviceID, Message{Type: MessageTypeReading, Data: &copied})
}

// GetClientCount returns the number of connected clients
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.devices {
		n += len(set)
	}
	return n
}

// DeviceClientCount returns the number of clients watching deviceID.
func (h *Hub) DeviceClientCount(deviceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[deviceID])
}

// MarshalMessage converts a message to JSON
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
