// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package quarantine

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/openaurae/openaurae/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true, TTL: time.Hour})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, topic := range []string{"zigbee/a", "zigbee/b", "zigbee/c"} {
		e := NewEntry(topic, []byte(`{}`), "malformed_topic", "")
		e.ReceivedAt = base.Add(time.Duration(i) * time.Second)
		if err := s.Put(ctx, e); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	got, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Topic != "zigbee/c" || got[1].Topic != "zigbee/b" {
		t.Errorf("unexpected order: %s, %s", got[0].Topic, got[1].Topic)
	}
	if got[0].Reason != "malformed_topic" {
		t.Errorf("reason = %q", got[0].Reason)
	}
}

func TestNewEntryTruncatesPayload(t *testing.T) {
	t.Parallel()

	e := NewEntry("air-quality/x", []byte(strings.Repeat("a", maxPayloadBytes+10)), "malformed_payload", "too big")
	if !e.Truncated || len(e.Payload) != maxPayloadBytes {
		t.Errorf("expected truncation, got len=%d truncated=%v", len(e.Payload), e.Truncated)
	}

	bin := NewEntry("air-quality/x", []byte{0xff, 0xfe}, "malformed_payload", "")
	if bin.Payload != `"\xff\xfe"` {
		t.Errorf("binary payload = %q", bin.Payload)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := Open(Config{InMemory: true, TTL: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(context.Background(), NewEntry("t", nil, "r", "")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestOpenRequiresTTL(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{InMemory: true}); err == nil {
		t.Error("expected error for zero TTL")
	}
}
