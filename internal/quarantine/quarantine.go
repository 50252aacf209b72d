// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

// Package quarantine keeps rejected broker messages in BadgerDB for a
// bounded time so operators can see what devices are sending.
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("quarantine store is closed")

// maxPayloadBytes caps what is stored per entry.
const maxPayloadBytes = 16 << 10

const keyPrefix = "q:"

// Entry is one rejected message.
type Entry struct {
	ID         string    `json:"id"`
	Topic      string    `json:"topic"`
	Payload    string    `json:"payload"`
	Truncated  bool      `json:"truncated,omitempty"`
	Reason     string    `json:"reason"`
	Detail     string    `json:"detail,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// NewEntry builds an entry stamped now. Payloads above 16 KiB are cut.
func NewEntry(topic string, payload []byte, reason, detail string) *Entry {
	e := &Entry{
		ID:         uuid.New().String(),
		Topic:      topic,
		Reason:     reason,
		Detail:     detail,
		ReceivedAt: time.Now().UTC(),
	}
	if len(payload) > maxPayloadBytes {
		payload = payload[:maxPayloadBytes]
		e.Truncated = true
	}
	if utf8.Valid(payload) {
		e.Payload = string(payload)
	} else {
		e.Payload = fmt.Sprintf("%q", payload)
	}
	return e
}

// Config configures a Store.
type Config struct {
	Path     string
	InMemory bool
	TTL      time.Duration
	GCRatio  float64
}

// Store is a TTL-bounded BadgerDB log of entries.
type Store struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates the store.
func Open(cfg Config) (*Store, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("quarantine TTL must be positive")
	}
	if cfg.GCRatio <= 0 {
		cfg.GCRatio = 0.5
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Bool("in_memory", cfg.InMemory).Dur("ttl", cfg.TTL).Msg("quarantine opened")
	return &Store{db: db, cfg: cfg}, nil
}

// entryKey orders keys by receive time so a reverse scan is newest first.
func entryKey(e *Entry) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", keyPrefix, e.ReceivedAt.UnixNano(), e.ID))
}

// Put stores e with the configured TTL.
func (s *Store) Put(_ context.Context, e *Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(entryKey(e), data).WithTTL(s.cfg.TTL))
	})
	if err != nil {
		return fmt.Errorf("write to BadgerDB: %w", err)
	}
	metrics.QuarantineEntries.Inc()
	return nil
}

// List returns up to limit entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	entries := make([]*Entry, 0, limit)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the largest key below the seek key.
		for it.Seek([]byte(keyPrefix + "\xff")); it.ValidForPrefix([]byte(keyPrefix)); it.Next() {
			if len(entries) >= limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			var e Entry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(item.Key())).Msg("skipping unreadable quarantine entry")
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate quarantine: %w", err)
	}
	return entries, nil
}

// RunGC reclaims value log space left by expired entries.
func (s *Store) RunGC() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if s.cfg.InMemory {
		return nil
	}
	for {
		err := s.db.RunValueLogGC(s.cfg.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the database. Further calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	return nil
}
