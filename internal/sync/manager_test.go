// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openaurae/openaurae/internal/config"
)

func newTestManager(t *testing.T, opts ManagerOptions, accounts ...string) (*Manager, *memStore) {
	t.Helper()
	store := newMemStore()
	orchestrators := make([]*Orchestrator, 0, len(accounts))
	for i, name := range accounts {
		f := newFakeSession()
		seedDevice(f, name+"-box", int64(i+1))
		orchestrators = append(orchestrators, newTestOrchestrator(name, f, store, 2))
	}
	return NewManager(orchestrators, opts), store
}

func waitForRun(t *testing.T, m *Manager, account string) *RunResult {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if r, ok := m.LastRun(account); ok {
			return r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no run recorded for %s", account)
	return nil
}

func TestManagerAccounts(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{}, "s6", "s5")

	got := m.Accounts()
	if len(got) != 2 || got[0] != "s5" || got[1] != "s6" {
		t.Errorf("Accounts() = %v, want sorted [s5 s6]", got)
	}
	if !m.HasAccount("s5") || m.HasAccount("s7") {
		t.Error("HasAccount() mismatch")
	}
	if m.interval != DefaultInterval {
		t.Errorf("interval = %v, want default", m.interval)
	}
}

func TestManagerRunAll(t *testing.T) {
	m, store := newTestManager(t, ManagerOptions{}, "s5", "s6")

	errs := m.RunAll(context.Background(), ModeIncremental)
	if len(errs) != 2 {
		t.Fatalf("RunAll() returned %d results, want 2", len(errs))
	}
	for account, err := range errs {
		if err != nil {
			t.Errorf("account %s error = %v", account, err)
		}
		if _, ok := m.LastRun(account); !ok {
			t.Errorf("account %s has no recorded run", account)
		}
	}
	if store.readingCount("s5-box") != 2 || store.readingCount("s6-box") != 2 {
		t.Error("both accounts should have stored readings")
	}
}

func TestManagerRunAccountLocked(t *testing.T) {
	locker := NewLocalLocker()
	m, _ := newTestManager(t, ManagerOptions{Locker: locker}, "s5")

	unlock, err := locker.TryLock(context.Background(), "s5")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	if _, err := m.RunAccount(context.Background(), "s5", ModeIncremental); !errors.Is(err, ErrLocked) {
		t.Errorf("RunAccount() error = %v, want ErrLocked", err)
	}
	if _, err := m.RunAccount(context.Background(), "nope", ModeIncremental); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("RunAccount() error = %v, want ErrUnknownAccount", err)
	}
}

func TestManagerTriggerFull(t *testing.T) {
	locker := NewLocalLocker()
	m, _ := newTestManager(t, ManagerOptions{Locker: locker}, "s5")

	if err := m.TriggerFull("s5"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("TriggerFull() on stopped manager error = %v, want ErrNotRunning", err)
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = m.Stop() }()

	if err := m.TriggerFull("nope"); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("TriggerFull() error = %v, want ErrUnknownAccount", err)
	}

	unlock, err := locker.TryLock(context.Background(), "s5")
	if err != nil {
		t.Fatal(err)
	}
	if err := m.TriggerFull("s5"); !errors.Is(err, ErrLocked) {
		t.Errorf("TriggerFull() while locked error = %v, want ErrLocked", err)
	}
	unlock()

	if err := m.TriggerFull("s5"); err != nil {
		t.Fatalf("TriggerFull() error = %v", err)
	}
	run := waitForRun(t, m, "s5")
	if run.Mode != ModeFull || run.Succeeded != 1 {
		t.Errorf("run = %+v, want one successful full run", run)
	}
}

func TestManagerStartStop(t *testing.T) {
	m, _ := newTestManager(t, ManagerOptions{RunOnStart: true, Interval: time.Hour}, "s5")

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}

	run := waitForRun(t, m, "s5")
	if run.Mode != ModeIncremental {
		t.Errorf("startup run mode = %s, want incremental", run.Mode)
	}

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := m.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestManagerWithoutAccountsIdles(t *testing.T) {
	m := NewManagerFromConfig(&config.NemoConfig{
		Accounts: map[string]config.NemoAccount{"s5": {}},
	}, newMemStore(), nil)

	if len(m.Accounts()) != 0 {
		t.Fatalf("accounts without a url must be inactive, got %v", m.Accounts())
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestNewManagerFromConfig(t *testing.T) {
	m := NewManagerFromConfig(&config.NemoConfig{
		Accounts: map[string]config.NemoAccount{
			"s5": {URL: "https://nemo.example.com", Operator: "op", Password: "pw", Company: "acme"},
			"s6": {},
		},
		Interval: 30 * time.Minute,
	}, newMemStore(), NewLocalLocker())

	if got := m.Accounts(); len(got) != 1 || got[0] != "s5" {
		t.Errorf("Accounts() = %v, want [s5]", got)
	}
	if m.interval != 30*time.Minute {
		t.Errorf("interval = %v", m.interval)
	}
}
