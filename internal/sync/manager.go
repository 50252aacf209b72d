// OpenAurae - IoT Telemetry Ingestion and Cloud Sync
// Copyright 2026 OpenAurae contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/openaurae/openaurae

package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	stdsync "sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openaurae/openaurae/internal/config"
	"github.com/openaurae/openaurae/internal/logging"
	"github.com/openaurae/openaurae/internal/metrics"
	"github.com/openaurae/openaurae/internal/nemo"
)

// DefaultInterval is the period between scheduled incremental runs.
const DefaultInterval = time.Hour

var (
	// ErrUnknownAccount is returned for an account that is not configured.
	ErrUnknownAccount = errors.New("unknown nemo account")
	// ErrNotRunning is returned when triggering a run on a stopped manager.
	ErrNotRunning = errors.New("sync manager is not running")
)

// Manager schedules account runs.
type Manager struct {
	orchestrators map[string]*Orchestrator
	locker        Locker
	interval      time.Duration
	runOnStart    bool
	logger        zerolog.Logger

	mu       stdsync.RWMutex
	running  bool
	runCtx   context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       stdsync.WaitGroup
	lastRun  map[string]*RunResult
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Interval   time.Duration
	RunOnStart bool
	Locker     Locker
}

// NewManager builds a Manager over prebuilt orchestrators.
func NewManager(orchestrators []*Orchestrator, opts ManagerOptions) *Manager {
	byName := make(map[string]*Orchestrator, len(orchestrators))
	for _, o := range orchestrators {
		byName[o.Account()] = o
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	return &Manager{
		orchestrators: byName,
		locker:        locker,
		interval:      interval,
		runOnStart:    opts.RunOnStart,
		logger:        logging.WithComponent("sync"),
		lastRun:       make(map[string]*RunResult),
	}
}

// NewManagerFromConfig builds one circuit-broken client, reconciler and
// orchestrator per active account.
func NewManagerFromConfig(cfg *config.NemoConfig, store Store, locker Locker) *Manager {
	opts := nemo.OptionsFromConfig(cfg)
	orchestrators := make([]*Orchestrator, 0, len(cfg.Accounts))
	for _, name := range cfg.ActiveAccounts() {
		client := nemo.NewClient(name, cfg.Accounts[name], opts)
		session := nemo.NewCircuitBreakerClient(name, client, nemo.BreakerSettings{})
		reconciler := NewReconciler(name, session, store, cfg.MaxMeasureSetsPerDevice)
		orchestrators = append(orchestrators, NewOrchestrator(name, session, reconciler, cfg.MaxConcurrentDevices))
	}
	return NewManager(orchestrators, ManagerOptions{
		Interval:   cfg.Interval,
		RunOnStart: cfg.RunOnStart,
		Locker:     locker,
	})
}

// Accounts returns the configured account names, sorted.
func (m *Manager) Accounts() []string {
	names := make([]string, 0, len(m.orchestrators))
	for name := range m.orchestrators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasAccount reports whether account is configured.
func (m *Manager) HasAccount(account string) bool {
	_, ok := m.orchestrators[account]
	return ok
}

// Start begins the periodic incremental runs.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("sync manager is already running")
	}
	m.running = true
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.stopChan = make(chan struct{})
	runCtx := m.runCtx
	m.mu.Unlock()

	if len(m.orchestrators) == 0 {
		m.logger.Info().Msg("no active nemo accounts, sync idle")
		return nil
	}

	m.logger.Info().Strs("accounts", m.Accounts()).Dur("interval", m.interval).Bool("run_on_start", m.runOnStart).Msg("starting sync manager")

	m.wg.Add(1)
	go m.syncLoop(runCtx)
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	m.cancel()
	close(m.stopChan)
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info().Msg("sync manager stopped")
	return nil
}

func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	if m.runOnStart {
		m.RunAll(ctx, ModeIncremental)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.RunAll(ctx, ModeIncremental)
		}
	}
}

// RunAll runs every account concurrently and waits for all of them.
func (m *Manager) RunAll(ctx context.Context, mode Mode) map[string]error {
	var (
		mu   stdsync.Mutex
		wg   stdsync.WaitGroup
		errs = make(map[string]error, len(m.orchestrators))
	)
	for name := range m.orchestrators {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			_, err := m.RunAccount(ctx, name, mode)
			mu.Lock()
			errs[name] = err
			mu.Unlock()
		}(name)
	}
	wg.Wait()
	return errs
}

// RunAccount runs one account synchronously while holding its lock.
func (m *Manager) RunAccount(ctx context.Context, account string, mode Mode) (*RunResult, error) {
	if !m.HasAccount(account) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	unlock, err := m.locker.TryLock(ctx, account)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			metrics.SyncRuns.WithLabelValues(account, string(mode), "locked").Inc()
			m.logger.Info().Str("account", account).Msg("sync already running, skipping")
		}
		return nil, err
	}
	defer unlock()
	return m.run(ctx, account, mode)
}

// TriggerFull starts a full backfill of account in the background. It
// returns ErrLocked when the account is already syncing.
func (m *Manager) TriggerFull(account string) error {
	if !m.HasAccount(account) {
		return fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}

	m.mu.RLock()
	running, ctx := m.running, m.runCtx
	if running {
		// Add under the lock so Stop cannot Wait before this run is counted.
		m.wg.Add(1)
	}
	m.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	unlock, err := m.locker.TryLock(ctx, account)
	if err != nil {
		m.wg.Done()
		if errors.Is(err, ErrLocked) {
			metrics.SyncRuns.WithLabelValues(account, string(ModeFull), "locked").Inc()
		}
		return err
	}

	m.logger.Info().Str("account", account).Msg("full backfill triggered")
	go func() {
		defer m.wg.Done()
		defer unlock()
		_, _ = m.run(ctx, account, ModeFull)
	}()
	return nil
}

func (m *Manager) run(ctx context.Context, account string, mode Mode) (*RunResult, error) {
	ctx = logging.ContextWithNewCorrelationID(logging.ContextWithLogger(ctx, m.logger))
	start := time.Now()
	result, err := m.orchestrators[account].Run(ctx, mode)
	if err != nil {
		metrics.RecordSyncRun(account, string(mode), "error", time.Since(start))
		logging.Ctx(ctx).Error().Err(err).Str("account", account).Str("mode", string(mode)).Msg("sync run failed")
		return nil, err
	}
	metrics.RecordSyncRun(account, string(mode), "success", time.Since(start))

	m.mu.Lock()
	m.lastRun[account] = result
	m.mu.Unlock()
	return result, nil
}

// LastRun returns the result of the last successful run of account.
func (m *Manager) LastRun(account string) (*RunResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.lastRun[account]
	return r, ok
}
