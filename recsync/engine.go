// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mobiletoly/go-recsync/internal/runctx"
)

// PullRunner executes one budgeted pull cycle; *Puller implements it
type PullRunner interface {
	Pull(ctx context.Context, cfg PullConfig) PullResult
}

// Decision is the outcome of the sync gates
type Decision struct {
	Run    bool   `json:"run"`
	Reason string `json:"reason"`
}

// TriggerOutcome reports what a trigger call did
type TriggerOutcome struct {
	Trigger Trigger     `json:"trigger"`
	Started bool        `json:"started"`
	Reason  string      `json:"reason,omitempty"` // why the run was skipped
	Result  *PullResult `json:"result,omitempty"` // set when Started
}

// Engine is the sync orchestrator: it decides when a pull runs, guarantees a
// single pull in flight, and publishes status to subscribers.
//
// States are Idle and Running. A trigger arriving while Running is a logged
// no-op and never reaches the transport.
type Engine struct {
	puller  PullRunner
	cursors *CursorStore
	kv      KVStore
	gate    NetworkGate
	now     Clock
	logger  *slog.Logger
	bus     *statusBus

	mu       sync.Mutex
	cfg      Config
	running  bool
	closed   bool
	trigger  Trigger
	last     PullResult
	lastErr  string
	inFlight sync.WaitGroup
}

// EngineOption customizes an Engine
type EngineOption func(*Engine)

// WithNetworkGate adds a device-conditions gate to automatic triggers
func WithNetworkGate(g NetworkGate) EngineOption {
	return func(e *Engine) { e.gate = g }
}

// WithEngineLogger sets the engine logger
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithEngineClock overrides the clock
func WithEngineClock(now Clock) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithConfig sets the configuration used until Init loads a persisted one
func WithConfig(cfg Config) EngineOption {
	return func(e *Engine) { e.cfg = cfg }
}

// NewEngine creates an engine. kv persists the configuration; it is usually
// the same store backing cursors.
func NewEngine(puller PullRunner, cursors *CursorStore, kv KVStore, opts ...EngineOption) *Engine {
	e := &Engine{
		puller:  puller,
		cursors: cursors,
		kv:      kv,
		now:     time.Now,
		logger:  slog.Default(),
		cfg:     DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.bus = newStatusBus(e.logger)
	return e
}

// Init loads the persisted configuration and starts status delivery.
// An unreadable configuration is logged and the current one is kept.
func (e *Engine) Init(ctx context.Context) error {
	raw, found, err := e.kv.Get(ctx, KeyConfig)
	switch {
	case err != nil:
		e.logger.Warn("failed to read sync configuration, using defaults", "error", err)
	case found:
		e.mu.Lock()
		cfg := e.cfg
		if err := json.Unmarshal(raw, &cfg); err != nil {
			e.logger.Warn("failed to decode sync configuration, using defaults", "error", err)
		} else if err := cfg.Validate(); err != nil {
			e.logger.Warn("persisted sync configuration is invalid, using defaults", "error", err)
		} else {
			e.cfg = cfg
		}
		e.mu.Unlock()
	}
	e.bus.start()
	e.publish(ctx)
	e.logger.Info("sync engine initialized", "enabled", e.GetConfiguration().Enabled)
	return nil
}

// Shutdown refuses new runs, waits for an in-flight one, then stops status delivery
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for in-flight sync: %w", ctx.Err())
	}
	e.bus.close()
	return nil
}

// SyncNow runs a pull if sync is enabled and none is running. Pull failures
// are not returned; they surface in the outcome and in GetStatus.
func (e *Engine) SyncNow(ctx context.Context) (TriggerOutcome, error) {
	e.mu.Lock()
	if !e.cfg.Enabled {
		e.mu.Unlock()
		return TriggerOutcome{Trigger: TriggerManual, Reason: "sync disabled"}, ErrSyncDisabled
	}
	if reason := e.busyLocked(); reason != "" {
		e.mu.Unlock()
		e.logger.Info("sync skipped", "trigger", TriggerManual, "reason", reason)
		return TriggerOutcome{Trigger: TriggerManual, Reason: reason}, nil
	}
	cfg := e.beginLocked(TriggerManual)
	e.mu.Unlock()

	return e.run(ctx, TriggerManual, cfg), nil
}

// SyncOnAppStart runs a pull if every gate passes. It never returns an error.
func (e *Engine) SyncOnAppStart(ctx context.Context) TriggerOutcome {
	return e.autoSync(ctx, TriggerAppStart)
}

// SyncOnForeground runs a pull if every gate passes. It never returns an error.
func (e *Engine) SyncOnForeground(ctx context.Context) TriggerOutcome {
	return e.autoSync(ctx, TriggerForeground)
}

func (e *Engine) autoSync(ctx context.Context, trigger Trigger) TriggerOutcome {
	d := e.ShouldSync(ctx)
	if !d.Run {
		e.logger.Info("sync skipped", "trigger", trigger, "reason", d.Reason)
		return TriggerOutcome{Trigger: trigger, Reason: d.Reason}
	}

	e.mu.Lock()
	// Re-check under the lock: another trigger may have started meanwhile.
	reason := e.busyLocked()
	if !e.cfg.Enabled {
		reason = "sync disabled"
	}
	if reason != "" {
		e.mu.Unlock()
		e.logger.Info("sync skipped", "trigger", trigger, "reason", reason)
		return TriggerOutcome{Trigger: trigger, Reason: reason}
	}
	cfg := e.beginLocked(trigger)
	e.mu.Unlock()

	return e.run(ctx, trigger, cfg)
}

// ShouldSync evaluates the automatic-trigger gates without side effects:
// enabled, not running, device conditions (if a gate is set) and staleness.
func (e *Engine) ShouldSync(ctx context.Context) Decision {
	e.mu.Lock()
	enabled, running, staleness := e.cfg.Enabled, e.running, e.cfg.Staleness()
	e.mu.Unlock()

	if !enabled {
		return Decision{Reason: "sync disabled"}
	}
	if running {
		return Decision{Reason: "already running"}
	}
	if e.gate != nil {
		if ok, reason := e.gate.CanSync(ctx); !ok {
			if reason == "" {
				reason = "device conditions do not allow sync"
			}
			return Decision{Reason: reason}
		}
	}
	last := e.cursors.GetLastSyncAt(ctx)
	if !e.cursors.IsStale(ctx, staleness) {
		return Decision{Reason: fmt.Sprintf("last sync %s ago is within %s", e.now().Sub(last).Round(time.Second), staleness)}
	}
	if last.IsZero() {
		return Decision{Run: true, Reason: "never synced"}
	}
	return Decision{Run: true, Reason: fmt.Sprintf("last sync older than %s", staleness)}
}

// GetStatus returns the current status
func (e *Engine) GetStatus(ctx context.Context) Status {
	last := e.cursors.GetLastSyncAt(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked(last)
}

// GetConfiguration returns a copy of the configuration
func (e *Engine) GetConfiguration() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// UpdateConfiguration applies a partial update, persists it and notifies
// subscribers. Disabling sync through a patch is refused while running.
func (e *Engine) UpdateConfiguration(ctx context.Context, patch ConfigPatch) (Config, error) {
	e.mu.Lock()
	next := patch.Apply(e.cfg)
	if err := next.Validate(); err != nil {
		cur := e.cfg
		e.mu.Unlock()
		return cur, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if e.running && e.cfg.Enabled && !next.Enabled {
		cur := e.cfg
		e.mu.Unlock()
		return cur, fmt.Errorf("cannot disable sync: %w", ErrSyncRunning)
	}
	if err := e.persistConfig(ctx, next); err != nil {
		cur := e.cfg
		e.mu.Unlock()
		return cur, err
	}
	e.cfg = next
	e.mu.Unlock()

	e.logger.Info("sync configuration updated",
		"enabled", next.Enabled, "max_pages", next.MaxPages, "max_duration", next.MaxDuration,
		"page_limit", next.PageLimit, "staleness_minutes", next.StalenessMinutes)
	e.publish(ctx)
	return next, nil
}

// EnableSync turns sync on; it is idempotent
func (e *Engine) EnableSync(ctx context.Context) error {
	return e.setEnabled(ctx, true)
}

// DisableSync turns sync off. While a pull is running it is a logged no-op.
func (e *Engine) DisableSync(ctx context.Context) error {
	return e.setEnabled(ctx, false)
}

func (e *Engine) setEnabled(ctx context.Context, enabled bool) error {
	e.mu.Lock()
	if e.cfg.Enabled == enabled {
		e.mu.Unlock()
		return nil
	}
	if !enabled && e.running {
		e.mu.Unlock()
		e.logger.Warn("disable sync ignored while a sync is running")
		return nil
	}
	next := e.cfg
	next.Enabled = enabled
	if err := e.persistConfig(ctx, next); err != nil {
		e.mu.Unlock()
		return err
	}
	e.cfg = next
	e.mu.Unlock()

	e.logger.Info("sync enabled state changed", "enabled", enabled)
	e.publish(ctx)
	return nil
}

// ResetSyncState clears the cursor, last sync time and last error so the
// next pull starts from the beginning. It fails with ErrSyncRunning while running.
func (e *Engine) ResetSyncState(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("cannot reset sync state: %w", ErrSyncRunning)
	}
	if err := e.cursors.Clear(ctx); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to reset sync state: %w", err)
	}
	e.lastErr = ""
	e.last = PullResult{}
	e.trigger = ""
	e.mu.Unlock()

	e.logger.Info("sync state reset")
	e.publish(ctx)
	return nil
}

// Subscribe registers fn for status updates; call the returned func to stop.
// fn runs on the engine's dispatcher goroutine.
func (e *Engine) Subscribe(fn func(Status)) (unsubscribe func()) {
	return e.bus.subscribe(fn)
}

func (e *Engine) busyLocked() string {
	switch {
	case e.closed:
		return "engine shut down"
	case e.running:
		return "already running"
	}
	return ""
}

// beginLocked moves to Running; e.mu must be held
func (e *Engine) beginLocked(trigger Trigger) Config {
	e.running = true
	e.trigger = trigger
	e.inFlight.Add(1)
	return e.cfg
}

func (e *Engine) run(ctx context.Context, trigger Trigger, cfg Config) (out TriggerOutcome) {
	runID := uuid.NewString()
	ctx = runctx.WithRun(ctx, runID, string(trigger), e.logger)
	logger := runctx.Logger(ctx, e.logger)
	logger.Info("sync started")
	e.publish(ctx)

	var res PullResult
	defer func() {
		if r := recover(); r != nil {
			res = PullResult{Err: fmt.Errorf("sync panicked: %v", r), StopReason: StopError}
			logger.Error("sync panicked", "panic", r)
		}
		e.finish(ctx, res)
		out = TriggerOutcome{Trigger: trigger, Started: true, Result: &res}
	}()

	res = e.puller.Pull(ctx, cfg.Pull())
	return out
}

func (e *Engine) finish(ctx context.Context, res PullResult) {
	e.mu.Lock()
	e.running = false
	e.last = res
	if res.Success {
		e.lastErr = ""
	} else {
		e.lastErr = res.ErrorMessage()
	}
	e.mu.Unlock()
	e.inFlight.Done()

	runctx.Logger(ctx, e.logger).Info("sync finished",
		"success", res.Success, "items", res.TotalItems, "pages", res.TotalPages, "error", res.ErrorMessage())
	e.publish(ctx)
}

func (e *Engine) statusLocked(lastSyncAt time.Time) Status {
	st := Status{
		IsEnabled:  e.cfg.Enabled,
		IsRunning:  e.running,
		LastError:  e.lastErr,
		TotalItems: e.last.TotalItems,
		TotalPages: e.last.TotalPages,
		DurationMs: e.last.Duration.Milliseconds(),
		Applied:    e.last.Merge.Applied,
		Skipped:    e.last.Merge.Skipped() + e.last.Rejected,
		Trigger:    e.trigger,
	}
	if !lastSyncAt.IsZero() {
		t := lastSyncAt
		st.LastSyncAt = &t
	}
	return st
}

func (e *Engine) publish(ctx context.Context) {
	e.bus.publish(e.GetStatus(ctx))
}

func (e *Engine) persistConfig(ctx context.Context, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode sync configuration: %w", err)
	}
	if err := e.kv.Set(ctx, KeyConfig, raw); err != nil {
		return fmt.Errorf("failed to persist sync configuration: %w", err)
	}
	return nil
}
