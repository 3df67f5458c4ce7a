// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package configwatch reloads the [sync] budgets from the TOML config file
// whenever it changes on disk.
package configwatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mobiletoly/go-recsync/internal/config"
	"github.com/mobiletoly/go-recsync/recsync"
)

// DefaultDebounce coalesces the burst of events editors emit on save
const DefaultDebounce = 250 * time.Millisecond

// ConfigUpdater applies a configuration patch; *recsync.Engine implements it
type ConfigUpdater interface {
	UpdateConfiguration(ctx context.Context, patch recsync.ConfigPatch) (recsync.Config, error)
}

// Watcher applies file changes to the engine. Only the pull budgets are
// reloaded; the enabled flag stays under EnableSync/DisableSync control.
type Watcher struct {
	path     string
	target   ConfigUpdater
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a watcher for path
func New(path string, target ConfigUpdater, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		target:   target,
		debounce: DefaultDebounce,
		logger:   logger,
	}
}

// WithDebounce overrides the debounce interval
func (w *Watcher) WithDebounce(d time.Duration) *Watcher {
	w.debounce = d
	return w
}

// Reload reads the file and applies its budgets. Invalid files are rejected
// without touching the running configuration.
func (w *Watcher) Reload(ctx context.Context) (recsync.Config, error) {
	cfg, err := config.LoadFromFile(w.path)
	if err != nil {
		return recsync.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return recsync.Config{}, fmt.Errorf("invalid config file: %w", err)
	}
	eng := cfg.Engine()
	return w.target.UpdateConfiguration(ctx, recsync.ConfigPatch{
		MaxPages:         &eng.MaxPages,
		MaxDuration:      &eng.MaxDuration,
		PageLimit:        &eng.PageLimit,
		StalenessMinutes: &eng.StalenessMinutes,
	})
}

// Run watches the file's directory until ctx is done. Watching the directory
// rather than the file survives editors that save by rename.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}
	w.logger.Info("watching config file", "path", w.path)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			cfg, err := w.Reload(ctx)
			if err != nil {
				w.logger.Warn("config reload rejected", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("config reloaded",
				"max_pages", cfg.MaxPages, "max_duration", cfg.MaxDuration,
				"page_limit", cfg.PageLimit, "staleness_minutes", cfg.StalenessMinutes)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
