// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobiletoly/go-recsync/internal/config"
	"github.com/mobiletoly/go-recsync/internal/logging"
	"github.com/mobiletoly/go-recsync/recpg"
	"github.com/mobiletoly/go-recsync/recsqlite"
	"github.com/mobiletoly/go-recsync/recsync"
)

// app holds the wired sync stack for one CLI invocation
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *recsqlite.DB
	pool  *pgxpool.Pool
	kv    recsync.KVStore
	store *recsqlite.Store
	blobs recsync.DirBlobs

	deviceID string
	client   *recsync.HTTPClient
	cursors  *recsync.CursorStore
	engine   *recsync.Engine
	queue    *recsync.UploadQueue
	uploader *recsync.Uploader

	logCloser io.Closer
}

// loadConfig reads config in the usual precedence and validates it
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp opens storage and wires every component. Entities always live in
// the SQLite library; the postgres driver moves sync state (KV documents and
// tombstones) into a shared database.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, logCloser, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, logCloser: logCloser}

	if err := a.openStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.deviceID, err = recsync.EnsureDeviceID(ctx, a.kv); err != nil {
		a.Close()
		return nil, err
	}
	a.logger = a.logger.With("device_id", a.deviceID)

	a.client = recsync.NewHTTPClient(cfg.Server.BaseURL, a.deviceID, tokenSource(cfg.Server.Token),
		recsync.WithHTTPClient(&http.Client{Timeout: cfg.Server.Timeout}),
		recsync.WithHTTPLogger(a.logger))

	debugTimings := cfg.Logging.Level == "debug"
	a.cursors = recsync.NewCursorStore(a.kv, nil, a.logger)
	merger := recsync.NewMergeEngine(a.store, a.tombstones(),
		recsync.WithTombstoneRetention(cfg.Sync.TombstoneRetention),
		recsync.WithMergeLogger(a.logger))
	puller := recsync.NewPuller(a.client, merger, a.cursors,
		recsync.WithPullerLogger(a.logger),
		recsync.WithPullerStageMetrics(nil, debugTimings))
	a.engine = recsync.NewEngine(puller, a.cursors, a.kv,
		recsync.WithConfig(cfg.Engine()),
		recsync.WithEngineLogger(a.logger))
	if err := a.engine.Init(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.queue = recsync.OpenUploadQueue(ctx, a.kv, cfg.Queue(), recsync.WithQueueLogger(a.logger))
	pipeline := recsync.NewUploadPipeline(a.client,
		recsync.WithPipelineLogger(a.logger),
		recsync.WithPipelineStageMetrics(nil, debugTimings))
	a.uploader = recsync.NewUploader(a.queue, pipeline, a.store, a.blobs, cfg.Uploader(),
		recsync.WithUploaderLogger(a.logger))
	return a, nil
}

func (a *app) openStorage(ctx context.Context) error {
	db, err := recsqlite.Open(ctx, a.cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	a.db = db
	a.store = db.Store()
	a.kv = db.KV()

	if err := os.MkdirAll(a.cfg.Storage.BlobDir, 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}
	a.blobs = recsync.DirBlobs{Dir: a.cfg.Storage.BlobDir}

	if a.cfg.Storage.Driver == "postgres" {
		pool, err := recpg.Connect(ctx, a.cfg.Storage.DatabaseURL)
		if err != nil {
			return err
		}
		a.pool = pool
		pg, err := recpg.New(ctx, pool, a.cfg.Storage.Namespace, a.logger)
		if err != nil {
			return err
		}
		a.kv = pg
	}
	return nil
}

func (a *app) tombstones() recsync.TombstoneStore {
	if ts, ok := a.kv.(recsync.TombstoneStore); ok {
		return ts
	}
	return a.db.Tombstones()
}

// Close shuts the engine down and releases storage
func (a *app) Close() {
	if a.engine != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Sync.MaxDuration+a.cfg.Server.Timeout)
		if err := a.engine.Shutdown(ctx); err != nil {
			a.logger.Warn("engine shutdown incomplete", "error", err)
		}
		cancel()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// tokenSource checks expiry locally for JWTs and passes opaque tokens through
func tokenSource(tok string) recsync.TokenFunc {
	if strings.Count(tok, ".") == 2 {
		return recsync.JWTTokenSource(tok, nil)
	}
	return recsync.StaticToken(tok)
}

// withApp runs fn with a wired app and closes it afterwards
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
