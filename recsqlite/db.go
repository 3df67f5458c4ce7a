// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package recsqlite provides SQLite-backed persistence for go-recsync:
// the key-value store used for cursor, queue and configuration state, the
// local entity store the merge engine writes through, and an indexed
// tombstone table.
package recsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is used for every timestamp column so values sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB wraps a SQLite database holding all recsync state
type DB struct {
	SQL     *sql.DB
	writeMu sync.Mutex // Serialize write operations to prevent SQLite locking issues
}

// Open opens (or creates) the database at path and creates the recsync tables.
// Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and avoids SQLITE_BUSY between writers.
	sqlDB.SetMaxOpenConns(1)
	if err := initializeDatabase(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &DB{SQL: sqlDB}, nil
}

// Close closes the underlying database
func (db *DB) Close() error {
	return db.SQL.Close()
}

// KV returns the key-value view of db
func (db *DB) KV() *KV { return &KV{db: db} }

// Store returns the entity store view of db
func (db *DB) Store() *Store { return &Store{db: db} }

// Tombstones returns the tombstone table view of db
func (db *DB) Tombstones() *Tombstones { return &Tombstones{db: db} }

func initializeDatabase(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS _sync_kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS _sync_tombstones (
			entity_type TEXT NOT NULL,
			entity_id   TEXT NOT NULL,
			deleted_at  TEXT NOT NULL,
			PRIMARY KEY (entity_type, entity_id)
		)`,
		`CREATE INDEX IF NOT EXISTS _sync_tombstones_deleted_at ON _sync_tombstones(deleted_at)`,

		`CREATE TABLE IF NOT EXISTS recordings (
			id           TEXT PRIMARY KEY,
			owner_id     TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL DEFAULT '',
			duration_sec REAL NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			size_bytes   INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS folders (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL DEFAULT '',
			parent_id  TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS tags (
			id         TEXT PRIMARY KEY,
			owner_id   TEXT NOT NULL DEFAULT '',
			name       TEXT NOT NULL DEFAULT '',
			color      TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,

		// Memberships may arrive before the entities they reference, so no foreign keys here.
		`CREATE TABLE IF NOT EXISTS recording_tags (
			recording_id TEXT NOT NULL,
			tag_id       TEXT NOT NULL,
			PRIMARY KEY (recording_id, tag_id)
		)`,

		`CREATE TABLE IF NOT EXISTS recording_folders (
			recording_id TEXT NOT NULL,
			folder_id    TEXT NOT NULL,
			PRIMARY KEY (recording_id, folder_id)
		)`,
	}

	for _, stmt := range tables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}
