// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package recpg keeps go-recsync state in PostgreSQL for desktop and agent
// deployments that share one database between several sync clients. Each
// client is isolated by a configured namespace.
package recpg

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobiletoly/go-recsync/recsync"
)

// Store implements recsync.KVStore and recsync.TombstoneStore for one namespace
type Store struct {
	pool      *pgxpool.Pool
	namespace string
	logger    *slog.Logger
}

var (
	_ recsync.KVStore        = (*Store)(nil)
	_ recsync.TombstoneStore = (*Store)(nil)
)

// Connect opens a pool for databaseURL
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// New creates the recsync schema if needed and returns a store scoped to namespace
func New(ctx context.Context, pool *pgxpool.Pool, namespace string, logger *slog.Logger) (*Store, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{pool: pool, namespace: namespace, logger: logger}
	err := withTxRetry(ctx, func() error {
		return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			return s.initializeSchemaInTx(ctx, tx)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize recsync schema: %w", err)
	}
	return s, nil
}

func (s *Store) initializeSchemaInTx(ctx context.Context, tx pgx.Tx) error {
	migrations := []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS recsync`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS recsync.kv (
			namespace  TEXT        NOT NULL,
			key        TEXT        NOT NULL,
			value      BYTEA       NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (namespace, key)
		)`,

		/*language=postgresql*/ `CREATE TABLE IF NOT EXISTS recsync.tombstones (
			namespace   TEXT        NOT NULL,
			entity_type TEXT        NOT NULL,
			entity_id   TEXT        NOT NULL,
			deleted_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (namespace, entity_type, entity_id)
		)`,
		/*language=postgresql*/ `CREATE INDEX IF NOT EXISTS tombstones_deleted_at_idx
			ON recsync.tombstones (namespace, deleted_at)`,
	}
	for _, m := range migrations {
		if _, err := tx.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM recsync.kv WHERE namespace = $1 AND key = $2`, s.namespace, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recsync.kv (namespace, key, value, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (namespace, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.namespace, key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM recsync.kv WHERE namespace = $1 AND key = $2`, s.namespace, key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}

func (s *Store) GetTombstone(ctx context.Context, key recsync.EntityKey) (recsync.Tombstone, bool, error) {
	var deletedAt time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT deleted_at FROM recsync.tombstones
		WHERE namespace = $1 AND entity_type = $2 AND entity_id = $3
	`, s.namespace, string(key.Type), key.ID).Scan(&deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return recsync.Tombstone{}, false, nil
	}
	if err != nil {
		return recsync.Tombstone{}, false, fmt.Errorf("failed to read tombstone %s: %w", key, err)
	}
	return recsync.Tombstone{EntityType: key.Type, EntityID: key.ID, DeletedAt: deletedAt.UTC()}, true, nil
}

func (s *Store) PutTombstone(ctx context.Context, ts recsync.Tombstone) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO recsync.tombstones (namespace, entity_type, entity_id, deleted_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, entity_type, entity_id) DO UPDATE SET deleted_at = EXCLUDED.deleted_at
	`, s.namespace, string(ts.EntityType), ts.EntityID, ts.DeletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to write tombstone %s: %w", ts.Key(), err)
	}
	return nil
}

func (s *Store) RemoveTombstone(ctx context.Context, key recsync.EntityKey) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM recsync.tombstones WHERE namespace = $1 AND entity_type = $2 AND entity_id = $3
	`, s.namespace, string(key.Type), key.ID)
	if err != nil {
		return fmt.Errorf("failed to remove tombstone %s: %w", key, err)
	}
	return nil
}

func (s *Store) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM recsync.tombstones WHERE namespace = $1 AND deleted_at < $2`, s.namespace, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune tombstones: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		s.logger.Debug("pruned tombstones", "namespace", s.namespace, "count", n)
	}
	return int(tag.RowsAffected()), nil
}

// Purge removes every row of the namespace
func (s *Store) Purge(ctx context.Context) error {
	return withTxRetry(ctx, func() error { return s.purge(ctx) })
}

func (s *Store) purge(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM recsync.kv WHERE namespace = $1`, s.namespace); err != nil {
			return fmt.Errorf("failed to purge kv: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM recsync.tombstones WHERE namespace = $1`, s.namespace); err != nil {
			return fmt.Errorf("failed to purge tombstones: %w", err)
		}
		return nil
	})
}
