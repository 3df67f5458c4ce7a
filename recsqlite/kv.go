// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mobiletoly/go-recsync/recsync"
)

// KV implements recsync.KVStore on the _sync_kv table
type KV struct {
	db *DB
}

var _ recsync.KVStore = (*KV)(nil)

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := k.db.SQL.QueryRowContext(ctx, `SELECT value FROM _sync_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte) error {
	k.db.writeMu.Lock()
	defer k.db.writeMu.Unlock()
	if value == nil {
		value = []byte{}
	}
	_, err := k.db.SQL.ExecContext(ctx, `
		INSERT INTO _sync_kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (k *KV) Remove(ctx context.Context, key string) error {
	k.db.writeMu.Lock()
	defer k.db.writeMu.Unlock()
	if _, err := k.db.SQL.ExecContext(ctx, `DELETE FROM _sync_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove key %s: %w", key, err)
	}
	return nil
}
