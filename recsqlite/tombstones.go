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

// Tombstones implements recsync.TombstoneStore on an indexed table
type Tombstones struct {
	db *DB
}

var _ recsync.TombstoneStore = (*Tombstones)(nil)

func (t *Tombstones) GetTombstone(ctx context.Context, key recsync.EntityKey) (recsync.Tombstone, bool, error) {
	var deletedAt string
	err := t.db.SQL.QueryRowContext(ctx,
		`SELECT deleted_at FROM _sync_tombstones WHERE entity_type = ? AND entity_id = ?`,
		string(key.Type), key.ID).Scan(&deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return recsync.Tombstone{}, false, nil
	}
	if err != nil {
		return recsync.Tombstone{}, false, fmt.Errorf("failed to read tombstone %s: %w", key, err)
	}
	at, err := parseTime(deletedAt)
	if err != nil {
		return recsync.Tombstone{}, false, err
	}
	return recsync.Tombstone{EntityType: key.Type, EntityID: key.ID, DeletedAt: at}, true, nil
}

func (t *Tombstones) PutTombstone(ctx context.Context, ts recsync.Tombstone) error {
	t.db.writeMu.Lock()
	defer t.db.writeMu.Unlock()
	_, err := t.db.SQL.ExecContext(ctx, `
		INSERT INTO _sync_tombstones (entity_type, entity_id, deleted_at) VALUES (?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET deleted_at = excluded.deleted_at
	`, string(ts.EntityType), ts.EntityID, formatTime(ts.DeletedAt))
	if err != nil {
		return fmt.Errorf("failed to write tombstone %s: %w", ts.Key(), err)
	}
	return nil
}

func (t *Tombstones) RemoveTombstone(ctx context.Context, key recsync.EntityKey) error {
	t.db.writeMu.Lock()
	defer t.db.writeMu.Unlock()
	_, err := t.db.SQL.ExecContext(ctx,
		`DELETE FROM _sync_tombstones WHERE entity_type = ? AND entity_id = ?`, string(key.Type), key.ID)
	if err != nil {
		return fmt.Errorf("failed to remove tombstone %s: %w", key, err)
	}
	return nil
}

func (t *Tombstones) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	t.db.writeMu.Lock()
	defer t.db.writeMu.Unlock()
	res, err := t.db.SQL.ExecContext(ctx, `DELETE FROM _sync_tombstones WHERE deleted_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune tombstones: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned tombstones: %w", err)
	}
	return int(n), nil
}

// Count returns the number of stored tombstones
func (t *Tombstones) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM _sync_tombstones`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tombstones: %w", err)
	}
	return n, nil
}
