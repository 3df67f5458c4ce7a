// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// DefaultTombstoneRetention bounds how long a tombstone outlives its delete
const DefaultTombstoneRetention = 90 * 24 * time.Hour

// KVTombstones is a TombstoneStore kept as one JSON document in a KVStore.
// It suits small libraries; recsqlite.Tombstones indexes them in a table.
type KVTombstones struct {
	kv KVStore

	mu     sync.Mutex
	loaded bool
	set    map[string]Tombstone
}

// NewKVTombstones creates a KV-backed tombstone store
func NewKVTombstones(kv KVStore) *KVTombstones {
	return &KVTombstones{kv: kv}
}

func (t *KVTombstones) GetTombstone(ctx context.Context, key EntityKey) (Tombstone, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(ctx); err != nil {
		return Tombstone{}, false, err
	}
	ts, ok := t.set[key.String()]
	return ts, ok, nil
}

func (t *KVTombstones) PutTombstone(ctx context.Context, ts Tombstone) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(ctx); err != nil {
		return err
	}
	ts.DeletedAt = ts.DeletedAt.UTC()
	t.set[ts.Key().String()] = ts
	return t.persist(ctx)
}

func (t *KVTombstones) RemoveTombstone(ctx context.Context, key EntityKey) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(ctx); err != nil {
		return err
	}
	if _, ok := t.set[key.String()]; !ok {
		return nil
	}
	delete(t.set, key.String())
	return t.persist(ctx)
}

func (t *KVTombstones) PruneTombstones(ctx context.Context, cutoff time.Time) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	removed := 0
	for k, ts := range t.set {
		if ts.DeletedAt.Before(cutoff) {
			delete(t.set, k)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, t.persist(ctx)
}

func (t *KVTombstones) ensureLoaded(ctx context.Context) error {
	if t.loaded {
		return nil
	}
	raw, found, err := t.kv.Get(ctx, KeyTombstones)
	if err != nil {
		return fmt.Errorf("failed to load tombstones: %w", err)
	}
	var list []Tombstone
	if found && len(raw) > 0 {
		if err := json.Unmarshal(raw, &list); err != nil {
			return fmt.Errorf("failed to decode tombstones: %w", err)
		}
	}
	t.set = make(map[string]Tombstone, len(list))
	for _, ts := range list {
		t.set[ts.Key().String()] = ts
	}
	t.loaded = true
	return nil
}

func (t *KVTombstones) persist(ctx context.Context) error {
	list := make([]Tombstone, 0, len(t.set))
	for _, ts := range t.set {
		list = append(list, ts)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to encode tombstones: %w", err)
	}
	if err := t.kv.Set(ctx, KeyTombstones, raw); err != nil {
		return fmt.Errorf("failed to persist tombstones: %w", err)
	}
	return nil
}
