// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Merger applies a batch of remote changes to local state
type Merger interface {
	Merge(ctx context.Context, batch []ChangeRecord) (MergeStats, error)
}

// MergeStats counts the outcome of each record in a batch
type MergeStats struct {
	Applied int `json:"applied"`
	Stale   int `json:"stale"`   // older than local state
	Blocked int `json:"blocked"` // stale resurrection blocked by a tombstone
	Failed  int `json:"failed"`  // isolated per-record errors
}

// Skipped is every record that did not change local state
func (s MergeStats) Skipped() int { return s.Stale + s.Blocked + s.Failed }

func (s *MergeStats) add(o outcome) {
	switch o {
	case outcomeApplied:
		s.Applied++
	case outcomeStale:
		s.Stale++
	case outcomeBlocked:
		s.Blocked++
	}
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeStale
	outcomeBlocked
)

// MergeEngine deterministically applies change records to a LocalStore.
//
// Scalar entities resolve last-write-wins on UpdatedAt; relationships are
// set-membership facts. Deletes leave durable tombstones so a stale upsert
// delivered later cannot resurrect the entity.
type MergeEngine struct {
	store      LocalStore
	tombstones TombstoneStore
	now        Clock
	retention  time.Duration
	logger     *slog.Logger
}

// MergeOption customizes a MergeEngine
type MergeOption func(*MergeEngine)

// WithTombstoneRetention sets how long tombstones are kept; zero disables pruning
func WithTombstoneRetention(d time.Duration) MergeOption {
	return func(m *MergeEngine) { m.retention = d }
}

// WithMergeClock overrides the clock used for tombstone pruning
func WithMergeClock(now Clock) MergeOption {
	return func(m *MergeEngine) { m.now = now }
}

// WithMergeLogger sets the engine logger
func WithMergeLogger(logger *slog.Logger) MergeOption {
	return func(m *MergeEngine) { m.logger = logger }
}

// NewMergeEngine creates a merge engine writing through store and tombstones
func NewMergeEngine(store LocalStore, tombstones TombstoneStore, opts ...MergeOption) *MergeEngine {
	m := &MergeEngine{
		store:      store,
		tombstones: tombstones,
		now:        time.Now,
		retention:  DefaultTombstoneRetention,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Merge applies batch grouped by entity type in dependency order. Records
// are isolated from each other: a failing record is logged and counted, and
// the batch continues. An error is returned only if ctx ends mid-batch.
func (m *MergeEngine) Merge(ctx context.Context, batch []ChangeRecord) (MergeStats, error) {
	var stats MergeStats

	groups := make(map[EntityType][]ChangeRecord, len(mergeOrder))
	for _, rec := range batch {
		if !rec.Type.Valid() {
			m.logger.Warn("dropping change with unknown entity type", "id", rec.ID, "type", rec.Type)
			stats.Failed++
			continue
		}
		groups[rec.Type] = append(groups[rec.Type], rec)
	}

	for _, typ := range mergeOrder {
		for _, rec := range groups[typ] {
			if err := ctx.Err(); err != nil {
				return stats, fmt.Errorf("merge interrupted: %w", err)
			}
			o, err := m.applyProtected(ctx, rec)
			if err != nil {
				m.logger.Warn("failed to apply change",
					"type", rec.Type, "id", rec.ID, "op", rec.Op, "error", err)
				stats.Failed++
				continue
			}
			stats.add(o)
		}
	}

	if m.retention > 0 {
		cutoff := m.now().Add(-m.retention)
		if n, err := m.tombstones.PruneTombstones(ctx, cutoff); err != nil {
			m.logger.Warn("failed to prune tombstones", "error", err)
		} else if n > 0 {
			m.logger.Debug("pruned tombstones", "count", n, "cutoff", cutoff)
		}
	}

	m.logger.Info("merge complete",
		"records", len(batch), "applied", stats.Applied, "stale", stats.Stale,
		"blocked", stats.Blocked, "failed", stats.Failed)
	return stats, nil
}

// applyProtected applies one record, converting a panic into an error
func (m *MergeEngine) applyProtected(ctx context.Context, rec ChangeRecord) (o outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while applying %s %s: %v", rec.Type, rec.ID, r)
		}
	}()
	return m.apply(ctx, rec)
}

func (m *MergeEngine) apply(ctx context.Context, rec ChangeRecord) (outcome, error) {
	switch {
	case rec.Op == OpUpsert && rec.Type.IsRelationship():
		return m.applyLinkAdd(ctx, rec)
	case rec.Op == OpDelete && rec.Type.IsRelationship():
		return m.applyLinkRemove(ctx, rec)
	case rec.Op == OpUpsert:
		return m.applyUpsert(ctx, rec)
	case rec.Op == OpDelete:
		return m.applyDelete(ctx, rec)
	default:
		return 0, fmt.Errorf("unknown operation: %s", rec.Op)
	}
}

// applyUpsert applies a scalar upsert under tombstone and last-write-wins rules
func (m *MergeEngine) applyUpsert(ctx context.Context, rec ChangeRecord) (outcome, error) {
	if rec.Entity == nil {
		return 0, fmt.Errorf("upsert requires an entity")
	}
	if rec.Entity.EntityType() != rec.Type {
		return 0, fmt.Errorf("entity kind %s does not match record type %s", rec.Entity.EntityType(), rec.Type)
	}

	blocked, err := m.checkTombstone(ctx, rec)
	if err != nil || blocked {
		return outcomeBlocked, err
	}

	local, err := m.loadLocal(ctx, rec.Type, rec.ID)
	if err != nil {
		return 0, err
	}
	if local != nil && !incomingWins(rec, local) {
		m.logger.Debug("stale-skip", "type", rec.Type, "id", rec.ID,
			"incoming", rec.UpdatedAt, "local", local.Modified())
		return outcomeStale, nil
	}

	if err := m.store.UpsertEntity(ctx, rec.Entity); err != nil {
		return 0, fmt.Errorf("failed to upsert %s %s: %w", rec.Type, rec.ID, err)
	}
	return outcomeApplied, nil
}

// applyDelete removes a scalar entity and records a tombstone, even when no local copy exists
func (m *MergeEngine) applyDelete(ctx context.Context, rec ChangeRecord) (outcome, error) {
	local, err := m.loadLocal(ctx, rec.Type, rec.ID)
	if err != nil {
		return 0, err
	}
	if local != nil && !incomingWins(rec, local) {
		m.logger.Debug("stale-skip delete", "type", rec.Type, "id", rec.ID,
			"incoming", rec.UpdatedAt, "local", local.Modified())
		return outcomeStale, nil
	}
	if local != nil {
		if err := m.store.DeleteEntity(ctx, rec.Type, rec.ID); err != nil {
			return 0, fmt.Errorf("failed to delete %s %s: %w", rec.Type, rec.ID, err)
		}
	}
	return m.refreshTombstone(ctx, rec, local != nil)
}

// applyLinkAdd adds a relationship; adds are idempotent, so replays are harmless
func (m *MergeEngine) applyLinkAdd(ctx context.Context, rec ChangeRecord) (outcome, error) {
	if rec.Entity == nil {
		return 0, fmt.Errorf("relationship upsert requires an entity")
	}
	blocked, err := m.checkTombstone(ctx, rec)
	if err != nil || blocked {
		return outcomeBlocked, err
	}
	if err := m.store.UpsertEntity(ctx, rec.Entity); err != nil {
		return 0, fmt.Errorf("failed to add %s %s: %w", rec.Type, rec.Key().ID, err)
	}
	return outcomeApplied, nil
}

// applyLinkRemove removes a relationship and tombstones the pair
func (m *MergeEngine) applyLinkRemove(ctx context.Context, rec ChangeRecord) (outcome, error) {
	if rec.Entity == nil {
		return 0, fmt.Errorf("relationship delete requires an entity")
	}
	key := rec.Key()
	if err := m.store.DeleteEntity(ctx, rec.Type, key.ID); err != nil {
		return 0, fmt.Errorf("failed to remove %s %s: %w", rec.Type, key.ID, err)
	}
	return m.refreshTombstone(ctx, rec, true)
}

// checkTombstone reports whether an upsert is a stale resurrection. A tombstone
// older than the incoming change is removed so normal resolution can proceed.
func (m *MergeEngine) checkTombstone(ctx context.Context, rec ChangeRecord) (bool, error) {
	key := rec.Key()
	ts, found, err := m.tombstones.GetTombstone(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to read tombstone %s: %w", key, err)
	}
	if !found {
		return false, nil
	}
	if !ts.DeletedAt.Before(rec.UpdatedAt) {
		m.logger.Debug("blocked by tombstone", "key", key.String(),
			"deleted_at", ts.DeletedAt, "incoming", rec.UpdatedAt)
		return true, nil
	}
	if err := m.tombstones.RemoveTombstone(ctx, key); err != nil {
		return false, fmt.Errorf("failed to remove tombstone %s: %w", key, err)
	}
	return false, nil
}

// refreshTombstone keeps the newest deletion time for the key
func (m *MergeEngine) refreshTombstone(ctx context.Context, rec ChangeRecord, removedLocal bool) (outcome, error) {
	key := rec.Key()
	ts, found, err := m.tombstones.GetTombstone(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to read tombstone %s: %w", key, err)
	}
	if found && !ts.DeletedAt.Before(rec.UpdatedAt) {
		if removedLocal {
			return outcomeApplied, nil
		}
		return outcomeStale, nil
	}
	err = m.tombstones.PutTombstone(ctx, Tombstone{
		EntityType: key.Type,
		EntityID:   key.ID,
		DeletedAt:  rec.UpdatedAt,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write tombstone %s: %w", key, err)
	}
	return outcomeApplied, nil
}

func (m *MergeEngine) loadLocal(ctx context.Context, typ EntityType, id string) (Entity, error) {
	local, err := m.store.GetEntity(ctx, typ, id)
	if errors.Is(err, ErrEntityNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load local %s %s: %w", typ, id, err)
	}
	return local, nil
}

// incomingWins resolves last-write-wins between a change and the local entity.
// Equal timestamps fall back to comparing ids, then content fingerprints, so
// every replica picks the same winner regardless of arrival order. A delete
// wins every tie it reaches.
func incomingWins(rec ChangeRecord, local Entity) bool {
	lt := local.Modified()
	if rec.UpdatedAt.Before(lt) {
		return false
	}
	if rec.UpdatedAt.After(lt) {
		return true
	}
	if localID := local.EntityID(); rec.ID != localID {
		return rec.ID > localID
	}
	if rec.Op == OpDelete {
		return true
	}
	return Fingerprint(rec.Entity) >= Fingerprint(local)
}
