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
)

// CursorState is the persisted pull position
type CursorState struct {
	Cursor     string    `json:"cursor,omitempty"`
	LastSyncAt time.Time `json:"lastSyncAt,omitempty"`
}

// CursorStore persists the continuation token and last successful sync time.
//
// Both fields live in one KV document, so UpdateState is a single write.
// Reads fail soft (logged, zero values); writes fail loud. A write attempted
// while another write is in progress is rejected with ErrStoreBusy.
type CursorStore struct {
	kv     KVStore
	now    Clock
	logger *slog.Logger

	writeMu sync.Mutex
}

// NewCursorStore creates a cursor store over kv
func NewCursorStore(kv KVStore, now Clock, logger *slog.Logger) *CursorStore {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CursorStore{kv: kv, now: now, logger: logger}
}

// GetState returns both fields; on storage error it returns the zero state
func (s *CursorStore) GetState(ctx context.Context) CursorState {
	st, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("failed to read cursor state", "error", err)
		return CursorState{}
	}
	return st
}

// GetCursor returns the stored cursor, or "" when absent or unreadable
func (s *CursorStore) GetCursor(ctx context.Context) string {
	return s.GetState(ctx).Cursor
}

// GetLastSyncAt returns the last successful sync time, or the zero time
func (s *CursorStore) GetLastSyncAt(ctx context.Context) time.Time {
	return s.GetState(ctx).LastSyncAt
}

// SetCursor replaces the cursor, keeping lastSyncAt
func (s *CursorStore) SetCursor(ctx context.Context, cursor string) error {
	return s.write(ctx, func(st *CursorState) { st.Cursor = cursor })
}

// SetLastSyncAt replaces lastSyncAt, keeping the cursor
func (s *CursorStore) SetLastSyncAt(ctx context.Context, t time.Time) error {
	return s.write(ctx, func(st *CursorState) { st.LastSyncAt = t.UTC() })
}

// UpdateState sets both fields in one write. This is the commit point of a pull.
func (s *CursorStore) UpdateState(ctx context.Context, cursor string, t time.Time) error {
	return s.write(ctx, func(st *CursorState) {
		st.Cursor = cursor
		st.LastSyncAt = t.UTC()
	})
}

// Clear removes cursor and lastSyncAt
func (s *CursorStore) Clear(ctx context.Context) error {
	if !s.writeMu.TryLock() {
		s.logger.Warn("rejected concurrent cursor clear")
		return ErrStoreBusy
	}
	defer s.writeMu.Unlock()
	if err := s.kv.Remove(ctx, KeyCursorState); err != nil {
		return fmt.Errorf("failed to clear cursor state: %w", err)
	}
	return nil
}

// IsStale reports whether a sync is due: never synced, or older than threshold.
// Exactly at the threshold is still fresh.
func (s *CursorStore) IsStale(ctx context.Context, threshold time.Duration) bool {
	st, err := s.load(ctx)
	if err != nil {
		s.logger.Warn("failed to read cursor state, treating as stale", "error", err)
		return true
	}
	if st.LastSyncAt.IsZero() {
		return true
	}
	return s.now().Sub(st.LastSyncAt) > threshold
}

func (s *CursorStore) load(ctx context.Context) (CursorState, error) {
	raw, err := s.readRaw(ctx)
	if err != nil {
		return CursorState{}, err
	}
	return decodeCursorState(raw)
}

func (s *CursorStore) readRaw(ctx context.Context) ([]byte, error) {
	raw, found, err := s.kv.Get(ctx, KeyCursorState)
	if err != nil {
		return nil, fmt.Errorf("failed to read cursor state: %w", err)
	}
	if !found {
		return nil, nil
	}
	return raw, nil
}

func decodeCursorState(raw []byte) (CursorState, error) {
	var st CursorState
	if len(raw) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return CursorState{}, fmt.Errorf("failed to decode cursor state: %w", err)
	}
	return st, nil
}

func (s *CursorStore) write(ctx context.Context, mutate func(*CursorState)) error {
	if !s.writeMu.TryLock() {
		s.logger.Warn("rejected concurrent cursor write")
		return ErrStoreBusy
	}
	defer s.writeMu.Unlock()

	// A storage read failure aborts the write so the committed cursor survives;
	// only a corrupt document is replaced.
	raw, err := s.readRaw(ctx)
	if err != nil {
		return err
	}
	st, err := decodeCursorState(raw)
	if err != nil {
		s.logger.Warn("overwriting corrupt cursor state", "error", err)
		st = CursorState{}
	}
	mutate(&st)
	raw, err = json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode cursor state: %w", err)
	}
	if err := s.kv.Set(ctx, KeyCursorState, raw); err != nil {
		return fmt.Errorf("failed to persist cursor state: %w", err)
	}
	return nil
}
