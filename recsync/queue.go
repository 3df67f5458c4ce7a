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

// DefaultMaxAttempts bounds automatic upload retries
const DefaultMaxAttempts = 5

// QueueItem is one recording waiting in the outbox
type QueueItem struct {
	RecordingID   string      `json:"recordingId"`
	Status        QueueStatus `json:"status"`
	ProgressPct   int         `json:"progressPct"`
	AttemptCount  int         `json:"attemptCount"`
	LastError     *string     `json:"lastError"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	EnqueuedAt    time.Time   `json:"enqueuedAt"`
	NextAttemptAt time.Time   `json:"nextAttemptAt,omitempty"`
}

// QueueConfig tunes retry behavior
type QueueConfig struct {
	MaxAttempts int
	BackoffMax  time.Duration
}

// DefaultQueueConfig returns the default retry policy
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{MaxAttempts: DefaultMaxAttempts, BackoffMax: 60 * time.Second}
}

// RetryBackoff returns the advisory delay before automatic retry number attempt
// (1-based): 1s, 3s, 7s, 15s, ... capped at max.
func RetryBackoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 30 {
		return max
	}
	d := time.Duration((1<<attempt)-1) * time.Second
	if max > 0 && d > max {
		return max
	}
	return d
}

// UploadQueue is the persisted outbox of recordings awaiting upload.
//
// All mutations are serialized by one mutex and finish with a full write of
// the queue. If that write fails the error is returned, but the in-memory
// transition stays; the next successful write persists it.
type UploadQueue struct {
	kv     KVStore
	cfg    QueueConfig
	now    Clock
	logger *slog.Logger

	mu    sync.Mutex
	items []*QueueItem // insertion order
}

// QueueOption customizes an UploadQueue
type QueueOption func(*UploadQueue)

// WithQueueClock overrides the queue clock
func WithQueueClock(now Clock) QueueOption {
	return func(q *UploadQueue) { q.now = now }
}

// WithQueueLogger sets the queue logger
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *UploadQueue) { q.logger = logger }
}

// OpenUploadQueue loads the queue from kv. A read or decode failure starts an
// empty queue and is logged. Items left uploading by a crash go back to queued.
func OpenUploadQueue(ctx context.Context, kv KVStore, cfg QueueConfig, opts ...QueueOption) *UploadQueue {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	q := &UploadQueue{
		kv:     kv,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}

	raw, found, err := kv.Get(ctx, KeyUploadQueue)
	switch {
	case err != nil:
		q.logger.Warn("failed to read upload queue, starting empty", "error", err)
	case found && len(raw) > 0:
		var items []*QueueItem
		if err := json.Unmarshal(raw, &items); err != nil {
			q.logger.Warn("failed to decode upload queue, starting empty", "error", err)
			break
		}
		for _, it := range items {
			if it.Status == StUploading {
				it.Status = StQueued
				it.ProgressPct = 0
			}
		}
		q.items = items
	}
	return q
}

// Enqueue adds a recording. An id already uploading or synced is left untouched;
// an absent or failed id gets a fresh queued entry with zero attempts.
func (q *UploadQueue) Enqueue(ctx context.Context, recordingID string) error {
	if recordingID == "" {
		return fmt.Errorf("recording id cannot be empty")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	fresh := &QueueItem{
		RecordingID: recordingID,
		Status:      StQueued,
		UpdatedAt:   now,
		EnqueuedAt:  now,
	}
	if idx := q.indexOf(recordingID); idx >= 0 {
		switch q.items[idx].Status {
		case StUploading, StSynced, StQueued:
			q.logger.Debug("enqueue ignored", "recording_id", recordingID, "status", q.items[idx].Status)
			return nil
		}
		// Failed entries are replaced and move to the back of the queue.
		q.items = append(q.items[:idx], q.items[idx+1:]...)
	}
	q.items = append(q.items, fresh)
	return q.persistLocked(ctx)
}

// GetNext returns the oldest queued item below the attempt limit
func (q *UploadQueue) GetNext() (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Status == StQueued && it.AttemptCount < q.cfg.MaxAttempts {
			return *it, true
		}
	}
	return QueueItem{}, false
}

// MarkUploading moves a queued item into the single uploading slot
func (q *UploadQueue) MarkUploading(ctx context.Context, recordingID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(recordingID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, recordingID)
	}
	for _, it := range q.items {
		if it.Status == StUploading && it.RecordingID != recordingID {
			return fmt.Errorf("%w: %s", ErrUploadInFlight, it.RecordingID)
		}
	}
	it := q.items[idx]
	if it.Status == StUploading {
		return nil
	}
	if it.Status != StQueued {
		return fmt.Errorf("cannot upload %s in status %s", recordingID, it.Status)
	}
	prev := *it
	it.Status = StUploading
	it.ProgressPct = 0
	it.UpdatedAt = q.now().UTC()
	if err := q.persistLocked(ctx); err != nil {
		// The slot is only taken once durable; otherwise it would stay
		// blocked until restart.
		*it = prev
		return err
	}
	return nil
}

// UpdateProgress records upload progress for an uploading item
func (q *UploadQueue) UpdateProgress(ctx context.Context, recordingID string, pct int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(recordingID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, recordingID)
	}
	it := q.items[idx]
	if it.Status != StUploading || it.ProgressPct == pct {
		return nil
	}
	it.ProgressPct = pct
	it.UpdatedAt = q.now().UTC()
	return q.persistLocked(ctx)
}

// MarkFailed records a failed attempt and schedules the advisory retry time
func (q *UploadQueue) MarkFailed(ctx context.Context, recordingID string, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(recordingID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, recordingID)
	}
	it := q.items[idx]
	now := q.now().UTC()
	it.AttemptCount++
	it.Status = StFailed
	it.LastError = &cause
	it.ProgressPct = 0
	it.UpdatedAt = now
	it.NextAttemptAt = now.Add(RetryBackoff(it.AttemptCount, q.cfg.BackoffMax))
	if it.AttemptCount >= q.cfg.MaxAttempts {
		q.logger.Warn("upload retries exhausted", "recording_id", recordingID, "attempts", it.AttemptCount)
	}
	return q.persistLocked(ctx)
}

// MarkCompleted marks an item synced
func (q *UploadQueue) MarkCompleted(ctx context.Context, recordingID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(recordingID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, recordingID)
	}
	it := q.items[idx]
	it.Status = StSynced
	it.ProgressPct = 100
	it.LastError = nil
	it.NextAttemptAt = time.Time{}
	it.UpdatedAt = q.now().UTC()
	return q.persistLocked(ctx)
}

// RetryItem manually resets a failed item to queued with zero attempts
func (q *UploadQueue) RetryItem(ctx context.Context, recordingID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	idx := q.indexOf(recordingID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, recordingID)
	}
	it := q.items[idx]
	if it.Status != StFailed {
		return fmt.Errorf("%w: %s in status %s", ErrNotRetryable, recordingID, it.Status)
	}
	it.Status = StQueued
	it.AttemptCount = 0
	it.LastError = nil
	it.ProgressPct = 0
	it.NextAttemptAt = time.Time{}
	it.UpdatedAt = q.now().UTC()
	return q.persistLocked(ctx)
}

// RequeueDue moves failed items whose backoff elapsed, and which still have
// attempts left, back to queued. It returns how many were moved.
func (q *UploadQueue) RequeueDue(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	moved := 0
	for _, it := range q.items {
		if it.Status != StFailed || it.AttemptCount >= q.cfg.MaxAttempts {
			continue
		}
		if it.NextAttemptAt.After(now) {
			continue
		}
		it.Status = StQueued
		it.UpdatedAt = now.UTC()
		moved++
	}
	if moved == 0 {
		return 0, nil
	}
	return moved, q.persistLocked(ctx)
}

// PruneSynced removes synced items last updated before cutoff
func (q *UploadQueue) PruneSynced(ctx context.Context, cutoff time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	removed := 0
	for _, it := range q.items {
		if it.Status == StSynced && it.UpdatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, q.persistLocked(ctx)
}

// Get returns a copy of the item for recordingID
func (q *UploadQueue) Get(recordingID string) (QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx := q.indexOf(recordingID); idx >= 0 {
		return *q.items[idx], true
	}
	return QueueItem{}, false
}

// Items returns a copy of all items in insertion order
func (q *UploadQueue) Items() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueueItem, len(q.items))
	for i, it := range q.items {
		out[i] = *it
	}
	return out
}

func (q *UploadQueue) QueuedCount() int    { return q.count(StQueued) }
func (q *UploadQueue) UploadingCount() int { return q.count(StUploading) }
func (q *UploadQueue) FailedCount() int    { return q.count(StFailed) }
func (q *UploadQueue) SyncedCount() int    { return q.count(StSynced) }

// MaxAttempts returns the configured automatic attempt limit
func (q *UploadQueue) MaxAttempts() int { return q.cfg.MaxAttempts }

func (q *UploadQueue) count(st QueueStatus) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, it := range q.items {
		if it.Status == st {
			n++
		}
	}
	return n
}

func (q *UploadQueue) indexOf(recordingID string) int {
	for i, it := range q.items {
		if it.RecordingID == recordingID {
			return i
		}
	}
	return -1
}

func (q *UploadQueue) persistLocked(ctx context.Context) error {
	raw, err := json.Marshal(q.items)
	if err != nil {
		return fmt.Errorf("failed to encode upload queue: %w", err)
	}
	if err := q.kv.Set(ctx, KeyUploadQueue, raw); err != nil {
		return fmt.Errorf("failed to persist upload queue: %w", err)
	}
	return nil
}
