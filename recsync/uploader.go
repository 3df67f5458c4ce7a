// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// UploaderConfig tunes the background upload loop
type UploaderConfig struct {
	BackoffMin time.Duration // idle poll interval and first error delay
	BackoffMax time.Duration
	// SyncedRetention is how long synced items stay in the queue; zero keeps them.
	SyncedRetention time.Duration
}

// DefaultUploaderConfig returns the default loop timings
func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		BackoffMin:      1 * time.Second,
		BackoffMax:      60 * time.Second,
		SyncedRetention: 24 * time.Hour,
	}
}

// Uploader drains the upload queue one item at a time through the pipeline
type Uploader struct {
	queue    *UploadQueue
	pipeline *UploadPipeline
	store    LocalStore
	blobs    BlobSource
	cfg      UploaderConfig
	now      Clock
	logger   *slog.Logger

	paused   int32
	progress ProgressFunc
}

// UploaderOption customizes an Uploader
type UploaderOption func(*Uploader)

// WithUploaderLogger sets the uploader logger
func WithUploaderLogger(logger *slog.Logger) UploaderOption {
	return func(u *Uploader) { u.logger = logger }
}

// WithUploaderClock overrides the clock used for pruning
func WithUploaderClock(now Clock) UploaderOption {
	return func(u *Uploader) { u.now = now }
}

// WithUploadProgress forwards pipeline progress to fn in addition to the queue
func WithUploadProgress(fn ProgressFunc) UploaderOption {
	return func(u *Uploader) { u.progress = fn }
}

// NewUploader wires the queue, pipeline and the two local collaborators
func NewUploader(queue *UploadQueue, pipeline *UploadPipeline, store LocalStore, blobs BlobSource, cfg UploaderConfig, opts ...UploaderOption) *Uploader {
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = time.Second
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	u := &Uploader{
		queue:    queue,
		pipeline: pipeline,
		store:    store,
		blobs:    blobs,
		cfg:      cfg,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Pause suspends ProcessNext and the background loop
func (u *Uploader) Pause() { atomic.StoreInt32(&u.paused, 1) }

// Resume resumes uploads
func (u *Uploader) Resume() { atomic.StoreInt32(&u.paused, 0) }

// ProcessNext uploads the next eligible item. It reports whether an item was
// attempted; a failed upload is recorded on the item and also returned.
func (u *Uploader) ProcessNext(ctx context.Context) (bool, error) {
	if atomic.LoadInt32(&u.paused) == 1 {
		return false, nil
	}
	if _, err := u.queue.RequeueDue(ctx); err != nil {
		u.logger.Warn("failed to persist requeued items", "error", err)
	}

	item, ok := u.queue.GetNext()
	if !ok {
		return false, nil
	}
	id := item.RecordingID

	if err := u.queue.MarkUploading(ctx, id); err != nil {
		if errors.Is(err, ErrUploadInFlight) {
			return false, nil
		}
		return false, fmt.Errorf("failed to mark %s uploading: %w", id, err)
	}

	uploadErr := u.upload(ctx, id)
	if uploadErr != nil {
		if err := u.queue.MarkFailed(ctx, id, uploadErr.Error()); err != nil {
			u.logger.Error("failed to persist upload failure", "recording_id", id, "error", err)
		}
		return true, uploadErr
	}
	if err := u.queue.MarkCompleted(ctx, id); err != nil {
		return true, fmt.Errorf("failed to mark %s completed: %w", id, err)
	}
	return true, nil
}

func (u *Uploader) upload(ctx context.Context, id string) error {
	ent, err := u.store.GetEntity(ctx, EntityRecording, id)
	if err != nil {
		return fmt.Errorf("failed to load recording %s: %w", id, err)
	}
	rec, ok := ent.(*Recording)
	if !ok {
		return fmt.Errorf("entity %s is not a recording", id)
	}

	body, size, contentType, err := u.blobs.Open(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to open recording bytes %s: %w", id, err)
	}
	defer body.Close()

	if contentType == "" {
		contentType = rec.ContentType
	}
	return u.pipeline.Upload(ctx, UploadItem{
		Recording:   rec,
		ContentType: contentType,
		SizeBytes:   size,
		Body:        body,
	}, func(p UploadProgress) {
		if p.Phase != PhaseError {
			if err := u.queue.UpdateProgress(ctx, id, p.Pct); err != nil {
				u.logger.Warn("failed to persist upload progress", "recording_id", id, "error", err)
			}
		}
		if u.progress != nil {
			u.progress(p)
		}
	})
}

// Run drains the queue until ctx is done, backing off exponentially on errors
func (u *Uploader) Run(ctx context.Context) error {
	backoff := u.cfg.BackoffMin
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := u.ProcessNext(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			u.logger.Warn("upload attempt failed", "error", err, "backoff", backoff)
			wait = backoff
			backoff = doubleBackoff(backoff, u.cfg.BackoffMax)
		case processed:
			backoff = u.cfg.BackoffMin
			continue
		default:
			backoff = u.cfg.BackoffMin
			wait = u.cfg.BackoffMin
			u.pruneSynced(ctx)
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return err
		}
	}
}

func (u *Uploader) pruneSynced(ctx context.Context) {
	if u.cfg.SyncedRetention <= 0 {
		return
	}
	n, err := u.queue.PruneSynced(ctx, u.now().Add(-u.cfg.SyncedRetention))
	if err != nil {
		u.logger.Warn("failed to prune synced uploads", "error", err)
		return
	}
	if n > 0 {
		u.logger.Debug("pruned synced uploads", "count", n)
	}
}
