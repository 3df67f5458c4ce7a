// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// UploadPhase names a step of the upload pipeline
type UploadPhase string

const (
	PhaseTarget   UploadPhase = "target"
	PhaseTransfer UploadPhase = "transfer"
	PhaseFinalize UploadPhase = "finalize"
	PhaseDone     UploadPhase = "done"
	PhaseError    UploadPhase = "error"
)

// Progress checkpoints reported by the pipeline.
const (
	ProgressTargetReady   = 10
	ProgressTransferStart = 20
	ProgressFinalizeStart = 80
	ProgressDone          = 100
)

// UploadProgress is one progress notification
type UploadProgress struct {
	RecordingID string      `json:"recordingId"`
	Phase       UploadPhase `json:"phase"`
	Pct         int         `json:"pct"`
	Message     string      `json:"message,omitempty"`
}

// ProgressFunc receives pipeline progress; it may be nil
type ProgressFunc func(UploadProgress)

// UploadItem is everything the pipeline needs to push one recording
type UploadItem struct {
	Recording   *Recording
	ContentType string
	SizeBytes   int64
	Body        io.Reader
}

// UploadPipeline pushes one recording through target -> transfer -> finalize.
// Any failure aborts the remaining phases and is reported as PhaseError.
type UploadPipeline struct {
	transport UploadTransport
	logger    *slog.Logger
	stages    stageObserver
}

// PipelineOption customizes an UploadPipeline
type PipelineOption func(*UploadPipeline)

// WithPipelineLogger sets the pipeline logger
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *UploadPipeline) {
		p.logger = logger
		p.stages.logger = logger
	}
}

// WithPipelineStageMetrics reports target/transfer/finalize timings to rec
func WithPipelineStageMetrics(rec StageMetricsRecorder, logTimings bool) PipelineOption {
	return func(p *UploadPipeline) {
		p.stages.recorder = rec
		p.stages.logTimings = logTimings
	}
}

// NewUploadPipeline creates a pipeline over transport
func NewUploadPipeline(transport UploadTransport, opts ...PipelineOption) *UploadPipeline {
	p := &UploadPipeline{transport: transport, logger: slog.Default()}
	p.stages.logger = p.logger
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Upload runs the three phases for item, reporting progress at each checkpoint
func (p *UploadPipeline) Upload(ctx context.Context, item UploadItem, progress ProgressFunc) error {
	if item.Recording == nil || item.Recording.ID == "" {
		return p.fail(item, progress, 0, fmt.Errorf("upload item has no recording"))
	}
	rec := item.Recording
	emit := func(phase UploadPhase, pct int) {
		if progress != nil {
			progress(UploadProgress{RecordingID: rec.ID, Phase: phase, Pct: pct})
		}
	}

	t := p.stages.start()
	target, err := p.transport.RequestUploadTarget(ctx, UploadTargetRequest{
		ID:          rec.ID,
		ContentType: item.ContentType,
		SizeBytes:   item.SizeBytes,
	})
	p.stages.observe(ctx, MetricsOpUpload, MetricsStageTarget, t, 1, 0, err != nil)
	if err != nil {
		return p.fail(item, progress, 0, fmt.Errorf("failed to request upload target: %w", err))
	}
	if target == nil || target.URL == "" {
		return p.fail(item, progress, 0, fmt.Errorf("backend returned an empty upload target"))
	}
	emit(PhaseTarget, ProgressTargetReady)

	emit(PhaseTransfer, ProgressTransferStart)
	t = p.stages.start()
	err = p.transport.TransferBytes(ctx, target, item.Body, item.SizeBytes)
	p.stages.observe(ctx, MetricsOpUpload, MetricsStageTransfer, t, 1, 0, err != nil)
	if err != nil {
		return p.fail(item, progress, ProgressTransferStart, fmt.Errorf("failed to transfer bytes: %w", err))
	}

	emit(PhaseFinalize, ProgressFinalizeStart)
	t = p.stages.start()
	err = p.transport.FinalizeUpload(ctx, FinalizeUploadRequest{
		ID:          rec.ID,
		Key:         target.Key,
		Title:       rec.Title,
		DurationSec: rec.DurationSec,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	})
	p.stages.observe(ctx, MetricsOpUpload, MetricsStageFinalize, t, 1, 0, err != nil)
	if err != nil {
		return p.fail(item, progress, ProgressFinalizeStart, fmt.Errorf("failed to finalize upload: %w", err))
	}

	emit(PhaseDone, ProgressDone)
	p.logger.Info("upload complete", "recording_id", rec.ID, "key", target.Key, "bytes", item.SizeBytes)
	return nil
}

func (p *UploadPipeline) fail(item UploadItem, progress ProgressFunc, pct int, err error) error {
	id := ""
	if item.Recording != nil {
		id = item.Recording.ID
	}
	p.logger.Warn("upload failed", "recording_id", id, "error", err)
	if progress != nil {
		progress(UploadProgress{RecordingID: id, Phase: PhaseError, Pct: pct, Message: err.Error()})
	}
	return err
}
