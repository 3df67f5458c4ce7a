// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"log/slog"
	"time"
)

const (
	MetricsOpPull   = "pull"
	MetricsOpUpload = "upload"

	MetricsStageTotal = "total"

	// Pull stages.
	MetricsStageFetch  = "fetch"
	MetricsStageMerge  = "merge"
	MetricsStageCommit = "commit"

	// Upload pipeline stages.
	MetricsStageTarget   = "target"
	MetricsStageTransfer = "transfer"
	MetricsStageFinalize = "finalize"
)

type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Attempt   int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

// stageObserver times stages for one component; a nil recorder with logging
// disabled makes every call a no-op.
type stageObserver struct {
	recorder   StageMetricsRecorder
	logTimings bool
	logger     *slog.Logger
}

func (o stageObserver) enabled() bool {
	return o.recorder != nil || o.logTimings
}

func (o stageObserver) start() time.Time {
	if !o.enabled() {
		return time.Time{}
	}
	return time.Now()
}

func (o stageObserver) observe(ctx context.Context, op, stage string, start time.Time, count, attempt int, hadError bool) {
	if start.IsZero() {
		return
	}
	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Attempt:   attempt,
		Error:     hadError,
	}
	if o.recorder != nil {
		o.recorder.ObserveStage(ctx, timing)
	}
	if o.logTimings && o.logger != nil {
		o.logger.Debug("stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration_ms", timing.Duration.Milliseconds(),
			"count", timing.Count,
			"attempt", timing.Attempt,
			"error", timing.Error,
		)
	}
}
