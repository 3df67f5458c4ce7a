// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// PullConfig bounds a single pull. All three limits are hard caps.
type PullConfig struct {
	MaxPages    int
	MaxDuration time.Duration
	PageLimit   int
}

// PullResult summarizes one pull cycle
type PullResult struct {
	TotalItems int           `json:"totalItems"`
	TotalPages int           `json:"totalPages"`
	Duration   time.Duration `json:"-"`
	Success    bool          `json:"success"`
	Err        error         `json:"-"`
	StopReason StopReason    `json:"stopReason"`
	Rejected   int           `json:"rejected"` // wire items dropped at decode
	Merge      MergeStats    `json:"merge"`
}

// MarshalJSON reports the duration in milliseconds and the error as text
func (r PullResult) MarshalJSON() ([]byte, error) {
	type plain PullResult
	return json.Marshal(struct {
		plain
		DurationMs int64  `json:"durationMs"`
		Error      string `json:"error,omitempty"`
	}{plain(r), r.Duration.Milliseconds(), r.ErrorMessage()})
}

// ErrorMessage returns the human readable failure, or "" on success
func (r PullResult) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Puller fetches budgeted pages of remote changes, merges them as one batch
// and advances the cursor only after the merge succeeded.
type Puller struct {
	feed    ChangeFeed
	merger  Merger
	cursors *CursorStore
	now     Clock
	logger  *slog.Logger
	stages  stageObserver
}

// PullerOption customizes a Puller
type PullerOption func(*Puller)

// WithPullerClock overrides the wall clock used for budgets and lastSyncAt
func WithPullerClock(now Clock) PullerOption {
	return func(p *Puller) { p.now = now }
}

// WithPullerLogger sets the puller logger
func WithPullerLogger(logger *slog.Logger) PullerOption {
	return func(p *Puller) {
		p.logger = logger
		p.stages.logger = logger
	}
}

// WithPullerStageMetrics reports fetch/merge/commit timings to rec
func WithPullerStageMetrics(rec StageMetricsRecorder, logTimings bool) PullerOption {
	return func(p *Puller) {
		p.stages.recorder = rec
		p.stages.logTimings = logTimings
	}
}

// NewPuller creates a puller
func NewPuller(feed ChangeFeed, merger Merger, cursors *CursorStore, opts ...PullerOption) *Puller {
	p := &Puller{
		feed:    feed,
		merger:  merger,
		cursors: cursors,
		now:     time.Now,
		logger:  slog.Default(),
	}
	p.stages.logger = p.logger
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pull runs one cycle. It never panics on transport failure; the outcome,
// including any error, is reported in the result.
func (p *Puller) Pull(ctx context.Context, cfg PullConfig) PullResult {
	started := p.now()
	totalStart := p.stages.start()
	res := p.pull(ctx, cfg, started)
	res.Duration = p.now().Sub(started)
	p.stages.observe(ctx, MetricsOpPull, MetricsStageTotal, totalStart, res.TotalItems, 0, !res.Success)

	if res.Success {
		p.logger.Info("pull complete",
			"items", res.TotalItems, "pages", res.TotalPages, "stop", res.StopReason,
			"duration_ms", res.Duration.Milliseconds())
	} else {
		p.logger.Warn("pull failed",
			"items", res.TotalItems, "pages", res.TotalPages, "error", res.Err)
	}
	return res
}

func (p *Puller) pull(ctx context.Context, cfg PullConfig, started time.Time) PullResult {
	var res PullResult

	startCursor := p.cursors.GetCursor(ctx)
	cursor := startCursor
	hasMore := true
	var batch []ChangeRecord

	for {
		if !hasMore {
			res.StopReason = StopExhausted
			break
		}
		if res.TotalPages >= cfg.MaxPages {
			res.StopReason = StopMaxPages
			break
		}
		if p.now().Sub(started) >= cfg.MaxDuration {
			res.StopReason = StopTimeBudget
			break
		}

		fetchStart := p.stages.start()
		page, err := p.feed.FetchChanges(ctx, cursor, cfg.PageLimit)
		if err != nil {
			p.stages.observe(ctx, MetricsOpPull, MetricsStageFetch, fetchStart, 0, res.TotalPages+1, true)
			res.StopReason = StopError
			res.Err = ClassifyError(err)
			p.logger.Warn("page fetch failed", "page", res.TotalPages+1, "cursor", cursor, "error", err)
			return res
		}
		p.stages.observe(ctx, MetricsOpPull, MetricsStageFetch, fetchStart, len(page.Items), res.TotalPages+1, false)

		res.TotalPages++
		res.Rejected += page.Rejected
		if cfg.PageLimit > 0 && len(page.Items) > cfg.PageLimit {
			p.logger.Warn("server returned more items than requested", "limit", cfg.PageLimit, "got", len(page.Items))
		}
		batch = append(batch, page.Items...)
		cursor = page.Next
		hasMore = page.HasMore
	}
	res.TotalItems = len(batch)

	if len(batch) == 0 {
		if res.Rejected > 0 {
			// Every received item was undecodable: move past them so the
			// same page is not requested forever.
			p.logger.Warn("advancing cursor past rejected items", "rejected", res.Rejected, "cursor", cursor)
			if err := p.cursors.UpdateState(ctx, cursor, p.now()); err != nil {
				res.Err = fmt.Errorf("failed to commit cursor: %w", err)
				return res
			}
			res.Success = true
			return res
		}
		// Nothing new: record the attempt, keep the cursor.
		if err := p.cursors.SetLastSyncAt(ctx, p.now()); err != nil {
			res.Err = fmt.Errorf("failed to record sync time: %w", err)
			return res
		}
		res.Success = true
		return res
	}

	mergeStart := p.stages.start()
	stats, err := p.merger.Merge(ctx, batch)
	res.Merge = stats
	p.stages.observe(ctx, MetricsOpPull, MetricsStageMerge, mergeStart, len(batch), 0, err != nil)
	if err != nil {
		res.Err = fmt.Errorf("failed to merge changes: %w", err)
		p.logger.Warn("merge failed, cursor not advanced", "cursor", startCursor, "error", err)
		return res
	}

	commitStart := p.stages.start()
	err = p.cursors.UpdateState(ctx, cursor, p.now())
	p.stages.observe(ctx, MetricsOpPull, MetricsStageCommit, commitStart, 0, 0, err != nil)
	if err != nil {
		res.Err = fmt.Errorf("failed to commit cursor: %w", err)
		return res
	}
	res.Success = true
	return res
}
