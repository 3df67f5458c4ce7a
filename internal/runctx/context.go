// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package runctx carries per-run and per-caller values through a context:
// sync run id, trigger, caller identity and a scoped logger.
package runctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	runIDKey    contextKey = "run_id"
	triggerKey  contextKey = "trigger"
	deviceIDKey contextKey = "device_id"
	userIDKey   contextKey = "user_id"
	loggerKey   contextKey = "logger"
)

// WithRun tags ctx with a sync run and derives a logger carrying both values
func WithRun(ctx context.Context, runID, trigger string, base *slog.Logger) context.Context {
	if base == nil {
		base = slog.Default()
	}
	ctx = context.WithValue(ctx, runIDKey, runID)
	ctx = context.WithValue(ctx, triggerKey, trigger)
	return WithLogger(ctx, base.With("run_id", runID, "trigger", trigger))
}

// RunID retrieves the sync run id from the context
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	return v, ok
}

// Trigger retrieves the trigger that started the run
func Trigger(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(triggerKey).(string)
	return v, ok
}

// SetCaller stores the authenticated caller of the control API
func SetCaller(ctx context.Context, userID, deviceID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// UserID retrieves the caller's user id
func UserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// DeviceID retrieves the caller's device id
func DeviceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(deviceIDKey).(string)
	return v, ok
}

// WithLogger stores a logger in the context
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the context logger, or fallback (slog.Default when nil)
func Logger(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}
