// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recpg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	maxTxAttempts = 4
	retryBaseWait = 50 * time.Millisecond
)

// isRetryablePGTxError reports errors a fresh transaction may not hit again.
// 23505 covers two clients racing CREATE ... IF NOT EXISTS on the catalog.
func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03", // lock_not_available
		"23505": // unique_violation
		return true
	default:
		return false
	}
}

// withTxRetry runs fn until it succeeds, fails permanently or attempts run out
func withTxRetry(ctx context.Context, fn func() error) error {
	var err error
	wait := retryBaseWait
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		if err = fn(); err == nil || !isRetryablePGTxError(err) {
			return err
		}
		if attempt == maxTxAttempts {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		wait *= 2
	}
	return err
}
