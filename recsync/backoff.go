// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"time"
)

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// doubleBackoff doubles cur, capped at max
func doubleBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		return max
	}
	return cur
}
