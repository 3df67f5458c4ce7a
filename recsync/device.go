// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EnsureDeviceID returns the persisted device id, generating and storing a
// new UUID on first use.
func EnsureDeviceID(ctx context.Context, kv KVStore) (string, error) {
	raw, found, err := kv.Get(ctx, KeyDeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if found {
		if id, err := uuid.ParseBytes(raw); err == nil {
			return id.String(), nil
		}
	}
	id := uuid.NewString()
	if err := kv.Set(ctx, KeyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
