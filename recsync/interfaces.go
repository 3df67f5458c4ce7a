// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -destination=../internal/mocks/mock_transport.go -package=mocks github.com/mobiletoly/go-recsync/recsync ChangeFeed,UploadTransport,NetworkGate

import (
	"context"
	"io"
	"time"
)

// KVStore is durable key-value persistence used by the cursor store, upload
// queue, configuration and KV-backed tombstones. Get reports found=false for
// missing keys. Each Set must replace the value atomically.
type KVStore interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// ChangeFeed fetches pages of remote changes.
// An empty cursor means "from the beginning".
type ChangeFeed interface {
	FetchChanges(ctx context.Context, cursor string, limit int) (*ChangePage, error)
}

// UploadTransport is the three-call backend contract used by UploadPipeline
type UploadTransport interface {
	RequestUploadTarget(ctx context.Context, req UploadTargetRequest) (*UploadTarget, error)
	TransferBytes(ctx context.Context, target *UploadTarget, body io.Reader, sizeBytes int64) error
	FinalizeUpload(ctx context.Context, req FinalizeUploadRequest) error
}

// LocalStore is the on-device entity store the merge engine writes through.
// GetEntity returns ErrEntityNotFound (possibly wrapped) when absent.
// UpsertEntity of a relationship entity must be idempotent.
type LocalStore interface {
	GetEntity(ctx context.Context, typ EntityType, id string) (Entity, error)
	UpsertEntity(ctx context.Context, e Entity) error
	DeleteEntity(ctx context.Context, typ EntityType, id string) error
}

// Tombstone records that an entity was deleted at DeletedAt
type Tombstone struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	DeletedAt  time.Time  `json:"deletedAt"`
}

// Key returns the tombstone's identity
func (t Tombstone) Key() EntityKey { return EntityKey{Type: t.EntityType, ID: t.EntityID} }

// TombstoneStore is the durable set of tombstones owned by the merge engine
type TombstoneStore interface {
	GetTombstone(ctx context.Context, key EntityKey) (Tombstone, bool, error)
	PutTombstone(ctx context.Context, t Tombstone) error
	RemoveTombstone(ctx context.Context, key EntityKey) error
	// PruneTombstones removes tombstones deleted before cutoff and returns how many were removed.
	PruneTombstones(ctx context.Context, cutoff time.Time) (int, error)
}

// BlobSource opens the locally stored bytes of a recording
type BlobSource interface {
	Open(ctx context.Context, recordingID string) (body io.ReadCloser, sizeBytes int64, contentType string, err error)
}

// NetworkGate reports whether current device conditions (network type,
// foreground state, battery policy) allow a sync to start.
type NetworkGate interface {
	CanSync(ctx context.Context) (ok bool, reason string)
}

// Clock returns the current time; tests substitute a fixed or stepping clock.
type Clock func() time.Time
