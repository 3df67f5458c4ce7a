// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

// EntityType names the kind of entity a change record describes
type EntityType string

// Entity type constants, as sent on the wire
const (
	EntityRecording       EntityType = "recording"
	EntityFolder          EntityType = "folder"
	EntityTag             EntityType = "tag"
	EntityRecordingTag    EntityType = "recording_tag"
	EntityRecordingFolder EntityType = "recording_folder"
)

// mergeOrder lists entity types in dependency order: base entities before relationships.
var mergeOrder = []EntityType{
	EntityRecording,
	EntityFolder,
	EntityTag,
	EntityRecordingTag,
	EntityRecordingFolder,
}

// Valid reports whether t is one of the known entity types
func (t EntityType) Valid() bool {
	for _, known := range mergeOrder {
		if t == known {
			return true
		}
	}
	return false
}

// IsRelationship reports whether t is a set-membership relationship type
func (t EntityType) IsRelationship() bool {
	return t == EntityRecordingTag || t == EntityRecordingFolder
}

// Operation is the change operation carried by a change record
type Operation string

// Operation constants for change records
const (
	OpUpsert Operation = "upsert"
	OpDelete Operation = "delete"
)

// QueueStatus is the lifecycle state of an upload queue item
type QueueStatus string

// Status constants for upload queue items
const (
	StQueued    QueueStatus = "queued"
	StUploading QueueStatus = "uploading"
	StSynced    QueueStatus = "synced"
	StFailed    QueueStatus = "failed"
)

// Trigger names the entry point that started (or tried to start) a sync run
type Trigger string

// Trigger constants
const (
	TriggerManual     Trigger = "manual"
	TriggerAppStart   Trigger = "app_start"
	TriggerForeground Trigger = "foreground"
)

// StopReason explains why a pull stopped fetching pages
type StopReason string

// Stop reasons reported by Puller
const (
	StopExhausted  StopReason = "exhausted"
	StopMaxPages   StopReason = "max_pages"
	StopTimeBudget StopReason = "time_budget"
	StopError      StopReason = "error"
)

// Persistence keys used in the key-value store
const (
	KeyCursorState = "recsync.cursor_state"
	KeyUploadQueue = "recsync.upload_queue"
	KeyConfig      = "recsync.config"
	KeyTombstones  = "recsync.tombstones"
	KeyDeviceID    = "recsync.device_id"
)
