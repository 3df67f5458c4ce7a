// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Entity is the closed set of local entity kinds a change record can carry.
// Implementations live in this package only.
type Entity interface {
	EntityType() EntityType
	// EntityID is the local identity key. Relationship entities use their
	// (recording, target) pair rather than the wire id.
	EntityID() string
	// Modified is the last-write timestamp; zero for relationship entities.
	Modified() time.Time
	sealed()
}

// Recording is a recorded audio item
type Recording struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"ownerId"`
	Title       string    `json:"title"`
	DurationSec float64   `json:"durationSec"`
	ContentType string    `json:"contentType,omitempty"`
	SizeBytes   int64     `json:"sizeBytes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Folder groups recordings; folders may nest through ParentID
type Folder struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parentId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Tag labels recordings
type Tag struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecordingTag is the membership fact "recording carries tag"
type RecordingTag struct {
	RecordingID string `json:"recordingId"`
	TagID       string `json:"tagId"`
}

// RecordingFolder is the membership fact "recording lives in folder"
type RecordingFolder struct {
	RecordingID string `json:"recordingId"`
	FolderID    string `json:"folderId"`
}

func (*Recording) EntityType() EntityType       { return EntityRecording }
func (*Folder) EntityType() EntityType          { return EntityFolder }
func (*Tag) EntityType() EntityType             { return EntityTag }
func (*RecordingTag) EntityType() EntityType    { return EntityRecordingTag }
func (*RecordingFolder) EntityType() EntityType { return EntityRecordingFolder }

func (r *Recording) EntityID() string       { return r.ID }
func (f *Folder) EntityID() string          { return f.ID }
func (t *Tag) EntityID() string             { return t.ID }
func (l *RecordingTag) EntityID() string    { return LinkID(l.RecordingID, l.TagID) }
func (l *RecordingFolder) EntityID() string { return LinkID(l.RecordingID, l.FolderID) }

func (r *Recording) Modified() time.Time     { return r.UpdatedAt }
func (f *Folder) Modified() time.Time        { return f.UpdatedAt }
func (t *Tag) Modified() time.Time           { return t.UpdatedAt }
func (*RecordingTag) Modified() time.Time    { return time.Time{} }
func (*RecordingFolder) Modified() time.Time { return time.Time{} }

func (*Recording) sealed()       {}
func (*Folder) sealed()          {}
func (*Tag) sealed()             {}
func (*RecordingTag) sealed()    {}
func (*RecordingFolder) sealed() {}

// LinkID builds the identity key of a relationship entity
func LinkID(recordingID, targetID string) string {
	return recordingID + "|" + targetID
}

// EntityKey identifies an entity (and its tombstone) across kinds
type EntityKey struct {
	Type EntityType
	ID   string
}

func (k EntityKey) String() string { return string(k.Type) + ":" + k.ID }

// ChangeRecord is a decoded, validated remote change
type ChangeRecord struct {
	Type      EntityType
	Op        Operation
	ID        string // wire id, used for logging and tie-breaks
	OwnerID   string
	UpdatedAt time.Time
	// Entity is nil for scalar deletes; relationship records always carry it.
	Entity Entity
}

// Key returns the identity key the merge engine resolves conflicts on
func (c ChangeRecord) Key() EntityKey {
	if c.Type.IsRelationship() && c.Entity != nil {
		return EntityKey{Type: c.Type, ID: c.Entity.EntityID()}
	}
	return EntityKey{Type: c.Type, ID: c.ID}
}

// Fingerprint is a deterministic digest of an entity's content, used to break
// last-write-wins ties between payloads carrying the same timestamp and id.
func Fingerprint(e Entity) string {
	if e == nil {
		return ""
	}
	b, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
