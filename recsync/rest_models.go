// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"encoding/json"
	"fmt"
	"time"
)

// REST/JSON models exchanged with the backend.
// Change items are decoded into ChangeRecord at this boundary; nothing past the
// transport sees the loosely typed wire form.

// ChangesResponse is the body of GET /v1/sync/changes
type ChangesResponse struct {
	Next    string       `json:"next"`    // Opaque continuation token
	HasMore bool         `json:"hasMore"` // More pages are available after Next
	Items   []WireChange `json:"items"`   // Changes in this page
}

// WireChange is a single change item as sent by the server
type WireChange struct {
	EntityType  string          `json:"entityType"`
	Operation   string          `json:"operation"`
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	RecordingID string          `json:"recordingId,omitempty"`
	TagID       string          `json:"tagId,omitempty"`
	FolderID    string          `json:"folderId,omitempty"`
	ParentID    string          `json:"parentId,omitempty"`
}

// ChangePage is a decoded page of remote changes
type ChangePage struct {
	Next    string
	HasMore bool
	Items   []ChangeRecord
	// Rejected counts wire items dropped because they failed validation.
	Rejected int
}

// UploadTargetRequest asks the backend for a single-use upload target
type UploadTargetRequest struct {
	ID          string `json:"id"`
	ContentType string `json:"contentType"`
	SizeBytes   int64  `json:"sizeBytes"`
}

// UploadTarget is a time-limited destination for the recording bytes
type UploadTarget struct {
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Headers    map[string]string `json:"headers,omitempty"`
	Key        string            `json:"key"`
	ExpiresSec int               `json:"expiresSec"`
}

// FinalizeUploadRequest confirms a completed transfer
type FinalizeUploadRequest struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	DurationSec float64   `json:"durationSec"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// ErrorResponse represents an error body returned by the backend
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// DecodePage validates the wire items of a response. Invalid items are
// dropped and reported through reject; they never fail the page.
func DecodePage(resp *ChangesResponse, reject func(w WireChange, err error)) ChangePage {
	page := ChangePage{Next: resp.Next, HasMore: resp.HasMore}
	page.Items = make([]ChangeRecord, 0, len(resp.Items))
	for _, w := range resp.Items {
		rec, err := w.Decode()
		if err != nil {
			page.Rejected++
			if reject != nil {
				reject(w, err)
			}
			continue
		}
		page.Items = append(page.Items, rec)
	}
	return page
}

// Decode validates the wire change and converts it to a ChangeRecord
func (w WireChange) Decode() (ChangeRecord, error) {
	typ := EntityType(w.EntityType)
	if !typ.Valid() {
		return ChangeRecord{}, fmt.Errorf("%w: unknown entity type %q", ErrInvalidChange, w.EntityType)
	}
	op := Operation(w.Operation)
	if op != OpUpsert && op != OpDelete {
		return ChangeRecord{}, fmt.Errorf("%w: unknown operation %q", ErrInvalidChange, w.Operation)
	}
	if w.ID == "" {
		return ChangeRecord{}, fmt.Errorf("%w: missing id", ErrInvalidChange)
	}
	if w.UpdatedAt.IsZero() {
		return ChangeRecord{}, fmt.Errorf("%w: missing updatedAt for %s", ErrInvalidChange, w.ID)
	}

	rec := ChangeRecord{
		Type:      typ,
		Op:        op,
		ID:        w.ID,
		OwnerID:   w.OwnerID,
		UpdatedAt: w.UpdatedAt.UTC(),
	}

	if typ.IsRelationship() {
		link, err := w.decodeLink(typ)
		if err != nil {
			return ChangeRecord{}, err
		}
		rec.Entity = link
		return rec, nil
	}

	if op == OpDelete {
		return rec, nil
	}
	if len(w.Payload) == 0 || string(w.Payload) == "null" {
		return ChangeRecord{}, fmt.Errorf("%w: upsert of %s %s requires payload", ErrInvalidChange, typ, w.ID)
	}

	entity, err := w.decodeScalar(typ, rec.UpdatedAt)
	if err != nil {
		return ChangeRecord{}, err
	}
	rec.Entity = entity
	return rec, nil
}

func (w WireChange) decodeLink(typ EntityType) (Entity, error) {
	switch typ {
	case EntityRecordingTag:
		if w.RecordingID == "" || w.TagID == "" {
			return nil, fmt.Errorf("%w: recording_tag %s requires recordingId and tagId", ErrInvalidChange, w.ID)
		}
		return &RecordingTag{RecordingID: w.RecordingID, TagID: w.TagID}, nil
	case EntityRecordingFolder:
		if w.RecordingID == "" || w.FolderID == "" {
			return nil, fmt.Errorf("%w: recording_folder %s requires recordingId and folderId", ErrInvalidChange, w.ID)
		}
		return &RecordingFolder{RecordingID: w.RecordingID, FolderID: w.FolderID}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a relationship", ErrInvalidChange, typ)
	}
}

// decodeScalar parses the payload into the typed entity. Envelope fields
// (id, owner, updatedAt, parentId) take precedence over the payload copy.
func (w WireChange) decodeScalar(typ EntityType, updatedAt time.Time) (Entity, error) {
	switch typ {
	case EntityRecording:
		var r Recording
		if err := json.Unmarshal(w.Payload, &r); err != nil {
			return nil, fmt.Errorf("%w: bad recording payload for %s: %v", ErrInvalidChange, w.ID, err)
		}
		r.ID, r.OwnerID, r.UpdatedAt = w.ID, w.OwnerID, updatedAt
		r.CreatedAt = r.CreatedAt.UTC()
		return &r, nil
	case EntityFolder:
		var f Folder
		if err := json.Unmarshal(w.Payload, &f); err != nil {
			return nil, fmt.Errorf("%w: bad folder payload for %s: %v", ErrInvalidChange, w.ID, err)
		}
		f.ID, f.OwnerID, f.UpdatedAt = w.ID, w.OwnerID, updatedAt
		if w.ParentID != "" {
			f.ParentID = w.ParentID
		}
		return &f, nil
	case EntityTag:
		var t Tag
		if err := json.Unmarshal(w.Payload, &t); err != nil {
			return nil, fmt.Errorf("%w: bad tag payload for %s: %v", ErrInvalidChange, w.ID, err)
		}
		t.ID, t.OwnerID, t.UpdatedAt = w.ID, w.OwnerID, updatedAt
		return &t, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a scalar entity", ErrInvalidChange, typ)
	}
}
