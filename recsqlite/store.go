// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mobiletoly/go-recsync/recsync"
)

// Store implements recsync.LocalStore with one table per entity kind
type Store struct {
	db *DB
}

var _ recsync.LocalStore = (*Store)(nil)

func (s *Store) GetEntity(ctx context.Context, typ recsync.EntityType, id string) (recsync.Entity, error) {
	var (
		e   recsync.Entity
		err error
	)
	switch typ {
	case recsync.EntityRecording:
		e, err = s.getRecording(ctx, id)
	case recsync.EntityFolder:
		e, err = s.getFolder(ctx, id)
	case recsync.EntityTag:
		e, err = s.getTag(ctx, id)
	case recsync.EntityRecordingTag, recsync.EntityRecordingFolder:
		e, err = s.getLink(ctx, typ, id)
	default:
		return nil, fmt.Errorf("unsupported entity type %q", typ)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", recsync.ErrEntityNotFound, typ, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %s: %w", typ, id, err)
	}
	return e, nil
}

func (s *Store) UpsertEntity(ctx context.Context, e recsync.Entity) error {
	if e == nil {
		return fmt.Errorf("cannot upsert nil entity")
	}
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	var err error
	switch v := e.(type) {
	case *recsync.Recording:
		_, err = s.db.SQL.ExecContext(ctx, `
			INSERT INTO recordings (id, owner_id, title, duration_sec, content_type, size_bytes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id, title = excluded.title, duration_sec = excluded.duration_sec,
				content_type = excluded.content_type, size_bytes = excluded.size_bytes,
				created_at = excluded.created_at, updated_at = excluded.updated_at
		`, v.ID, v.OwnerID, v.Title, v.DurationSec, v.ContentType, v.SizeBytes, formatTime(v.CreatedAt), formatTime(v.UpdatedAt))
	case *recsync.Folder:
		_, err = s.db.SQL.ExecContext(ctx, `
			INSERT INTO folders (id, owner_id, name, parent_id, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id, name = excluded.name,
				parent_id = excluded.parent_id, updated_at = excluded.updated_at
		`, v.ID, v.OwnerID, v.Name, v.ParentID, formatTime(v.UpdatedAt))
	case *recsync.Tag:
		_, err = s.db.SQL.ExecContext(ctx, `
			INSERT INTO tags (id, owner_id, name, color, updated_at) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				owner_id = excluded.owner_id, name = excluded.name,
				color = excluded.color, updated_at = excluded.updated_at
		`, v.ID, v.OwnerID, v.Name, v.Color, formatTime(v.UpdatedAt))
	case *recsync.RecordingTag:
		_, err = s.db.SQL.ExecContext(ctx,
			`INSERT OR IGNORE INTO recording_tags (recording_id, tag_id) VALUES (?, ?)`, v.RecordingID, v.TagID)
	case *recsync.RecordingFolder:
		_, err = s.db.SQL.ExecContext(ctx,
			`INSERT OR IGNORE INTO recording_folders (recording_id, folder_id) VALUES (?, ?)`, v.RecordingID, v.FolderID)
	default:
		return fmt.Errorf("unsupported entity %T", e)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert %s %s: %w", e.EntityType(), e.EntityID(), err)
	}
	return nil
}

func (s *Store) DeleteEntity(ctx context.Context, typ recsync.EntityType, id string) error {
	s.db.writeMu.Lock()
	defer s.db.writeMu.Unlock()

	var err error
	switch typ {
	case recsync.EntityRecording:
		_, err = s.db.SQL.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	case recsync.EntityFolder:
		_, err = s.db.SQL.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	case recsync.EntityTag:
		_, err = s.db.SQL.ExecContext(ctx, `DELETE FROM tags WHERE id = ?`, id)
	case recsync.EntityRecordingTag:
		rec, target, ok := splitLinkID(id)
		if !ok {
			return fmt.Errorf("malformed link id %q", id)
		}
		_, err = s.db.SQL.ExecContext(ctx, `DELETE FROM recording_tags WHERE recording_id = ? AND tag_id = ?`, rec, target)
	case recsync.EntityRecordingFolder:
		rec, target, ok := splitLinkID(id)
		if !ok {
			return fmt.Errorf("malformed link id %q", id)
		}
		_, err = s.db.SQL.ExecContext(ctx, `DELETE FROM recording_folders WHERE recording_id = ? AND folder_id = ?`, rec, target)
	default:
		return fmt.Errorf("unsupported entity type %q", typ)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", typ, id, err)
	}
	return nil
}

// Counts returns the number of stored rows per entity type
func (s *Store) Counts(ctx context.Context) (map[recsync.EntityType]int, error) {
	tables := map[recsync.EntityType]string{
		recsync.EntityRecording:       "recordings",
		recsync.EntityFolder:          "folders",
		recsync.EntityTag:             "tags",
		recsync.EntityRecordingTag:    "recording_tags",
		recsync.EntityRecordingFolder: "recording_folders",
	}
	out := make(map[recsync.EntityType]int, len(tables))
	for typ, table := range tables {
		var n int
		if err := s.db.SQL.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		out[typ] = n
	}
	return out, nil
}

// ListRecordings returns recordings ordered by most recent update
func (s *Store) ListRecordings(ctx context.Context, limit int) ([]recsync.Recording, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.SQL.QueryContext(ctx, `
		SELECT id, owner_id, title, duration_sec, content_type, size_bytes, created_at, updated_at
		FROM recordings ORDER BY updated_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []recsync.Recording
	for rows.Next() {
		r, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// TagsOf returns the tag ids linked to a recording
func (s *Store) TagsOf(ctx context.Context, recordingID string) ([]string, error) {
	rows, err := s.db.SQL.QueryContext(ctx,
		`SELECT tag_id FROM recording_tags WHERE recording_id = ? ORDER BY tag_id`, recordingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags of %s: %w", recordingID, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecording(row rowScanner) (*recsync.Recording, error) {
	var (
		r                    recsync.Recording
		createdAt, updatedAt string
	)
	if err := row.Scan(&r.ID, &r.OwnerID, &r.Title, &r.DurationSec, &r.ContentType, &r.SizeBytes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) getRecording(ctx context.Context, id string) (*recsync.Recording, error) {
	return scanRecording(s.db.SQL.QueryRowContext(ctx, `
		SELECT id, owner_id, title, duration_sec, content_type, size_bytes, created_at, updated_at
		FROM recordings WHERE id = ?
	`, id))
}

func (s *Store) getFolder(ctx context.Context, id string) (*recsync.Folder, error) {
	var (
		f         recsync.Folder
		updatedAt string
	)
	err := s.db.SQL.QueryRowContext(ctx,
		`SELECT id, owner_id, name, parent_id, updated_at FROM folders WHERE id = ?`, id).
		Scan(&f.ID, &f.OwnerID, &f.Name, &f.ParentID, &updatedAt)
	if err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Store) getTag(ctx context.Context, id string) (*recsync.Tag, error) {
	var (
		t         recsync.Tag
		updatedAt string
	)
	err := s.db.SQL.QueryRowContext(ctx,
		`SELECT id, owner_id, name, color, updated_at FROM tags WHERE id = ?`, id).
		Scan(&t.ID, &t.OwnerID, &t.Name, &t.Color, &updatedAt)
	if err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) getLink(ctx context.Context, typ recsync.EntityType, id string) (recsync.Entity, error) {
	rec, target, ok := splitLinkID(id)
	if !ok {
		return nil, sql.ErrNoRows
	}
	var one int
	if typ == recsync.EntityRecordingTag {
		err := s.db.SQL.QueryRowContext(ctx,
			`SELECT 1 FROM recording_tags WHERE recording_id = ? AND tag_id = ?`, rec, target).Scan(&one)
		if err != nil {
			return nil, err
		}
		return &recsync.RecordingTag{RecordingID: rec, TagID: target}, nil
	}
	err := s.db.SQL.QueryRowContext(ctx,
		`SELECT 1 FROM recording_folders WHERE recording_id = ? AND folder_id = ?`, rec, target).Scan(&one)
	if err != nil {
		return nil, err
	}
	return &recsync.RecordingFolder{RecordingID: rec, FolderID: target}, nil
}

// splitLinkID reverses recsync.LinkID
func splitLinkID(id string) (recordingID, targetID string, ok bool) {
	recordingID, targetID, ok = strings.Cut(id, "|")
	return recordingID, targetID, ok && recordingID != "" && targetID != ""
}
