package recsqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-recsync/recsync"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_CreatesTables(t *testing.T) {
	db := openTestDB(t)

	expectedTables := []string{"_sync_kv", "_sync_tombstones", "recordings", "folders", "tags", "recording_tags", "recording_folders"}
	for _, table := range expectedTables {
		var count int
		err := db.SQL.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		require.Equal(t, 1, count, "Table %s should exist", table)
	}

	// In-memory databases use "memory" mode instead of "wal"
	var journalMode string
	require.NoError(t, db.SQL.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, []string{"wal", "memory"}, journalMode)

	var foreignKeys int
	require.NoError(t, db.SQL.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)
}

func TestKV_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := openTestDB(t).KV()

	_, found, err := kv.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, kv.Set(ctx, "k", []byte("v1")))
	require.NoError(t, kv.Set(ctx, "k", []byte("v2")))
	v, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v2", string(v))

	require.NoError(t, kv.Remove(ctx, "k"))
	_, found, err = kv.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestStore_EntityRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store()

	rec := &recsync.Recording{ID: "r1", OwnerID: "u1", Title: "Lecture", DurationSec: 61.5,
		ContentType: "audio/m4a", SizeBytes: 1024, CreatedAt: t0, UpdatedAt: t0.Add(time.Minute)}
	folder := &recsync.Folder{ID: "f1", Name: "Work", ParentID: "root", UpdatedAt: t0}
	tag := &recsync.Tag{ID: "t1", Name: "urgent", Color: "#f00", UpdatedAt: t0}
	for _, e := range []recsync.Entity{rec, folder, tag,
		&recsync.RecordingTag{RecordingID: "r1", TagID: "t1"},
		&recsync.RecordingFolder{RecordingID: "r1", FolderID: "f1"},
	} {
		require.NoError(t, store.UpsertEntity(ctx, e))
	}
	// Link upserts are idempotent.
	require.NoError(t, store.UpsertEntity(ctx, &recsync.RecordingTag{RecordingID: "r1", TagID: "t1"}))

	got, err := store.GetEntity(ctx, recsync.EntityRecording, "r1")
	require.NoError(t, err)
	require.Equal(t, rec, got)
	got, err = store.GetEntity(ctx, recsync.EntityFolder, "f1")
	require.NoError(t, err)
	require.Equal(t, folder, got)
	got, err = store.GetEntity(ctx, recsync.EntityTag, "t1")
	require.NoError(t, err)
	require.Equal(t, tag, got)
	got, err = store.GetEntity(ctx, recsync.EntityRecordingTag, recsync.LinkID("r1", "t1"))
	require.NoError(t, err)
	require.Equal(t, &recsync.RecordingTag{RecordingID: "r1", TagID: "t1"}, got)

	counts, err := store.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[recsync.EntityRecordingTag])
	require.Equal(t, 1, counts[recsync.EntityRecordingFolder])

	tags, err := store.TagsOf(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, []string{"t1"}, tags)

	require.NoError(t, store.DeleteEntity(ctx, recsync.EntityRecordingFolder, recsync.LinkID("r1", "f1")))
	_, err = store.GetEntity(ctx, recsync.EntityRecordingFolder, recsync.LinkID("r1", "f1"))
	require.ErrorIs(t, err, recsync.ErrEntityNotFound)

	require.NoError(t, store.DeleteEntity(ctx, recsync.EntityRecording, "r1"))
	_, err = store.GetEntity(ctx, recsync.EntityRecording, "r1")
	require.ErrorIs(t, err, recsync.ErrEntityNotFound)
}

func TestStore_ListRecordings(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).Store()
	for i, id := range []string{"a", "b", "c"} {
		at := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.UpsertEntity(ctx, &recsync.Recording{ID: id, CreatedAt: at, UpdatedAt: at}))
	}

	list, err := store.ListRecordings(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "c", list[0].ID)
	require.Equal(t, "b", list[1].ID)
}

func TestTombstones_PutGetPrune(t *testing.T) {
	ctx := context.Background()
	ts := openTestDB(t).Tombstones()
	key := recsync.EntityKey{Type: recsync.EntityTag, ID: "t1"}

	_, found, err := ts.GetTombstone(ctx, key)
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, ts.PutTombstone(ctx, recsync.Tombstone{EntityType: recsync.EntityTag, EntityID: "t1", DeletedAt: t0}))
	require.NoError(t, ts.PutTombstone(ctx, recsync.Tombstone{EntityType: recsync.EntityTag, EntityID: "t1", DeletedAt: t0.Add(time.Hour)}))
	require.NoError(t, ts.PutTombstone(ctx, recsync.Tombstone{EntityType: recsync.EntityFolder, EntityID: "f1", DeletedAt: t0.Add(-48 * time.Hour)}))

	got, found, err := ts.GetTombstone(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.DeletedAt.Equal(t0.Add(time.Hour)))

	n, err := ts.PruneTombstones(ctx, t0.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	count, err := ts.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	require.NoError(t, ts.RemoveTombstone(ctx, key))
	_, found, err = ts.GetTombstone(ctx, key)
	require.NoError(t, err)
	require.False(t, found)
}

func TestMergeOnSQLite_NoResurrectionAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "recsync.db")
	now := func() time.Time { return t0.Add(time.Hour) }

	db, err := Open(ctx, path)
	require.NoError(t, err)
	m := recsync.NewMergeEngine(db.Store(), db.Tombstones(), recsync.WithMergeClock(now))
	stats, err := m.Merge(ctx, []recsync.ChangeRecord{
		{Type: recsync.EntityTag, Op: recsync.OpUpsert, ID: "t1", UpdatedAt: t0,
			Entity: &recsync.Tag{ID: "t1", Name: "draft", UpdatedAt: t0}},
		{Type: recsync.EntityTag, Op: recsync.OpDelete, ID: "t1", UpdatedAt: t0.Add(time.Minute)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, stats.Applied)
	require.NoError(t, db.Close())

	db, err = Open(ctx, path)
	require.NoError(t, err)
	defer db.Close()
	m = recsync.NewMergeEngine(db.Store(), db.Tombstones(), recsync.WithMergeClock(now))

	// A stale upsert replayed after restart must not bring the tag back.
	stats, err = m.Merge(ctx, []recsync.ChangeRecord{
		{Type: recsync.EntityTag, Op: recsync.OpUpsert, ID: "t1", UpdatedAt: t0.Add(30 * time.Second),
			Entity: &recsync.Tag{ID: "t1", Name: "draft", UpdatedAt: t0.Add(30 * time.Second)}},
	})
	require.NoError(t, err)
	require.Equal(t, 1, stats.Blocked)
	_, err = db.Store().GetEntity(ctx, recsync.EntityTag, "t1")
	require.ErrorIs(t, err, recsync.ErrEntityNotFound)
}

func TestCursorStoreOnSQLite(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cursors := recsync.NewCursorStore(db.KV(), func() time.Time { return t0 }, nil)

	require.NoError(t, cursors.UpdateState(ctx, "c42", t0))
	require.Equal(t, "c42", cursors.GetCursor(ctx))
	require.True(t, cursors.GetLastSyncAt(ctx).Equal(t0))
}
