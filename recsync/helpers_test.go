package recsync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errDisk = errors.New("disk full")

// flakyKV fails reads or writes on demand
type flakyKV struct {
	*MemoryKV
	failGet atomic.Bool
	failSet atomic.Bool
}

func newFlakyKV() *flakyKV { return &flakyKV{MemoryKV: NewMemoryKV()} }

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if f.failGet.Load() {
		return nil, false, errDisk
	}
	return f.MemoryKV.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.failSet.Load() {
		return errDisk
	}
	return f.MemoryKV.Set(ctx, key, value)
}

// blockingKV parks every Set until released
type blockingKV struct {
	*MemoryKV
	entered chan struct{}
	release chan struct{}
}

func newBlockingKV() *blockingKV {
	return &blockingKV{MemoryKV: NewMemoryKV(), entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (b *blockingKV) Set(ctx context.Context, key string, value []byte) error {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryKV.Set(ctx, key, value)
}

func recUpsert(id, title string, at time.Time) ChangeRecord {
	return ChangeRecord{
		Type: EntityRecording, Op: OpUpsert, ID: id, UpdatedAt: at,
		Entity: &Recording{ID: id, Title: title, UpdatedAt: at},
	}
}

func recDelete(id string, at time.Time) ChangeRecord {
	return ChangeRecord{Type: EntityRecording, Op: OpDelete, ID: id, UpdatedAt: at}
}

func tagUpsert(id, name string, at time.Time) ChangeRecord {
	return ChangeRecord{
		Type: EntityTag, Op: OpUpsert, ID: id, UpdatedAt: at,
		Entity: &Tag{ID: id, Name: name, UpdatedAt: at},
	}
}

func tagLink(recordingID, tagID string, op Operation, at time.Time) ChangeRecord {
	return ChangeRecord{
		Type: EntityRecordingTag, Op: op, ID: "rt-" + recordingID + "-" + tagID, UpdatedAt: at,
		Entity: &RecordingTag{RecordingID: recordingID, TagID: tagID},
	}
}
