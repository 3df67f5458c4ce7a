// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"log/slog"
	"sync"
	"time"
)

// Status is a point-in-time view of the engine, recomputed on every transition
type Status struct {
	IsEnabled  bool       `json:"isEnabled"`
	IsRunning  bool       `json:"isRunning"`
	LastSyncAt *time.Time `json:"lastSyncAt"`
	LastError  string     `json:"lastError,omitempty"`
	TotalItems int        `json:"totalItems"`
	TotalPages int        `json:"totalPages"`
	DurationMs int64      `json:"durationMs"`
	Applied    int        `json:"applied"`
	Skipped    int        `json:"skipped"`
	Trigger    Trigger    `json:"trigger,omitempty"`
}

// statusBus delivers statuses to subscribers on its own goroutine, in
// publish order. A panicking subscriber is logged and the rest still run.
type statusBus struct {
	logger *slog.Logger

	mu      sync.Mutex
	subs    map[int]func(Status)
	nextID  int
	pending []Status
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	started bool
}

func newStatusBus(logger *slog.Logger) *statusBus {
	return &statusBus{
		logger: logger,
		subs:   make(map[int]func(Status)),
		wake:   make(chan struct{}, 1),
	}
}

func (b *statusBus) start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	go b.loop(b.stop, b.done)
	b.signal()
}

// close stops the dispatcher after it has delivered what was already published
func (b *statusBus) close() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	stop, done := b.stop, b.done
	b.mu.Unlock()
	close(stop)
	<-done
}

func (b *statusBus) subscribe(fn func(Status)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// publish queues st for delivery. Without a running dispatcher nothing would
// drain the queue, so the status is dropped.
func (b *statusBus) publish(st Status) {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, st)
	b.mu.Unlock()
	b.signal()
}

func (b *statusBus) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *statusBus) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-b.wake:
			b.drain()
		case <-stop:
			b.drain()
			return
		}
	}
}

func (b *statusBus) drain() {
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return
		}
		st := b.pending[0]
		b.pending = b.pending[1:]
		subs := make([]func(Status), 0, len(b.subs))
		for _, fn := range b.subs {
			subs = append(subs, fn)
		}
		b.mu.Unlock()

		for _, fn := range subs {
			b.deliver(fn, st)
		}
	}
}

func (b *statusBus) deliver(fn func(Status), st Status) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("status subscriber panicked", "panic", r)
		}
	}()
	fn(st)
}
