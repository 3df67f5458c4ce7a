// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package recsync

import (
	"context"
	"fmt"
	"sync"
)

// MemoryKV is a process-local KVStore. It is useful for tests and for
// ephemeral sessions; state does not survive a restart.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory key-value store
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryKV) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *MemoryKV) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// MemoryStore is an in-memory LocalStore
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[EntityKey]Entity
}

// NewMemoryStore creates an empty in-memory entity store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[EntityKey]Entity)}
}

func (s *MemoryStore) GetEntity(_ context.Context, typ EntityType, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[EntityKey{Type: typ, ID: id}]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrEntityNotFound, typ, id)
	}
	return e, nil
}

func (s *MemoryStore) UpsertEntity(_ context.Context, e Entity) error {
	if e == nil {
		return fmt.Errorf("cannot upsert nil entity")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[EntityKey{Type: e.EntityType(), ID: e.EntityID()}] = e
	return nil
}

func (s *MemoryStore) DeleteEntity(_ context.Context, typ EntityType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, EntityKey{Type: typ, ID: id})
	return nil
}

// Snapshot returns a copy of all entities keyed by identity
func (s *MemoryStore) Snapshot() map[EntityKey]Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[EntityKey]Entity, len(s.entities))
	for k, v := range s.entities {
		out[k] = v
	}
	return out
}

// Len returns the number of stored entities
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}
