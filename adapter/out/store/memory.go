// Package store provides EntryStore implementations: Redis (default),
// embedded SQLite, and an in-memory store for tests and last-resort fallback.
package store

import (
	"context"
	"sync"

	"mailmind/core/port/out"
)

// MemoryStore is a process-local EntryStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
	index   map[string]out.IndexEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]byte),
		index:   make(map[string]out.IndexEntry),
	}
}

func (s *MemoryStore) Entry(_ context.Context, messageID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.entries[messageID]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) PutEntry(_ context.Context, messageID string, data []byte, idx out.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.entries[messageID] = cp
	s.index[messageID] = idx
	return nil
}

func (s *MemoryStore) PutIndexOnly(_ context.Context, messageID string, idx out.IndexEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, messageID)
	s.index[messageID] = idx
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, messageID)
	delete(s.index, messageID)
	return nil
}

func (s *MemoryStore) Index(_ context.Context) (map[string]out.IndexEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[string]out.IndexEntry, len(s.index))
	for k, v := range s.index {
		cp[k] = v
	}
	return cp, nil
}

func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]byte)
	s.index = make(map[string]out.IndexEntry)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
