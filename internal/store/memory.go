package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. Used for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

func (s *MemoryStore) Put(_ context.Context, rec Record) error {
	if err := validateKey(rec.Key); err != nil {
		return err
	}

	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data

	s.mu.Lock()
	s.records[rec.Key] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return Record{}, false, nil
	}

	data := make([]byte, len(rec.Data))
	copy(data, rec.Data)
	rec.Data = data
	return rec, true, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, prefix string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, rec := range s.records {
		if strings.HasPrefix(key, prefix) && rec.UpdatedAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() error {
	return nil
}
