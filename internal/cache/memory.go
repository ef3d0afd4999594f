package cache

import (
	"context"
	"sort"
	"sync"

	"github.com/dolr-ai/github-report/internal/activity"
)

// MemoryStore keeps encoded snapshots in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]byte)}
}

// Write replaces the entry for snapshot.Date.
func (s *MemoryStore) Write(_ context.Context, snapshot activity.DailySnapshot) error {
	if err := validateForWrite(snapshot); err != nil {
		return err
	}
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[snapshot.Date] = payload
	return nil
}

// Read returns the entry for date.
func (s *MemoryStore) Read(_ context.Context, date string) (activity.DailySnapshot, bool, error) {
	s.mu.RLock()
	payload, ok := s.entries[date]
	s.mu.RUnlock()
	if !ok {
		return activity.DailySnapshot{}, false, nil
	}
	return decodeSnapshot(date, payload), true, nil
}

// Dates lists cached dates in ascending order.
func (s *MemoryStore) Dates(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dates := make([]string, 0, len(s.entries))
	for date := range s.entries {
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
