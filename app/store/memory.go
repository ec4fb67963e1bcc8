package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process fallback used when no Redis address is
// configured, and by tests. Single-replica semantics only: counters
// are not shared across gateway instances.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string][]time.Time
	values   map[string]memoryEntry

	// nowFunc is swappable in tests to advance the clock.
	nowFunc func() time.Time
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string][]time.Time),
		values:   make(map[string]memoryEntry),
		nowFunc:  time.Now,
	}
}

// SetNowFunc overrides the store clock. Test hook.
func (s *MemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFunc = now
}

func (s *MemoryStore) AtomicWindowIncrement(_ context.Context, increments []WindowIncrement) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	counts := make([]int64, len(increments))
	for i, inc := range increments {
		cutoff := now.Add(-inc.Window)
		kept := s.counters[inc.Key][:0]
		for _, ts := range s.counters[inc.Key] {
			if ts.After(cutoff) {
				kept = append(kept, ts)
			}
		}
		kept = append(kept, now)
		s.counters[inc.Key] = kept
		counts[i] = int64(len(kept))
	}
	return counts, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.values[key]
	if !ok || s.nowFunc().After(entry.expiresAt) {
		delete(s.values, key)
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := make([]byte, len(value))
	copy(data, value)
	s.values[key] = memoryEntry{data: data, expiresAt: s.nowFunc().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}
