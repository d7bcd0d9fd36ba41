package repository

import (
	"context"
	"sync"
	"time"

	"farmgate/internal/clock"
)

type memEntry struct {
	value     string
	expiresAt time.Time
	hasTTL    bool
}

func (e memEntry) isExpired(now time.Time) bool {
	return e.hasTTL && !now.Before(e.expiresAt)
}

type memoryStateStore struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]memEntry
}

func NewMemoryStateStore(clk clock.Clock) StateStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &memoryStateStore{
		clock:   clk,
		entries: make(map[string]memEntry),
	}
}

func (s *memoryStateStore) SetWithTTL(_ context.Context, key string, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memEntry{value: value}
	if ttl > 0 {
		entry.hasTTL = true
		entry.expiresAt = s.clock.Now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// lookup returns the live entry for key, evicting it when expired.
func (s *memoryStateStore) lookup(key string) (memEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if entry.isExpired(s.clock.Now()) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return entry, true
}

func (s *memoryStateStore) Get(_ context.Context, key string) (string, bool, error) {
	entry, ok := s.lookup(key)
	return entry.value, ok, nil
}

func (s *memoryStateStore) HasTTL(_ context.Context, key string) (bool, error) {
	_, ok := s.lookup(key)
	return ok, nil
}

func (s *memoryStateStore) DeleteTTL(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
