package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/models"
)

type memoryEntry struct {
	resp      models.AIResponse
	expiresAt time.Time // zero means no expiry
}

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// read and by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	timeNow func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock creates a store with an injectable clock (for testing).
func NewMemoryStoreWithClock(timeNow func() time.Time) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		timeNow: timeNow,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.AIResponse, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !s.timeNow().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false, nil
	}
	resp := e.resp
	return &resp, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, resp *models.AIResponse, ttl time.Duration) error {
	e := memoryEntry{resp: *resp}
	if ttl > 0 {
		e.expiresAt = s.timeNow().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	now := s.timeNow()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
