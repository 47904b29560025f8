package hashcache

import (
	"ckd-decision-support/backend/go/pkg/util"
	"context"
	"time"
)

// MemoryStore is a bounded in-process cache, used in development and tests.
type MemoryStore struct {
	lru *util.LRUCache[string, string]
}

// NewMemoryStore creates a MemoryStore holding at most capacity entries.
func NewMemoryStore(capacity int, ttl time.Duration) (*MemoryStore, error) {
	lru, err := util.NewLRU[string, string](capacity, ttl)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{lru: lru}, nil
}

// Get looks up the summary for digest.
func (s *MemoryStore) Get(_ context.Context, digest string) (string, bool, error) {
	v, ok := s.lru.Get(digest)
	return v, ok, nil
}

// Put stores the entry unless one already exists.
func (s *MemoryStore) Put(_ context.Context, digest, summary string) error {
	s.lru.PutIfAbsent(digest, summary)
	return nil
}

var _ Store = (*MemoryStore)(nil)
