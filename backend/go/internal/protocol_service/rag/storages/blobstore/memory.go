package blobstore

import (
	"ckd-decision-support/backend/go/internal/protocol_service/rag/interfaces"
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// MemoryStore is an in-process BlobStore for development and tests. Its signed
// URLs point at baseURL and are not actually signed.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
	types   map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: baseURL,
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (s *MemoryStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	s.types[key] = contentType
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, interfaces.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	delete(s.types, key)
	return nil
}

func (s *MemoryStore) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", key, interfaces.ErrNotFound)
	}
	q := url.Values{}
	q.Set("expires", time.Now().Add(expiry).UTC().Format(time.RFC3339))
	return fmt.Sprintf("%s/blobs/%s?%s", s.baseURL, url.PathEscape(key), q.Encode()), nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// compile-time check to ensure MemoryStore implements the BlobStore interface
var _ interfaces.BlobStore = (*MemoryStore)(nil)
