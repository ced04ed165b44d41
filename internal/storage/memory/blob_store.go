// Package memory provides an in-memory blob store for tests and local runs.
package memory

import (
	"context"
	"sync"
)

// BlobStore keeps blobs in a map. Safe for concurrent use.
type BlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewBlobStore creates an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject stores an immutable copy of data and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	return "memory://" + path, nil
}

// Get returns a stored blob. Used by tests.
func (s *BlobStore) Get(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[path]
	return b, ok
}

// Len reports the number of stored blobs.
func (s *BlobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
