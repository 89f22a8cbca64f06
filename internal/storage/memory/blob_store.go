// Package memory keeps blobs, runs, and document index rows in-memory for
// development and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/JakeFAU/research-scraper/internal/crawler"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]crawler.BlobObject
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		objects: make(map[string]crawler.BlobObject),
	}
}

// PutObject persists a copy of obj and returns a URI.
func (s *BlobStore) PutObject(ctx context.Context, obj crawler.BlobObject) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	if obj.Path == "" {
		return "", fmt.Errorf("path is required")
	}
	obj.Data = append([]byte(nil), obj.Data...)
	obj.Attributes = maps.Clone(obj.Attributes)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Path] = obj
	return fmt.Sprintf("memory://%s", obj.Path), nil
}

// Object returns a copy of the stored object at path.
func (s *BlobStore) Object(path string) (crawler.BlobObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return crawler.BlobObject{}, false
	}
	obj.Data = append([]byte(nil), obj.Data...)
	obj.Attributes = maps.Clone(obj.Attributes)
	return obj, true
}

// Len returns the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
