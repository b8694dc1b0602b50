// Package memory keeps blobs and checkpoints in-process, for tests and dry
// runs.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// Blob is one stored object.
type Blob struct {
	ContentType string
	Data        []byte
}

// BlobStore holds exported files in a map keyed by path.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]Blob
}

// NewBlobStore returns an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]Blob)}
}

// PutObject reads r fully and stores it under path, replacing any earlier
// object. The returned URI uses the memory:// scheme.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	if path == "" {
		return "", errors.New("memory: object path is required")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", fmt.Errorf("memory: read %s: %w", path, err)
	}

	s.mu.Lock()
	s.blobs[path] = Blob{ContentType: contentType, Data: buf.Bytes()}
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Get returns a copy of the object at path.
func (s *BlobStore) Get(path string) (Blob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	if !ok {
		return Blob{}, false
	}
	return Blob{ContentType: b.ContentType, Data: slices.Clone(b.Data)}, true
}

// Paths lists stored object paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	s.mu.RUnlock()
	slices.Sort(paths)
	return paths
}
