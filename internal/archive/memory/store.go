// Package memory implements an in-memory archive store for tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Store keeps uploaded objects in a map keyed by path.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

// PutObject records the object and returns a mem:// URI.
func (s *Store) PutObject(_ context.Context, objectPath string, _ string, data io.Reader) (string, error) {
	if objectPath == "" {
		return "", fmt.Errorf("path is required")
	}
	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectPath] = content
	return "mem://" + objectPath, nil
}

// Object returns a stored object's bytes.
func (s *Store) Object(objectPath string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[objectPath]
	return content, ok
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
