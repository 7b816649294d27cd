// Package persist stores the last progress value in a key-value store and
// restores it on startup.
package persist

import (
	"context"
	"errors"
	"sync"
)

// Keys written by AutoSaver.
const (
	KeyLastValue  = "progress:lastValue"
	KeyLastUpdate = "progress:lastUpdate"
	KeySnapshots  = "progress:snapshots"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// =============================================================================
// Store Interface
// =============================================================================

// Store is a string key-value store.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set creates or overwrites key.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	Close() error
}

// =============================================================================
// MemoryStore Implementation
// =============================================================================

// MemoryStore is an in-memory Store backed by sync.Map.
type MemoryStore struct {
	data   sync.Map // map[string]string
	closed sync.Once
	done   chan struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{done: make(chan struct{})}
}

func (s *MemoryStore) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s.isClosed() {
		return "", false, ErrClosed
	}
	raw, ok := s.data.Load(key)
	if !ok {
		return "", false, nil
	}
	return raw.(string), true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.data.Store(key, value)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if s.isClosed() {
		return ErrClosed
	}
	s.data.Delete(key)
	return nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.closed.Do(func() { close(s.done) })
	return nil
}
