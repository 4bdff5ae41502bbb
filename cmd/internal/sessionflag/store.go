// Package sessionflag persists the client's optimistic "session is active"
// flag. The flag is a cache of the server's view, never proof of
// authentication: a true value only means the last login or renewal
// succeeded.
package sessionflag

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrConfig is returned for an unusable store location.
	ErrConfig = errors.New("invalid session flag store config")

	// ErrClosed is returned by stores used after Close.
	ErrClosed = errors.New("session flag store closed")
)

// Store reads and writes the persisted flag. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context) (bool, error)
	Set(ctx context.Context, active bool) error
}

// MemoryStore keeps the flag in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	active bool
}

// NewMemoryStore returns a store holding initial.
func NewMemoryStore(initial bool) *MemoryStore {
	return &MemoryStore{active: initial}
}

func (s *MemoryStore) Get(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active, nil
}

func (s *MemoryStore) Set(_ context.Context, active bool) error {
	s.mu.Lock()
	s.active = active
	s.mu.Unlock()
	return nil
}
