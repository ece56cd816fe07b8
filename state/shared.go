// Package state implements the process-wide shared variable store. Remote
// callers mutate it only through the server's built-in update function; any
// registered function may read it.
package state

import (
	"sync"
)

// SharedStore is a key/value mapping shared by all worker goroutines.
// Writes are last-write-wins with no versioning; a write to one key is
// never torn by a concurrent write to the same key. There is no cross-key
// transactional guarantee. Contents live in memory only and reset on
// restart.
type SharedStore struct {
	mu   sync.RWMutex
	vars map[string]any
}

// NewSharedStore creates an empty store. Its lifecycle is tied to the
// server that owns it; it is injected into workers rather than kept as a
// package-level global.
func NewSharedStore() *SharedStore {
	return &SharedStore{vars: make(map[string]any)}
}

// Set unconditionally overwrites the value for key. The new value is
// visible to all subsequent reads from any worker.
func (s *SharedStore) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[key] = value
}

// Get returns the value for key, or def if the key is absent.
func (s *SharedStore) Get(key string, def any) any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if value, ok := s.vars[key]; ok {
		return value
	}
	return def
}

// Snapshot returns a copy of all variables at one point in time.
func (s *SharedStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot := make(map[string]any, len(s.vars))
	for key, value := range s.vars {
		snapshot[key] = value
	}
	return snapshot
}
