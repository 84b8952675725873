package alias

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound indicates an alias with no entry in the store.
var ErrNotFound = errors.New("alias not found")

// Store is the promotion target: a flat name -> version table.
// Implementations are last-writer-wins by contract. The promotion
// machine never assumes transactions, CAS, or watch semantics, so any
// backend that can read and overwrite a key qualifies.
type Store interface {
	// Get returns the version an alias points at, or ErrNotFound.
	Get(ctx context.Context, name string) (string, error)

	// Set points an alias at a version, creating the entry if needed.
	Set(ctx context.Context, name, version string) error

	// List returns a copy of the full alias table.
	List(ctx context.Context) (map[string]string, error)
}

// MemStore is an in-memory Store for tests and dry runs.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewMemStore creates an empty in-memory alias store.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]string)}
}

// Get implements Store.
func (s *MemStore) Get(_ context.Context, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.entries[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (s *MemStore) Set(_ context.Context, name, version string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[name] = version
	return nil
}

// List implements Store.
func (s *MemStore) List(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}
