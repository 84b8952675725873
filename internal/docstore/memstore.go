package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/version"
)

// MemDocStore is an in-memory VersionStore for tests and dry runs. It
// mirrors GitStore semantics, including the rolling-label no-op and
// version-not-found errors, without touching a repository.
type MemDocStore struct {
	mu       sync.Mutex
	entries  []VersionInfo
	deploys  []DeployRequest
	failWith error
}

// NewMemDocStore creates an empty in-memory store.
func NewMemDocStore() *MemDocStore {
	return &MemDocStore{}
}

// Deploy implements VersionStore.
func (s *MemDocStore) Deploy(_ context.Context, req DeployRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}
	if req.Title == "" {
		req.Title = req.Version
	}
	s.deploys = append(s.deploys, req)

	for i := range s.entries {
		if s.entries[i].Version == req.Version {
			s.entries[i].Title = req.Title
			return nil
		}
	}
	s.entries = append(s.entries, VersionInfo{Version: req.Version, Title: req.Title, Aliases: []string{}})
	return nil
}

// SetAlias implements VersionStore.
func (s *MemDocStore) SetAlias(_ context.Context, name, ver string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failWith != nil {
		return s.failWith
	}

	target := -1
	for i := range s.entries {
		if s.entries[i].Version == ver {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, ver)
	}
	if name == ver {
		return nil
	}

	for i := range s.entries {
		s.entries[i].Aliases = remove(s.entries[i].Aliases, name)
	}
	s.entries[target].Aliases = append(s.entries[target].Aliases, name)
	sort.Strings(s.entries[target].Aliases)
	return nil
}

// GetAlias implements VersionStore.
func (s *MemDocStore) GetAlias(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		for _, a := range e.Aliases {
			if a == name {
				return e.Version, nil
			}
		}
	}
	for _, e := range s.entries {
		if e.Version == name {
			return name, nil
		}
	}
	return "", alias.ErrNotFound
}

// Versions implements VersionStore.
func (s *MemDocStore) Versions(_ context.Context) ([]VersionInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]VersionInfo, len(s.entries))
	copy(out, s.entries)
	sort.SliceStable(out, func(i, j int) bool {
		return version.Compare(out[i].Version, out[j].Version) > 0
	})
	return out, nil
}

// Deploys returns every deploy request seen, in order.
func (s *MemDocStore) Deploys() []DeployRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DeployRequest, len(s.deploys))
	copy(out, s.deploys)
	return out
}

// FailWith makes every subsequent call fail with err. Pass nil to
// clear.
func (s *MemDocStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}
