// Package registry publishes distribution artifacts to package
// indexes. Two index instances exist side by side: the stable index
// for releases and the test index for prereleases; the pipeline
// routes every publish to exactly one of them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/shipd/internal/build"
)

// ErrVersionExists indicates the index already holds the version
// being published. Duplicate publishes are fatal: indexes are
// immutable per version and the pipeline never overwrites.
var ErrVersionExists = errors.New("version already published")

// Target is one package index.
type Target interface {
	// Name identifies the target in logs and run records.
	Name() string

	// Exists reports whether the version is already published.
	Exists(ctx context.Context, version string) (bool, error)

	// Publish uploads the artifact under its version. Publishing a
	// version the index already holds fails with ErrVersionExists
	// before any content is uploaded.
	Publish(ctx context.Context, artifact *build.Artifact) error
}

// MemTarget is an in-memory Target for tests and dry runs. It
// enforces the same duplicate-rejection contract as a real index.
type MemTarget struct {
	name string

	mu        sync.Mutex
	artifacts map[string]*build.Artifact
	failWith  error
}

// NewMemTarget creates an empty in-memory target.
func NewMemTarget(name string) *MemTarget {
	return &MemTarget{
		name:      name,
		artifacts: make(map[string]*build.Artifact),
	}
}

// Name implements Target.
func (t *MemTarget) Name() string { return t.name }

// Exists implements Target.
func (t *MemTarget) Exists(_ context.Context, version string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.artifacts[version]
	return ok, nil
}

// Publish implements Target.
func (t *MemTarget) Publish(_ context.Context, artifact *build.Artifact) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failWith != nil {
		return t.failWith
	}
	if _, ok := t.artifacts[artifact.Version]; ok {
		return fmt.Errorf("%w: %s on %s", ErrVersionExists, artifact.Version, t.name)
	}

	t.artifacts[artifact.Version] = artifact
	return nil
}

// Published returns the sorted list of published versions.
func (t *MemTarget) Published() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	versions := make([]string, 0, len(t.artifacts))
	for v := range t.artifacts {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// FailWith makes every subsequent publish fail with err. Pass nil to
// clear.
func (t *MemTarget) FailWith(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWith = err
}
