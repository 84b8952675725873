// Package docstore manages versioned documentation sites.
//
// A site is a flat tree with one directory per deployed version, a
// versions.json manifest listing every version with its aliases, and
// one redirect directory per alias. The layout is the one mike writes,
// so a site previously managed by mike deploys in place and keeps
// serving.
package docstore

import (
	"context"

	"github.com/fyrsmithlabs/shipd/internal/alias"
)

// VersionInfo is one entry in the version manifest.
type VersionInfo struct {
	Version string   `json:"version"`
	Title   string   `json:"title"`
	Aliases []string `json:"aliases"`
}

// DeployRequest describes one documentation deployment.
type DeployRequest struct {
	// Version is the directory name and manifest key, e.g. "1.4.2" or
	// the rolling "dev" label.
	Version string

	// Title is the display title. Defaults to Version.
	Title string

	// SourceDir is the built site to publish, on the local filesystem.
	SourceDir string
}

// VersionStore is the surface the documentation stages program
// against. Deploying the same version again replaces its content;
// aliases are a flat name -> version table with last-writer-wins
// semantics, so the promotion machine runs unchanged against any
// backend.
type VersionStore interface {
	// Deploy publishes req.SourceDir under req.Version, replacing any
	// previous deployment of that version.
	Deploy(ctx context.Context, req DeployRequest) error

	// SetAlias points alias at a deployed version. Pointing a version
	// at itself is a no-op used for rolling labels like "dev".
	SetAlias(ctx context.Context, name, version string) error

	// GetAlias resolves an alias, or returns alias.ErrNotFound.
	GetAlias(ctx context.Context, name string) (string, error)

	// Versions returns the manifest, newest first.
	Versions(ctx context.Context) ([]VersionInfo, error)
}

// AliasStore exposes a VersionStore as the flat key-value table the
// promotion machine writes through.
func AliasStore(s VersionStore) alias.Store {
	return aliasView{s: s}
}

type aliasView struct {
	s VersionStore
}

func (v aliasView) Get(ctx context.Context, name string) (string, error) {
	return v.s.GetAlias(ctx, name)
}

func (v aliasView) Set(ctx context.Context, name, version string) error {
	return v.s.SetAlias(ctx, name, version)
}

func (v aliasView) List(ctx context.Context) (map[string]string, error) {
	infos, err := v.s.Versions(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string)
	for _, info := range infos {
		for _, a := range info.Aliases {
			out[a] = info.Version
		}
	}
	return out, nil
}
