package stages

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/docstore"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/version"
)

// DocsHandler deploys release documentation under the classified
// version and applies the alias promotions the plan decided.
type DocsHandler struct {
	store   docstore.VersionStore
	man     *manifest.Manifest
	repoDir string
}

// NewDocsHandler creates the release docs stage handler.
func NewDocsHandler(store docstore.VersionStore, man *manifest.Manifest, repoDir string) (*DocsHandler, error) {
	if store == nil {
		return nil, errors.New("doc store is required")
	}
	if man == nil {
		return nil, errors.New("manifest is required")
	}
	if repoDir == "" {
		return nil, errors.New("repo dir is required")
	}
	return &DocsHandler{store: store, man: man, repoDir: repoDir}, nil
}

// Stage implements pipeline.StageHandler.
func (h *DocsHandler) Stage() pipeline.Stage { return pipeline.StageDocs }

// Execute implements pipeline.StageHandler.
func (h *DocsHandler) Execute(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	c := rc.Plan.Classification
	if c == nil {
		return "", errors.New("plan carries no release classification")
	}

	ver := c.Version.String()
	src := filepath.Join(h.repoDir, h.man.Docs.SourceDir)
	if err := h.store.Deploy(ctx, docstore.DeployRequest{Version: ver, SourceDir: src}); err != nil {
		return "", fmt.Errorf("deploying %s docs: %w", ver, err)
	}

	applied, err := alias.Apply(ctx, docstore.AliasStore(h.store), alias.Decide(rc.Plan.DocsAction, *c))
	if err != nil {
		return "", fmt.Errorf("promoting aliases: %w", err)
	}
	return fmt.Sprintf("deployed %s docs, %s", ver, describeApplied(applied)), nil
}

// DevDocsHandler refreshes the rolling dev site after a test pass on
// the default branch. The dev label overwrites in place; no history
// accumulates.
type DevDocsHandler struct {
	store   docstore.VersionStore
	man     *manifest.Manifest
	repoDir string
}

// NewDevDocsHandler creates the dev docs stage handler.
func NewDevDocsHandler(store docstore.VersionStore, man *manifest.Manifest, repoDir string) (*DevDocsHandler, error) {
	if store == nil {
		return nil, errors.New("doc store is required")
	}
	if man == nil {
		return nil, errors.New("manifest is required")
	}
	if repoDir == "" {
		return nil, errors.New("repo dir is required")
	}
	return &DevDocsHandler{store: store, man: man, repoDir: repoDir}, nil
}

// Stage implements pipeline.StageHandler.
func (h *DevDocsHandler) Stage() pipeline.Stage { return pipeline.StageDevDocs }

// Execute implements pipeline.StageHandler.
func (h *DevDocsHandler) Execute(ctx context.Context, _ *pipeline.RunContext) (string, error) {
	src := filepath.Join(h.repoDir, h.man.Docs.SourceDir)
	if err := h.store.Deploy(ctx, docstore.DeployRequest{Version: alias.DevVersion, SourceDir: src}); err != nil {
		return "", fmt.Errorf("deploying dev docs: %w", err)
	}

	if _, err := alias.Apply(ctx, docstore.AliasStore(h.store), alias.Decide(alias.ActionDeployDev, version.Classification{})); err != nil {
		return "", fmt.Errorf("updating dev pointer: %w", err)
	}
	return "refreshed dev docs", nil
}

func describeApplied(applied []alias.Applied) string {
	if len(applied) == 0 {
		return "no alias changes"
	}

	parts := make([]string, 0, len(applied))
	for _, a := range applied {
		if a.Skipped {
			parts = append(parts, fmt.Sprintf("%s kept at %s", a.Op.Name, a.Previous))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", a.Op.Name, a.Op.Version))
	}
	return "aliases " + strings.Join(parts, " ")
}
