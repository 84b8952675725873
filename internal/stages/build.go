package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// BuildHandler produces the distribution artifact and stages it on
// the run context. Release plans stamp the classified version;
// everything else gets a dev label under retention.
type BuildHandler struct {
	builder *build.Builder
	man     *manifest.Manifest
	repoDir string
}

// NewBuildHandler creates the build stage handler.
func NewBuildHandler(builder *build.Builder, man *manifest.Manifest, repoDir string) (*BuildHandler, error) {
	if builder == nil {
		return nil, errors.New("builder is required")
	}
	if man == nil {
		return nil, errors.New("manifest is required")
	}
	if repoDir == "" {
		return nil, errors.New("repo dir is required")
	}
	return &BuildHandler{builder: builder, man: man, repoDir: repoDir}, nil
}

// Stage implements pipeline.StageHandler.
func (h *BuildHandler) Stage() pipeline.Stage { return pipeline.StageBuild }

// Execute implements pipeline.StageHandler.
func (h *BuildHandler) Execute(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	in := build.Input{RepoDir: h.repoDir, Manifest: h.man}
	if c := rc.Plan.Classification; c != nil {
		in.Version = c.Version.String()
	} else {
		in.Version = build.DevVersion(rc.Event.SHA)
		in.Retain = true
	}

	artifact, err := h.builder.Build(ctx, in)
	if err != nil {
		return "", err
	}

	rc.Artifact = artifact
	return fmt.Sprintf("built %s (%d bytes, %s)", artifact.Reference(), artifact.Size, artifact.Digest), nil
}
