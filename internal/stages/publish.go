package stages

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/registry"
)

// PublishHandler uploads the staged artifact to the one index the
// plan selected. A duplicate version is a hard failure: the index
// owns that invariant and the pipeline surfaces it untouched.
type PublishHandler struct {
	stable registry.Target
	test   registry.Target
}

// NewPublishHandler creates the publish stage handler. Either index
// may be nil when not configured.
func NewPublishHandler(stable, test registry.Target) *PublishHandler {
	return &PublishHandler{stable: stable, test: test}
}

// Stage implements pipeline.StageHandler.
func (h *PublishHandler) Stage() pipeline.Stage { return pipeline.StagePublish }

// Execute implements pipeline.StageHandler.
func (h *PublishHandler) Execute(ctx context.Context, rc *pipeline.RunContext) (string, error) {
	if rc.Artifact == nil {
		return "", errors.New("no artifact staged")
	}

	var target registry.Target
	switch rc.Plan.Publish {
	case pipeline.PublishStable:
		target = h.stable
	case pipeline.PublishTest:
		target = h.test
	default:
		return "", errors.New("plan selects no publish target")
	}
	if target == nil {
		return "", fmt.Errorf("%s index is not configured", rc.Plan.Publish)
	}

	if err := target.Publish(ctx, rc.Artifact); err != nil {
		return "", fmt.Errorf("publishing %s: %w", rc.Artifact.Reference(), err)
	}
	return fmt.Sprintf("published %s to the %s index", rc.Artifact.Reference(), target.Name()), nil
}
