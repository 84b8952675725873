package workflows

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// StageInput carries one stage execution into an activity. The
// artifact is the build output threaded from an earlier stage; it is
// nil until the build stage has run.
type StageInput struct {
	RunID    string          `json:"run_id"`
	Event    pipeline.Event  `json:"event"`
	Plan     pipeline.Plan   `json:"plan"`
	Artifact *build.Artifact `json:"artifact,omitempty"`
}

// StageOutput carries a stage result back to the workflow, plus the
// artifact when the stage produced one.
//
// Stage failures are ordinary outcomes returned in the result, not
// activity errors. The activity itself fails only on structural
// problems, such as a stage with no registered handler.
type StageOutput struct {
	Result   pipeline.StageResult `json:"result"`
	Artifact *build.Artifact      `json:"artifact,omitempty"`
}

// Activities executes pipeline stages on a worker host. All stage
// activities share one pipeline.Runner carrying the same handlers and
// gates the local dispatcher registers, so the two execution
// substrates cannot drift apart.
//
// The artifact produced by the build activity is a path on the worker
// host; publish and docs activities resolve it on the same host, which
// is why one run's activities all ride the same task queue.
type Activities struct {
	runner *pipeline.Runner
	logger *zap.Logger
}

// NewActivities creates the stage activities over a configured runner.
// The runner must have handlers registered for every stage the
// worker's task queue will see.
func NewActivities(runner *pipeline.Runner, logger *zap.Logger) (*Activities, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner, logger: logger}, nil
}

// RunTests executes the test gate.
func (a *Activities) RunTests(ctx context.Context, input StageInput) (*StageOutput, error) {
	return a.execute(ctx, pipeline.StageTest, input)
}

// BuildArtifact produces the distribution archive and threads it to
// the downstream stages.
func (a *Activities) BuildArtifact(ctx context.Context, input StageInput) (*StageOutput, error) {
	return a.execute(ctx, pipeline.StageBuild, input)
}

// PublishArtifact uploads the artifact to the package index the plan
// selected.
func (a *Activities) PublishArtifact(ctx context.Context, input StageInput) (*StageOutput, error) {
	return a.execute(ctx, pipeline.StagePublish, input)
}

// DeployDocs deploys release documentation and applies the plan's
// alias promotions.
func (a *Activities) DeployDocs(ctx context.Context, input StageInput) (*StageOutput, error) {
	return a.execute(ctx, pipeline.StageDocs, input)
}

// DeployDevDocs refreshes the rolling dev documentation and repoints
// the dev alias.
func (a *Activities) DeployDevDocs(ctx context.Context, input StageInput) (*StageOutput, error) {
	return a.execute(ctx, pipeline.StageDevDocs, input)
}

func (a *Activities) execute(ctx context.Context, stage pipeline.Stage, input StageInput) (*StageOutput, error) {
	start := time.Now()
	rc := &pipeline.RunContext{
		RunID:    input.RunID,
		Event:    input.Event,
		Plan:     input.Plan,
		Artifact: input.Artifact,
	}

	res, err := a.runner.ExecuteStage(ctx, rc, stage)
	recordStage(ctx, stage, res, time.Since(start))
	a.logStage(input.RunID, res)
	if err != nil {
		return nil, WrapActivityError("execute "+string(stage), err)
	}

	return &StageOutput{Result: res, Artifact: rc.Artifact}, nil
}

func (a *Activities) logStage(runID string, res pipeline.StageResult) {
	fields := []zap.Field{
		zap.String("run_id", runID),
		zap.String("stage", string(res.Stage)),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", res.Duration),
	}
	if res.Err != "" {
		fields = append(fields, zap.String("error", res.Err))
	}

	switch res.Status {
	case pipeline.StatusFailure:
		a.logger.Error("stage failed", fields...)
	case pipeline.StatusSkipped, pipeline.StatusCancelled:
		a.logger.Warn("stage not executed", fields...)
	default:
		a.logger.Info("stage complete", fields...)
	}
}
