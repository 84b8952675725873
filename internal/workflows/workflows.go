// Package workflows provides Temporal workflow definitions for the
// release pipeline: durable execution of the same stage plans the
// local dispatcher runs in process.
//
// Workflows only sequence. Every side effect lives in an activity, and
// every activity delegates to the internal/stages handlers, so a run
// behaves identically whether it executes locally or on a worker
// fleet. Nothing here retries: each activity runs with MaximumAttempts
// 1, and a failed run is re-entered only by re-dispatching its
// trigger.
package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// PipelineInput carries one dispatched run into a workflow. The plan
// is derived by the dispatcher before the workflow starts, so a
// malformed trigger never reaches the task queue.
type PipelineInput struct {
	RunID string         `json:"run_id"`
	Event pipeline.Event `json:"event"`
	Plan  pipeline.Plan  `json:"plan"`
}

// Validate checks that all required fields are set.
func (in *PipelineInput) Validate() error {
	if in.RunID == "" {
		return fmt.Errorf("RunID is required")
	}
	if in.Event.Kind == "" {
		return fmt.Errorf("Event.Kind is required")
	}
	return nil
}

// stageActivities exists for activity name resolution only; the worker
// registers the real instance.
var stageActivities *Activities

// ReleasePipelineWorkflow executes a release plan: the build, then the
// package publish and the versioned docs deployment, with the test
// gate ahead when the plan carries one. Publish and docs are isolated
// siblings downstream of the build; a publish failure never blocks the
// docs deployment, and vice versa.
func ReleasePipelineWorkflow(ctx workflow.Context, input PipelineInput) (*pipeline.Run, error) {
	if err := input.Validate(); err != nil {
		return nil, NewWorkflowError("validate_input", ErrorSeverityCritical, err, "release pipeline")
	}
	if input.Event.Kind != pipeline.EventRelease {
		return nil, NewWorkflowError("validate_input", ErrorSeverityCritical,
			fmt.Errorf("event kind %q is not a release", input.Event.Kind), "release pipeline")
	}
	return runPipeline(ctx, input)
}

// PushPipelineWorkflow executes plans for push, pull_request and
// workflow_run triggers: the test gate, plus the dev docs refresh and
// dev build when an upstream test pass on the default branch earned
// them.
func PushPipelineWorkflow(ctx workflow.Context, input PipelineInput) (*pipeline.Run, error) {
	if err := input.Validate(); err != nil {
		return nil, NewWorkflowError("validate_input", ErrorSeverityCritical, err, "push pipeline")
	}
	if input.Event.Kind == pipeline.EventRelease {
		return nil, NewWorkflowError("validate_input", ErrorSeverityCritical,
			fmt.Errorf("release events run the release pipeline"), "push pipeline")
	}
	return runPipeline(ctx, input)
}

// runPipeline walks the plan's stages in order, one activity per
// stage, honoring the dependency rules the local runner honors: a
// failed stage skips its dependents while sibling branches keep
// running. The returned run record is complete even when stages
// failed; a workflow error is reserved for structural problems.
func runPipeline(ctx workflow.Context, input PipelineInput) (*pipeline.Run, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting pipeline run",
		"run_id", input.RunID,
		"event", string(input.Event.Kind),
		"stages", len(input.Plan.Stages))

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	run := &pipeline.Run{
		ID:        input.RunID,
		Event:     input.Event,
		Plan:      input.Plan,
		Stages:    make([]pipeline.StageResult, 0, len(input.Plan.Stages)),
		StartedAt: workflow.Now(ctx).UTC(),
	}

	var artifact *build.Artifact
	for _, stage := range input.Plan.Stages {
		if dep, unmet := run.UnmetDependency(stage); unmet {
			run.Record(pipeline.StageResult{
				Stage:  stage,
				Status: pipeline.StatusSkipped,
				Detail: fmt.Sprintf("dependency %s did not succeed", dep),
			})
			continue
		}

		act, err := stageActivity(stage)
		if err != nil {
			return nil, err
		}

		var out StageOutput
		err = workflow.ExecuteActivity(ctx, act, StageInput{
			RunID:    input.RunID,
			Event:    input.Event,
			Plan:     input.Plan,
			Artifact: artifact,
		}).Get(ctx, &out)
		if err != nil {
			res := pipeline.StageResult{
				Stage:  stage,
				Status: pipeline.StatusFailure,
				Err:    FormatErrorForResult("execute "+string(stage), err),
			}
			if temporal.IsCanceledError(err) {
				res.Status = pipeline.StatusCancelled
				res.Detail = "run cancelled"
			}
			logger.Error("Stage activity failed", "stage", string(stage), "error", err)
			run.Record(res)
			continue
		}

		if out.Artifact != nil {
			artifact = out.Artifact
		}
		run.Record(out.Result)
	}

	run.FinishAt(workflow.Now(ctx).UTC())
	logger.Info("Pipeline run finished",
		"run_id", run.ID,
		"status", string(run.Status),
		"successes", run.Successes,
		"failures", run.Failures)

	return run, nil
}

// stageActivity maps a plan stage onto its activity.
func stageActivity(stage pipeline.Stage) (interface{}, error) {
	switch stage {
	case pipeline.StageTest:
		return stageActivities.RunTests, nil
	case pipeline.StageBuild:
		return stageActivities.BuildArtifact, nil
	case pipeline.StagePublish:
		return stageActivities.PublishArtifact, nil
	case pipeline.StageDocs:
		return stageActivities.DeployDocs, nil
	case pipeline.StageDevDocs:
		return stageActivities.DeployDevDocs, nil
	default:
		return nil, NewWorkflowError("resolve_stage", ErrorSeverityCritical,
			fmt.Errorf("no activity for stage %q", stage), "")
	}
}
