package workflows

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

func releaseInput(t *testing.T, tag string, prerelease bool, topo pipeline.Topology) PipelineInput {
	t.Helper()

	ev := pipeline.Event{
		Kind:    pipeline.EventRelease,
		Release: &pipeline.ReleaseEvent{Tag: tag, Prerelease: prerelease},
	}
	plan, err := pipeline.BuildPlan(ev, topo)
	require.NoError(t, err)
	return PipelineInput{RunID: "release-acme-widget-" + tag, Event: ev, Plan: plan}
}

func pushInput(t *testing.T, defaultBranch bool) PipelineInput {
	t.Helper()

	ev := pipeline.Event{
		Kind:          pipeline.EventPush,
		Branch:        "main",
		DefaultBranch: defaultBranch,
	}
	plan, err := pipeline.BuildPlan(ev, pipeline.TopologySplit)
	require.NoError(t, err)
	return PipelineInput{RunID: "push-acme-widget-abc", Event: ev, Plan: plan}
}

func workflowRunInput(t *testing.T, upstream pipeline.UpstreamStatus) PipelineInput {
	t.Helper()

	ev := pipeline.Event{
		Kind:          pipeline.EventWorkflowRun,
		Branch:        "main",
		DefaultBranch: true,
		Upstream:      upstream,
	}
	plan, err := pipeline.BuildPlan(ev, pipeline.TopologySplit)
	require.NoError(t, err)
	return PipelineInput{RunID: "workflow-run-acme-widget-81", Event: ev, Plan: plan}
}

func success(stage pipeline.Stage) *StageOutput {
	return &StageOutput{Result: pipeline.StageResult{Stage: stage, Status: pipeline.StatusSuccess}}
}

func failure(stage pipeline.Stage, msg string) *StageOutput {
	return &StageOutput{Result: pipeline.StageResult{Stage: stage, Status: pipeline.StatusFailure, Err: msg}}
}

// TestReleasePipelineWorkflow tests the release execution path.
func TestReleasePipelineWorkflow(t *testing.T) {
	var a *Activities

	t.Run("stable release runs build publish and docs", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ReleasePipelineWorkflow)

		artifact := &build.Artifact{Name: "widget", Version: "2.1.0", Path: "/tmp/widget-2.1.0.tar.gz"}
		env.OnActivity(a.BuildArtifact, mock.Anything, mock.Anything).Return(
			&StageOutput{
				Result:   pipeline.StageResult{Stage: pipeline.StageBuild, Status: pipeline.StatusSuccess},
				Artifact: artifact,
			}, nil)

		// Both downstream stages must see the artifact the build threaded in.
		env.OnActivity(a.PublishArtifact, mock.Anything, mock.Anything).Return(
			func(ctx context.Context, input StageInput) (*StageOutput, error) {
				require.NotNil(t, input.Artifact)
				assert.Equal(t, "2.1.0", input.Artifact.Version)
				assert.Equal(t, pipeline.PublishStable, input.Plan.Publish)
				return success(pipeline.StagePublish), nil
			})
		env.OnActivity(a.DeployDocs, mock.Anything, mock.Anything).Return(
			func(ctx context.Context, input StageInput) (*StageOutput, error) {
				require.NotNil(t, input.Artifact)
				return success(pipeline.StageDocs), nil
			})

		env.ExecuteWorkflow(ReleasePipelineWorkflow, releaseInput(t, "v2.1.0", false, pipeline.TopologySplit))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusSuccess, run.Status)
		assert.Equal(t, 3, run.Successes)
		assert.Len(t, run.Stages, 3)
	})

	t.Run("publish failure leaves docs deploying", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ReleasePipelineWorkflow)

		env.OnActivity(a.BuildArtifact, mock.Anything, mock.Anything).Return(
			&StageOutput{
				Result:   pipeline.StageResult{Stage: pipeline.StageBuild, Status: pipeline.StatusSuccess},
				Artifact: &build.Artifact{Name: "widget", Version: "1.4.0"},
			}, nil)
		env.OnActivity(a.PublishArtifact, mock.Anything, mock.Anything).Return(
			failure(pipeline.StagePublish, "version already published: 1.4.0 on stable"), nil)
		env.OnActivity(a.DeployDocs, mock.Anything, mock.Anything).Return(success(pipeline.StageDocs), nil)

		env.ExecuteWorkflow(ReleasePipelineWorkflow, releaseInput(t, "v1.4.0", false, pipeline.TopologySplit))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusFailure, run.Status)

		docs, ok := run.Result(pipeline.StageDocs)
		require.True(t, ok)
		assert.Equal(t, pipeline.StatusSuccess, docs.Status)
	})

	t.Run("build failure skips publish and docs", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ReleasePipelineWorkflow)

		// Only the build is mocked: the workflow must never reach the
		// downstream activities.
		env.OnActivity(a.BuildArtifact, mock.Anything, mock.Anything).Return(
			failure(pipeline.StageBuild, "build command exited 1"), nil)

		env.ExecuteWorkflow(ReleasePipelineWorkflow, releaseInput(t, "v1.5.0-rc.1", true, pipeline.TopologySplit))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusFailure, run.Status)
		require.Len(t, run.Stages, 3)

		pub, ok := run.Result(pipeline.StagePublish)
		require.True(t, ok)
		assert.Equal(t, pipeline.StatusSkipped, pub.Status)
		assert.Contains(t, pub.Detail, "dependency build")

		docs, ok := run.Result(pipeline.StageDocs)
		require.True(t, ok)
		assert.Equal(t, pipeline.StatusSkipped, docs.Status)
	})

	t.Run("test gate failure skips everything downstream", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ReleasePipelineWorkflow)

		env.OnActivity(a.RunTests, mock.Anything, mock.Anything).Return(
			failure(pipeline.StageTest, "tests exited 2"), nil)

		env.ExecuteWorkflow(ReleasePipelineWorkflow, releaseInput(t, "v3.0.0", false, pipeline.TopologySelfContained))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusFailure, run.Status)
		require.Len(t, run.Stages, 4)
		for _, res := range run.Stages[1:] {
			assert.Equal(t, pipeline.StatusSkipped, res.Status, "stage %s", res.Stage)
		}
	})

	t.Run("rejects non-release events", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ReleasePipelineWorkflow)

		env.ExecuteWorkflow(ReleasePipelineWorkflow, pushInput(t, true))

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a release")
	})

	t.Run("rejects missing run id", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(ReleasePipelineWorkflow)

		input := releaseInput(t, "v1.0.0", false, pipeline.TopologySplit)
		input.RunID = ""
		env.ExecuteWorkflow(ReleasePipelineWorkflow, input)

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "RunID is required")
	})
}

// TestPushPipelineWorkflow tests the push/PR/upstream execution path.
func TestPushPipelineWorkflow(t *testing.T) {
	var a *Activities

	t.Run("push runs the test gate", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(PushPipelineWorkflow)

		env.OnActivity(a.RunTests, mock.Anything, mock.Anything).Return(success(pipeline.StageTest), nil)

		env.ExecuteWorkflow(PushPipelineWorkflow, pushInput(t, true))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusSuccess, run.Status)
		assert.Len(t, run.Stages, 1)
	})

	t.Run("upstream test pass promotes dev", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(PushPipelineWorkflow)

		var order []pipeline.Stage
		env.OnActivity(a.DeployDevDocs, mock.Anything, mock.Anything).Return(
			func(ctx context.Context, input StageInput) (*StageOutput, error) {
				order = append(order, pipeline.StageDevDocs)
				return success(pipeline.StageDevDocs), nil
			})
		env.OnActivity(a.BuildArtifact, mock.Anything, mock.Anything).Return(
			func(ctx context.Context, input StageInput) (*StageOutput, error) {
				order = append(order, pipeline.StageBuild)
				return success(pipeline.StageBuild), nil
			})

		env.ExecuteWorkflow(PushPipelineWorkflow, workflowRunInput(t, pipeline.UpstreamSuccess))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusSuccess, run.Status)
		assert.Equal(t, []pipeline.Stage{pipeline.StageDevDocs, pipeline.StageBuild}, order)
	})

	t.Run("upstream failure yields an empty run", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(PushPipelineWorkflow)

		env.ExecuteWorkflow(PushPipelineWorkflow, workflowRunInput(t, pipeline.UpstreamFailure))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusSkipped, run.Status)
		assert.Empty(t, run.Stages)
	})

	t.Run("rejects release events", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(PushPipelineWorkflow)

		env.ExecuteWorkflow(PushPipelineWorkflow, releaseInput(t, "v1.0.0", false, pipeline.TopologySplit))

		require.True(t, env.IsWorkflowCompleted())
		err := env.GetWorkflowError()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "release events run the release pipeline")
	})

	t.Run("activity error records a failed stage", func(t *testing.T) {
		testSuite := &testsuite.WorkflowTestSuite{}
		env := testSuite.NewTestWorkflowEnvironment()
		env.RegisterWorkflow(PushPipelineWorkflow)

		env.OnActivity(a.RunTests, mock.Anything, mock.Anything).Return(
			nil, errors.New("worker lost"))

		env.ExecuteWorkflow(PushPipelineWorkflow, pushInput(t, true))

		require.True(t, env.IsWorkflowCompleted())
		require.NoError(t, env.GetWorkflowError())

		var run pipeline.Run
		require.NoError(t, env.GetWorkflowResult(&run))
		assert.Equal(t, pipeline.StatusFailure, run.Status)
		require.Len(t, run.Stages, 1)
		assert.Equal(t, pipeline.StatusFailure, run.Stages[0].Status)
		assert.Contains(t, run.Stages[0].Err, "worker lost")
	})
}

func TestWorkflowError(t *testing.T) {
	base := errors.New("boom")

	withCtx := NewWorkflowError("validate_input", ErrorSeverityCritical, base, "release pipeline")
	assert.Equal(t, "validate_input failed: boom (release pipeline)", withCtx.Error())
	assert.True(t, errors.Is(withCtx, base))

	bare := NewWorkflowError("resolve_stage", ErrorSeverityLow, base, "")
	assert.Equal(t, "resolve_stage failed: boom", bare.Error())
}
