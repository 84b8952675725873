package workflows

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/command"
	"github.com/fyrsmithlabs/shipd/internal/docstore"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/registry"
	"github.com/fyrsmithlabs/shipd/internal/stages"
)

type activityEnv struct {
	acts    *Activities
	stable  *registry.MemTarget
	testIdx *registry.MemTarget
	docs    *docstore.MemDocStore
}

func newActivityEnv(t *testing.T) *activityEnv {
	t.Helper()

	repoDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repoDir, "site"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "site", "index.html"), []byte("<h1>widget docs</h1>"), 0o644))

	man := &manifest.Manifest{
		Package: manifest.PackageConfig{Name: "widget", DefaultBranch: "main"},
		Test:    manifest.TestConfig{Command: "true"},
		Build: manifest.BuildConfig{
			Command:   "mkdir -p dist && echo dist-site > dist/index.html",
			OutputDir: "dist",
		},
		Docs: manifest.DocsConfig{SourceDir: "site", Title: "widget"},
	}

	builder, err := build.NewBuilder(command.NewRunner(), zap.NewNop(), build.WithStagingDir(t.TempDir()))
	require.NoError(t, err)

	env := &activityEnv{
		stable:  registry.NewMemTarget("stable"),
		testIdx: registry.NewMemTarget("test"),
		docs:    docstore.NewMemDocStore(),
	}

	runner := pipeline.NewRunner(zap.NewNop())
	require.NoError(t, stages.Register(runner, stages.Deps{
		RepoDir:     repoDir,
		Manifest:    man,
		Commands:    command.NewRunner(),
		Builder:     builder,
		StableIndex: env.stable,
		TestIndex:   env.testIdx,
		Docs:        env.docs,
	}))

	env.acts, err = NewActivities(runner, zap.NewNop())
	require.NoError(t, err)
	return env
}

func TestNewActivities_Validation(t *testing.T) {
	_, err := NewActivities(nil, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner is required")
}

// TestActivities_ReleaseStages drives the build, publish, and docs
// activities through the real stage handlers, threading the artifact
// between calls the way the workflow does.
func TestActivities_ReleaseStages(t *testing.T) {
	aenv := newActivityEnv(t)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	env.RegisterActivity(aenv.acts)

	ev := pipeline.Event{
		Kind:    pipeline.EventRelease,
		Release: &pipeline.ReleaseEvent{Tag: "v2.0.0", Prerelease: false},
	}
	plan, err := pipeline.BuildPlan(ev, pipeline.TopologySplit)
	require.NoError(t, err)

	input := StageInput{RunID: "release-acme-widget-v2.0.0", Event: ev, Plan: plan}

	// Build stage produces the artifact.
	val, err := env.ExecuteActivity(aenv.acts.BuildArtifact, input)
	require.NoError(t, err)

	var out StageOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, pipeline.StatusSuccess, out.Result.Status, "build failed: %s", out.Result.Err)
	require.NotNil(t, out.Artifact)
	assert.Equal(t, "2.0.0", out.Artifact.Version)

	// Publish consumes it.
	input.Artifact = out.Artifact
	val, err = env.ExecuteActivity(aenv.acts.PublishArtifact, input)
	require.NoError(t, err)
	require.NoError(t, val.Get(&out))
	require.Equal(t, pipeline.StatusSuccess, out.Result.Status, "publish failed: %s", out.Result.Err)
	assert.Equal(t, []string{"2.0.0"}, aenv.stable.Published())
	assert.Empty(t, aenv.testIdx.Published())

	// Docs deploys the version and promotes the release aliases.
	val, err = env.ExecuteActivity(aenv.acts.DeployDocs, input)
	require.NoError(t, err)
	require.NoError(t, val.Get(&out))
	require.Equal(t, pipeline.StatusSuccess, out.Result.Status, "docs failed: %s", out.Result.Err)

	latest, err := aenv.docs.GetAlias(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", latest)
	series, err := aenv.docs.GetAlias(context.Background(), "2.0")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", series)
}

// TestActivities_PublishDuplicateFails checks the duplicate-version
// contract survives the activity boundary: the second publish of the
// same version is a failed stage, not a silent overwrite.
func TestActivities_PublishDuplicateFails(t *testing.T) {
	aenv := newActivityEnv(t)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	env.RegisterActivity(aenv.acts)

	ev := pipeline.Event{
		Kind:    pipeline.EventRelease,
		Release: &pipeline.ReleaseEvent{Tag: "v1.1.0", Prerelease: false},
	}
	plan, err := pipeline.BuildPlan(ev, pipeline.TopologySplit)
	require.NoError(t, err)

	input := StageInput{
		RunID: "release-acme-widget-v1.1.0",
		Event: ev,
		Plan:  plan,
		Artifact: &build.Artifact{
			Name:    "widget",
			Version: "1.1.0",
			Path:    filepath.Join(t.TempDir(), "widget-1.1.0.tar.gz"),
		},
	}

	val, err := env.ExecuteActivity(aenv.acts.PublishArtifact, input)
	require.NoError(t, err)
	var out StageOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, pipeline.StatusSuccess, out.Result.Status)

	val, err = env.ExecuteActivity(aenv.acts.PublishArtifact, input)
	require.NoError(t, err)
	require.NoError(t, val.Get(&out))
	assert.Equal(t, pipeline.StatusFailure, out.Result.Status)
	assert.Contains(t, out.Result.Err, "version already published")
}

func TestActivities_DevDocsRefresh(t *testing.T) {
	aenv := newActivityEnv(t)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	env.RegisterActivity(aenv.acts)

	ev := pipeline.Event{
		Kind:          pipeline.EventWorkflowRun,
		Branch:        "main",
		DefaultBranch: true,
		Upstream:      pipeline.UpstreamSuccess,
	}
	plan, err := pipeline.BuildPlan(ev, pipeline.TopologySplit)
	require.NoError(t, err)

	val, err := env.ExecuteActivity(aenv.acts.DeployDevDocs, StageInput{
		RunID: "workflow-run-acme-widget-7",
		Event: ev,
		Plan:  plan,
	})
	require.NoError(t, err)

	var out StageOutput
	require.NoError(t, val.Get(&out))
	require.Equal(t, pipeline.StatusSuccess, out.Result.Status, "dev docs failed: %s", out.Result.Err)

	dev, err := aenv.docs.GetAlias(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", dev)
}

// TestActivities_MissingHandlerIsStructural confirms that a stage with
// no registered handler fails the activity itself rather than coming
// back as a recorded stage failure.
func TestActivities_MissingHandlerIsStructural(t *testing.T) {
	acts, err := NewActivities(pipeline.NewRunner(zap.NewNop()), zap.NewNop())
	require.NoError(t, err)

	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestActivityEnvironment()
	env.RegisterActivity(acts)

	ev := pipeline.Event{Kind: pipeline.EventPush, Branch: "main", DefaultBranch: true}
	plan, err := pipeline.BuildPlan(ev, pipeline.TopologySplit)
	require.NoError(t, err)

	_, err = env.ExecuteActivity(acts.RunTests, StageInput{RunID: "push-acme-widget-abc", Event: ev, Plan: plan})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}
