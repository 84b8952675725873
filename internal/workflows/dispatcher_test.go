package workflows

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/version"
)

type fakeWorkflowRun struct {
	id    string
	runID string
}

func (r *fakeWorkflowRun) GetID() string    { return r.id }
func (r *fakeWorkflowRun) GetRunID() string { return r.runID }
func (r *fakeWorkflowRun) Get(context.Context, interface{}) error {
	return nil
}
func (r *fakeWorkflowRun) GetWithOptions(context.Context, interface{}, client.WorkflowRunGetOptions) error {
	return nil
}

type startCall struct {
	options  client.StartWorkflowOptions
	workflow interface{}
	input    PipelineInput
}

type fakeWorkflowClient struct {
	calls []startCall
	err   error
}

func (c *fakeWorkflowClient) ExecuteWorkflow(_ context.Context, options client.StartWorkflowOptions, wf interface{}, args ...interface{}) (client.WorkflowRun, error) {
	call := startCall{options: options, workflow: wf}
	if len(args) == 1 {
		if in, ok := args[0].(PipelineInput); ok {
			call.input = in
		}
	}
	c.calls = append(c.calls, call)

	if c.err != nil {
		return nil, c.err
	}
	return &fakeWorkflowRun{id: options.ID, runID: "temporal-run-1"}, nil
}

func sameFunc(t *testing.T, want, got interface{}) {
	t.Helper()
	assert.Equal(t, reflect.ValueOf(want).Pointer(), reflect.ValueOf(got).Pointer())
}

func TestNewDispatcher_Validation(t *testing.T) {
	logger := zap.NewNop()

	_, err := NewDispatcher(nil, "shipd-pipeline", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "temporal client is required")

	_, err = NewDispatcher(&fakeWorkflowClient{}, "", logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task queue is required")

	_, err = NewDispatcher(&fakeWorkflowClient{}, "shipd-pipeline", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
}

func TestDispatcher_ReleaseStartsReleaseWorkflow(t *testing.T) {
	fake := &fakeWorkflowClient{}
	d, err := NewDispatcher(fake, "shipd-pipeline", zap.NewNop())
	require.NoError(t, err)

	ev := pipeline.Event{
		Kind:    pipeline.EventRelease,
		Release: &pipeline.ReleaseEvent{Tag: "v1.4.0-rc.1", Prerelease: true},
	}
	require.NoError(t, d.Dispatch(context.Background(), "release-acme-widget-v1.4.0-rc.1", ev))

	require.Len(t, fake.calls, 1)
	call := fake.calls[0]
	sameFunc(t, ReleasePipelineWorkflow, call.workflow)
	assert.Equal(t, "release-acme-widget-v1.4.0-rc.1", call.options.ID)
	assert.Equal(t, "shipd-pipeline", call.options.TaskQueue)
	assert.Equal(t, enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE, call.options.WorkflowIDReusePolicy)

	assert.Equal(t, pipeline.PublishTest, call.input.Plan.Publish)
	require.NotNil(t, call.input.Plan.Classification)
	assert.Equal(t, "1.4", call.input.Plan.Classification.MajorMinor)
}

func TestDispatcher_PushStartsPushWorkflow(t *testing.T) {
	fake := &fakeWorkflowClient{}
	d, err := NewDispatcher(fake, "shipd-pipeline", zap.NewNop())
	require.NoError(t, err)

	ev := pipeline.Event{Kind: pipeline.EventPush, Branch: "main", DefaultBranch: true}
	require.NoError(t, d.Dispatch(context.Background(), "push-acme-widget-abc", ev))

	require.Len(t, fake.calls, 1)
	sameFunc(t, PushPipelineWorkflow, fake.calls[0].workflow)
	assert.Equal(t, []pipeline.Stage{pipeline.StageTest}, fake.calls[0].input.Plan.Stages)
}

func TestDispatcher_TopologyOption(t *testing.T) {
	fake := &fakeWorkflowClient{}
	d, err := NewDispatcher(fake, "shipd-pipeline", zap.NewNop(), WithTopology(pipeline.TopologySelfContained))
	require.NoError(t, err)

	ev := pipeline.Event{Kind: pipeline.EventPush, Branch: "main", DefaultBranch: true}
	require.NoError(t, d.Dispatch(context.Background(), "push-acme-widget-def", ev))

	require.Len(t, fake.calls, 1)
	assert.Equal(t,
		[]pipeline.Stage{pipeline.StageTest, pipeline.StageDevDocs, pipeline.StageBuild},
		fake.calls[0].input.Plan.Stages)
}

// TestDispatcher_MalformedReleaseFailsBeforeDispatch pins the
// fatal-before-side-effects contract: a bad tag never reaches the
// task queue.
func TestDispatcher_MalformedReleaseFailsBeforeDispatch(t *testing.T) {
	fake := &fakeWorkflowClient{}
	d, err := NewDispatcher(fake, "shipd-pipeline", zap.NewNop())
	require.NoError(t, err)

	ev := pipeline.Event{
		Kind:    pipeline.EventRelease,
		Release: &pipeline.ReleaseEvent{Tag: "not-a-version", Prerelease: false},
	}
	err = d.Dispatch(context.Background(), "release-acme-widget-not-a-version", ev)
	require.Error(t, err)
	assert.ErrorIs(t, err, version.ErrMalformedTag)
	assert.Contains(t, err.Error(), "planning run")
	assert.Empty(t, fake.calls)
}

func TestDispatcher_AlreadyStartedIsDuplicate(t *testing.T) {
	fake := &fakeWorkflowClient{
		err: serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "req-1", "temporal-run-1"),
	}
	d, err := NewDispatcher(fake, "shipd-pipeline", zap.NewNop())
	require.NoError(t, err)

	ev := pipeline.Event{Kind: pipeline.EventPush, Branch: "main", DefaultBranch: true}
	err = d.Dispatch(context.Background(), "push-acme-widget-abc", ev)
	assert.ErrorIs(t, err, pipeline.ErrDuplicateRun)
}

func TestDispatcher_StartErrorIsWrapped(t *testing.T) {
	fake := &fakeWorkflowClient{err: errors.New("connection refused")}
	d, err := NewDispatcher(fake, "shipd-pipeline", zap.NewNop())
	require.NoError(t, err)

	ev := pipeline.Event{Kind: pipeline.EventPush, Branch: "main", DefaultBranch: true}
	err = d.Dispatch(context.Background(), "push-acme-widget-abc", ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting PushPipelineWorkflow")
	assert.Contains(t, err.Error(), "connection refused")
}
