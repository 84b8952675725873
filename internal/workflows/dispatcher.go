package workflows

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// WorkflowClient is the slice of the Temporal client the dispatcher
// uses. client.Client satisfies it.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Dispatcher starts pipeline workflows on a Temporal task queue. It is
// the dispatch backend for mode "temporal": the same synchronous
// planning step and duplicate semantics as the local dispatcher, with
// execution handed to the worker fleet.
type Dispatcher struct {
	client    WorkflowClient
	taskQueue string
	topology  pipeline.Topology
	logger    *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithTopology selects the plan topology. The default is the split
// layout, matching the webhook daemon.
func WithTopology(t pipeline.Topology) DispatcherOption {
	return func(d *Dispatcher) { d.topology = t }
}

// NewDispatcher creates a Temporal-backed pipeline dispatcher.
func NewDispatcher(c WorkflowClient, taskQueue string, logger *zap.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if c == nil {
		return nil, errors.New("temporal client is required")
	}
	if taskQueue == "" {
		return nil, errors.New("task queue is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	d := &Dispatcher{
		client:    c,
		taskQueue: taskQueue,
		topology:  pipeline.TopologySplit,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch derives the event's plan synchronously, then starts the
// matching workflow with the run ID as workflow ID. A malformed
// trigger fails here with nothing on the task queue. The
// reject-duplicate reuse policy turns webhook redeliveries into
// pipeline.ErrDuplicateRun, the same sentinel the local dispatcher
// returns.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, ev pipeline.Event) error {
	plan, err := pipeline.BuildPlan(ev, d.topology)
	if err != nil {
		return fmt.Errorf("planning run %s: %w", runID, err)
	}

	var wf interface{} = PushPipelineWorkflow
	name := "PushPipelineWorkflow"
	if ev.Kind == pipeline.EventRelease {
		wf, name = ReleasePipelineWorkflow, "ReleasePipelineWorkflow"
	}

	options := client.StartWorkflowOptions{
		ID:                    runID,
		TaskQueue:             d.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}

	we, err := d.client.ExecuteWorkflow(ctx, options, wf, PipelineInput{
		RunID: runID,
		Event: ev,
		Plan:  plan,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return pipeline.ErrDuplicateRun
		}
		return fmt.Errorf("starting %s for run %s: %w", name, runID, err)
	}

	recordDispatch(ctx, name)
	d.logger.Info("workflow started",
		zap.String("run_id", runID),
		zap.String("workflow", name),
		zap.String("workflow_id", we.GetID()),
		zap.String("temporal_run_id", we.GetRunID()),
	)
	return nil
}
