package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrSkipStage is returned (wrapped) by a Gate to skip its stage with
// a reason instead of failing the run.
var ErrSkipStage = errors.New("stage skipped")

// StageHandler executes one stage of a plan.
type StageHandler interface {
	// Stage returns the stage this handler executes.
	Stage() Stage

	// Execute runs the stage against the shared run context. The
	// returned detail string is recorded on the stage result; a
	// returned error fails the stage and skips its dependents.
	Execute(ctx context.Context, rc *RunContext) (string, error)
}

// Gate runs before a stage and can veto it. An error wrapping
// ErrSkipStage marks the stage skipped; any other error fails it
// without executing the handler.
type Gate interface {
	Name() string
	Check(ctx context.Context, rc *RunContext) error
}

// StageCallback receives each stage result as it is recorded.
type StageCallback func(runID string, res StageResult)

// Runner executes plans stage by stage in plan order, honoring the
// static dependency DAG: a failed stage skips its dependents while
// sibling branches keep running. Nothing in the runner retries; a
// failed run is re-entered only by re-dispatching its trigger.
type Runner struct {
	handlers map[Stage]StageHandler
	gates    map[Stage][]Gate
	logger   *zap.Logger
	onStage  StageCallback
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStageCallback registers a callback invoked after every stage.
func WithStageCallback(cb StageCallback) RunnerOption {
	return func(r *Runner) { r.onStage = cb }
}

// NewRunner creates a Runner.
func NewRunner(logger *zap.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Runner{
		handlers: make(map[Stage]StageHandler),
		gates:    make(map[Stage][]Gate),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register registers a stage handler, replacing any previous handler
// for the same stage.
func (r *Runner) Register(h StageHandler) {
	r.handlers[h.Stage()] = h
}

// RegisterGate adds a gate for a stage. Gates run in registration
// order before the stage handler.
func (r *Runner) RegisterGate(stage Stage, g Gate) {
	r.gates[stage] = append(r.gates[stage], g)
}

// Run executes the plan and returns the completed run record. Stage
// failures are normal outcomes captured in the record; the returned
// error is reserved for structural problems such as a stage with no
// registered handler.
func (r *Runner) Run(ctx context.Context, id string, ev Event, plan Plan) (*Run, error) {
	run := NewRun(id, ev, plan)

	if len(plan.Stages) == 0 {
		run.Finish()
		r.logger.Info("empty plan, nothing to run",
			zap.String("run_id", id),
			zap.String("event", string(ev.Kind)))
		return run, nil
	}

	r.logger.Info("starting run",
		zap.String("run_id", id),
		zap.String("event", string(ev.Kind)),
		zap.Any("stages", plan.Stages))

	rc := &RunContext{RunID: id, Event: ev, Plan: plan}
	var structural error

	for _, stage := range plan.Stages {
		var res StageResult

		switch {
		case ctx.Err() != nil:
			res = StageResult{Stage: stage, Status: StatusCancelled, Detail: "run cancelled"}

		default:
			if dep, unmet := run.UnmetDependency(stage); unmet {
				res = StageResult{
					Stage:  stage,
					Status: StatusSkipped,
					Detail: fmt.Sprintf("dependency %s did not succeed", dep),
				}
			} else {
				var err error
				res, err = r.ExecuteStage(ctx, rc, stage)
				if err != nil {
					structural = errors.Join(structural, err)
				}
			}
		}

		run.Record(res)
		r.logStage(id, res)
		if r.onStage != nil {
			r.onStage(id, res)
		}
	}

	run.Finish()
	r.logger.Info("run finished",
		zap.String("run_id", id),
		zap.String("status", string(run.Status)),
		zap.Int("successes", run.Successes),
		zap.Int("failures", run.Failures))

	return run, structural
}

// ExecuteStage runs the gates and handler for one stage against the
// shared run context. Substrates that sequence stages themselves, such
// as workflow activities, call this directly. The error return flags
// structural problems only; ordinary stage failures are captured in
// the result.
func (r *Runner) ExecuteStage(ctx context.Context, rc *RunContext, stage Stage) (StageResult, error) {
	res := StageResult{Stage: stage}
	start := time.Now()

	for _, gate := range r.gates[stage] {
		if err := gate.Check(ctx, rc); err != nil {
			res.Duration = time.Since(start)
			if errors.Is(err, ErrSkipStage) {
				res.Status = StatusSkipped
				res.Detail = fmt.Sprintf("gate %s: %v", gate.Name(), err)
			} else {
				res.Status = StatusFailure
				res.Err = fmt.Sprintf("gate %s: %v", gate.Name(), err)
			}
			return res, nil
		}
	}

	handler, ok := r.handlers[stage]
	if !ok {
		res.Status = StatusFailure
		res.Err = fmt.Sprintf("no handler registered for stage %s", stage)
		res.Duration = time.Since(start)
		return res, errors.New(res.Err)
	}

	detail, err := handler.Execute(ctx, rc)
	res.Duration = time.Since(start)
	res.Detail = detail

	switch {
	case err == nil:
		res.Status = StatusSuccess
	case ctx.Err() != nil:
		res.Status = StatusCancelled
		res.Err = err.Error()
	default:
		res.Status = StatusFailure
		res.Err = err.Error()
	}
	return res, nil
}

func (r *Runner) logStage(runID string, res StageResult) {
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
	case StatusFailure:
		r.logger.Error("stage failed", fields...)
	case StatusSkipped, StatusCancelled:
		r.logger.Warn("stage not executed", fields...)
	default:
		r.logger.Info("stage complete", fields...)
	}
}
