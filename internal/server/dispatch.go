package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/github"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/runs"
)

// ErrDuplicateRun reports a run ID that was already dispatched.
// Webhook redeliveries land here and are acknowledged without
// starting a second run. Both dispatch backends return the same
// sentinel.
var ErrDuplicateRun = pipeline.ErrDuplicateRun

// ErrNotStarted reports a dispatcher that has not been started yet.
var ErrNotStarted = errors.New("dispatcher not started")

// Dispatcher starts pipeline runs for normalized trigger events.
//
// Implementations must derive the event's plan synchronously, before
// any side effect, so malformed triggers fail the dispatch call with
// nothing recorded. Execution is asynchronous.
type Dispatcher interface {
	Dispatch(ctx context.Context, runID string, ev pipeline.Event) error
}

const defaultWorkers = 4

// LocalDispatcher executes plans on an in-process pipeline.Runner
// behind a bounded worker pool. It is the dispatch backend for
// dispatch mode "local"; mode "temporal" hands the same events to a
// workflow client instead.
type LocalDispatcher struct {
	runner   *pipeline.Runner
	registry *runs.Registry
	topology pipeline.Topology
	metrics  *Metrics
	statuses *github.StatusReporter
	logger   *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.Mutex
	baseCtx  context.Context
	inflight map[string]struct{}
}

// LocalOption configures a LocalDispatcher.
type LocalOption func(*LocalDispatcher)

// WithWorkers bounds the number of concurrently executing runs.
func WithWorkers(n int) LocalOption {
	return func(d *LocalDispatcher) {
		if n > 0 {
			d.sem = make(chan struct{}, n)
		}
	}
}

// WithTopology selects the plan topology. The daemon defaults to the
// split layout; shipctl run uses the self-contained one.
func WithTopology(t pipeline.Topology) LocalOption {
	return func(d *LocalDispatcher) { d.topology = t }
}

// WithStatusReporter enables GitHub commit statuses for runs whose
// events carry repository coordinates.
func WithStatusReporter(r *github.StatusReporter) LocalOption {
	return func(d *LocalDispatcher) { d.statuses = r }
}

// WithMetrics records run outcomes on the daemon metrics.
func WithMetrics(m *Metrics) LocalOption {
	return func(d *LocalDispatcher) { d.metrics = m }
}

// NewLocalDispatcher creates a dispatcher over the given runner and
// run registry.
func NewLocalDispatcher(runner *pipeline.Runner, registry *runs.Registry, logger *zap.Logger, opts ...LocalOption) (*LocalDispatcher, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if registry == nil {
		return nil, errors.New("run registry is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &LocalDispatcher{
		runner:   runner,
		registry: registry,
		logger:   logger,
		sem:      make(chan struct{}, defaultWorkers),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Start binds the dispatcher to the daemon lifetime context. Runs
// execute under this context, not the triggering request's, so an HTTP
// client disconnecting never cancels a pipeline.
func (d *LocalDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	d.baseCtx = ctx
	d.mu.Unlock()
}

// Ready reports whether the dispatcher can accept runs.
func (d *LocalDispatcher) Ready() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baseCtx != nil
}

// Dispatch derives the plan for the event and queues its execution.
// Plan derivation errors (unknown event kinds, malformed release tags)
// return before any side effect. A run ID seen before returns
// ErrDuplicateRun.
func (d *LocalDispatcher) Dispatch(_ context.Context, runID string, ev pipeline.Event) error {
	plan, err := pipeline.BuildPlan(ev, d.topology)
	if err != nil {
		return fmt.Errorf("planning run %s: %w", runID, err)
	}

	d.mu.Lock()
	base := d.baseCtx
	if base == nil {
		d.mu.Unlock()
		return ErrNotStarted
	}
	if _, dup := d.inflight[runID]; dup {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}
	if _, dup := d.registry.Get(runID); dup {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateRun, runID)
	}
	d.inflight[runID] = struct{}{}
	d.mu.Unlock()

	d.wg.Add(1)
	go d.execute(base, runID, ev, plan)
	return nil
}

// Stop marks the dispatcher draining: readiness flips off and new
// dispatches return ErrNotStarted, while in-flight runs keep their
// original context and finish on their own. Call Drain to wait for
// them.
func (d *LocalDispatcher) Stop() {
	d.mu.Lock()
	d.baseCtx = nil
	d.mu.Unlock()
}

// Drain waits for in-flight runs to finish or the context to expire.
func (d *LocalDispatcher) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining dispatcher: %w", ctx.Err())
	}
}

func (d *LocalDispatcher) execute(ctx context.Context, runID string, ev pipeline.Event, plan pipeline.Plan) {
	defer d.wg.Done()
	defer func() {
		d.mu.Lock()
		delete(d.inflight, runID)
		d.mu.Unlock()
	}()

	select {
	case d.sem <- struct{}{}:
		defer func() { <-d.sem }()
	case <-ctx.Done():
		d.logger.Warn("run dropped before start, daemon shutting down",
			zap.String("run_id", runID))
		return
	}

	d.registry.Started(pipeline.NewRun(runID, ev, plan))
	d.reportPending(ctx, runID, ev, plan)

	run, err := d.runner.Run(ctx, runID, ev, plan)
	if err != nil {
		d.logger.Error("run had structural errors",
			zap.String("run_id", runID),
			zap.Error(err))
	}

	d.registry.Completed(run)
	d.metrics.ObserveRun(run)
	d.reportCompleted(ctx, runID, ev, run)
}

// reportPending posts the pending commit status when the event carries
// repository coordinates and a reporter is configured.
func (d *LocalDispatcher) reportPending(ctx context.Context, runID string, ev pipeline.Event, plan pipeline.Plan) {
	ref, ok := d.commitRef(ev)
	if !ok {
		return
	}

	desc := fmt.Sprintf("%d stage(s) queued", len(plan.Stages))
	if err := d.statuses.Pending(ctx, ref, desc); err != nil {
		d.logger.Warn("posting pending status",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

func (d *LocalDispatcher) reportCompleted(ctx context.Context, runID string, ev pipeline.Event, run *pipeline.Run) {
	ref, ok := d.commitRef(ev)
	if !ok {
		return
	}

	if err := d.statuses.ReportRun(ctx, ref, run); err != nil {
		d.logger.Warn("posting final status",
			zap.String("run_id", runID),
			zap.Error(err))
	}
}

func (d *LocalDispatcher) commitRef(ev pipeline.Event) (github.CommitRef, bool) {
	if d.statuses == nil || ev.Owner == "" || ev.Repo == "" || ev.SHA == "" {
		return github.CommitRef{}, false
	}
	return github.CommitRef{Owner: ev.Owner, Repo: ev.Repo, SHA: ev.SHA}, true
}
