// Package runs tracks pipeline runs in memory and streams their
// lifecycle over NATS for dashboards and tailing clients.
//
// Run events are published to subjects:
//
//   - runs.{run_id}.started
//   - runs.{run_id}.stage
//   - runs.{run_id}.completed
//
// The registry is an observer: publishing is best-effort and never
// fails a pipeline. Without a NATS connection it degrades to the
// in-memory record only.
package runs

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// defaultCapacity bounds how many finished runs stay queryable.
const defaultCapacity = 256

// NewID mints a fresh run ID for triggers without a natural one.
func NewID() string {
	return uuid.New().String()
}

// Option configures the Registry.
type Option func(*Registry)

// WithNATS attaches a NATS connection for lifecycle publishing.
func WithNATS(nc *nats.Conn) Option {
	return func(r *Registry) { r.nc = nc }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithCapacity bounds the number of retained runs.
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// Registry is the in-memory run table plus the NATS event tap.
type Registry struct {
	nc       *nats.Conn
	logger   *zap.Logger
	capacity int

	mu    sync.RWMutex
	runs  map[string]*pipeline.Run
	order []string // insertion order, oldest first
}

// NewRegistry creates a registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		logger:   zap.NewNop(),
		capacity: defaultCapacity,
		runs:     make(map[string]*pipeline.Run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Started records a run and publishes its started event.
func (r *Registry) Started(run *pipeline.Run) {
	r.mu.Lock()
	if _, exists := r.runs[run.ID]; !exists {
		r.order = append(r.order, run.ID)
	}
	r.runs[run.ID] = run
	r.evictLocked()
	r.mu.Unlock()

	r.publish(run.ID, "started", run)
}

// StageDone publishes one stage result. Shaped as the runner's stage
// callback.
func (r *Registry) StageDone(runID string, res pipeline.StageResult) {
	r.publish(runID, "stage", map[string]any{
		"run_id":    runID,
		"stage":     res.Stage,
		"status":    res.Status,
		"detail":    res.Detail,
		"error":     res.Err,
		"timestamp": time.Now().UTC(),
	})
}

// Callback adapts the registry to the runner's stage callback hook.
func (r *Registry) Callback() pipeline.StageCallback {
	return r.StageDone
}

// Completed records the finished run and publishes its terminal event.
func (r *Registry) Completed(run *pipeline.Run) {
	r.mu.Lock()
	if _, exists := r.runs[run.ID]; !exists {
		r.order = append(r.order, run.ID)
	}
	r.runs[run.ID] = run
	r.evictLocked()
	r.mu.Unlock()

	r.publish(run.ID, "completed", map[string]any{
		"run":         run,
		"duration_ms": run.EndedAt.Sub(run.StartedAt).Milliseconds(),
		"timestamp":   time.Now().UTC(),
	})
}

// Get returns a run by ID.
func (r *Registry) Get(id string) (*pipeline.Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	return run, ok
}

// Recent returns up to n runs, newest first.
func (r *Registry) Recent(n int) []*pipeline.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > len(r.order) {
		n = len(r.order)
	}
	out := make([]*pipeline.Run, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.runs[r.order[i]])
	}
	return out
}

// evictLocked drops the oldest runs beyond capacity. Callers hold the
// write lock.
func (r *Registry) evictLocked() {
	for len(r.order) > r.capacity {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
}

// publish sends one lifecycle event. Failures are logged and
// swallowed: the registry observes pipelines, it never fails them.
func (r *Registry) publish(runID, event string, payload any) {
	if r.nc == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("encoding run event",
			zap.String("run_id", runID),
			zap.String("event", event),
			zap.Error(err))
		return
	}

	subject := fmt.Sprintf("runs.%s.%s", runID, event)
	if err := r.nc.Publish(subject, data); err != nil {
		r.logger.Warn("publishing run event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
