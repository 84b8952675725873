// Package pipeline models release pipeline runs: normalized trigger
// events, the pure dispatch that maps an event onto ordered stages,
// and the runner that executes those stages against registered
// handlers. Deciding what to run is kept strictly separate from
// running it so the dispatch rules stay testable without any I/O.
package pipeline

import (
	"time"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/version"
)

// Stage is one unit of pipeline work.
type Stage string

const (
	// StageTest runs the project's test command as a gate.
	StageTest Stage = "test"

	// StageBuild produces the distribution artifact.
	StageBuild Stage = "build"

	// StagePublish uploads the artifact to exactly one package index.
	StagePublish Stage = "publish"

	// StageDocs deploys versioned documentation and applies release
	// alias promotions.
	StageDocs Stage = "docs"

	// StageDevDocs refreshes the rolling dev documentation after a
	// test pass on the default branch.
	StageDevDocs Stage = "dev-docs"
)

// Status is the terminal state of a stage or run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// EventKind identifies the trigger that started a run.
type EventKind string

const (
	// EventPush is a branch push.
	EventPush EventKind = "push"

	// EventPullRequest is a pull request update. Pull requests only
	// ever gate: no artifact leaves the pipeline.
	EventPullRequest EventKind = "pull_request"

	// EventRelease is a published release.
	EventRelease EventKind = "release"

	// EventWorkflowRun is the completion of the upstream test
	// workflow, used by the split topology to chain dev promotion
	// onto a test pass.
	EventWorkflowRun EventKind = "workflow_run"
)

// UpstreamStatus is the conclusion of the upstream test workflow
// carried by workflow_run events.
type UpstreamStatus string

const (
	UpstreamNone    UpstreamStatus = ""
	UpstreamSuccess UpstreamStatus = "success"
	UpstreamFailure UpstreamStatus = "failure"
)

// ReleaseEvent carries the release payload fields the pipeline
// consumes. Prerelease is the authoritative channel selector.
type ReleaseEvent struct {
	Tag        string `json:"tag"`
	Prerelease bool   `json:"prerelease"`
}

// Event is a normalized pipeline trigger. Owner and Repo carry the
// repository coordinates for commit-status reporting; they are empty
// for locally synthesized events.
type Event struct {
	Kind          EventKind      `json:"kind"`
	Owner         string         `json:"owner,omitempty"`
	Repo          string         `json:"repo,omitempty"`
	Ref           string         `json:"ref,omitempty"`
	Branch        string         `json:"branch,omitempty"`
	SHA           string         `json:"sha,omitempty"`
	DefaultBranch bool           `json:"default_branch,omitempty"`
	Release       *ReleaseEvent  `json:"release,omitempty"`
	Upstream      UpstreamStatus `json:"upstream,omitempty"`
}

// PublishTarget selects which package index a release publishes to.
// Exactly one target is ever set on a plan.
type PublishTarget string

const (
	PublishNone   PublishTarget = ""
	PublishStable PublishTarget = "stable"
	PublishTest   PublishTarget = "test"
)

// Plan is the ordered stage list plus the routing decisions derived
// from one trigger. Plans are pure data: building one has no side
// effects.
type Plan struct {
	Stages         []Stage                 `json:"stages"`
	Publish        PublishTarget           `json:"publish,omitempty"`
	DocsAction     alias.Action            `json:"docs_action"`
	Classification *version.Classification `json:"classification,omitempty"`
}

// HasStage reports whether the plan contains the stage.
func (p Plan) HasStage(s Stage) bool {
	for _, st := range p.Stages {
		if st == s {
			return true
		}
	}
	return false
}

// StageResult records one stage execution.
type StageResult struct {
	Stage    Stage         `json:"stage"`
	Status   Status        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Err      string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Run is the full record of one pipeline execution.
type Run struct {
	ID        string        `json:"id"`
	Event     Event         `json:"event"`
	Plan      Plan          `json:"plan"`
	Stages    []StageResult `json:"stages"`
	Status    Status        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Successes int           `json:"successes"`
	Failures  int           `json:"failures"`
}

// NewRun creates an empty run record.
func NewRun(id string, ev Event, plan Plan) *Run {
	return &Run{
		ID:        id,
		Event:     ev,
		Plan:      plan,
		Stages:    make([]StageResult, 0, len(plan.Stages)),
		StartedAt: time.Now().UTC(),
	}
}

// Record appends a stage result and updates the aggregate counters.
func (r *Run) Record(res StageResult) {
	r.Stages = append(r.Stages, res)
	switch res.Status {
	case StatusSuccess:
		r.Successes++
	case StatusFailure:
		r.Failures++
	}
}

// Result returns the recorded result for a stage, if present.
func (r *Run) Result(stage Stage) (StageResult, bool) {
	for _, res := range r.Stages {
		if res.Stage == stage {
			return res, true
		}
	}
	return StageResult{}, false
}

// Finish stamps the end time and derives the aggregate status.
func (r *Run) Finish() {
	r.FinishAt(time.Now().UTC())
}

// FinishAt derives the aggregate status with an explicit end time, for
// callers that must source time deterministically.
func (r *Run) FinishAt(end time.Time) {
	r.EndedAt = end

	if r.Failures > 0 {
		r.Status = StatusFailure
		return
	}

	cancelled, succeeded := false, false
	for _, res := range r.Stages {
		switch res.Status {
		case StatusCancelled:
			cancelled = true
		case StatusSuccess:
			succeeded = true
		}
	}

	switch {
	case cancelled:
		r.Status = StatusCancelled
	case succeeded:
		r.Status = StatusSuccess
	default:
		r.Status = StatusSkipped
	}
}

// RunContext is the mutable state shared by the stages of one run.
// The build stage records the artifact exactly once; publish and docs
// stages consume it without rebuilding.
type RunContext struct {
	RunID    string
	Event    Event
	Plan     Plan
	Artifact *build.Artifact
}
