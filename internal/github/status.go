package github

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	gh "github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// Commit states accepted by the GitHub status API.
const (
	StatePending = "pending"
	StateSuccess = "success"
	StateFailure = "failure"
	StateError   = "error"
)

// GitHub truncates longer descriptions; cut them ourselves so the
// interesting prefix survives.
const maxDescriptionLen = 140

var (
	validNameRe = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	validSHARe  = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// CommitRef identifies the commit a status is posted against.
type CommitRef struct {
	Owner string
	Repo  string
	SHA   string
}

// Validate rejects refs that could not have come from a well-formed
// webhook payload.
func (r CommitRef) Validate() error {
	if !validNameRe.MatchString(r.Owner) {
		return fmt.Errorf("invalid repository owner %q", r.Owner)
	}
	if !validNameRe.MatchString(r.Repo) {
		return fmt.Errorf("invalid repository name %q", r.Repo)
	}
	if !validSHARe.MatchString(r.SHA) {
		return fmt.Errorf("invalid commit sha %q", r.SHA)
	}
	return nil
}

// Status is one commit status update.
type Status struct {
	State       string
	Description string
	TargetURL   string
}

// RepositoriesService is the slice of the GitHub API the reporter
// needs. *github.Client's Repositories service satisfies it.
type RepositoriesService interface {
	CreateStatus(ctx context.Context, owner, repo, ref string, status *gh.RepoStatus) (*gh.RepoStatus, *gh.Response, error)
}

// StatusConfig holds commit-status reporting settings.
type StatusConfig struct {
	// Context labels shipd's entry in the commit checks UI.
	Context string

	// RunURLBase, when set, links statuses to the daemon's run API
	// (<base>/api/v1/runs/<id>).
	RunURLBase string
}

// Option configures a StatusReporter.
type Option func(*StatusReporter)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *StatusReporter) {
		r.logger = logger
	}
}

// WithRetryConfig overrides the retry behavior.
func WithRetryConfig(cfg *RetryConfig) Option {
	return func(r *StatusReporter) {
		r.retry = cfg
	}
}

// StatusReporter posts pipeline run states to the GitHub commit status
// API.
type StatusReporter struct {
	repos  RepositoriesService
	cfg    StatusConfig
	retry  *RetryConfig
	logger *zap.Logger
}

// NewStatusReporter creates a reporter. repos is required; pass
// client.Repositories from NewClient.
func NewStatusReporter(repos RepositoriesService, cfg StatusConfig, opts ...Option) (*StatusReporter, error) {
	if repos == nil {
		return nil, errors.New("repositories service is required")
	}
	if cfg.Context == "" {
		cfg.Context = "shipd/pipeline"
	}

	r := &StatusReporter{
		repos:  repos,
		cfg:    cfg,
		retry:  DefaultRetryConfig(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Report posts one status update for the commit.
func (r *StatusReporter) Report(ctx context.Context, ref CommitRef, st Status) error {
	if err := ref.Validate(); err != nil {
		return err
	}

	status := &gh.RepoStatus{
		State:       gh.String(st.State),
		Description: gh.String(truncate(st.Description, maxDescriptionLen)),
		Context:     gh.String(r.cfg.Context),
	}
	if st.TargetURL != "" {
		status.TargetURL = gh.String(st.TargetURL)
	}

	_, err := doWithRetry(ctx, r.retry, r.logger, func() (*gh.Response, error) {
		_, resp, err := r.repos.CreateStatus(ctx, ref.Owner, ref.Repo, ref.SHA, status)
		return resp, err
	})
	if err != nil {
		return fmt.Errorf("reporting %s status for %s/%s@%s: %w", st.State, ref.Owner, ref.Repo, ref.SHA, err)
	}

	r.logger.Debug("commit status reported",
		zap.String("owner", ref.Owner),
		zap.String("repo", ref.Repo),
		zap.String("sha", ref.SHA),
		zap.String("state", st.State),
	)
	return nil
}

// Pending marks the commit as having a pipeline run in flight.
func (r *StatusReporter) Pending(ctx context.Context, ref CommitRef, description string) error {
	return r.Report(ctx, ref, Status{State: StatePending, Description: description})
}

// ReportRun posts the terminal status for a finished run.
func (r *StatusReporter) ReportRun(ctx context.Context, ref CommitRef, run *pipeline.Run) error {
	st := Status{
		State:       RunState(run.Status),
		Description: RunDescription(run),
	}
	if r.cfg.RunURLBase != "" {
		st.TargetURL = fmt.Sprintf("%s/api/v1/runs/%s", r.cfg.RunURLBase, run.ID)
	}
	return r.Report(ctx, ref, st)
}

// RunState maps a run's aggregate status onto a commit state. The
// status API has no skipped state, so an all-skipped run reports
// success with a description saying nothing ran.
func RunState(status pipeline.Status) string {
	switch status {
	case pipeline.StatusFailure:
		return StateFailure
	case pipeline.StatusCancelled:
		return StateError
	default:
		return StateSuccess
	}
}

// RunDescription summarizes a finished run in one status line.
func RunDescription(run *pipeline.Run) string {
	for _, res := range run.Stages {
		if res.Status == pipeline.StatusFailure {
			return fmt.Sprintf("%s failed: %s", res.Stage, res.Err)
		}
	}

	switch run.Status {
	case pipeline.StatusCancelled:
		return "pipeline run was cancelled"
	case pipeline.StatusSkipped:
		return "no stages ran for this trigger"
	default:
		return fmt.Sprintf("%d stage(s) passed in %s",
			run.Successes, run.EndedAt.Sub(run.StartedAt).Round(time.Second))
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
