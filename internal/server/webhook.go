package server

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	gh "github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// Validation regexes compiled once at package initialization
var (
	validNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	validSHARegex  = regexp.MustCompile(`^[0-9a-f]{40}$`)
)

// zeroSHA is the after-SHA GitHub sends for branch deletions.
const zeroSHA = "0000000000000000000000000000000000000000"

// WebhookResponse is the response body for POST /webhook.
type WebhookResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id,omitempty"`
}

// normalizedEvent pairs a pipeline event with its deterministic run
// ID. The ID doubles as the dedupe key for webhook redeliveries.
type normalizedEvent struct {
	RunID string
	Event pipeline.Event
}

// handleWebhook authenticates a GitHub delivery, normalizes it to a
// pipeline event, and dispatches the run. Malformed deliveries and
// malformed release tags are rejected here, before any side effect.
func (s *Server) handleWebhook(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()

	// Rate limiting per source IP
	clientIP := c.RealIP()
	if !s.getRateLimiter(clientIP).Allow() {
		s.deps.Metrics.RecordWebhookRejection("rate_limit")
		s.logger.Warn("rate limit exceeded", zap.String("ip", clientIP))
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	if !s.cfg.WebhookSecret.IsSet() {
		s.deps.Metrics.RecordWebhookRejection("no_secret")
		s.logger.Error("webhook received but no webhook secret is configured")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "webhook secret not configured")
	}

	// Bound the body before the signature check reads it
	req.Body = http.MaxBytesReader(c.Response().Writer, req.Body, s.cfg.MaxBodyBytes)

	payload, err := gh.ValidatePayload(req, []byte(s.cfg.WebhookSecret.Value()))
	if err != nil {
		s.deps.Metrics.RecordWebhookRejection("bad_signature")
		s.logger.Warn("invalid webhook signature", zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	}

	event, err := gh.ParseWebHook(gh.WebHookType(req), payload)
	if err != nil {
		s.deps.Metrics.RecordWebhookRejection("invalid_payload")
		s.logger.Warn("failed to parse webhook", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}

	norm, err := normalizeEvent(event)
	if err != nil {
		s.deps.Metrics.RecordWebhookRejection("invalid_event")
		s.logger.Warn("invalid event data", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if norm == nil {
		s.logger.Debug("ignoring event", zap.String("type", fmt.Sprintf("%T", event)))
		return c.JSON(http.StatusOK, WebhookResponse{Status: "ignored"})
	}

	s.deps.Metrics.RecordWebhookEvent(string(norm.Event.Kind))
	s.logger.Info("webhook event accepted",
		zap.String("run_id", norm.RunID),
		zap.String("kind", string(norm.Event.Kind)),
		zap.String("repo", norm.Event.Owner+"/"+norm.Event.Repo),
	)

	if err := s.deps.Dispatcher.Dispatch(ctx, norm.RunID, norm.Event); err != nil {
		switch {
		case errors.Is(err, ErrDuplicateRun):
			return c.JSON(http.StatusOK, WebhookResponse{Status: "duplicate", RunID: norm.RunID})
		case errors.Is(err, ErrNotStarted):
			s.logger.Error("dispatcher not started", zap.String("run_id", norm.RunID))
			return echo.NewHTTPError(http.StatusServiceUnavailable, "dispatcher unavailable")
		default:
			// Plan derivation failed: bad event data such as a malformed
			// release tag. Nothing was recorded or executed.
			s.deps.Metrics.RecordWebhookRejection("invalid_event")
			s.logger.Warn("dispatch rejected",
				zap.String("run_id", norm.RunID),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
	}

	return c.JSON(http.StatusAccepted, WebhookResponse{Status: "accepted", RunID: norm.RunID})
}

// normalizeEvent maps a parsed GitHub event onto a pipeline event and
// run ID. A nil result with nil error means the event carries nothing
// for the pipeline (unhandled types, irrelevant actions).
func normalizeEvent(event any) (*normalizedEvent, error) {
	switch e := event.(type) {
	case *gh.PushEvent:
		return normalizePush(e)
	case *gh.PullRequestEvent:
		return normalizePullRequest(e)
	case *gh.ReleaseEvent:
		return normalizeRelease(e)
	case *gh.WorkflowRunEvent:
		return normalizeWorkflowRun(e)
	default:
		return nil, nil
	}
}

func normalizePush(e *gh.PushEvent) (*normalizedEvent, error) {
	ref := e.GetRef()
	if !strings.HasPrefix(ref, "refs/heads/") {
		// Tag pushes ride the release event instead.
		return nil, nil
	}

	sha := e.GetAfter()
	if sha == zeroSHA {
		// Branch deletion
		return nil, nil
	}

	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	if err := validateRepoRef(owner, repo); err != nil {
		return nil, fmt.Errorf("push event: %w", err)
	}
	if !validSHARegex.MatchString(sha) {
		return nil, fmt.Errorf("push event: invalid SHA format")
	}

	branch := strings.TrimPrefix(ref, "refs/heads/")
	return &normalizedEvent{
		RunID: fmt.Sprintf("push-%s-%s-%s", owner, repo, sha),
		Event: pipeline.Event{
			Kind:          pipeline.EventPush,
			Owner:         owner,
			Repo:          repo,
			Ref:           ref,
			Branch:        branch,
			SHA:           sha,
			DefaultBranch: branch == e.GetRepo().GetDefaultBranch(),
		},
	}, nil
}

func normalizePullRequest(e *gh.PullRequestEvent) (*normalizedEvent, error) {
	// Only trigger on opened, synchronize (new commits), and reopened
	action := e.GetAction()
	if action != "opened" && action != "synchronize" && action != "reopened" {
		return nil, nil
	}

	number := e.GetPullRequest().GetNumber()
	if number <= 0 {
		return nil, fmt.Errorf("pull request event: invalid PR number")
	}

	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	if err := validateRepoRef(owner, repo); err != nil {
		return nil, fmt.Errorf("pull request event: %w", err)
	}

	sha := e.GetPullRequest().GetHead().GetSHA()
	if !validSHARegex.MatchString(sha) {
		return nil, fmt.Errorf("pull request event: invalid SHA format")
	}

	return &normalizedEvent{
		RunID: fmt.Sprintf("pr-%s-%s-%d-%s", owner, repo, number, sha),
		Event: pipeline.Event{
			Kind:   pipeline.EventPullRequest,
			Owner:  owner,
			Repo:   repo,
			Branch: e.GetPullRequest().GetHead().GetRef(),
			SHA:    sha,
		},
	}, nil
}

func normalizeRelease(e *gh.ReleaseEvent) (*normalizedEvent, error) {
	if e.GetAction() != "published" {
		return nil, nil
	}

	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	if err := validateRepoRef(owner, repo); err != nil {
		return nil, fmt.Errorf("release event: %w", err)
	}

	tag := e.GetRelease().GetTagName()
	if tag == "" {
		return nil, fmt.Errorf("release event: release has no tag")
	}
	if !validNameRegex.MatchString(tag) {
		return nil, fmt.Errorf("release event: invalid tag format")
	}

	// Whether the tag parses as a version is the planner's call, made
	// before any side effect. Here only injection-safety is enforced.
	ev := pipeline.Event{
		Kind:  pipeline.EventRelease,
		Owner: owner,
		Repo:  repo,
		Ref:   "refs/tags/" + tag,
		Release: &pipeline.ReleaseEvent{
			Tag:        tag,
			Prerelease: e.GetRelease().GetPrerelease(),
		},
	}

	// Releases created from a commit carry it in target_commitish;
	// releases created from a branch carry the branch name there.
	if commitish := e.GetRelease().GetTargetCommitish(); validSHARegex.MatchString(commitish) {
		ev.SHA = commitish
	}

	return &normalizedEvent{
		RunID: fmt.Sprintf("release-%s-%s-%s", owner, repo, tag),
		Event: ev,
	}, nil
}

func normalizeWorkflowRun(e *gh.WorkflowRunEvent) (*normalizedEvent, error) {
	if e.GetAction() != "completed" {
		return nil, nil
	}

	owner := e.GetRepo().GetOwner().GetLogin()
	repo := e.GetRepo().GetName()
	if err := validateRepoRef(owner, repo); err != nil {
		return nil, fmt.Errorf("workflow_run event: %w", err)
	}

	wr := e.GetWorkflowRun()
	sha := wr.GetHeadSHA()
	if !validSHARegex.MatchString(sha) {
		return nil, fmt.Errorf("workflow_run event: invalid SHA format")
	}

	upstream := pipeline.UpstreamFailure
	if wr.GetConclusion() == "success" {
		upstream = pipeline.UpstreamSuccess
	}

	branch := wr.GetHeadBranch()
	return &normalizedEvent{
		RunID: fmt.Sprintf("workflow-run-%s-%s-%d", owner, repo, wr.GetID()),
		Event: pipeline.Event{
			Kind:          pipeline.EventWorkflowRun,
			Owner:         owner,
			Repo:          repo,
			Branch:        branch,
			SHA:           sha,
			DefaultBranch: branch == e.GetRepo().GetDefaultBranch(),
			Upstream:      upstream,
		},
	}, nil
}

// validateRepoRef checks owner and repo names against the allowed
// character set to prevent injection through crafted payloads.
func validateRepoRef(owner, repo string) error {
	if owner == "" || !validNameRegex.MatchString(owner) {
		return fmt.Errorf("invalid repository owner format")
	}
	if repo == "" || !validNameRegex.MatchString(repo) {
		return fmt.Errorf("invalid repository name format")
	}
	return nil
}
