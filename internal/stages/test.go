package stages

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/shipd/internal/command"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// TestHandler runs the project's test command. The exit status is the
// whole verdict; output is captured only to explain failures.
type TestHandler struct {
	runner  *command.Runner
	man     *manifest.Manifest
	repoDir string
}

// NewTestHandler creates the test stage handler.
func NewTestHandler(runner *command.Runner, man *manifest.Manifest, repoDir string) (*TestHandler, error) {
	if runner == nil {
		return nil, errors.New("command runner is required")
	}
	if man == nil {
		return nil, errors.New("manifest is required")
	}
	if repoDir == "" {
		return nil, errors.New("repo dir is required")
	}
	return &TestHandler{runner: runner, man: man, repoDir: repoDir}, nil
}

// Stage implements pipeline.StageHandler.
func (h *TestHandler) Stage() pipeline.Stage { return pipeline.StageTest }

// Execute implements pipeline.StageHandler.
func (h *TestHandler) Execute(ctx context.Context, _ *pipeline.RunContext) (string, error) {
	res, err := h.runner.RunShell(ctx, h.man.Test.Command, command.WithWorkingDir(h.repoDir))
	if errors.Is(err, command.ErrNonZeroExit) {
		return "", fmt.Errorf("tests failed (exit %d): %s", res.ExitCode, excerpt(res.Stderr, 400))
	}
	if err != nil {
		return "", fmt.Errorf("running tests: %w", err)
	}
	return fmt.Sprintf("tests passed in %s", res.Duration.Round(time.Millisecond)), nil
}
