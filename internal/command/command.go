// Package command runs external processes for pipeline stages. It is
// deliberately retry-free: a failed command fails its stage, and the
// only way to run it again is to re-dispatch the pipeline trigger.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// ErrNonZeroExit indicates the process started but exited with a
// nonzero status. The Result carries the exit code and output.
var ErrNonZeroExit = errors.New("command exited with nonzero status")

// Result holds the captured output of one process execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Options configure process execution.
type Options struct {
	// WorkingDir is the directory the process runs in.
	WorkingDir string

	// Env is appended to the current environment.
	Env map[string]string

	// Stdout and Stderr are extra sinks that receive output in
	// addition to capture, e.g. a streaming log writer.
	Stdout io.Writer
	Stderr io.Writer
}

// Option mutates Options.
type Option func(*Options)

// WithWorkingDir sets the process working directory.
func WithWorkingDir(dir string) Option {
	return func(o *Options) { o.WorkingDir = dir }
}

// WithEnv appends environment variables to the current environment.
func WithEnv(env map[string]string) Option {
	return func(o *Options) { o.Env = env }
}

// WithStdout adds an extra stdout sink.
func WithStdout(w io.Writer) Option {
	return func(o *Options) { o.Stdout = w }
}

// WithStderr adds an extra stderr sink.
func WithStderr(w io.Writer) Option {
	return func(o *Options) { o.Stderr = w }
}

// Runner executes external processes with output capture and context
// cancellation.
type Runner struct{}

// NewRunner creates a Runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Run executes program with args and captures its output. A nonzero
// exit returns ErrNonZeroExit alongside the populated Result; start
// failures return a nil-Result error.
func (r *Runner) Run(ctx context.Context, program string, args []string, opts ...Option) (*Result, error) {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	cmd := exec.CommandContext(ctx, program, args...)
	if options.WorkingDir != "" {
		cmd.Dir = options.WorkingDir
	}
	if len(options.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range options.Env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	if options.Stdout != nil {
		cmd.Stdout = io.MultiWriter(&stdout, options.Stdout)
	}
	cmd.Stderr = &stderr
	if options.Stderr != nil {
		cmd.Stderr = io.MultiWriter(&stderr, options.Stderr)
	}

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return result, nil
	}

	// Cancellation takes precedence over whatever exit state the
	// killed process reported.
	if ctx.Err() != nil {
		return result, fmt.Errorf("command %q: %w", program, ctx.Err())
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, fmt.Errorf("command %q: %w: exit code %d", program, ErrNonZeroExit, result.ExitCode)
	}

	return result, fmt.Errorf("starting command %q: %w", program, err)
}

// RunShell executes a full command line through the shell. Pipeline
// test and build commands are configured as single strings, so this
// is the common path for stage execution.
func (r *Runner) RunShell(ctx context.Context, cmdline string, opts ...Option) (*Result, error) {
	return r.Run(ctx, "sh", []string{"-c", cmdline}, opts...)
}
