package command

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunShell_CapturesOutput(t *testing.T) {
	r := NewRunner()
	result, err := r.RunShell(context.Background(), "echo hello && echo oops >&2")

	require.NoError(t, err)
	assert.Equal(t, "hello\n", result.Stdout)
	assert.Equal(t, "oops\n", result.Stderr)
	assert.Equal(t, 0, result.ExitCode)
	assert.Positive(t, result.Duration)
}

func TestRunShell_NonZeroExit(t *testing.T) {
	r := NewRunner()
	result, err := r.RunShell(context.Background(), "echo failing; exit 3")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNonZeroExit)
	require.NotNil(t, result)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "failing\n", result.Stdout)
}

func TestRun_StartFailure(t *testing.T) {
	r := NewRunner()
	_, err := r.Run(context.Background(), "/nonexistent/program-xyz", nil)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNonZeroExit)
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := NewRunner()
	_, err := r.RunShell(ctx, "sleep 5")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRun_WorkingDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	r := NewRunner()

	result, err := r.RunShell(context.Background(), "pwd && printf '%s' \"$SHIPD_TEST_VALUE\"",
		WithWorkingDir(dir),
		WithEnv(map[string]string{"SHIPD_TEST_VALUE": "wired"}),
	)

	require.NoError(t, err)
	assert.Contains(t, result.Stdout, dir)
	assert.Contains(t, result.Stdout, "wired")
}

func TestRun_ExtraSinksReceiveOutput(t *testing.T) {
	var sink bytes.Buffer
	r := NewRunner()

	result, err := r.RunShell(context.Background(), "echo streamed", WithStdout(&sink))

	require.NoError(t, err)
	assert.Equal(t, "streamed\n", result.Stdout)
	assert.Equal(t, "streamed\n", sink.String())
}
