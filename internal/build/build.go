// Package build produces the distribution artifact for a pipeline
// run. A run builds exactly once: the resulting Artifact is handed to
// the publish and docs stages, which never rebuild.
package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/command"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
)

// ErrNoOutput indicates the build command succeeded but produced an
// empty or missing output directory.
var ErrNoOutput = errors.New("build produced no output")

// Artifact is one built distribution.
type Artifact struct {
	// Name is the package name from the manifest.
	Name string

	// Version is the artifact version: the release version for tagged
	// builds, a dev label for untagged ones.
	Version string

	// Path is the tar.gz archive on disk.
	Path string

	// Digest is the canonical digest of the archive.
	Digest digest.Digest

	// Size is the archive size in bytes.
	Size int64

	// CommitSHA records which commit the artifact was built from.
	// Empty when the source tree is not a git repository.
	CommitSHA string

	// BuiltAt is the build completion time.
	BuiltAt time.Time

	// RetentionDays is the retention hint for untagged builds; zero
	// for release artifacts, which are kept indefinitely.
	RetentionDays int

	// OutputDir is the unarchived build output, kept around for
	// pre-publish gates that inspect file contents.
	OutputDir string
}

// Reference renders "name-version" for log lines and file names.
func (a *Artifact) Reference() string {
	return fmt.Sprintf("%s-%s", a.Name, a.Version)
}

// Input describes one build request.
type Input struct {
	// RepoDir is the checked-out source tree.
	RepoDir string

	// Version is the artifact version to stamp.
	Version string

	// Retain marks the artifact as a dev build subject to retention.
	Retain bool

	// Manifest supplies the build command and output directory.
	Manifest *manifest.Manifest
}

// Builder runs the manifest's build command and packages the result.
type Builder struct {
	runner     *command.Runner
	logger     *zap.Logger
	stagingDir string
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithStagingDir sets where archives are written. Defaults to the
// system temp directory.
func WithStagingDir(dir string) BuilderOption {
	return func(b *Builder) { b.stagingDir = dir }
}

// NewBuilder creates a Builder.
func NewBuilder(runner *command.Runner, logger *zap.Logger, opts ...BuilderOption) (*Builder, error) {
	if runner == nil {
		return nil, errors.New("runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Builder{
		runner:     runner,
		logger:     logger,
		stagingDir: os.TempDir(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Build runs the build command, archives the output directory, and
// returns the artifact with digest and commit provenance.
func (b *Builder) Build(ctx context.Context, in Input) (*Artifact, error) {
	if in.Manifest == nil {
		return nil, errors.New("manifest is required")
	}
	if in.Version == "" {
		return nil, errors.New("version is required")
	}

	m := in.Manifest
	b.logger.Info("running build command",
		zap.String("package", m.Package.Name),
		zap.String("version", in.Version),
		zap.String("command", m.Build.Command))

	result, err := b.runner.RunShell(ctx, m.Build.Command, command.WithWorkingDir(in.RepoDir))
	if err != nil {
		if result != nil && result.Stderr != "" {
			return nil, fmt.Errorf("build command failed: %w: %s", err, tail(result.Stderr, 512))
		}
		return nil, fmt.Errorf("build command failed: %w", err)
	}

	outputDir := filepath.Join(in.RepoDir, m.Build.OutputDir)
	if err := checkOutputDir(outputDir); err != nil {
		return nil, err
	}

	artifact := &Artifact{
		Name:      m.Package.Name,
		Version:   in.Version,
		OutputDir: outputDir,
		BuiltAt:   time.Now().UTC(),
	}
	if in.Retain {
		artifact.RetentionDays = m.Build.RetentionDays
	}

	sha, err := headCommit(in.RepoDir)
	if err != nil {
		b.logger.Warn("could not resolve build commit", zap.Error(err))
	}
	artifact.CommitSHA = sha

	archivePath := filepath.Join(b.stagingDir, artifact.Reference()+".tar.gz")
	dgst, size, err := archiveToFile(outputDir, archivePath)
	if err != nil {
		return nil, fmt.Errorf("archiving build output: %w", err)
	}
	artifact.Path = archivePath
	artifact.Digest = dgst
	artifact.Size = size

	b.logger.Info("build complete",
		zap.String("artifact", artifact.Reference()),
		zap.String("digest", dgst.String()),
		zap.Int64("size_bytes", size),
		zap.String("commit", sha),
		zap.Duration("duration", result.Duration))

	return artifact, nil
}

func checkOutputDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s does not exist", ErrNoOutput, dir)
		}
		return fmt.Errorf("checking build output: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrNoOutput, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("checking build output: %w", err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNoOutput, dir)
	}
	return nil
}

// archiveToFile archives dir into a tar.gz at path and returns the
// archive digest and size. The digest is computed while writing so the
// archive is never re-read.
func archiveToFile(dir, path string) (digest.Digest, int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	digester := digest.Canonical.Digester()
	n, err := archiveDir(dir, io.MultiWriter(f, digester.Hash()))
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return digester.Digest(), n, nil
}

// DevVersion derives the rolling dev artifact version from a commit
// SHA, e.g. "dev-4f9c21a". Without provenance it falls back to the
// bare dev label.
func DevVersion(sha string) string {
	if len(sha) >= 7 {
		return "dev-" + sha[:7]
	}
	return "dev"
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
