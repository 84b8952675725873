// Package stages binds the pipeline's abstract stages to their
// concrete collaborators: the command runner for tests, the builder,
// the package indexes, and the documentation store. Both execution
// substrates register the same handlers, so local runs and workflow
// activities behave identically.
package stages

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/shipd/internal/build"
	"github.com/fyrsmithlabs/shipd/internal/command"
	"github.com/fyrsmithlabs/shipd/internal/docstore"
	"github.com/fyrsmithlabs/shipd/internal/manifest"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/registry"
	"github.com/fyrsmithlabs/shipd/internal/scan"
)

// Deps carries everything the stage handlers bind to. RepoDir is the
// checked-out source tree the whole run works from.
type Deps struct {
	RepoDir  string
	Manifest *manifest.Manifest
	Commands *command.Runner
	Builder  *build.Builder

	// StableIndex and TestIndex may be nil; a plan selecting an
	// unconfigured index fails at the publish stage with a clear error
	// rather than at wiring time.
	StableIndex registry.Target
	TestIndex   registry.Target

	Docs docstore.VersionStore

	// Scanner, when set, gates the publish stage on a clean secret
	// sweep of the build output.
	Scanner *scan.Scanner
}

// Register wires all stage handlers and gates into the runner.
func Register(r *pipeline.Runner, deps Deps) error {
	if r == nil {
		return errors.New("runner is required")
	}

	test, err := NewTestHandler(deps.Commands, deps.Manifest, deps.RepoDir)
	if err != nil {
		return fmt.Errorf("test handler: %w", err)
	}
	builder, err := NewBuildHandler(deps.Builder, deps.Manifest, deps.RepoDir)
	if err != nil {
		return fmt.Errorf("build handler: %w", err)
	}
	docs, err := NewDocsHandler(deps.Docs, deps.Manifest, deps.RepoDir)
	if err != nil {
		return fmt.Errorf("docs handler: %w", err)
	}
	devDocs, err := NewDevDocsHandler(deps.Docs, deps.Manifest, deps.RepoDir)
	if err != nil {
		return fmt.Errorf("dev docs handler: %w", err)
	}

	r.Register(test)
	r.Register(builder)
	r.Register(NewPublishHandler(deps.StableIndex, deps.TestIndex))
	r.Register(docs)
	r.Register(devDocs)

	if deps.Scanner != nil {
		r.RegisterGate(pipeline.StagePublish, scan.NewGate(deps.Scanner))
	}
	return nil
}

// excerpt trims s for inclusion in a one-line failure detail.
func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return "..." + s[len(s)-max:]
}
