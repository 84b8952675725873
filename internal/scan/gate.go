package scan

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

// Gate blocks publishing when the built distribution contains
// anything that looks like a secret. A finding fails the stage; it
// never skips it, since shipping a credential is exactly the failure
// mode a hard stop exists for.
type Gate struct {
	scanner *Scanner
}

// NewGate creates the publish gate.
func NewGate(scanner *Scanner) *Gate {
	return &Gate{scanner: scanner}
}

// Name implements pipeline.Gate.
func (g *Gate) Name() string { return "secret-scan" }

// Check implements pipeline.Gate.
func (g *Gate) Check(ctx context.Context, rc *pipeline.RunContext) error {
	if rc.Artifact == nil {
		// Nothing staged; the publish handler reports the real error.
		return nil
	}

	findings, err := g.scanner.ScanDir(ctx, rc.Artifact.OutputDir)
	if err != nil {
		return fmt.Errorf("secret scan: %w", err)
	}
	if len(findings) == 0 {
		return nil
	}

	first := findings[0]
	return fmt.Errorf("%d potential secret(s) in build output, first at %s:%d (%s)",
		len(findings), first.File, first.Line, first.RuleID)
}
