// Package alias implements the documentation alias promotion rules.
// Aliases form a small named-pointer table (name -> version) kept in a
// Store; promotion decisions are computed as pure op lists and applied
// separately so the rules stay testable without any backend.
package alias

import "github.com/fyrsmithlabs/shipd/internal/version"

// Action is the promotion decision derived from one pipeline trigger.
type Action string

const (
	// ActionNone leaves the alias table untouched.
	ActionNone Action = "none"

	// ActionDeployDev repoints the rolling dev pointer after a test
	// pass on the default branch.
	ActionDeployDev Action = "deploy-dev"

	// ActionDeployPrerelease promotes a prerelease: repoint "next" and
	// claim the major.minor series alias if nothing holds it yet.
	ActionDeployPrerelease Action = "deploy-prerelease"

	// ActionDeployStable promotes a stable release: repoint "latest"
	// and take over the major.minor series alias unconditionally.
	ActionDeployStable Action = "deploy-stable"
)

// Reserved alias names maintained by the promotion machine. Series
// aliases ("1.4", "2.0") are derived per release on top of these.
const (
	DevAlias    = "dev"
	NextAlias   = "next"
	LatestAlias = "latest"
)

// DevVersion is the rolling docs version label the dev alias tracks.
// Dev deployments overwrite this label in place rather than minting a
// label per commit.
const DevVersion = "dev"

// Op is a single alias write. IfAbsent marks first-claim-wins ops:
// Apply skips them when the alias already exists.
type Op struct {
	Name     string
	Version  string
	IfAbsent bool
}

// Decide maps a promotion action onto the ordered alias writes it
// implies. Pure and deterministic: calling it any number of times for
// the same inputs yields the same ops, which is what makes re-running
// a pipeline idempotent at the alias level.
//
// The classification is ignored for ActionDeployDev; the dev pointer
// always tracks the rolling DevVersion label.
func Decide(action Action, c version.Classification) []Op {
	switch action {
	case ActionDeployDev:
		return []Op{{Name: DevAlias, Version: DevVersion}}

	case ActionDeployPrerelease:
		v := c.Version.String()
		return []Op{
			{Name: NextAlias, Version: v},
			{Name: c.MajorMinor, Version: v, IfAbsent: true},
		}

	case ActionDeployStable:
		v := c.Version.String()
		return []Op{
			{Name: LatestAlias, Version: v},
			{Name: c.MajorMinor, Version: v},
		}

	default:
		return nil
	}
}
