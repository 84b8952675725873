package pipeline

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/version"
)

// ErrUnknownEvent indicates an event kind the dispatcher has no rule
// for.
var ErrUnknownEvent = errors.New("unknown event kind")

// ErrMissingRelease indicates a release event without its payload.
var ErrMissingRelease = errors.New("release event without release payload")

// ErrDuplicateRun indicates a run ID that was already dispatched.
// Deterministic run IDs make webhook redeliveries and double triggers
// collapse onto this error instead of running twice.
var ErrDuplicateRun = errors.New("run already dispatched")

// Topology selects which of the two overlapping workflow layouts a
// plan follows. The layouts agree on every routing rule and differ
// only in who runs the test gate for artifact-producing triggers.
type Topology int

const (
	// TopologySplit is the daemon layout: pushes trigger the test
	// stage alone, and dev promotion rides on the upstream test
	// workflow's completion event. Release builds trust the gate that
	// already protected the default branch.
	TopologySplit Topology = iota

	// TopologySelfContained is the local layout: any trigger that
	// builds an artifact runs the test gate inline first.
	TopologySelfContained
)

// stageDeps is the static dependency DAG. A stage runs only when
// every dependency present in the same plan succeeded; a failed
// dependency skips its dependents but leaves sibling branches
// running, which is how publish and docs stay isolated from each
// other downstream of build.
var stageDeps = map[Stage][]Stage{
	StageBuild:   {StageTest},
	StageDevDocs: {StageTest},
	StagePublish: {StageBuild},
	StageDocs:    {StageBuild},
}

// BuildPlan is the pure dispatcher: it maps a normalized event onto
// the ordered stages to run and the routing decisions that go with
// them. It performs no I/O and must stay deterministic.
//
// Routing rules:
//   - push: test gate; on the default branch under the self-contained
//     topology, a test pass chains dev docs and a dev build.
//   - pull_request: test gate only. Docs and publish never appear in
//     a pull request plan.
//   - workflow_run: dev docs and a dev build when the upstream test
//     workflow succeeded on the default branch, otherwise an empty
//     plan.
//   - release: build, then publish and docs. The publish target is
//     exactly one of the stable or test index, chosen by the release
//     prerelease flag. A malformed tag fails here, before any side
//     effect.
func BuildPlan(ev Event, topo Topology) (Plan, error) {
	switch ev.Kind {
	case EventPullRequest:
		return Plan{Stages: []Stage{StageTest}, DocsAction: alias.ActionNone}, nil

	case EventPush:
		if topo == TopologySelfContained && ev.DefaultBranch {
			return Plan{
				Stages:     []Stage{StageTest, StageDevDocs, StageBuild},
				DocsAction: alias.ActionDeployDev,
			}, nil
		}
		return Plan{Stages: []Stage{StageTest}, DocsAction: alias.ActionNone}, nil

	case EventWorkflowRun:
		if ev.Upstream != UpstreamSuccess || !ev.DefaultBranch {
			return Plan{DocsAction: alias.ActionNone}, nil
		}
		return Plan{
			Stages:     []Stage{StageDevDocs, StageBuild},
			DocsAction: alias.ActionDeployDev,
		}, nil

	case EventRelease:
		if ev.Release == nil {
			return Plan{}, ErrMissingRelease
		}
		c, err := version.Classify(ev.Release.Tag, ev.Release.Prerelease)
		if err != nil {
			return Plan{}, fmt.Errorf("classifying release %q: %w", ev.Release.Tag, err)
		}

		target := PublishStable
		action := alias.ActionDeployStable
		if c.Channel == version.ChannelPrerelease {
			target = PublishTest
			action = alias.ActionDeployPrerelease
		}

		stages := []Stage{StageBuild, StagePublish, StageDocs}
		if topo == TopologySelfContained {
			stages = append([]Stage{StageTest}, stages...)
		}

		return Plan{
			Stages:         stages,
			Publish:        target,
			DocsAction:     action,
			Classification: &c,
		}, nil

	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	}
}

// UnmetDependency returns the first in-plan dependency of stage that
// did not finish successfully. Execution substrates call this before
// each stage to decide whether it runs or is recorded skipped.
func (r *Run) UnmetDependency(stage Stage) (Stage, bool) {
	for _, dep := range stageDeps[stage] {
		if !r.Plan.HasStage(dep) {
			continue
		}
		res, ok := r.Result(dep)
		if !ok || res.Status != StatusSuccess {
			return dep, true
		}
	}
	return "", false
}
