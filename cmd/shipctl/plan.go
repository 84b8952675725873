package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/version"
)

var (
	// plan command flags
	planEvent         string
	planTag           string
	planPrerelease    bool
	planBranch        string
	planDefaultBranch string
	planUpstream      string
	planTopology      string
	planOutputJSON    bool
)

func init() {
	rootCmd.AddCommand(planCmd)

	planCmd.Flags().StringVar(&planEvent, "event", "push", "Trigger kind: push, pull_request, release, or workflow_run")
	planCmd.Flags().StringVar(&planTag, "tag", "", "Release tag (required for release events)")
	planCmd.Flags().BoolVar(&planPrerelease, "prerelease", false, "Mark the release as a prerelease")
	planCmd.Flags().StringVar(&planBranch, "branch", "main", "Branch the trigger is for")
	planCmd.Flags().StringVar(&planDefaultBranch, "default-branch", "main", "The repository's default branch")
	planCmd.Flags().StringVar(&planUpstream, "upstream", "success", "Upstream test workflow conclusion for workflow_run events")
	planCmd.Flags().StringVar(&planTopology, "topology", "split", "Stage layout: split or self-contained")
	planCmd.Flags().BoolVar(&planOutputJSON, "json", false, "Output results as JSON")
}

// planCmd previews the pipeline plan for a hypothetical trigger
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview the pipeline plan for a trigger",
	Long: `Preview which stages a trigger would run and how it would route,
without executing anything. Planning is deterministic, so the preview
is exactly the plan the daemon would derive for the same trigger.

For release events the preview includes the version classification and
the alias writes the docs deployment would perform.

Examples:
  # What a push to the default branch runs
  shipctl plan

  # What a stable release runs
  shipctl plan --event release --tag v1.4.0

  # What a prerelease runs (test index, "next" alias)
  shipctl plan --event release --tag v1.5.0-rc.1 --prerelease

  # The local layout, where the test gate runs inline
  shipctl plan --topology self-contained`,
	RunE: runPlan,
}

// runPlan handles the plan command
func runPlan(cmd *cobra.Command, args []string) error {
	ev, err := buildPlanEvent(planEvent, planTag, planPrerelease, planBranch, planDefaultBranch, planUpstream)
	if err != nil {
		return err
	}

	topo, err := parseTopology(planTopology)
	if err != nil {
		return err
	}

	plan, err := pipeline.BuildPlan(ev, topo)
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	if planOutputJSON {
		return outputJSON(plan)
	}
	printPlan(plan)

	return nil
}

// buildPlanEvent synthesizes the pipeline event described by the plan
// command's flags.
func buildPlanEvent(kind, tag string, prerelease bool, branch, defaultBranch, upstream string) (pipeline.Event, error) {
	ev := pipeline.Event{
		Kind:          pipeline.EventKind(kind),
		Branch:        branch,
		DefaultBranch: branch == defaultBranch,
	}

	switch ev.Kind {
	case pipeline.EventPush:
		ev.Ref = "refs/heads/" + branch

	case pipeline.EventPullRequest:

	case pipeline.EventWorkflowRun:
		switch upstream {
		case "success":
			ev.Upstream = pipeline.UpstreamSuccess
		case "failure":
			ev.Upstream = pipeline.UpstreamFailure
		default:
			return pipeline.Event{}, fmt.Errorf("invalid upstream: %s (valid: success, failure)", upstream)
		}

	case pipeline.EventRelease:
		if tag == "" {
			return pipeline.Event{}, fmt.Errorf("--tag is required for release events")
		}
		ev.Ref = "refs/tags/" + tag
		ev.Release = &pipeline.ReleaseEvent{Tag: tag, Prerelease: prerelease}

	default:
		return pipeline.Event{}, fmt.Errorf("invalid event: %s (valid: push, pull_request, release, workflow_run)", kind)
	}

	return ev, nil
}

// parseTopology maps the topology flag onto the plan layout.
func parseTopology(s string) (pipeline.Topology, error) {
	switch s {
	case "split":
		return pipeline.TopologySplit, nil
	case "self-contained":
		return pipeline.TopologySelfContained, nil
	default:
		return 0, fmt.Errorf("invalid topology: %s (valid: split, self-contained)", s)
	}
}

// printPlan prints the derived plan: stages, routing, and the alias
// writes its docs action implies.
func printPlan(plan pipeline.Plan) {
	if len(plan.Stages) == 0 {
		fmt.Println("Empty plan: this trigger runs nothing")
		return
	}

	fmt.Printf("Stages: %s\n", stageList(plan.Stages))
	if plan.Publish != pipeline.PublishNone {
		fmt.Printf("Publish Target: %s index\n", plan.Publish)
	}
	fmt.Printf("Docs Action: %s\n", plan.DocsAction)
	if c := plan.Classification; c != nil {
		fmt.Printf("Version: %s (%s channel, series %s)\n", c.Version, c.Channel, c.MajorMinor)
	}

	var c version.Classification
	if plan.Classification != nil {
		c = *plan.Classification
	}
	ops := alias.Decide(plan.DocsAction, c)
	if len(ops) == 0 {
		return
	}

	fmt.Println("Alias Writes:")
	for _, op := range ops {
		if op.IfAbsent {
			fmt.Printf("  %s -> %s (only if absent)\n", op.Name, op.Version)
		} else {
			fmt.Printf("  %s -> %s\n", op.Name, op.Version)
		}
	}
}

// stageList renders an ordered stage list for display.
func stageList(stages []pipeline.Stage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return strings.Join(names, " -> ")
}
