package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/shipd/internal/monitor"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

var (
	// runs command flags
	runsLimit      int
	runsOutputJSON bool
)

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to return")
	runsCmd.Flags().BoolVar(&runsOutputJSON, "json", false, "Output results as JSON")
}

// runsCmd lists recent pipeline runs or shows one run in detail
var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recent pipeline runs or show one run",
	Long: `List the daemon's recent pipeline runs, newest first, or show the
stage-by-stage record of a single run.

Examples:
  # List recent runs
  shipctl runs

  # List more runs
  shipctl runs --limit 50

  # Show one run in detail
  shipctl runs release-acme-widget-v1.4.0

  # Output as JSON
  shipctl runs --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRuns,
}

// runRuns handles the runs command
func runRuns(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := monitor.NewClient(serverURL)

	if len(args) == 1 {
		run, err := client.Run(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch run %s: %w", args[0], err)
		}
		if runsOutputJSON {
			return outputJSON(run)
		}
		printRunDetail(run)
		return nil
	}

	list, err := client.Runs(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if runsOutputJSON {
		return outputJSON(list)
	}

	if len(list) == 0 {
		fmt.Println("No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tTRIGGER\tSTAGES\tAGE\tDURATION")
	now := time.Now()
	for _, run := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncate(run.ID, 44),
			displayStatus(run.Status),
			run.Event.Kind,
			run.Successes,
			len(run.Plan.Stages),
			monitor.FormatAge(run.StartedAt, now),
			runDuration(run),
		)
	}
	w.Flush()

	return nil
}

// printRunDetail prints one run record: trigger, routing, and the
// stage-by-stage results.
func printRunDetail(run *pipeline.Run) {
	fmt.Printf("Run: %s\n", run.ID)

	trigger := string(run.Event.Kind)
	if run.Event.Owner != "" {
		trigger += fmt.Sprintf(" (%s/%s)", run.Event.Owner, run.Event.Repo)
	}
	fmt.Printf("Trigger: %s\n", trigger)
	if run.Event.Release != nil {
		fmt.Printf("Tag: %s (prerelease: %t)\n", run.Event.Release.Tag, run.Event.Release.Prerelease)
	}
	if run.Plan.Publish != pipeline.PublishNone {
		fmt.Printf("Publish Target: %s index\n", run.Plan.Publish)
	}
	fmt.Printf("Status: %s\n", displayStatus(run.Status))
	fmt.Printf("Started: %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if !run.EndedAt.IsZero() {
		fmt.Printf("Duration: %s\n", monitor.FormatRunDuration(run.EndedAt.Sub(run.StartedAt)))
	}

	if len(run.Stages) == 0 {
		return
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATUS\tDURATION\tDETAIL")
	for _, res := range run.Stages {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			res.Stage,
			res.Status,
			monitor.FormatRunDuration(res.Duration),
			truncate(stageDetail(res), 60),
		)
	}
	w.Flush()
}

// Helper functions

// displayStatus renders a run status, showing runs that have no
// terminal status yet as running.
func displayStatus(s pipeline.Status) string {
	if s == "" {
		return "running"
	}
	return string(s)
}

// stageDetail picks the most useful single line for a stage result:
// the error when the stage failed, the detail otherwise.
func stageDetail(res pipeline.StageResult) string {
	if res.Err != "" {
		return res.Err
	}
	return res.Detail
}

// runDuration renders a finished run's wall time; in-flight runs show
// a dash.
func runDuration(run *pipeline.Run) string {
	if run.EndedAt.IsZero() {
		return "-"
	}
	return monitor.FormatRunDuration(run.EndedAt.Sub(run.StartedAt))
}

// statusGlyph maps a stage or run status onto its one-character badge.
func statusGlyph(s pipeline.Status) string {
	switch s {
	case pipeline.StatusSuccess:
		return "✓"
	case pipeline.StatusFailure:
		return "✗"
	case pipeline.StatusSkipped:
		return "○"
	case pipeline.StatusCancelled:
		return "~"
	default:
		return "…"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
