package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	git "github.com/go-git/go-git/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/config"
	"github.com/fyrsmithlabs/shipd/internal/logging"
	"github.com/fyrsmithlabs/shipd/internal/monitor"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/stages"
)

var (
	// run command flags
	runConfigPath    string
	runTag           string
	runPrerelease    bool
	runDefaultBranch string
	runOutputJSON    bool
	runVerbose       bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Config file path (default: ~/.config/shipd/config.yaml)")
	runCmd.Flags().StringVar(&runTag, "tag", "", "Run the release pipeline for this tag instead of the push pipeline")
	runCmd.Flags().BoolVar(&runPrerelease, "prerelease", false, "Publish the release to the test index")
	runCmd.Flags().StringVar(&runDefaultBranch, "default-branch", "main", "Branch whose commits get the dev promotion chain")
	runCmd.Flags().BoolVar(&runOutputJSON, "json", false, "Output the run record as JSON")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Show stage logs")
}

// runCmd executes the pipeline once against the local checkout
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once against the local checkout",
	Long: `Run the release pipeline once against the configured checkout,
without a daemon.

Local runs use the self-contained layout: any trigger that builds an
artifact runs the test gate inline first. Without --tag the run mimics
a push of the current HEAD, so commits on the default branch chain dev
docs and a dev build onto the test pass. With --tag the full release
pipeline runs: build, publish to exactly one index, and versioned docs
with alias promotion.

The command exits non-zero when any stage fails.

Examples:
  # Test gate plus the dev chain for the current HEAD
  shipctl run

  # Full release pipeline for a stable tag
  shipctl run --tag v1.4.0

  # Release candidate: test index, "next" alias
  shipctl run --tag v1.5.0-rc.1 --prerelease`,
	RunE: runRun,
}

// runRun handles the run command
func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	if err := resolveWorkspace(cfg); err != nil {
		return err
	}

	level := "warn"
	if runVerbose {
		level = "debug"
	}
	logger, err := localLogger(level)
	if err != nil {
		return err
	}

	deps, err := stages.DepsFromConfig(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ev, err := localEvent(cfg.Workspace.RepoDir, runTag, runPrerelease, runDefaultBranch)
	if err != nil {
		return err
	}

	plan, err := pipeline.BuildPlan(ev, pipeline.TopologySelfContained)
	if err != nil {
		return fmt.Errorf("failed to build plan: %w", err)
	}

	var opts []pipeline.RunnerOption
	if !runOutputJSON {
		opts = append(opts, pipeline.WithStageCallback(printStageResult))
	}
	runner := pipeline.NewRunner(logger, opts...)
	if err := stages.Register(runner, deps); err != nil {
		return fmt.Errorf("failed to register stage handlers: %w", err)
	}

	runID := localRunID(ev)
	if !runOutputJSON {
		fmt.Printf("Run: %s\n", runID)
		fmt.Printf("Stages: %s\n\n", stageList(plan.Stages))
	}

	run, err := runner.Run(ctx, runID, ev, plan)
	if err != nil {
		return fmt.Errorf("run had structural errors: %w", err)
	}

	if runOutputJSON {
		if err := outputJSON(run); err != nil {
			return err
		}
	} else {
		fmt.Println()
		printRunSummary(run)
	}

	if run.Status == pipeline.StatusFailure {
		return fmt.Errorf("run %s failed", runID)
	}
	return nil
}

// localEvent synthesizes the trigger for a local run from the checkout
// HEAD. Without a tag it mimics a push of the current commit; with one
// it carries the release payload a published release would. Releases
// work from a detached HEAD, which is how a tag checkout reads.
func localEvent(repoDir, tag string, prerelease bool, defaultBranch string) (pipeline.Event, error) {
	repo, err := git.PlainOpenWithOptions(repoDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return pipeline.Event{}, fmt.Errorf("failed to open repository %s: %w", repoDir, err)
	}
	head, err := repo.Head()
	if err != nil {
		return pipeline.Event{}, fmt.Errorf("failed to read HEAD: %w", err)
	}

	sha := head.Hash().String()
	if tag != "" {
		return pipeline.Event{
			Kind:    pipeline.EventRelease,
			Ref:     "refs/tags/" + tag,
			SHA:     sha,
			Release: &pipeline.ReleaseEvent{Tag: tag, Prerelease: prerelease},
		}, nil
	}

	branch := ""
	if head.Name().IsBranch() {
		branch = head.Name().Short()
	}
	ev := pipeline.Event{
		Kind:          pipeline.EventPush,
		Branch:        branch,
		SHA:           sha,
		DefaultBranch: branch != "" && branch == defaultBranch,
	}
	if branch != "" {
		ev.Ref = "refs/heads/" + branch
	}
	return ev, nil
}

// localRunID derives the deterministic run ID for a locally triggered
// event, mirroring the webhook scheme with the repository coordinates
// dropped. Determinism is what lets the watch loop collapse duplicate
// triggers for the same commit.
func localRunID(ev pipeline.Event) string {
	if ev.Kind == pipeline.EventRelease && ev.Release != nil {
		return "local-release-" + ev.Release.Tag
	}
	return "local-push-" + ev.SHA
}

// resolveWorkspace defaults an unset workspace to the current
// directory, the natural target for a local run.
func resolveWorkspace(cfg *config.Config) error {
	if cfg.Workspace.RepoDir != "" {
		return nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	cfg.Workspace.RepoDir = dir
	return nil
}

// localLogger builds the console logger local pipeline commands share.
func localLogger(level string) (*zap.Logger, error) {
	appLogger, err := logging.NewFromSettings(level, "console")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return appLogger.Underlying(), nil
}

// printStageResult is the runner's stage callback: one line per stage
// as it completes.
func printStageResult(_ string, res pipeline.StageResult) {
	line := fmt.Sprintf("%s %s (%s)", statusGlyph(res.Status), res.Stage, monitor.FormatRunDuration(res.Duration))
	if detail := stageDetail(res); detail != "" {
		line += "  " + detail
	}
	fmt.Println(line)
}

// printRunSummary prints the aggregate outcome of a finished run.
func printRunSummary(run *pipeline.Run) {
	fmt.Printf("%s %s: %s in %s\n",
		statusGlyph(run.Status),
		run.ID,
		run.Status,
		monitor.FormatRunDuration(run.EndedAt.Sub(run.StartedAt)))
}
