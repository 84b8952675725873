package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/config"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/runs"
	"github.com/fyrsmithlabs/shipd/internal/server"
	"github.com/fyrsmithlabs/shipd/internal/stages"
	"github.com/fyrsmithlabs/shipd/internal/watch"
)

var (
	// watch command flags
	watchConfigPath    string
	watchDefaultBranch string
	watchDebounce      time.Duration
	watchVerbose       bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchConfigPath, "config", "", "Config file path (default: ~/.config/shipd/config.yaml)")
	watchCmd.Flags().StringVar(&watchDefaultBranch, "default-branch", "main", "Branch whose commits trigger runs")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "Wait after the last ref movement before dispatching")
	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Show debug logs")
}

// watchCmd runs the pipeline for every new commit on the default branch
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline for every new commit on the default branch",
	Long: `Watch the configured checkout and run the pipeline for every new
commit that lands on the default branch, without a daemon.

Runs use the self-contained layout and execute one at a time, since
they share the checkout. Commits made while a run executes queue up
behind it; a commit that already ran is skipped. Interrupting the
command cancels the in-flight run.

Examples:
  # Watch the configured checkout
  shipctl watch

  # A trunk named something else
  shipctl watch --default-branch trunk

  # Let a rebase settle longer before running
  shipctl watch --debounce 10s`,
	RunE: runWatch,
}

// runWatch handles the watch command
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(watchConfigPath)
	if err != nil {
		return err
	}
	if err := resolveWorkspace(cfg); err != nil {
		return err
	}

	level := "info"
	if watchVerbose {
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

	registry := runs.NewRegistry(runs.WithLogger(logger))
	runner := pipeline.NewRunner(logger, pipeline.WithStageCallback(registry.Callback()))
	if err := stages.Register(runner, deps); err != nil {
		return fmt.Errorf("failed to register stage handlers: %w", err)
	}

	// One worker: runs share the checkout, so they must not overlap.
	// The dispatcher binds runs to the signal context, so interrupting
	// the command cancels the in-flight run, unlike the daemon where
	// runs outlive the shutdown signal.
	dispatcher, err := server.NewLocalDispatcher(runner, registry, logger,
		server.WithWorkers(1),
		server.WithTopology(pipeline.TopologySelfContained))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	dispatcher.Start(ctx)

	watcher, err := watch.New(cfg.Workspace.RepoDir, watchDefaultBranch, logger,
		watch.WithDebounce(watchDebounce))
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			dispatcher.Stop()
			drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := dispatcher.Drain(drainCtx); err != nil {
				return fmt.Errorf("failed to drain in-flight runs: %w", err)
			}
			return nil

		case ev := <-watcher.Events():
			runID := localRunID(ev)
			if err := dispatcher.Dispatch(ctx, runID, ev); err != nil {
				if errors.Is(err, server.ErrDuplicateRun) {
					logger.Info("commit already ran", zap.String("run_id", runID))
					continue
				}
				logger.Warn("dispatch rejected",
					zap.String("run_id", runID),
					zap.Error(err))
			}
		}
	}
}
