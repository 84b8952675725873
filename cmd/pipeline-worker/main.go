// Package main provides the Temporal worker that executes release
// pipeline stages.
//
// The daemon in dispatch mode "temporal" starts pipeline workflows;
// this worker picks them up from the task queue and runs the stage
// activities on its host: the test gate, the distribution build,
// registry publishing, and documentation deploys. Build artifacts are
// resolved by path between activities, so every host serving a task
// queue needs the project checkout and the docs checkout the stages
// operate on.
//
// Usage:
//
//	pipeline-worker --config /etc/shipd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/config"
	"github.com/fyrsmithlabs/shipd/internal/logging"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/stages"
	"github.com/fyrsmithlabs/shipd/internal/workflows"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: ~/.config/shipd/config.yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// Create root context with signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	appLogger, err := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = appLogger.Sync() }()
	logger := appLogger.Underlying()

	logger.Info("pipeline worker starting",
		zap.String("temporal_host_port", cfg.Dispatch.TemporalHostPort),
		zap.String("task_queue", cfg.Dispatch.TemporalTaskQueue))

	// The worker binds the same stage pipeline the daemon's local mode
	// runs, so a plan behaves identically on either substrate.
	deps, err := stages.DepsFromConfig(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing stage dependencies: %w", err)
	}

	runner := pipeline.NewRunner(logger)
	if err := stages.Register(runner, deps); err != nil {
		return fmt.Errorf("registering stage handlers: %w", err)
	}

	acts, err := workflows.NewActivities(runner, logger)
	if err != nil {
		return fmt.Errorf("initializing activities: %w", err)
	}

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Dispatch.TemporalHostPort,
		Namespace: cfg.Dispatch.TemporalNamespace,
	})
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()

	logger.Info("temporal client connected",
		zap.String("host_port", cfg.Dispatch.TemporalHostPort),
		zap.String("namespace", cfg.Dispatch.TemporalNamespace))

	w := worker.New(c, cfg.Dispatch.TemporalTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Dispatch.Workers,
	})

	w.RegisterWorkflow(workflows.ReleasePipelineWorkflow)
	w.RegisterWorkflow(workflows.PushPipelineWorkflow)
	w.RegisterActivity(acts)

	logger.Info("worker configured",
		zap.String("package", deps.Manifest.Package.Name),
		zap.String("task_queue", cfg.Dispatch.TemporalTaskQueue),
		zap.Int("max_concurrent_activities", cfg.Dispatch.Workers))

	// Start worker in background
	workerErrors := make(chan error, 1)
	go func() {
		workerErrors <- w.Run(worker.InterruptCh())
	}()

	// Wait for shutdown signal or worker error
	select {
	case err := <-workerErrors:
		if err != nil {
			return fmt.Errorf("worker error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	logger.Info("worker stopped gracefully")
	return nil
}
