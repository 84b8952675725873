// Shipd is the release pipeline daemon.
//
// The daemon turns GitHub webhook deliveries into pipeline runs: the
// test gate, the distribution build, registry publishing, and
// versioned documentation deployments. Runs execute in-process by
// default; dispatch mode "temporal" hands them to a worker fleet
// instead. The same binary serves the run API the CLI and dashboard
// poll, Prometheus metrics, and health endpoints.
//
// Configuration is loaded from a YAML file plus SHIPD_-prefixed
// environment variables. See internal/config for the schema and
// defaults.
//
// Usage:
//
//	# Start with the default config lookup
//	shipd
//
//	# Explicit config file
//	shipd --config /etc/shipd/config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/shipd/internal/alias"
	"github.com/fyrsmithlabs/shipd/internal/config"
	"github.com/fyrsmithlabs/shipd/internal/docstore"
	"github.com/fyrsmithlabs/shipd/internal/github"
	"github.com/fyrsmithlabs/shipd/internal/logging"
	"github.com/fyrsmithlabs/shipd/internal/pipeline"
	"github.com/fyrsmithlabs/shipd/internal/runs"
	"github.com/fyrsmithlabs/shipd/internal/server"
	"github.com/fyrsmithlabs/shipd/internal/stages"
	"github.com/fyrsmithlabs/shipd/internal/telemetry"
	"github.com/fyrsmithlabs/shipd/internal/workflows"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: ~/.config/shipd/config.yaml)")
	flag.Parse()
	args := flag.Args()

	// Handle subcommands
	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  shipd [--config FILE]  Start the shipd daemon\n")
			fmt.Fprintf(os.Stderr, "  shipd version          Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("shipd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the shipd daemon and blocks until the context is
// cancelled.
//
// Initialization order:
//  1. Loads and validates configuration
//  2. Initializes logger and telemetry
//  3. Connects infrastructure (NATS run events, Temporal when selected)
//  4. Builds the dispatch backend for the configured mode
//  5. Starts the HTTP server
//  6. Drains in-flight runs on shutdown
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	appLogger, err := logging.NewFromSettings(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() {
		_ = appLogger.Sync() // Best-effort sync on shutdown
	}()
	logger := appLogger.Underlying()

	logger.Info("starting shipd",
		zap.String("version", version),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("dispatch_mode", cfg.Dispatch.Mode))

	tel, err := initTelemetry(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	deps, err := initDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info("dependencies initialized",
		zap.Bool("nats_connected", deps.natsConn != nil),
		zap.Bool("temporal_connected", deps.temporal != nil))

	svcs, err := initServices(ctx, cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}

	srv, err := server.NewServer(cfg.Server, server.Deps{
		Dispatcher: svcs.dispatcher,
		Runs:       deps.registry,
		Aliases:    svcs.aliases,
		Metrics:    svcs.metrics,
	}, logger)
	if err != nil {
		return fmt.Errorf("initializing http server: %w", err)
	}

	// Runs get their own lifetime so a shutdown signal does not cancel
	// them mid-stage. They are drained below and cancelled only when
	// the drain window expires.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()
	if svcs.local != nil {
		svcs.local.Start(runCtx)
	}

	logger.Info("daemon ready",
		zap.String("webhook_endpoint", "/webhook"),
		zap.String("api_prefix", "/api/v1"),
		zap.String("metrics_endpoint", "/metrics"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	// Intake stops first so nothing new is dispatched while draining.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	if svcs.local != nil {
		svcs.local.Stop()
		if err := svcs.local.Drain(shutdownCtx); err != nil {
			logger.Warn("drain window expired, cancelling in-flight runs", zap.Error(err))
			cancelRuns()

			finalCtx, cancelFinal := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelFinal()
			if err := svcs.local.Drain(finalCtx); err != nil {
				return fmt.Errorf("runs still executing after cancellation: %w", err)
			}
		}
	}

	return nil
}

// dependencies holds the daemon's infrastructure connections.
type dependencies struct {
	natsConn *nats.Conn
	temporal client.Client
	registry *runs.Registry
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.temporal != nil {
		d.temporal.Close()
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
}

// services holds the dispatch backend and the API collaborators.
type services struct {
	dispatcher server.Dispatcher
	// local is set in dispatch mode "local" for lifecycle control; in
	// mode "temporal" the worker fleet owns execution.
	local   *server.LocalDispatcher
	aliases alias.Store
	metrics *server.Metrics
}

// initDependencies connects infrastructure: the optional NATS run
// event stream, the run registry over it, and the Temporal client for
// dispatch mode "temporal".
func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to NATS at %s: %w", cfg.Events.NATSURL, err)
		}
		deps.natsConn = nc
		logger.Info("connected to NATS", zap.String("url", cfg.Events.NATSURL))
	}

	regOpts := []runs.Option{
		runs.WithLogger(logger),
		runs.WithCapacity(cfg.Events.RunHistory),
	}
	if deps.natsConn != nil {
		regOpts = append(regOpts, runs.WithNATS(deps.natsConn))
	}
	deps.registry = runs.NewRegistry(regOpts...)

	if cfg.Dispatch.Mode == "temporal" {
		c, err := client.Dial(client.Options{
			HostPort:  cfg.Dispatch.TemporalHostPort,
			Namespace: cfg.Dispatch.TemporalNamespace,
		})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connecting to Temporal at %s: %w", cfg.Dispatch.TemporalHostPort, err)
		}
		deps.temporal = c
		logger.Info("connected to Temporal",
			zap.String("host_port", cfg.Dispatch.TemporalHostPort),
			zap.String("namespace", cfg.Dispatch.TemporalNamespace))
	}

	return deps, nil
}

// initServices builds the dispatch backend for the configured mode.
//
// Mode "local" wires the full stage pipeline: manifest, builder,
// package indexes, docs store, secret scan, and the in-process
// dispatcher. Mode "temporal" only plans events and starts workflows;
// the stage collaborators live in the pipeline-worker fleet, so only
// the docs checkout is opened here, for the alias API.
func initServices(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (*services, error) {
	svcs := &services{metrics: server.NewMetrics()}

	if cfg.Dispatch.Mode == "temporal" {
		if cfg.Docs.RepoPath != "" {
			docs, err := stages.NewDocStore(cfg, logger)
			if err != nil {
				return nil, err
			}
			svcs.aliases = docstore.AliasStore(docs)
		}

		d, err := workflows.NewDispatcher(deps.temporal, cfg.Dispatch.TemporalTaskQueue, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing workflow dispatcher: %w", err)
		}
		svcs.dispatcher = d

		logger.Info("workflow dispatch configured",
			zap.String("task_queue", cfg.Dispatch.TemporalTaskQueue))
		return svcs, nil
	}

	// Local mode executes stages in-process; a missing manifest is a
	// startup failure, not a per-run one.
	stageDeps, err := stages.DepsFromConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svcs.aliases = docstore.AliasStore(stageDeps.Docs)

	pipelineRunner := pipeline.NewRunner(logger,
		pipeline.WithStageCallback(deps.registry.Callback()))
	if err := stages.Register(pipelineRunner, stageDeps); err != nil {
		return nil, fmt.Errorf("registering stage handlers: %w", err)
	}

	statuses, err := initStatusReporter(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []server.LocalOption{
		server.WithWorkers(cfg.Dispatch.Workers),
		server.WithMetrics(svcs.metrics),
	}
	if statuses != nil {
		opts = append(opts, server.WithStatusReporter(statuses))
	}
	local, err := server.NewLocalDispatcher(pipelineRunner, deps.registry, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing dispatcher: %w", err)
	}
	svcs.local = local
	svcs.dispatcher = local

	logger.Info("stage pipeline configured",
		zap.String("package", stageDeps.Manifest.Package.Name),
		zap.String("repo_dir", cfg.Workspace.RepoDir),
		zap.Bool("stable_index", stageDeps.StableIndex != nil),
		zap.Bool("test_index", stageDeps.TestIndex != nil),
		zap.Bool("docs_persisted", cfg.Docs.RepoPath != ""),
		zap.Bool("secret_scan", stageDeps.Scanner != nil),
		zap.Bool("commit_statuses", statuses != nil))

	return svcs, nil
}

// initStatusReporter builds the GitHub commit status reporter when a
// token is configured. Without one runs execute normally and statuses
// are skipped.
func initStatusReporter(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*github.StatusReporter, error) {
	if !cfg.GitHub.Token.IsSet() {
		return nil, nil
	}

	ghClient, err := github.NewClient(ctx, cfg.GitHub.Token)
	if err != nil {
		return nil, fmt.Errorf("initializing github client: %w", err)
	}

	reporter, err := github.NewStatusReporter(ghClient.Repositories, github.StatusConfig{
		Context: cfg.GitHub.StatusContext,
	}, github.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("initializing status reporter: %w", err)
	}
	return reporter, nil
}

// initTelemetry maps the daemon's telemetry section onto the provider
// configuration. Disabled telemetry yields a no-op instance so the
// caller can shut it down unconditionally.
func initTelemetry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*telemetry.Telemetry, error) {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	tcfg.ServiceVersion = version
	tcfg.Insecure = cfg.Telemetry.Insecure
	if cfg.Telemetry.ServiceName != "" {
		tcfg.ServiceName = cfg.Telemetry.ServiceName
	}
	if cfg.Telemetry.Endpoint != "" {
		tcfg.Endpoint = cfg.Telemetry.Endpoint
	}

	return telemetry.New(ctx, tcfg, telemetry.WithLogger(logger))
}
