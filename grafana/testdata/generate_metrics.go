// Package testdata provides utilities for generating sample metrics data
// to test Grafana dashboards without pointing them at a real daemon.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics for testing dashboards. Names and labels mirror what the
// daemon registers in internal/server, so panels built against this
// generator work unchanged against a live /metrics endpoint.
var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipd_runs_total",
			Help: "Total completed pipeline runs by terminal status",
		},
		[]string{"status"},
	)
	stagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipd_stages_total",
			Help: "Total stage executions by stage and outcome",
		},
		[]string{"stage", "status"},
	)
	publishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipd_publishes_total",
			Help: "Total successful artifact publishes by package index",
		},
		[]string{"index"},
	)
	promotionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipd_alias_promotions_total",
			Help: "Total docs alias promotions applied, by promotion action",
		},
		[]string{"action"},
	)
	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipd_webhook_events_total",
			Help: "Total accepted webhook events by normalized kind",
		},
		[]string{"event"},
	)
	webhookRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shipd_webhook_rejections_total",
			Help: "Total rejected webhook deliveries by reason",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		runsTotal,
		stagesTotal,
		publishesTotal,
		promotionsTotal,
		webhookEventsTotal,
		webhookRejectionsTotal,
	)
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}

	// Generate initial sample data
	generateSampleData()

	// Start background goroutine to continuously generate data
	ctx, cancel := context.WithCancel(context.Background())
	go generateContinuousData(ctx)

	// Serve metrics
	http.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:    ":" + port,
		Handler: nil,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		cancel()
		server.Shutdown(context.Background())
	}()

	fmt.Printf("Sample metrics server running on http://localhost:%s/metrics\n", port)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println("\nTo use with Prometheus, add this to prometheus.yml:")
	fmt.Printf("  - job_name: 'shipd-test'\n    static_configs:\n      - targets: ['localhost:%s']\n", port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// simulateRun rolls one complete pipeline run and moves every counter
// the daemon would move for it, so rates and ratios stay coherent
// across panels.
func simulateRun(kind string) {
	webhookEventsTotal.WithLabelValues(kind).Inc()

	switch kind {
	case "push", "pull_request":
		// Test gate only.
		if rand.Float64() > 0.12 {
			stagesTotal.WithLabelValues("test", "success").Inc()
			runsTotal.WithLabelValues("success").Inc()
			return
		}
		stagesTotal.WithLabelValues("test", "failure").Inc()
		runsTotal.WithLabelValues("failure").Inc()

	case "workflow_run":
		// Dev promotion after an upstream test pass. A failed upstream
		// plans nothing and the run records as skipped.
		if rand.Float64() < 0.15 {
			runsTotal.WithLabelValues("skipped").Inc()
			return
		}
		stagesTotal.WithLabelValues("dev-docs", "success").Inc()
		if rand.Float64() > 0.05 {
			stagesTotal.WithLabelValues("build", "success").Inc()
			promotionsTotal.WithLabelValues("deploy-dev").Inc()
			runsTotal.WithLabelValues("success").Inc()
			return
		}
		stagesTotal.WithLabelValues("build", "failure").Inc()
		runsTotal.WithLabelValues("failure").Inc()

	case "release":
		prerelease := rand.Float64() < 0.35
		index, action := "stable", "deploy-stable"
		if prerelease {
			index, action = "test", "deploy-prerelease"
		}

		if rand.Float64() < 0.06 {
			stagesTotal.WithLabelValues("build", "failure").Inc()
			stagesTotal.WithLabelValues("publish", "skipped").Inc()
			stagesTotal.WithLabelValues("docs", "skipped").Inc()
			runsTotal.WithLabelValues("failure").Inc()
			return
		}
		stagesTotal.WithLabelValues("build", "success").Inc()

		failed := false
		if rand.Float64() < 0.04 {
			// Duplicate version or index outage.
			stagesTotal.WithLabelValues("publish", "failure").Inc()
			failed = true
		} else {
			stagesTotal.WithLabelValues("publish", "success").Inc()
			publishesTotal.WithLabelValues(index).Inc()
		}
		if rand.Float64() < 0.03 {
			stagesTotal.WithLabelValues("docs", "failure").Inc()
			failed = true
		} else {
			stagesTotal.WithLabelValues("docs", "success").Inc()
			promotionsTotal.WithLabelValues(action).Inc()
		}

		if failed {
			runsTotal.WithLabelValues("failure").Inc()
		} else {
			runsTotal.WithLabelValues("success").Inc()
		}
	}
}

func generateSampleData() {
	rejections := []string{"bad_signature", "invalid_payload", "invalid_event", "rate_limit"}

	// A day of traffic: pushes dominate, releases are rare.
	for i := 0; i < 200; i++ {
		simulateRun(randomChoice([]string{"push", "push", "push", "pull_request", "pull_request", "workflow_run", "workflow_run"}))
	}
	for i := 0; i < 12; i++ {
		simulateRun("release")
	}
	for i := 0; i < 8; i++ {
		webhookRejectionsTotal.WithLabelValues(randomChoice(rejections)).Inc()
	}
}

func generateContinuousData(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rand.Float64() > 0.3 {
				simulateRun(randomChoice([]string{"push", "push", "pull_request", "workflow_run"}))
			}
			if rand.Float64() > 0.92 {
				simulateRun("release")
			}
			if rand.Float64() > 0.95 {
				webhookRejectionsTotal.WithLabelValues(randomChoice([]string{"bad_signature", "invalid_payload", "rate_limit"})).Inc()
			}
		}
	}
}

func randomChoice(choices []string) string {
	return choices[rand.Intn(len(choices))]
}
