package workflows

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/shipd/internal/pipeline"
)

const instrumentationName = "github.com/fyrsmithlabs/shipd/internal/workflows"

// Metrics for the workflow execution substrate
var (
	dispatchCounter metric.Int64Counter
	stageCounter    metric.Int64Counter
	stageDuration   metric.Float64Histogram
)

// initMetrics initializes OpenTelemetry metrics for workflows.
// This is called once during package initialization.
func initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error

	// Workflow dispatch counter
	dispatchCounter, err = meter.Int64Counter(
		"shipd.workflows.dispatches",
		metric.WithDescription("Total number of pipeline workflows started"),
		metric.WithUnit("{workflow}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create dispatch counter: %v", err))
	}

	// Stage activity counter
	stageCounter, err = meter.Int64Counter(
		"shipd.workflows.stage.executions",
		metric.WithDescription("Total number of stage activity executions"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage counter: %v", err))
	}

	// Stage activity duration histogram
	stageDuration, err = meter.Float64Histogram(
		"shipd.workflows.stage.duration",
		metric.WithDescription("Duration of stage activity executions"),
		metric.WithUnit("s"),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create stage duration: %v", err))
	}
}

func init() {
	initMetrics()
}

// recordDispatch counts one started workflow.
func recordDispatch(ctx context.Context, workflowName string) {
	dispatchCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow", workflowName),
	))
}

// recordStage counts one stage activity execution with its outcome.
func recordStage(ctx context.Context, stage pipeline.Stage, res pipeline.StageResult, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("stage", string(stage)),
		attribute.String("status", string(res.Status)),
	)
	stageCounter.Add(ctx, 1, attrs)
	stageDuration.Record(ctx, elapsed.Seconds(), attrs)
}
