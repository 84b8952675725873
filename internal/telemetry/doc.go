// Package telemetry provides OpenTelemetry instrumentation for shipd.
//
// It wires OTLP trace and metric exporters (gRPC or http/protobuf) behind
// a single Telemetry handle that the daemon owns for its lifetime. All
// failures degrade gracefully: a collector outage never takes the release
// pipeline down with it.
//
// # Usage
//
//	tel, err := telemetry.New(ctx, cfg, telemetry.WithLogger(log.Underlying()))
//	if err != nil {
//		return err // config error, not a collector error
//	}
//	defer tel.Shutdown(context.Background())
//
//	tracer := tel.Tracer("shipd.pipeline")
//	ctx, span := tracer.Start(ctx, "pipeline.run")
//	defer span.End()
//
// New returns an error only for invalid configuration. Exporter dialing
// problems mark the instance degraded (see Health) and hand out no-op
// providers instead.
//
// # Security
//
// Insecure (plaintext) export is only permitted to localhost endpoints;
// Validate rejects insecure remote collectors. For internal CAs set
// tls_skip_verify rather than insecure.
//
// # Testing
//
// NewTestTelemetry records spans and metrics in memory:
//
//	tel := telemetry.NewTestTelemetry()
//	// ... run code under test ...
//	tel.AssertSpanExists(t, "pipeline.run")
//	tel.AssertSpanAttribute(t, "pipeline.run", "run.id", "run-42")
package telemetry
