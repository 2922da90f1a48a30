// Package telemetry provides OpenTelemetry instrumentation for logsieve.
//
// # Overview
//
// Pipeline counters and the ingest server's request spans are exported to
// an OTEL collector over OTLP (gRPC or HTTP/protobuf).
//
// # Usage
//
//	cfg := telemetry.FromObservability(appCfg.Observability, version)
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
//	meter := tel.Meter("logsieve.pipeline")
//
// # Error Handling
//
// Telemetry failures do not crash the application. If a provider cannot be
// initialized, the instance is marked degraded and callers get the global
// (no-op by default) providers.
//
// # Testing
//
//	tt := telemetry.NewTestTelemetry()
//	p, _ := pipeline.New(cfg, sink, pipeline.WithMeter(tt.Meter("test")))
//	...
//	assert.Equal(t, int64(3), tt.Int64Sum(t, "logsieve.records.emitted"))
package telemetry
