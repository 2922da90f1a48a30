package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logsieve/internal/config"
	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
	"github.com/fyrsmithlabs/logsieve/internal/logging"
	"github.com/fyrsmithlabs/logsieve/internal/pipeline"
	"github.com/fyrsmithlabs/logsieve/internal/telemetry"
)

// app holds the components shared by serve and pipe.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	pipeline *pipeline.Pipeline
}

// newApp initializes telemetry, the diagnostic logger, the sink and the
// pipeline, and starts the pipeline. Diagnostics go to stderr so stdout is
// free for records.
func newApp(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) (*app, error) {
	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := logging.NewLoggerTo(&cfg.Logging, tel.LoggerProvider(), stderr)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sink, err := newSink(cfg.Sink, stdout, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open sink: %w", err)
	}

	p, err := pipeline.New(cfg, sink,
		pipeline.WithLogger(logger.Component("pipeline")),
		pipeline.WithMeter(tel.Meter(pipeline.InstrumentationName)),
	)
	if err != nil {
		_ = sink.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	// The dispatcher must outlive the caller's context so Shutdown can drain.
	if err := p.Start(context.WithoutCancel(ctx)); err != nil {
		_ = sink.Close()
		_ = tel.Shutdown(ctx)
		return nil, err
	}

	logger.Info(ctx, "logsieve started",
		zap.String("version", version),
		zap.String("sink", cfg.Sink.Type),
		zap.Float64("sample_rate", cfg.Sampling.Rate),
		zap.Bool("telemetry", tel.Status().Enabled),
		zap.Strings("telemetry_degraded", tel.Status().Degraded))

	return &app{cfg: cfg, logger: logger, tel: tel, pipeline: p}, nil
}

// close drains the pipeline and flushes telemetry within the configured
// shutdown timeout.
func (a *app) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := a.pipeline.Shutdown(ctx); err != nil && !errors.Is(err, dispatch.ErrShutdown) {
		errs = append(errs, fmt.Errorf("pipeline shutdown: %w", err))
	}

	st := a.pipeline.Stats()
	a.logger.Info(ctx, "logsieve stopped",
		zap.Int64("emitted", st.Emitted),
		zap.Int64("sampled_out", st.SampledOut),
		zap.Int64("delivered", st.Dispatch.Delivered),
		zap.Int64("dropped", st.Dispatch.Dropped))

	if err := a.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
