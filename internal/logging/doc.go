// Package logging provides logsieve's own diagnostic logger.
//
// This is not the record pipeline. Pipeline components report overflow,
// sink failures and lost records through a *zap.Logger obtained from
// Logger.Component.
//
// The logger adds, on top of zap:
//   - a Trace level (-2, below Debug)
//   - stderr and OpenTelemetry outputs sharing one runtime-adjustable level
//   - span and request correlation fields taken from the context
//   - redaction of its own fields with the sanitizer's name and value rules
//   - sampling below Error
//
// Diagnostics go to stderr so that `logsieve pipe` can own stdout.
//
//	logger, err := logging.NewLogger(&cfg.Logging, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	p, err := pipeline.New(cfg, sink, pipeline.WithLogger(logger.Component("pipeline")))
//
// Tests observe entries through TestLogger:
//
//	tl := logging.NewTestLogger()
//	d, _ := dispatch.New(sink, settings, dispatch.WithLogger(tl.Zap()))
//	tl.AssertLogged(t, zapcore.WarnLevel, "dispatch queue full")
//	tl.AssertNoSecrets(t)
package logging
