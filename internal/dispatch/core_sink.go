package dispatch

import (
	"context"
	"io"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// allLevels enables every level, including the custom trace level. Records
// reaching a sink have already been filtered upstream.
var allLevels = zapcore.LevelEnabler(zapcore.Level(-128))

// CoreSink writes records through a zapcore.Core.
type CoreSink struct {
	core zapcore.Core
}

// NewCoreSink wraps core.
func NewCoreSink(core zapcore.Core) *CoreSink {
	return &CoreSink{core: core}
}

// NewJSONSink writes one JSON object per line to w.
func NewJSONSink(w io.Writer) *CoreSink {
	enc := zapcore.NewJSONEncoder(record.EncoderConfig())
	return NewCoreSink(zapcore.NewCore(enc, nopSync(w), allLevels))
}

// NewConsoleSink writes human-readable lines to w.
func NewConsoleSink(w io.Writer) *CoreSink {
	cfg := record.EncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewConsoleEncoder(cfg)
	return NewCoreSink(zapcore.NewCore(enc, nopSync(w), allLevels))
}

// NewOTelSink emits records as OpenTelemetry log records through provider.
func NewOTelSink(name string, provider log.LoggerProvider) *CoreSink {
	return NewCoreSink(otelzap.NewCore(name, otelzap.WithLoggerProvider(provider)))
}

// nopSync hides Sync on writers such as os.Stdout, where fsync fails on
// pipes and terminals.
func nopSync(w io.Writer) zapcore.WriteSyncer {
	return zapcore.Lock(zapcore.AddSync(struct{ io.Writer }{w}))
}

// Write encodes rec through the core.
func (s *CoreSink) Write(_ context.Context, rec record.Record) error {
	return s.core.Write(rec.Entry(), rec.ZapFields())
}

// Flush syncs the core.
func (s *CoreSink) Flush(context.Context) error {
	return s.core.Sync()
}

// Close syncs the core. The underlying writer is owned by the caller.
func (s *CoreSink) Close() error {
	return s.core.Sync()
}
