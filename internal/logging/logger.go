package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is logsieve's diagnostic logger. Its level can be changed at
// runtime so a config reload applies without rebuilding the cores.
type Logger struct {
	base  *zap.Logger // for components logging directly
	zap   *zap.Logger // base with the wrapper frames skipped
	level zap.AtomicLevel
}

// wrapperFrames is the call depth Logger's methods add above zap.
const wrapperFrames = 2

func newLogger(base *zap.Logger, level zap.AtomicLevel) *Logger {
	return &Logger{base: base, zap: base.WithOptions(zap.AddCallerSkip(wrapperFrames)), level: level}
}

// NewLogger creates a logger writing to stderr.
// otelProvider can be nil to disable OTEL output.
func NewLogger(cfg *Config, otelProvider log.LoggerProvider) (*Logger, error) {
	return NewLoggerTo(cfg, otelProvider, nil)
}

// NewLoggerTo is NewLogger with an explicit destination for the stderr
// output. A nil w means os.Stderr.
func NewLoggerTo(cfg *Config, otelProvider log.LoggerProvider, w io.Writer) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := zap.NewAtomicLevelAt(cfg.Level)
	core, err := newDualCore(cfg, level, otelProvider, w)
	if err != nil {
		return nil, fmt.Errorf("failed to create core: %w", err)
	}

	var opts []zap.Option
	if cfg.Caller.Enabled {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(cfg.Caller.Skip))
	}
	if cfg.Stacktrace.Level != 0 {
		opts = append(opts, zap.AddStacktrace(cfg.Stacktrace.Level))
	}
	if len(cfg.Fields) > 0 {
		fields := make([]zap.Field, 0, len(cfg.Fields))
		for k, v := range cfg.Fields {
			fields = append(fields, zap.String(k, v))
		}
		opts = append(opts, zap.Fields(fields...))
	}

	return newLogger(zap.New(core, opts...), level), nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return newLogger(zap.NewNop(), zap.NewAtomicLevelAt(zapcore.FatalLevel))
}

// newEncoder creates a JSON or console encoder with the record encoder's
// time key so diagnostics and records line up when interleaved.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = levelEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// log checks the level before building context fields.
func (l *Logger) log(ctx context.Context, lvl zapcore.Level, msg string, fields []zap.Field) {
	ce := l.zap.Check(lvl, msg)
	if ce == nil {
		return
	}
	ce.Write(append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Trace(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, TraceLevel, msg, fields)
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.DebugLevel, msg, fields)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.InfoLevel, msg, fields)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.WarnLevel, msg, fields)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.log(ctx, zapcore.ErrorLevel, msg, fields)
}

// With returns a child logger sharing the level.
func (l *Logger) With(fields ...zap.Field) *Logger {
	return newLogger(l.base.With(fields...), l.level)
}

// Named returns a child logger sharing the level.
func (l *Logger) Named(name string) *Logger {
	return newLogger(l.base.Named(name), l.level)
}

// Component returns the plain *zap.Logger a pipeline component takes,
// named after it. Level changes on l apply to it.
func (l *Logger) Component(name string) *zap.Logger {
	return l.base.Named(name)
}

// Enabled reports whether the level is enabled.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// SetLevel changes the minimum level of l and every logger derived from it.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Sync flushes buffered entries. Sync errors from terminals are ignored.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// isStdoutSyncError reports EINVAL or ENOTTY, returned when syncing a
// terminal or pipe on Linux.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
