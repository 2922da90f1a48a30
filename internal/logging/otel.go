package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

// ScopeName is the instrumentation scope of diagnostic OTEL log output.
const ScopeName = "github.com/fyrsmithlabs/logsieve/internal/logging"

// ErrNoOutput is returned when neither stderr nor OTEL output is usable.
var ErrNoOutput = errors.New("at least one output must be enabled and available")

// newDualCore tees stderr and OTEL output. Both cores follow level.
func newDualCore(cfg *Config, level zapcore.LevelEnabler, otelProvider log.LoggerProvider, w io.Writer) (zapcore.Core, error) {
	var cores []zapcore.Core

	if cfg.Output.Stderr {
		if w == nil {
			w = os.Stderr
		}
		enc := newEncoder(cfg.Format)
		if cfg.Redaction.Enabled {
			redacting, err := NewRedactingEncoder(enc, cfg.Redaction)
			if err != nil {
				return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
			}
			enc = redacting
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(zapcore.AddSync(w)), level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		otelCore := otelzap.NewCore(ScopeName, otelzap.WithLoggerProvider(otelProvider))
		cores = append(cores, &gatedCore{Core: otelCore, gate: level})
	}

	switch len(cores) {
	case 0:
		return nil, ErrNoOutput
	case 1:
		return newSampledCore(cores[0], cfg.Sampling), nil
	default:
		return newSampledCore(zapcore.NewTee(cores...), cfg.Sampling), nil
	}
}
