package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	errorAndAbove = zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.ErrorLevel })
	belowError    = zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l < zapcore.ErrorLevel })
)

// newSampledCore thins repeated diagnostics below Error. Overflow and sink
// failure warnings can repeat per record; errors always pass.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	sampled := zapcore.NewSamplerWithOptions(
		&gatedCore{Core: core, gate: belowError},
		cfg.Tick,
		cfg.Initial,
		cfg.Thereafter,
	)
	return zapcore.NewTee(&gatedCore{Core: core, gate: errorAndAbove}, sampled)
}

// gatedCore passes only entries whose level the gate enables.
type gatedCore struct {
	zapcore.Core
	gate zapcore.LevelEnabler
}

func (c *gatedCore) Enabled(lvl zapcore.Level) bool {
	return c.gate.Enabled(lvl) && c.Core.Enabled(lvl)
}

func (c *gatedCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.gate.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *gatedCore) With(fields []zapcore.Field) zapcore.Core {
	return &gatedCore{Core: c.Core.With(fields), gate: c.gate}
}
