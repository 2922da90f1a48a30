package logging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewSampledCore_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)

	sampled := newSampledCore(core, SamplingConfig{Enabled: false})

	assert.Equal(t, core, sampled)
}

func TestNewSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	cfg := SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 1, Thereafter: 0}

	logger := &Logger{zap: zap.New(newSampledCore(core, cfg))}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		logger.Error(ctx, "error message")
	}

	assert.Equal(t, 100, observed.FilterMessage("error message").Len(), "all errors should be logged")
}

func TestNewSampledCore_BelowErrorSampled(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	cfg := SamplingConfig{Enabled: true, Tick: time.Minute, Initial: 5, Thereafter: 10}

	logger := &Logger{zap: zap.New(newSampledCore(core, cfg))}

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		logger.Warn(ctx, "sink write failed")
	}

	// 5 initial, then every 10th of the remaining 95
	assert.Equal(t, 5+9, observed.FilterMessage("sink write failed").Len())
}

func TestGatedCore(t *testing.T) {
	core, observed := observer.New(TraceLevel)
	gated := &gatedCore{Core: core, gate: zap.LevelEnablerFunc(func(l zapcore.Level) bool {
		return l >= zapcore.InfoLevel && l <= zapcore.WarnLevel
	})}

	assert.False(t, gated.Enabled(zapcore.DebugLevel))
	assert.True(t, gated.Enabled(zapcore.InfoLevel))
	assert.True(t, gated.Enabled(zapcore.WarnLevel))
	assert.False(t, gated.Enabled(zapcore.ErrorLevel))

	logger := zap.New(gated.With([]zapcore.Field{zap.String("k", "v")}))
	logger.Debug("d")
	logger.Info("i")
	logger.Error("e")

	logs := observed.All()
	if assert.Len(t, logs, 1) {
		assert.Equal(t, "i", logs[0].Message)
		assert.Equal(t, "v", logs[0].ContextMap()["k"])
	}
}
