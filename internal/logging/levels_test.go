package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestTraceLevel(t *testing.T) {
	assert.Equal(t, zapcore.Level(-2), TraceLevel)
	assert.Less(t, TraceLevel, zapcore.DebugLevel)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"trace", TraceLevel},
		{"TRACE", TraceLevel},
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{" warn ", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LevelFromString(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevelFromString_Invalid(t *testing.T) {
	got, err := LevelFromString("verbose")
	assert.Error(t, err)
	assert.Equal(t, zapcore.InfoLevel, got)
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "trace", LevelString(TraceLevel))
	assert.Equal(t, "warn", LevelString(zapcore.WarnLevel))
}
