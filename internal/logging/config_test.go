package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, zapcore.InfoLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Output.Stderr)
	assert.False(t, cfg.Output.OTEL)
	assert.True(t, cfg.Sampling.Enabled)
	assert.Equal(t, time.Second, cfg.Sampling.Tick)
	assert.Equal(t, "logsieve", cfg.Fields["service"])
	assert.True(t, cfg.Redaction.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Format = "xml" },
			wantErr: "format must be",
		},
		{
			name:    "no outputs",
			mutate:  func(c *Config) { c.Output = OutputConfig{} },
			wantErr: "at least one output",
		},
		{
			name:    "zero tick",
			mutate:  func(c *Config) { c.Sampling.Tick = 0 },
			wantErr: "sampling tick",
		},
		{
			name:    "negative initial",
			mutate:  func(c *Config) { c.Sampling.Initial = -1 },
			wantErr: "initial and thereafter",
		},
		{
			name:    "negative caller skip",
			mutate:  func(c *Config) { c.Caller.Skip = -1 },
			wantErr: "caller skip",
		},
		{
			name:    "bad redaction pattern",
			mutate:  func(c *Config) { c.Redaction.Patterns = []string{"("} },
			wantErr: "invalid redaction config",
		},
		{
			name:    "empty field key",
			mutate:  func(c *Config) { c.Fields[""] = "x" },
			wantErr: "field key cannot be empty",
		},
		{
			name:    "empty field value",
			mutate:  func(c *Config) { c.Fields["env"] = "" },
			wantErr: `field "env" has empty value`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_SamplingDisabledIgnoresTick(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling = SamplingConfig{Enabled: false}
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate_RedactionDisabledIgnoresPatterns(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Redaction = RedactionConfig{Enabled: false, Patterns: []string{"("}}
	assert.NoError(t, cfg.Validate())
}
