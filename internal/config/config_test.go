package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

func TestNewDefaultConfig_Valid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1.0, cfg.Sampling.Rate)
	assert.Equal(t, Level(zapcore.ErrorLevel), cfg.Sampling.ForceLevel)
	assert.Equal(t, 30*time.Second, cfg.Sampling.IdleTimeout.Duration())
	assert.Equal(t, 100000, cfg.Sampling.MaxTraces)
	assert.Equal(t, []string{"/health", "/metrics"}, cfg.Sampling.ExcludedPaths)
	assert.Equal(t, 1024, cfg.Aggregation.Capacity)
	assert.True(t, cfg.Dispatch.Async)
	assert.Equal(t, 10000, cfg.Dispatch.Capacity)
	assert.Equal(t, SinkStdout, cfg.Sink.Type)
	assert.Equal(t, time.Second, cfg.Pipeline.JanitorInterval.Duration())
	assert.Equal(t, "logsieve", cfg.Observability.ServiceName)
}

func TestConfig_SettingsConversion(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Rate = 0.25
	cfg.Sampling.ExcludedPaths = []string{"/health"}
	cfg.Aggregation.BurstWindow = Duration(2 * time.Second)
	cfg.Dispatch.Async = false
	cfg.Dispatch.ShutdownGrace = Duration(time.Second)

	s := cfg.SamplingSettings()
	assert.Equal(t, 0.25, s.Rate)
	assert.Equal(t, []string{"/health"}, s.ExcludedPaths)
	assert.Equal(t, zapcore.ErrorLevel, s.ForceLevel)

	a := cfg.AggregationSettings()
	assert.Equal(t, 2*time.Second, a.BurstWindow)
	assert.Equal(t, zapcore.WarnLevel, a.Threshold)

	d := cfg.DispatchSettings()
	assert.False(t, d.Async)
	assert.Equal(t, time.Second, d.ShutdownGrace)

	p, err := cfg.CompilePolicy()
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"rate above one", func(c *Config) { c.Sampling.Rate = 1.5 }, "sampling"},
		{"zero idle timeout", func(c *Config) { c.Sampling.IdleTimeout = 0 }, "sampling"},
		{"bad pattern", func(c *Config) {
			c.Sanitize.Patterns = []sanitize.Rule{{ID: "x", Pattern: "("}}
		}, "sanitize"},
		{"bad strategy", func(c *Config) { c.Sanitize.DefaultStrategy = "shred" }, "sanitize"},
		{"zero aggregation capacity", func(c *Config) { c.Aggregation.Capacity = 0 }, "aggregation"},
		{"zero dispatch capacity", func(c *Config) { c.Dispatch.Capacity = 0 }, "dispatch"},
		{"unknown sink", func(c *Config) { c.Sink.Type = "kafka" }, "unknown sink type"},
		{"file sink without path", func(c *Config) { c.Sink.Type = SinkFile }, "requires a path"},
		{"nats sink without url", func(c *Config) { c.Sink.Type = SinkNATS }, "requires a url"},
		{"nats sink without subject", func(c *Config) {
			c.Sink.Type = SinkNATS
			c.Sink.NATS.URL = "nats://127.0.0.1:4222"
			c.Sink.NATS.Subject = ""
		}, "requires a subject"},
		{"janitor interval", func(c *Config) { c.Pipeline.JanitorInterval = 0 }, "janitor interval"},
		{"server port", func(c *Config) { c.Server.Port = 70000 }, "invalid server port"},
		{"shutdown timeout", func(c *Config) { c.Server.ShutdownTimeout = 0 }, "shutdown timeout"},
		{"body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }, "max body bytes"},
		{"telemetry without service", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.ServiceName = ""
		}, "service name required"},
		{"telemetry protocol", func(c *Config) {
			c.Observability.EnableTelemetry = true
			c.Observability.OTLPProtocol = "udp"
		}, "otlp protocol"},
		{"logging format", func(c *Config) { c.Logging.Format = "xml" }, "logging"},
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

func TestConfig_ValidateReportsEverySection(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sampling.Rate = -1
	cfg.Dispatch.BatchSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling")
	assert.Contains(t, err.Error(), "dispatch")
}

func TestConfig_ValidSinks(t *testing.T) {
	for _, typ := range []string{SinkStdout, SinkConsole, SinkOTel} {
		cfg := NewDefaultConfig()
		cfg.Sink.Type = typ
		assert.NoError(t, cfg.Validate(), typ)
	}

	cfg := NewDefaultConfig()
	cfg.Sink = SinkConfig{Type: SinkFile, Path: "/var/log/app.ndjson.zst", Compress: true}
	assert.NoError(t, cfg.Validate())
}
