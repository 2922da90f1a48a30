// Package config provides configuration loading for logsieve.
//
// Configuration comes from defaults, then an optional YAML file, then
// LOGSIEVE_* environment variables. Each pipeline section converts into the
// settings type of the package it configures.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/aggregate"
	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
	"github.com/fyrsmithlabs/logsieve/internal/logging"
	"github.com/fyrsmithlabs/logsieve/internal/sampling"
	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

// Sink types.
const (
	SinkStdout  = "stdout"
	SinkConsole = "console"
	SinkFile    = "file"
	SinkNATS    = "nats"
	SinkOTel    = "otel"
)

// Config holds the complete logsieve configuration.
type Config struct {
	Sampling      SamplingConfig      `koanf:"sampling"`
	Sanitize      SanitizeConfig      `koanf:"sanitize"`
	Aggregation   AggregationConfig   `koanf:"aggregation"`
	Dispatch      DispatchConfig      `koanf:"dispatch"`
	Sink          SinkConfig          `koanf:"sink"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       logging.Config      `koanf:"logging"`
}

// SamplingConfig configures trace-level sampling.
type SamplingConfig struct {
	Rate          float64  `koanf:"rate"`
	ForceLevel    Level    `koanf:"force_level"`
	ExcludedPaths []string `koanf:"excluded_paths"`
	IdleTimeout   Duration `koanf:"idle_timeout"`
	MaxTraces     int      `koanf:"max_traces"`
}

// SanitizeConfig configures field sanitization. The inline policy is
// replaced wholesale by PolicyFile when one is set.
type SanitizeConfig struct {
	sanitize.Policy `koanf:",squash"`
	PolicyFile      string `koanf:"policy_file"`
}

// AggregationConfig configures repeated-message folding.
type AggregationConfig struct {
	Capacity        int      `koanf:"capacity"`
	Threshold       Level    `koanf:"threshold"`
	RepeatThreshold int      `koanf:"repeat_threshold"`
	BurstWindow     Duration `koanf:"burst_window"`
	MaxWindow       Duration `koanf:"max_window"`
	MaxCount        int      `koanf:"max_count"`
}

// DispatchConfig configures the output queue.
type DispatchConfig struct {
	Async         bool     `koanf:"async"`
	Capacity      int      `koanf:"capacity"`
	BatchSize     int      `koanf:"batch_size"`
	ShutdownGrace Duration `koanf:"shutdown_grace"`
	DrainTimeout  Duration `koanf:"drain_timeout"`
	WriteTimeout  Duration `koanf:"write_timeout"`
	WarnInterval  Duration `koanf:"warn_interval"`
}

// SinkConfig selects and configures the record destination.
type SinkConfig struct {
	Type     string     `koanf:"type"`
	Path     string     `koanf:"path"`
	Compress bool       `koanf:"compress"`
	NATS     NATSConfig `koanf:"nats"`
}

// NATSConfig configures the NATS sink.
type NATSConfig struct {
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
	Token   Secret `koanf:"token"`
}

// PipelineConfig holds pipeline housekeeping settings.
type PipelineConfig struct {
	JanitorInterval Duration `koanf:"janitor_interval"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64    `koanf:"max_body_bytes"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool     `koanf:"enable_telemetry"`
	ServiceName     string   `koanf:"service_name"`
	OTLPEndpoint    string   `koanf:"otlp_endpoint"`
	OTLPProtocol    string   `koanf:"otlp_protocol"`
	OTLPInsecure    bool     `koanf:"otlp_insecure"`
	TraceSampleRate float64  `koanf:"trace_sample_rate"`
	ExportInterval  Duration `koanf:"export_interval"`
}

// NewDefaultConfig returns a configuration that retains every trace,
// redacts sensitive fields and writes NDJSON to stdout.
func NewDefaultConfig() *Config {
	s := sampling.DefaultSettings()
	a := aggregate.DefaultSettings()
	d := dispatch.DefaultSettings()

	return &Config{
		Sampling: SamplingConfig{
			Rate:          s.Rate,
			ForceLevel:    Level(s.ForceLevel),
			ExcludedPaths: s.ExcludedPaths,
			IdleTimeout:   Duration(s.IdleTimeout),
			MaxTraces:     s.MaxTraces,
		},
		Sanitize: SanitizeConfig{
			Policy: sanitize.DefaultPolicy(),
		},
		Aggregation: AggregationConfig{
			Capacity:        a.Capacity,
			Threshold:       Level(a.Threshold),
			RepeatThreshold: a.RepeatThreshold,
			BurstWindow:     Duration(a.BurstWindow),
			MaxWindow:       Duration(a.MaxWindow),
			MaxCount:        a.MaxCount,
		},
		Dispatch: DispatchConfig{
			Async:         d.Async,
			Capacity:      d.Capacity,
			BatchSize:     d.BatchSize,
			ShutdownGrace: Duration(d.ShutdownGrace),
			DrainTimeout:  Duration(d.DrainTimeout),
			WriteTimeout:  Duration(d.WriteTimeout),
			WarnInterval:  Duration(d.WarnInterval),
		},
		Sink: SinkConfig{
			Type: SinkStdout,
			NATS: NATSConfig{
				Subject: "logsieve.records",
			},
		},
		Pipeline: PipelineConfig{
			JanitorInterval: Duration(time.Second),
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9410,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxBodyBytes:    4 << 20,
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "logsieve",
			OTLPEndpoint:    "localhost:4317",
			OTLPProtocol:    "grpc",
			OTLPInsecure:    true,
			TraceSampleRate: 1.0,
			ExportInterval:  Duration(15 * time.Second),
		},
		Logging: *logging.NewDefaultConfig(),
	}
}

// SamplingSettings converts the sampling section.
func (c *Config) SamplingSettings() sampling.Settings {
	return sampling.Settings{
		Rate:          c.Sampling.Rate,
		ForceLevel:    zapcore.Level(c.Sampling.ForceLevel),
		ExcludedPaths: c.Sampling.ExcludedPaths,
		IdleTimeout:   c.Sampling.IdleTimeout.Duration(),
		MaxTraces:     c.Sampling.MaxTraces,
	}
}

// AggregationSettings converts the aggregation section.
func (c *Config) AggregationSettings() aggregate.Settings {
	return aggregate.Settings{
		Capacity:        c.Aggregation.Capacity,
		Threshold:       zapcore.Level(c.Aggregation.Threshold),
		RepeatThreshold: c.Aggregation.RepeatThreshold,
		BurstWindow:     c.Aggregation.BurstWindow.Duration(),
		MaxWindow:       c.Aggregation.MaxWindow.Duration(),
		MaxCount:        c.Aggregation.MaxCount,
	}
}

// DispatchSettings converts the dispatch section.
func (c *Config) DispatchSettings() dispatch.Settings {
	return dispatch.Settings{
		Async:         c.Dispatch.Async,
		Capacity:      c.Dispatch.Capacity,
		BatchSize:     c.Dispatch.BatchSize,
		ShutdownGrace: c.Dispatch.ShutdownGrace.Duration(),
		DrainTimeout:  c.Dispatch.DrainTimeout.Duration(),
		WriteTimeout:  c.Dispatch.WriteTimeout.Duration(),
		WarnInterval:  c.Dispatch.WarnInterval.Duration(),
	}
}

// CompilePolicy compiles the sanitization policy in effect.
func (c *Config) CompilePolicy() (*sanitize.CompiledPolicy, error) {
	return sanitize.Compile(c.Sanitize.Policy)
}

// Validate validates the configuration. Every pipeline section is checked
// with its package's own rules so a bad reload never reaches a component.
func (c *Config) Validate() error {
	var errs []error

	if err := c.SamplingSettings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("sampling: %w", err))
	}
	if _, err := c.CompilePolicy(); err != nil {
		errs = append(errs, fmt.Errorf("sanitize: %w", err))
	}
	if err := c.AggregationSettings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("aggregation: %w", err))
	}
	if err := c.DispatchSettings().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("dispatch: %w", err))
	}
	if err := c.Sink.validate(); err != nil {
		errs = append(errs, fmt.Errorf("sink: %w", err))
	}
	if c.Pipeline.JanitorInterval <= 0 {
		errs = append(errs, errors.New("pipeline: janitor interval must be positive"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body bytes must be positive"))
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			errs = append(errs, errors.New("service name required when telemetry is enabled"))
		}
		switch c.Observability.OTLPProtocol {
		case "grpc", "http/protobuf":
		default:
			errs = append(errs, fmt.Errorf("otlp protocol must be grpc or http/protobuf, got %q", c.Observability.OTLPProtocol))
		}
		if r := c.Observability.TraceSampleRate; r < 0 || r > 1 {
			errs = append(errs, fmt.Errorf("trace sample rate must be between 0 and 1, got %f", r))
		}
		if c.Observability.ExportInterval <= 0 {
			errs = append(errs, errors.New("export interval must be positive"))
		}
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}

	return errors.Join(errs...)
}

func (s SinkConfig) validate() error {
	switch strings.ToLower(s.Type) {
	case SinkStdout, SinkConsole, SinkOTel:
		return nil
	case SinkFile:
		if s.Path == "" {
			return errors.New("file sink requires a path")
		}
		return nil
	case SinkNATS:
		if s.NATS.URL == "" {
			return errors.New("nats sink requires a url")
		}
		if s.NATS.Subject == "" {
			return errors.New("nats sink requires a subject")
		}
		return nil
	default:
		return fmt.Errorf("unknown sink type %q", s.Type)
	}
}
