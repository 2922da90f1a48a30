package logging

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

// Config describes the diagnostic logger. It is the logging section of
// the logsieve config file.
type Config struct {
	Level  zapcore.Level `koanf:"level"`
	Format string        `koanf:"format"` // json or console

	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Redaction  RedactionConfig   `koanf:"redaction"`
	Fields     map[string]string `koanf:"fields"` // added to every entry
}

type OutputConfig struct {
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig bounds repeated entries below Error: per Tick, the first
// Initial entries with the same message pass, then every Thereafter-th.
type SamplingConfig struct {
	Enabled    bool          `koanf:"enabled"`
	Tick       time.Duration `koanf:"tick"`
	Initial    int           `koanf:"initial"`
	Thereafter int           `koanf:"thereafter"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// StacktraceConfig attaches stacks to entries at Level and above.
type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// RedactionConfig masks the logger's own fields. Fields and Patterns
// extend the sanitizer's built-in name and value rules.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

func NewDefaultConfig() *Config {
	cfg := &Config{
		Level:      zapcore.InfoLevel,
		Format:     "json",
		Stacktrace: StacktraceConfig{Level: zapcore.ErrorLevel},
		Fields:     map[string]string{"service": "logsieve"},
	}
	cfg.Output.Stderr = true
	cfg.Sampling = SamplingConfig{Enabled: true, Tick: time.Second, Initial: 100, Thereafter: 10}
	cfg.Caller.Enabled = true
	cfg.Redaction.Enabled = true
	return cfg
}

// Validate reports the first problem found.
func (c *Config) Validate() error {
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("format must be json or console, got %q", c.Format)
	}
	if !c.Output.Stderr && !c.Output.OTEL {
		return fmt.Errorf("at least one output of stderr and otel must be enabled")
	}
	if s := c.Sampling; s.Enabled {
		if s.Tick <= 0 {
			return fmt.Errorf("sampling tick must be positive, got %v", s.Tick)
		}
		if s.Initial < 0 || s.Thereafter < 0 {
			return fmt.Errorf("sampling initial and thereafter cannot be negative")
		}
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip cannot be negative, got %d", c.Caller.Skip)
	}
	if c.Redaction.Enabled {
		if _, err := c.Redaction.matcher(); err != nil {
			return fmt.Errorf("invalid redaction config: %w", err)
		}
	}
	for k, v := range c.Fields {
		switch {
		case k == "":
			return fmt.Errorf("field key cannot be empty")
		case v == "":
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}

// matcher compiles the redaction lists on top of the sanitizer defaults.
func (r RedactionConfig) matcher() (*sanitize.Matcher, error) {
	rules := make([]sanitize.Rule, 0, len(r.Patterns))
	for i, p := range r.Patterns {
		rules = append(rules, sanitize.Rule{ID: "logging-" + strconv.Itoa(i), Pattern: p})
	}
	return sanitize.NewMatcher(r.Fields, rules)
}
