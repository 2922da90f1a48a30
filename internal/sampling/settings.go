package sampling

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Defaults.
const (
	DefaultRate        = 1.0
	DefaultForceLevel  = zapcore.ErrorLevel
	DefaultIdleTimeout = 30 * time.Second
	DefaultMaxTraces   = 100000
)

// DefaultExcludedPaths keeps health checks and metric scrapes out of the
// sampled stream.
var DefaultExcludedPaths = []string{"/health", "/metrics"}

// Settings configures a Coordinator.
type Settings struct {
	// Rate is the fraction of traces retained, 0.0 to 1.0.
	Rate float64

	// ForceLevel promotes a trace to sampled once a record at or above it is
	// seen.
	ForceLevel zapcore.Level

	// ExcludedPaths are request path prefixes that are never sampled.
	ExcludedPaths []string

	// IdleTimeout expires a trace decision after no activity.
	IdleTimeout time.Duration

	// MaxTraces bounds the number of live decisions.
	MaxTraces int
}

// DefaultSettings returns settings that retain every trace outside
// DefaultExcludedPaths.
func DefaultSettings() Settings {
	return Settings{
		Rate:          DefaultRate,
		ForceLevel:    DefaultForceLevel,
		ExcludedPaths: slices.Clone(DefaultExcludedPaths),
		IdleTimeout:   DefaultIdleTimeout,
		MaxTraces:     DefaultMaxTraces,
	}
}

// Validate reports settings that cannot be used.
func (s Settings) Validate() error {
	if s.Rate < 0 || s.Rate > 1 || s.Rate != s.Rate {
		return fmt.Errorf("%w: rate %v outside [0, 1]", ErrInvalidSettings, s.Rate)
	}
	if s.IdleTimeout <= 0 {
		return fmt.Errorf("%w: idle timeout must be positive", ErrInvalidSettings)
	}
	if s.MaxTraces <= 0 {
		return fmt.Errorf("%w: max traces must be positive", ErrInvalidSettings)
	}
	for _, p := range s.ExcludedPaths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty excluded path", ErrInvalidSettings)
		}
	}
	return nil
}

// excluded reports whether path starts with any excluded prefix.
func (s *Settings) excluded(path string) bool {
	if path == "" {
		return false
	}
	for _, p := range s.ExcludedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
