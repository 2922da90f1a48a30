package aggregate

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"
)

// ErrInvalidSettings is returned for settings that cannot be used.
var ErrInvalidSettings = errors.New("invalid aggregation settings")

// Defaults.
const (
	DefaultCapacity        = 1024
	DefaultThreshold       = zapcore.WarnLevel
	DefaultRepeatThreshold = 5
	DefaultBurstWindow     = time.Second
	DefaultMaxWindow       = 10 * time.Second
	DefaultMaxCount        = 1000
)

// Settings configures a Buffer.
type Settings struct {
	// Capacity is the maximum number of tracked keys.
	Capacity int

	// Threshold is the lowest level that bypasses aggregation.
	Threshold zapcore.Level

	// RepeatThreshold is the number of occurrences within BurstWindow that
	// are still forwarded individually. The next one starts folding.
	RepeatThreshold int

	// BurstWindow is the span RepeatThreshold is measured over.
	BurstWindow time.Duration

	// MaxWindow caps how long an entry accumulates before it is flushed.
	MaxWindow time.Duration

	// MaxCount caps the occurrences folded into one summary.
	MaxCount int
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Capacity:        DefaultCapacity,
		Threshold:       DefaultThreshold,
		RepeatThreshold: DefaultRepeatThreshold,
		BurstWindow:     DefaultBurstWindow,
		MaxWindow:       DefaultMaxWindow,
		MaxCount:        DefaultMaxCount,
	}
}

// Validate reports settings that cannot be used.
func (s Settings) Validate() error {
	switch {
	case s.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidSettings)
	case s.RepeatThreshold < 1:
		return fmt.Errorf("%w: repeat threshold must be at least 1", ErrInvalidSettings)
	case s.BurstWindow <= 0:
		return fmt.Errorf("%w: burst window must be positive", ErrInvalidSettings)
	case s.MaxWindow < s.BurstWindow:
		return fmt.Errorf("%w: max window %s shorter than burst window %s", ErrInvalidSettings, s.MaxWindow, s.BurstWindow)
	case s.MaxCount <= s.RepeatThreshold:
		return fmt.Errorf("%w: max count must exceed repeat threshold", ErrInvalidSettings)
	}
	return nil
}
