package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by the dispatcher.
var (
	ErrInvalidSettings = errors.New("invalid dispatch settings")
	ErrAlreadyStarted  = errors.New("dispatcher already started")
	ErrShutdown        = errors.New("dispatcher is shut down")
)

// Defaults.
const (
	DefaultCapacity     = 10000
	DefaultBatchSize    = 256
	DefaultDrainTimeout = 5 * time.Second
	DefaultWriteTimeout = time.Second
	DefaultWarnInterval = 10 * time.Second
)

// Settings configures a Dispatcher.
type Settings struct {
	// Async enables the queue and drain loop. When false, Enqueue writes
	// to the sink on the caller's goroutine.
	Async bool

	// Capacity bounds the queue. The oldest record is dropped to admit a new
	// one when full.
	Capacity int

	// BatchSize is the number of records the drain loop takes per pass.
	BatchSize int

	// ShutdownGrace keeps accepting enqueues for this long after Shutdown
	// is called.
	ShutdownGrace time.Duration

	// DrainTimeout bounds how long Shutdown waits for the queue to empty.
	DrainTimeout time.Duration

	// WriteTimeout bounds each sink write.
	WriteTimeout time.Duration

	// WarnInterval rate-limits overflow and write-error warnings.
	WarnInterval time.Duration
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Async:        true,
		Capacity:     DefaultCapacity,
		BatchSize:    DefaultBatchSize,
		DrainTimeout: DefaultDrainTimeout,
		WriteTimeout: DefaultWriteTimeout,
		WarnInterval: DefaultWarnInterval,
	}
}

// Validate reports settings that cannot be used.
func (s Settings) Validate() error {
	switch {
	case s.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidSettings)
	case s.BatchSize <= 0:
		return fmt.Errorf("%w: batch size must be positive", ErrInvalidSettings)
	case s.ShutdownGrace < 0:
		return fmt.Errorf("%w: shutdown grace cannot be negative", ErrInvalidSettings)
	case s.DrainTimeout <= 0:
		return fmt.Errorf("%w: drain timeout must be positive", ErrInvalidSettings)
	case s.WriteTimeout <= 0:
		return fmt.Errorf("%w: write timeout must be positive", ErrInvalidSettings)
	case s.WarnInterval <= 0:
		return fmt.Errorf("%w: warn interval must be positive", ErrInvalidSettings)
	}
	return nil
}
