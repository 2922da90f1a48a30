package config

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/logging"
	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

// Duration is a time.Duration written as "30s" or "1m30s" in YAML and
// environment variables. Negative values are rejected.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", text)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration().String())
}

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Level is a record level threshold. It accepts "trace" in addition to
// zap's level names.
type Level zapcore.Level

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := logging.LevelFromString(string(text))
	if err != nil {
		return fmt.Errorf("invalid level %q: %w", text, err)
	}
	*l = Level(parsed)
	return nil
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(logging.LevelString(zapcore.Level(l))), nil
}

// Secret is a credential such as the NATS token. Every rendering except
// Value shows the sanitizer's redaction marker instead of the content.
type Secret string

func (s Secret) redacted() string {
	if s == "" {
		return ""
	}
	return sanitize.RedactedMarker
}

func (s Secret) String() string { return s.redacted() }

func (s Secret) GoString() string { return "Secret(" + sanitize.RedactedMarker + ")" }

func (s Secret) MarshalText() ([]byte, error) { return []byte(s.redacted()), nil }

func (s Secret) MarshalJSON() ([]byte, error) { return json.Marshal(s.redacted()) }

func (s *Secret) UnmarshalText(text []byte) error {
	*s = Secret(text)
	return nil
}

// Value returns the credential itself.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a credential was configured.
func (s Secret) IsSet() bool {
	return s != ""
}
