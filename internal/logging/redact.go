package logging

import (
	"strconv"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

// RedactedString creates a field carrying only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// RedactingEncoder wraps a zapcore.Encoder so the logger's own fields go
// through the same name and value detection as pipeline records.
type RedactingEncoder struct {
	zapcore.Encoder
	matcher *sanitize.Matcher
}

// NewRedactingEncoder wraps base. A disabled config passes fields through.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	m, err := cfg.matcher()
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, matcher: m}, nil
}

func (e *RedactingEncoder) shouldRedactKey(key string) bool {
	return e.matcher != nil && e.matcher.MatchName(key)
}

// redactSpans replaces detected spans in val with a marker naming the rule.
func (e *RedactingEncoder) redactSpans(val string) string {
	if e.matcher == nil {
		return val
	}
	out, _ := e.matcher.ReplaceAll(val, func(_, rule string) string {
		return "[REDACTED:" + rule + "]"
	})
	return out
}

// AddString redacts the whole value under a sensitive key, and detected
// spans under any other key.
func (e *RedactingEncoder) AddString(key, val string) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, sanitize.RedactedMarker)
		return
	}
	e.Encoder.AddString(key, e.redactSpans(val))
}

// AddByteString redacts like AddString.
func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddByteString(key, []byte(sanitize.RedactedMarker))
		return
	}
	e.Encoder.AddByteString(key, []byte(e.redactSpans(string(val))))
}

// AddBinary redacts under sensitive keys only.
func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.shouldRedactKey(key) {
		e.Encoder.AddBinary(key, []byte(sanitize.RedactedMarker))
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected replaces the whole value under a sensitive key.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, sanitize.RedactedMarker)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, sanitize.RedactedMarker)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.shouldRedactKey(key) {
		e.Encoder.AddString(key, sanitize.RedactedMarker)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder: e.Encoder.Clone(),
		matcher: e.matcher,
	}
}

// EncodeEntry redacts fields passed directly with the entry, which zap
// hands to the wrapped encoder without going through Add* on this one.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clone := e.Clone().(*RedactingEncoder)
	for i := range fields {
		fields[i].AddTo(clone)
	}
	return clone.Encoder.EncodeEntry(ent, nil)
}
