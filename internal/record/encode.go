package record

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// Outbound field names. These form the stable serialized field set.
const (
	KeyTime        = "ts"
	KeyLevel       = "level"
	KeyMessage     = "msg"
	KeyTraceID     = "trace_id"
	KeyPath        = "path"
	KeySampled     = "sampled"
	KeySampleRate  = "sample_rate"
	KeyFields      = "fields"
	KeyAggregation = "aggregation"
)

// Map returns the outbound string-keyed representation of r.
func (r Record) Map() map[string]any {
	m := map[string]any{
		KeyTime:       r.Time.UTC().Format(time.RFC3339Nano),
		KeyLevel:      r.Level.String(),
		KeyMessage:    r.Message,
		KeyTraceID:    r.TraceID,
		KeySampled:    r.Sampled,
		KeySampleRate: r.SampleRate,
	}
	if r.Path != "" {
		m[KeyPath] = r.Path
	}
	if len(r.Fields) > 0 {
		fields := make(map[string]any, len(r.Fields))
		for _, f := range r.Fields {
			fields[f.Key] = f.Value
		}
		m[KeyFields] = fields
	}
	if a := r.Aggregation; a != nil {
		m[KeyAggregation] = a.Map()
	}
	return m
}

// Map returns the outbound representation of the aggregation metadata.
func (a *AggregationMeta) Map() map[string]any {
	return map[string]any{
		"count":      a.Count,
		"forwarded":  a.Forwarded,
		"suppressed": a.Suppressed,
		"first_seen": a.FirstSeen.UTC().Format(time.RFC3339Nano),
		"last_seen":  a.LastSeen.UTC().Format(time.RFC3339Nano),
		"window_ms":  a.Window.Milliseconds(),
		"reason":     a.Reason,
	}
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (a *AggregationMeta) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("count", a.Count)
	enc.AddInt("forwarded", a.Forwarded)
	enc.AddInt("suppressed", a.Suppressed)
	enc.AddTime("first_seen", a.FirstSeen)
	enc.AddTime("last_seen", a.LastSeen)
	enc.AddInt64("window_ms", a.Window.Milliseconds())
	enc.AddString("reason", a.Reason)
	return nil
}

// MarshalLogObject implements zapcore.ObjectMarshaler, preserving field order.
func (fs Fields) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for _, f := range fs {
		zap.Any(f.Key, f.Value).AddTo(enc)
	}
	return nil
}

// ZapFields returns the record's metadata and fields as zap fields, in the
// order used for every outbound encoding.
func (r Record) ZapFields() []zapcore.Field {
	out := make([]zapcore.Field, 0, 6)
	out = append(out,
		zap.String(KeyTraceID, r.TraceID),
		zap.Bool(KeySampled, r.Sampled),
		zap.Float64(KeySampleRate, r.SampleRate),
	)
	if r.Path != "" {
		out = append(out, zap.String(KeyPath, r.Path))
	}
	if len(r.Fields) > 0 {
		out = append(out, zap.Object(KeyFields, r.Fields))
	}
	if r.Aggregation != nil {
		out = append(out, zap.Object(KeyAggregation, r.Aggregation))
	}
	return out
}

// Entry returns the zapcore entry header for r.
func (r Record) Entry() zapcore.Entry {
	return zapcore.Entry{
		Level:   r.Level,
		Time:    r.Time,
		Message: r.Message,
	}
}

// EncoderConfig is the JSON encoder configuration used for outbound records.
func EncoderConfig() zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = KeyTime
	cfg.LevelKey = KeyLevel
	cfg.MessageKey = KeyMessage
	cfg.CallerKey = zapcore.OmitKey
	cfg.StacktraceKey = zapcore.OmitKey
	cfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return cfg
}

// Encoder renders records as NDJSON lines. It is safe for concurrent use.
type Encoder struct {
	enc zapcore.Encoder
}

// NewEncoder returns a JSON line encoder.
func NewEncoder() *Encoder {
	return &Encoder{enc: zapcore.NewJSONEncoder(EncoderConfig())}
}

// Encode renders r as a single JSON line terminated by a newline. The caller
// must call Free on the returned buffer once done with it.
func (e *Encoder) Encode(r Record) (*buffer.Buffer, error) {
	buf, err := e.enc.EncodeEntry(r.Entry(), r.ZapFields())
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf, nil
}

// EncodeJSON renders r as a JSON line.
func EncodeJSON(r Record) ([]byte, error) {
	buf, err := NewEncoder().Encode(r)
	if err != nil {
		return nil, err
	}
	defer buf.Free()
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}
