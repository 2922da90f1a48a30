// Package record defines the structured log record that flows through the
// logsieve pipeline.
package record

import (
	"time"

	"go.uber.org/zap/zapcore"
)

// Field is a single structured key/value pair on a record.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered list of structured fields. Order is preserved end to
// end; keys are expected to be unique but duplicates are tolerated.
type Fields []Field

// Get returns the value for key and whether it exists.
func (fs Fields) Get(key string) (any, bool) {
	for _, f := range fs {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns the field keys in order.
func (fs Fields) Keys() []string {
	keys := make([]string, len(fs))
	for i, f := range fs {
		keys[i] = f.Key
	}
	return keys
}

// Clone returns a shallow copy of the field list.
func (fs Fields) Clone() Fields {
	if fs == nil {
		return nil
	}
	out := make(Fields, len(fs))
	copy(out, fs)
	return out
}

// F is shorthand for building a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Flush reasons recorded on aggregated records.
const (
	ReasonWindow        = "window"
	ReasonCount         = "count"
	ReasonTraceComplete = "trace_complete"
	ReasonEvicted       = "evicted"
	ReasonShutdown      = "shutdown"
)

// AggregationMeta summarizes a burst of identical records folded into one.
type AggregationMeta struct {
	Count      int // occurrences observed in the window
	Forwarded  int // occurrences forwarded individually before folding started
	Suppressed int // occurrences absorbed into the summary
	FirstSeen  time.Time
	LastSeen   time.Time
	Window     time.Duration // LastSeen - FirstSeen
	Reason     string
}

// Record is a finalized structured log record.
//
// Records are passed by value. Pipeline stages never modify a record they
// were handed; they return a new one instead.
type Record struct {
	Time        time.Time
	Level       zapcore.Level
	Message     string
	Fields      Fields
	TraceID     string
	Path        string
	Sampled     bool
	SampleRate  float64
	Aggregation *AggregationMeta
}

// New creates a record with the given level and message template.
func New(t time.Time, level zapcore.Level, msg string, fields ...Field) Record {
	return Record{
		Time:    t,
		Level:   level,
		Message: msg,
		Fields:  Fields(fields),
	}
}

// IsAggregate reports whether r is a summary of folded records.
func (r Record) IsAggregate() bool {
	return r.Aggregation != nil
}
