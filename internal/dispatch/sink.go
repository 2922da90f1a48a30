package dispatch

import (
	"context"
	"errors"
	"sync"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// Sink receives finalized records.
//
// Write is called from a single goroutine at a time. Flush and Close are
// called once each during shutdown, after the last Write.
type Sink interface {
	Write(ctx context.Context, rec record.Record) error
	Flush(ctx context.Context) error
	Close() error
}

// MemorySink collects records in memory.
//
//	sink := dispatch.NewMemorySink()
//	d, _ := dispatch.New(sink, dispatch.DefaultSettings())
//	...
//	records := sink.Records()
type MemorySink struct {
	mu      sync.Mutex
	records []record.Record
	flushes int
	closed  bool
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make([]record.Record, 0, 64)}
}

// Write appends rec.
func (s *MemorySink) Write(_ context.Context, rec record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Flush counts the call.
func (s *MemorySink) Flush(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

// Close marks the sink closed.
func (s *MemorySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Records returns a copy of the collected records.
func (s *MemorySink) Records() []record.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Len returns the number of collected records.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Flushes returns how many times Flush was called.
func (s *MemorySink) Flushes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

// Closed reports whether Close was called.
func (s *MemorySink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// MultiSink writes every record to each of its sinks.
type MultiSink []Sink

// Write writes rec to every sink, joining their errors.
func (m MultiSink) Write(ctx context.Context, rec record.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Flush flushes every sink.
func (m MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
