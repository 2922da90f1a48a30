package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// Headers set on published records.
const (
	HeaderTraceID = "Logsieve-Trace-Id"
	HeaderLevel   = "Logsieve-Level"
)

// NATSSink publishes each record as a JSON message on a subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	owned   bool
	enc     *record.Encoder
}

// NewNATSSink publishes on an existing connection. Close leaves the
// connection open.
func NewNATSSink(nc *nats.Conn, subject string) (*NATSSink, error) {
	if nc == nil {
		return nil, fmt.Errorf("%w: nats connection is required", ErrInvalidSettings)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: nats subject is required", ErrInvalidSettings)
	}
	return &NATSSink{nc: nc, subject: subject, enc: record.NewEncoder()}, nil
}

// DialNATSSink connects to url and publishes on subject. opts are applied
// after the defaults. Close drains and closes the connection.
func DialNATSSink(url, subject string, opts ...nats.Option) (*NATSSink, error) {
	nc, err := nats.Connect(url, append([]nats.Option{
		nats.Name("logsieve"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	s, err := NewNATSSink(nc, subject)
	if err != nil {
		nc.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Write publishes rec. Publishing is asynchronous in the client; Flush
// waits for the server to acknowledge.
func (s *NATSSink) Write(_ context.Context, rec record.Record) error {
	buf, err := s.enc.Encode(rec)
	if err != nil {
		return err
	}
	defer buf.Free()

	msg := nats.NewMsg(s.subject)
	msg.Data = append([]byte(nil), buf.Bytes()...)
	if rec.TraceID != "" {
		msg.Header.Set(HeaderTraceID, rec.TraceID)
	}
	msg.Header.Set(HeaderLevel, rec.Level.String())
	return s.nc.PublishMsg(msg)
}

// Flush round-trips to the server. A context without a deadline is bounded
// by DefaultWriteTimeout.
func (s *NATSSink) Flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultWriteTimeout)
		defer cancel()
	}
	return s.nc.FlushWithContext(ctx)
}

// Close drains the connection when the sink owns it.
func (s *NATSSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.nc.Drain()
}
