package logging

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const maxIDLen = 128

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type requestIDKey struct{}

// ValidateID checks an identifier taken from outside the process, such as
// a trace or request id header. name is used in the error.
func ValidateID(id, name string) error {
	switch {
	case id == "":
		return fmt.Errorf("%s cannot be empty", name)
	case !utf8.ValidString(id):
		return fmt.Errorf("%s contains invalid UTF-8", name)
	case len(id) > maxIDLen:
		return fmt.Errorf("%s exceeds max length %d", name, maxIDLen)
	case !idPattern.MatchString(id):
		return fmt.Errorf("%s contains invalid characters (must be alphanumeric, hyphen, underscore)", name)
	}
	return nil
}

// WithRequestID attaches a request id for diagnostic correlation. An id
// that fails ValidateID leaves ctx unchanged.
func WithRequestID(ctx context.Context, id string) context.Context {
	if ValidateID(id, "request id") != nil {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the id set with WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// ContextFields returns the span and request correlation fields for ctx.
func ContextFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := RequestIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}
