package pipeline

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

type traceIDCtxKey struct{}
type pathCtxKey struct{}

// WithTraceID attaches the request's trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDCtxKey{}, traceID)
}

// TraceIDFromContext returns the trace id set with WithTraceID, falling back
// to the OpenTelemetry span context. Returns "" when neither is present.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDCtxKey{}).(string); ok && id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// WithPath attaches the inbound request path to ctx.
func WithPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathCtxKey{}, path)
}

// PathFromContext returns the request path set with WithPath.
func PathFromContext(ctx context.Context) string {
	p, _ := ctx.Value(pathCtxKey{}).(string)
	return p
}
