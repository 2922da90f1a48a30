package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/logging"
	"github.com/fyrsmithlabs/logsieve/internal/pipeline"
	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// HeaderTraceID carries an explicit trace id on inbound requests.
const HeaderTraceID = "X-Trace-Id"

// TraceMiddleware establishes the trace a request belongs to. An explicit
// X-Trace-Id header wins, then a W3C traceparent, and otherwise a new
// random id is assigned. The resolved id is echoed in the response.
func TraceMiddleware(tracer trace.Tracer) echo.MiddlewareFunc {
	if tracer == nil {
		tracer = otel.Tracer(httpInstrumentationName)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			ctx, span := tracer.Start(ctx, req.Method+" "+c.Path(),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.request.method", req.Method),
					attribute.String("url.path", req.URL.Path),
				))
			defer span.End()

			if id := req.Header.Get(HeaderTraceID); id != "" && logging.ValidateID(id, "trace id") == nil {
				ctx = pipeline.WithTraceID(ctx, id)
			} else if !span.SpanContext().HasTraceID() {
				ctx = pipeline.WithTraceID(ctx, uuid.NewString())
			}
			ctx = pipeline.WithPath(ctx, req.URL.Path)
			ctx = logging.WithRequestID(ctx, c.Response().Header().Get(echo.HeaderXRequestID))

			c.SetRequest(req.WithContext(ctx))
			c.Response().Header().Set(HeaderTraceID, pipeline.TraceIDFromContext(ctx))
			return next(c)
		}
	}
}

// AccessLogMiddleware logs each request to the diagnostic logger and emits
// an access record through the pipeline, so request logs are sampled and
// sanitized like any other record.
func AccessLogMiddleware(p *pipeline.Pipeline, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			duration := time.Since(start)

			req := c.Request()
			status := c.Response().Status
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)

			if ce := logger.Check(zapcore.DebugLevel, "http request"); ce != nil {
				ce.Write(append(logging.ContextFields(req.Context()),
					zap.String("method", req.Method),
					zap.String("uri", req.RequestURI),
					zap.Int("status", status),
					zap.Duration("duration", duration),
				)...)
			}

			level := zapcore.InfoLevel
			switch {
			case status >= 500:
				level = zapcore.ErrorLevel
			case status >= 400:
				level = zapcore.WarnLevel
			}
			p.Emit(req.Context(), record.New(start, level, "http request",
				record.F("method", req.Method),
				record.F("route", c.Path()),
				record.F("status", status),
				record.F("duration_ms", duration.Milliseconds()),
				record.F("request_id", requestID),
			))
			return nil
		}
	}
}
