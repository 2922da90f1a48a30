package http

import (
	"context"
	"errors"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/logsieve/internal/http"

// Rejection reasons reported on logsieve.http.ingest.rejected.
const (
	rejectTooLarge = "too_large"
	rejectEmpty    = "empty"
	rejectUnread   = "unreadable"
	rejectInvalid  = "invalid"
)

// apiMetrics instruments the API surface: every request, and for the
// ingest endpoint the records it handed to the pipeline.
type apiMetrics struct {
	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	inflight  metric.Int64UpDownCounter
	bodyBytes metric.Int64Histogram
	accepted  metric.Int64Counter
	rejected  metric.Int64Counter
}

// newAPIMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil. Instruments that fail to register stay nil
// and are skipped; the joined error reports them.
func newAPIMetrics(meter metric.Meter) (*apiMetrics, error) {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}

	m := &apiMetrics{}
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	m.requests, err = meter.Int64Counter("logsieve.http.requests_total",
		metric.WithDescription("API requests by method, route and status."),
		metric.WithUnit("{request}"))
	keep(err)

	m.latency, err = meter.Float64Histogram("logsieve.http.request_duration_seconds",
		metric.WithDescription("API request latency by method, route and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5))
	keep(err)

	m.inflight, err = meter.Int64UpDownCounter("logsieve.http.active_requests",
		metric.WithDescription("API requests being served."),
		metric.WithUnit("{request}"))
	keep(err)

	m.bodyBytes, err = meter.Int64Histogram("logsieve.http.ingest.body_bytes",
		metric.WithDescription("Size of ingest request bodies that were read in full."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(256, 4<<10, 64<<10, 512<<10, 1<<20, 4<<20))
	keep(err)

	m.accepted, err = meter.Int64Counter("logsieve.http.ingest.records",
		metric.WithDescription("Records accepted by the ingest endpoint and emitted into the pipeline."),
		metric.WithUnit("{record}"))
	keep(err)

	m.rejected, err = meter.Int64Counter("logsieve.http.ingest.rejected",
		metric.WithDescription("Ingest requests refused, by reason."),
		metric.WithUnit("{request}"))
	keep(err)

	return m, errors.Join(errs...)
}

// middleware records request count, latency and concurrency. Handler
// errors are rendered first so the status label is the one sent.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			start := time.Now()
			if m.inflight != nil {
				m.inflight.Add(ctx, 1)
				defer m.inflight.Add(ctx, -1)
			}

			if err := next(c); err != nil {
				c.Error(err)
			}

			set := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, set)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), set)
			}
			return nil
		}
	}
}

func (m *apiMetrics) ingested(ctx context.Context, bodyLen, records int) {
	if m.bodyBytes != nil {
		m.bodyBytes.Record(ctx, int64(bodyLen))
	}
	if m.accepted != nil {
		m.accepted.Add(ctx, int64(records))
	}
}

func (m *apiMetrics) reject(ctx context.Context, reason string) {
	if m.rejected != nil {
		m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

// normalizePath maps unrouted requests to a single label. Routed requests
// already carry the route pattern, e.g. /api/v1/traces/:id/complete.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
