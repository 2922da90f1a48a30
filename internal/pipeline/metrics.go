package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

// InstrumentationName is the name used for OTEL instrumentation.
const InstrumentationName = "github.com/fyrsmithlabs/logsieve/internal/pipeline"

// Metrics provides OpenTelemetry metrics for the pipeline.
type Metrics struct {
	emitted    metric.Int64Counter
	sampledOut metric.Int64Counter
	sanitized  metric.Int64Counter
	hits       metric.Int64Counter
	forwarded  metric.Int64Counter
	summaries  metric.Int64Counter
	panics     metric.Int64Counter
	reloads    metric.Int64Counter

	sanitizeDuration metric.Float64Histogram

	registration metric.Registration
}

// NewMetrics creates the pipeline instruments. A nil meter uses the global
// meter provider.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
		unit string
	}{
		{&m.emitted, "logsieve.records.emitted", "Records handed to the pipeline", "{record}"},
		{&m.sampledOut, "logsieve.records.sampled_out", "Records dropped by trace sampling", "{record}"},
		{&m.sanitized, "logsieve.records.sanitized", "Records with at least one sanitized value", "{record}"},
		{&m.hits, "logsieve.sanitize.hits", "Sanitized values by detection rule", "{value}"},
		{&m.forwarded, "logsieve.records.forwarded", "Records handed to the dispatcher, summaries included", "{record}"},
		{&m.summaries, "logsieve.records.summaries", "Aggregated summary records by flush reason", "{record}"},
		{&m.panics, "logsieve.pipeline.panics", "Panics recovered while processing a record", "{panic}"},
		{&m.reloads, "logsieve.config.reloads", "Configuration reloads by result", "{reload}"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, err
		}
	}

	m.sanitizeDuration, err = meter.Float64Histogram(
		"logsieve.sanitize.duration",
		metric.WithDescription("Time spent sanitizing one record"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// observe registers callbacks reporting live pipeline gauges.
func (m *Metrics) observe(meter metric.Meter, p *Pipeline) error {
	if meter == nil {
		meter = otel.Meter(InstrumentationName)
	}

	queue, err := meter.Int64ObservableGauge("logsieve.dispatch.queue_depth",
		metric.WithDescription("Records waiting in the dispatch queue"),
		metric.WithUnit("{record}"))
	if err != nil {
		return err
	}
	dropped, err := meter.Int64ObservableCounter("logsieve.dispatch.dropped",
		metric.WithDescription("Records dropped on queue overflow"),
		metric.WithUnit("{record}"))
	if err != nil {
		return err
	}
	traces, err := meter.Int64ObservableGauge("logsieve.sampling.active_traces",
		metric.WithDescription("Live trace sampling decisions"),
		metric.WithUnit("{trace}"))
	if err != nil {
		return err
	}
	entries, err := meter.Int64ObservableGauge("logsieve.aggregation.entries",
		metric.WithDescription("Keys tracked by the aggregation buffer"),
		metric.WithUnit("{entry}"))
	if err != nil {
		return err
	}

	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(queue, int64(p.dispatcher.Len()))
		o.ObserveInt64(dropped, p.dispatcher.Dropped())
		o.ObserveInt64(traces, int64(p.sampler.Len()))
		o.ObserveInt64(entries, int64(p.buffer.Len()))
		return nil
	}, queue, dropped, traces, entries)
	return err
}

func (m *Metrics) unobserve() {
	if m == nil || m.registration == nil {
		return
	}
	_ = m.registration.Unregister()
}

func (m *Metrics) recordEmitted(ctx context.Context) {
	if m == nil {
		return
	}
	m.emitted.Add(ctx, 1)
}

func (m *Metrics) recordSampledOut(ctx context.Context) {
	if m == nil {
		return
	}
	m.sampledOut.Add(ctx, 1)
}

func (m *Metrics) recordSanitize(ctx context.Context, r *sanitize.Report) {
	if m == nil || r == nil {
		return
	}
	m.sanitizeDuration.Record(ctx, r.Duration.Seconds())
	if !r.HasChanges() {
		return
	}
	m.sanitized.Add(ctx, 1)
	for rule, n := range r.ByPattern {
		m.hits.Add(ctx, int64(n), metric.WithAttributes(attribute.String("rule", rule)))
	}
}

func (m *Metrics) recordForwarded(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.forwarded.Add(ctx, int64(n))
}

func (m *Metrics) recordSummary(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.summaries.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) recordPanic(ctx context.Context) {
	if m == nil {
		return
	}
	m.panics.Add(ctx, 1)
}

func (m *Metrics) recordReload(ctx context.Context, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reloads.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
