package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/config"
	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
	"github.com/fyrsmithlabs/logsieve/internal/logging"
	"github.com/fyrsmithlabs/logsieve/internal/record"
	"github.com/fyrsmithlabs/logsieve/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func syncConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Dispatch.Async = false
	return cfg
}

func newTestPipeline(t *testing.T, cfg *config.Config, opts ...Option) (*Pipeline, *dispatch.MemorySink) {
	t.Helper()
	sink := dispatch.NewMemorySink()
	p, err := New(cfg, sink, opts...)
	require.NoError(t, err)
	return p, sink
}

func info(msg string, fields ...record.Field) record.Record {
	return record.New(time.Time{}, zapcore.InfoLevel, msg, fields...)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(nil, dispatch.NewMemorySink())
	assert.ErrorIs(t, err, ErrNilConfig)

	_, err = New(config.NewDefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrNilSink)

	cfg := config.NewDefaultConfig()
	cfg.Sampling.Rate = 2
	_, err = New(cfg, dispatch.NewMemorySink())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sampling")
}

func TestEmit_FillsFromContext(t *testing.T) {
	clock := newFakeClock()
	p, sink := newTestPipeline(t, syncConfig(), WithClock(clock.Now))

	ctx := WithPath(WithTraceID(context.Background(), "trace-1"), "/orders")
	p.Emit(ctx, info("order created"))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "trace-1", recs[0].TraceID)
	assert.Equal(t, "/orders", recs[0].Path)
	assert.Equal(t, clock.Now(), recs[0].Time)
	assert.True(t, recs[0].Sampled)
	assert.Equal(t, 1.0, recs[0].SampleRate)
}

func TestEmit_KeepsExplicitTraceID(t *testing.T) {
	p, sink := newTestPipeline(t, syncConfig())

	rec := info("explicit")
	rec.TraceID = "own"
	p.Emit(WithTraceID(context.Background(), "ctx"), rec)

	require.Len(t, sink.Records(), 1)
	assert.Equal(t, "own", sink.Records()[0].TraceID)
}

func TestEmit_OTelSpanFallback(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	p, sink := newTestPipeline(t, syncConfig())

	ctx, span := tt.Tracer("test").Start(context.Background(), "request")
	p.Emit(ctx, info("inside span"))
	span.End()

	require.Len(t, sink.Records(), 1)
	assert.Equal(t, span.SpanContext().TraceID().String(), sink.Records()[0].TraceID)
}

func TestEmit_Sanitizes(t *testing.T) {
	p, sink := newTestPipeline(t, syncConfig())

	p.Emit(context.Background(), info("login",
		record.F("user", "alice"),
		record.F("password", "hunter2"),
	))

	require.Len(t, sink.Records(), 1)
	got := sink.Records()[0]
	user, _ := got.Fields.Get("user")
	pw, _ := got.Fields.Get("password")
	assert.Equal(t, "alice", user)
	assert.Equal(t, "[REDACTED]", pw)
	assert.Equal(t, int64(1), p.Stats().Sanitized)
}

func TestEmit_SampledOut(t *testing.T) {
	cfg := syncConfig()
	cfg.Sampling.Rate = 0
	p, sink := newTestPipeline(t, cfg)

	ctx := WithTraceID(context.Background(), "t-drop")
	p.Emit(ctx, info("dropped"))
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, int64(1), p.Stats().SampledOut)

	// An error promotes the trace; later records are kept too.
	p.Emit(ctx, record.New(time.Time{}, zapcore.ErrorLevel, "failed"))
	p.Emit(ctx, info("after failure"))
	require.Equal(t, 2, sink.Len())
	assert.Equal(t, "failed", sink.Records()[0].Message)
}

func TestEmit_ExcludedPath(t *testing.T) {
	cfg := syncConfig()
	cfg.Sampling.ExcludedPaths = []string{"/healthz"}
	p, sink := newTestPipeline(t, cfg)

	p.Emit(WithPath(context.Background(), "/healthz"), info("probe"))
	assert.Equal(t, 0, sink.Len())
}

func emitBurst(p *Pipeline, ctx context.Context, msg string, n int) {
	for i := 0; i < n; i++ {
		p.Emit(ctx, info(msg))
	}
}

func TestCompleteTrace_FlushesSummary(t *testing.T) {
	clock := newFakeClock()
	p, sink := newTestPipeline(t, syncConfig(), WithClock(clock.Now))

	ctx := WithTraceID(context.Background(), "t-agg")
	emitBurst(p, ctx, "cache miss", 8)
	require.Equal(t, 5, sink.Len())

	p.CompleteTrace("t-agg")

	recs := sink.Records()
	require.Len(t, recs, 6)
	summary := recs[5]
	require.True(t, summary.IsAggregate())
	assert.Equal(t, "cache miss", summary.Message)
	assert.Equal(t, 8, summary.Aggregation.Count)
	assert.Equal(t, 5, summary.Aggregation.Forwarded)
	assert.Equal(t, 3, summary.Aggregation.Suppressed)
	assert.Equal(t, record.ReasonTraceComplete, summary.Aggregation.Reason)
}

func TestCompleteTrace_FlushesWithoutDecision(t *testing.T) {
	clock := newFakeClock()
	p, sink := newTestPipeline(t, syncConfig(), WithClock(clock.Now))

	// Aggregates can outlive the trace's sampling decision.
	for i := 0; i < 7; i++ {
		rec := info("retry")
		rec.TraceID = "t-x"
		p.forward(context.Background(), p.buffer.Add(rec, clock.Now()))
	}
	require.Equal(t, 5, sink.Len())

	p.CompleteTrace("t-x")
	require.Equal(t, 6, sink.Len())
	assert.Equal(t, record.ReasonTraceComplete, sink.Records()[5].Aggregation.Reason)

	p.CompleteTrace("")
	p.CompleteTrace("never-seen")
	assert.Equal(t, 6, sink.Len())
}

func TestTick_WindowAndIdleExpiry(t *testing.T) {
	clock := newFakeClock()
	cfg := syncConfig()
	cfg.Sampling.IdleTimeout = config.Duration(5 * time.Second)
	p, sink := newTestPipeline(t, cfg, WithClock(clock.Now))

	emitBurst(p, WithTraceID(context.Background(), "t-win"), "poll", 6)
	clock.Advance(cfg.Aggregation.MaxWindow.Duration())
	p.Tick()

	recs := sink.Records()
	require.Len(t, recs, 6)
	assert.Equal(t, record.ReasonWindow, recs[5].Aggregation.Reason)

	emitBurst(p, WithTraceID(context.Background(), "t-idle"), "poll", 6)
	clock.Advance(5 * time.Second)
	p.Tick()

	recs = sink.Records()
	require.Len(t, recs, 12)
	last := recs[11]
	require.True(t, last.IsAggregate())
	assert.Equal(t, "t-idle", last.TraceID)
	assert.Equal(t, record.ReasonTraceComplete, last.Aggregation.Reason)
	assert.Equal(t, 0, p.sampler.Len())
}

func TestShutdown_FlushesAndDrains(t *testing.T) {
	p, sink := newTestPipeline(t, config.NewDefaultConfig(), WithClock(newFakeClock().Now))
	require.NoError(t, p.Start(context.Background()))
	assert.ErrorIs(t, p.Start(context.Background()), ErrAlreadyStarted)

	emitBurst(p, WithTraceID(context.Background(), "t-sd"), "tick", 9)

	require.NoError(t, p.Shutdown(context.Background()))
	recs := sink.Records()
	require.Len(t, recs, 6)
	assert.Equal(t, record.ReasonShutdown, recs[5].Aggregation.Reason)
	assert.True(t, sink.Closed())

	assert.ErrorIs(t, p.Shutdown(context.Background()), dispatch.ErrShutdown)
}

func TestShutdown_WithoutStart(t *testing.T) {
	p, sink := newTestPipeline(t, syncConfig())
	p.Emit(context.Background(), info("one"))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 1, sink.Len())
}

func TestReload(t *testing.T) {
	log := logging.NewTestLogger()
	p, sink := newTestPipeline(t, syncConfig(), WithLogger(log.Zap()))
	assert.Equal(t, uint64(1), p.Version())

	next := syncConfig()
	next.Sanitize.Strategies = map[string]string{"account": "mask:2"}
	next.Sampling.ExcludedPaths = []string{"/internal"}
	require.NoError(t, p.Reload(next))
	assert.Equal(t, uint64(2), p.Version())
	assert.Same(t, next, p.Config())

	p.Emit(context.Background(), info("payout", record.F("account", "GB29NWBK60161331926819")))
	require.Equal(t, 1, sink.Len())
	acct, _ := sink.Records()[0].Fields.Get("account")
	assert.NotEqual(t, "GB29NWBK60161331926819", acct)

	p.Emit(WithPath(context.Background(), "/internal/x"), info("hidden"))
	assert.Equal(t, 1, sink.Len())

	bad := syncConfig()
	bad.Aggregation.Capacity = 0
	require.Error(t, p.Reload(bad))
	assert.Equal(t, uint64(2), p.Version())
	assert.Same(t, next, p.Config())
	log.AssertLogged(t, zapcore.WarnLevel, "config reload rejected")

	st := p.Stats()
	assert.Equal(t, int64(1), st.Reloads)
	assert.Equal(t, int64(1), st.ReloadErrors)
}

func TestReload_DispatchChangeWarns(t *testing.T) {
	log := logging.NewTestLogger()
	p, _ := newTestPipeline(t, syncConfig(), WithLogger(log.Zap()))

	next := syncConfig()
	next.Dispatch.WarnInterval = config.Duration(time.Minute)
	require.NoError(t, p.Reload(next))
	log.AssertLogged(t, zapcore.WarnLevel, "dispatch settings changed")
}

func TestEmit_RecoversPanics(t *testing.T) {
	log := logging.NewTestLogger()
	p, sink := newTestPipeline(t, syncConfig(), WithLogger(log.Zap()))
	p.now = func() time.Time { panic("clock failure") }

	assert.NotPanics(t, func() {
		p.Emit(context.Background(), info("boom"))
	})
	assert.Equal(t, 0, sink.Len())
	assert.Equal(t, int64(1), p.Stats().Panics)
	log.AssertLogged(t, zapcore.ErrorLevel, "recovered panic")
}

func TestMetrics(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	cfg := syncConfig()
	p, _ := newTestPipeline(t, cfg,
		WithMeter(tt.Meter(InstrumentationName)),
		WithClock(newFakeClock().Now))

	ctx := WithTraceID(context.Background(), "t-m")
	p.Emit(ctx, info("secret", record.F("token", "abc")))
	emitBurst(p, ctx, "noise", 7)
	p.CompleteTrace("t-m")
	require.NoError(t, p.Reload(syncConfig()))

	assert.Equal(t, int64(8), tt.Int64Sum(t, "logsieve.records.emitted"))
	assert.Equal(t, int64(1), tt.Int64Sum(t, "logsieve.records.sanitized"))
	assert.Equal(t, int64(1), tt.Int64Sum(t, "logsieve.records.summaries",
		attribute.String("reason", record.ReasonTraceComplete)))
	assert.Equal(t, int64(7), tt.Int64Sum(t, "logsieve.records.forwarded"))
	assert.Equal(t, int64(1), tt.Int64Sum(t, "logsieve.config.reloads",
		attribute.String("result", "ok")))
	assert.Equal(t, uint64(8), tt.HistogramCount(t, "logsieve.sanitize.duration"))
}

func TestEmit_Concurrent(t *testing.T) {
	p, sink := newTestPipeline(t, config.NewDefaultConfig())
	require.NoError(t, p.Start(context.Background()))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ctx := WithTraceID(context.Background(), "t-"+string(rune('a'+g)))
			for i := 0; i < 50; i++ {
				p.Emit(ctx, record.New(time.Time{}, zapcore.WarnLevel, "warn", record.F("i", i)))
			}
		}(g)
	}
	wg.Wait()

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 400, sink.Len())
	assert.Equal(t, int64(400), p.Stats().Forwarded)
}

func TestTick_SummaryPrecedesLaterRecordsOfTrace(t *testing.T) {
	clock := newFakeClock()
	cfg := syncConfig()
	window := cfg.Aggregation.MaxWindow.Duration()
	p, sink := newTestPipeline(t, cfg, WithClock(clock.Now))

	ctx := WithTraceID(context.Background(), "t-order")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3000; i++ {
			p.Emit(ctx, info("poll", record.F("seq", i)))
		}
	}()

	ticking := true
	for ticking {
		select {
		case <-done:
			ticking = false
		default:
			clock.Advance(window)
			p.Tick()
		}
	}
	for i := 3000; i < 3010; i++ {
		p.Emit(ctx, info("poll", record.F("seq", i)))
	}
	require.NoError(t, p.Shutdown(context.Background()))

	// A summary covers seq [first, first+count). No forwarded record past
	// that range may reach the sink before it.
	maxSeq := -1
	summaries := 0
	for _, r := range sink.Records() {
		v, _ := r.Fields.Get("seq")
		seq := v.(int)
		if !r.IsAggregate() {
			maxSeq = max(maxSeq, seq)
			continue
		}
		summaries++
		assert.Less(t, maxSeq, seq+r.Aggregation.Count,
			"record %d forwarded before the summary of [%d, %d)", maxSeq, seq, seq+r.Aggregation.Count)
	}
	assert.Positive(t, summaries)
}
