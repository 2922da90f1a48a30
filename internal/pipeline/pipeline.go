// Package pipeline connects sampling, sanitization, aggregation and dispatch
// into the path a record takes from a producer to a sink.
//
// Producers call Emit and never see an error: a record is either dropped by
// sampling, absorbed into an aggregate, or queued for delivery. Configuration
// is held in an immutable versioned snapshot that Reload swaps atomically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logsieve/internal/aggregate"
	"github.com/fyrsmithlabs/logsieve/internal/config"
	"github.com/fyrsmithlabs/logsieve/internal/dispatch"
	"github.com/fyrsmithlabs/logsieve/internal/record"
	"github.com/fyrsmithlabs/logsieve/internal/sampling"
	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

const stripeCount = 32

var (
	// ErrNilConfig is returned when New is called without a configuration.
	ErrNilConfig = errors.New("pipeline: config is required")
	// ErrNilSink is returned when New is called without a sink.
	ErrNilSink = errors.New("pipeline: sink is required")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("pipeline: already started")
)

// snapshot is an immutable view of the configuration in effect.
type snapshot struct {
	version uint64
	cfg     *config.Config
	engine  *sanitize.Engine
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	ConfigVersion uint64          `json:"config_version"`
	Emitted       int64           `json:"emitted"`
	SampledOut    int64           `json:"sampled_out"`
	Sanitized     int64           `json:"sanitized"`
	Forwarded     int64           `json:"forwarded"`
	Panics        int64           `json:"panics"`
	Reloads       int64           `json:"reloads"`
	ReloadErrors  int64           `json:"reload_errors"`
	Sampling      sampling.Stats  `json:"sampling"`
	Aggregation   aggregate.Stats `json:"aggregation"`
	Dispatch      dispatch.Stats  `json:"dispatch"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithMeter sets the meter used for pipeline instruments.
func WithMeter(m metric.Meter) Option {
	return func(p *Pipeline) {
		p.meter = m
	}
}

// WithClock overrides the time source used to stamp records and drive
// expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline is the record path from producers to a sink. It is safe for
// concurrent use.
type Pipeline struct {
	snap       atomic.Pointer[snapshot]
	sampler    *sampling.Coordinator
	buffer     *aggregate.Buffer
	dispatcher *dispatch.Dispatcher

	logger  *zap.Logger
	meter   metric.Meter
	metrics *Metrics
	now     func() time.Time

	// stripes serialize aggregation and enqueue per trace so a trace's
	// records and summaries reach the queue in order.
	stripes [stripeCount]sync.Mutex

	reloadMu sync.Mutex
	runMu    sync.Mutex
	started  bool
	cancel   context.CancelFunc
	done     chan struct{}
	draining atomic.Bool

	emitted      atomic.Int64
	sampledOut   atomic.Int64
	sanitized    atomic.Int64
	forwarded    atomic.Int64
	panics       atomic.Int64
	reloads      atomic.Int64
	reloadErrors atomic.Int64
}

// New validates cfg and builds a pipeline delivering to sink. The pipeline
// accepts records immediately; call Start to begin asynchronous delivery and
// housekeeping.
func New(cfg *config.Config, sink dispatch.Sink, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pipeline{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}

	policy, err := cfg.CompilePolicy()
	if err != nil {
		return nil, fmt.Errorf("compiling sanitize policy: %w", err)
	}

	p.sampler, err = sampling.New(cfg.SamplingSettings(),
		sampling.WithLogger(p.logger.Named("sampling")),
		sampling.WithOnExpire(p.flushTrace))
	if err != nil {
		return nil, fmt.Errorf("creating sampling coordinator: %w", err)
	}

	p.buffer, err = aggregate.New(cfg.AggregationSettings(),
		aggregate.WithLogger(p.logger.Named("aggregate")))
	if err != nil {
		return nil, fmt.Errorf("creating aggregation buffer: %w", err)
	}

	p.dispatcher, err = dispatch.New(sink, cfg.DispatchSettings(),
		dispatch.WithLogger(p.logger.Named("dispatch")))
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}

	p.metrics, err = NewMetrics(p.meter)
	if err != nil {
		return nil, fmt.Errorf("creating metrics: %w", err)
	}
	if err := p.metrics.observe(p.meter, p); err != nil {
		return nil, fmt.Errorf("registering metric callbacks: %w", err)
	}

	p.snap.Store(&snapshot{
		version: 1,
		cfg:     cfg,
		engine:  sanitize.New(policy, p.logger.Named("sanitize")),
	})
	return p, nil
}

// Dispatcher returns the dispatcher, for metrics collection.
func (p *Pipeline) Dispatcher() *dispatch.Dispatcher {
	return p.dispatcher
}

// Config returns the configuration in effect.
func (p *Pipeline) Config() *config.Config {
	return p.snap.Load().cfg
}

// Version returns the configuration version, starting at 1 and incremented
// by each successful Reload.
func (p *Pipeline) Version() uint64 {
	return p.snap.Load().version
}

// Start begins asynchronous delivery and the janitor that expires idle
// traces and stale aggregates.
func (p *Pipeline) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.started {
		return ErrAlreadyStarted
	}
	if err := p.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("starting dispatcher: %w", err)
	}

	jctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true
	go p.janitor(jctx, p.done)

	p.logger.Info("pipeline started",
		zap.Uint64("config_version", p.Version()),
		zap.Bool("async", p.dispatcher.Settings().Async))
	return nil
}

func (p *Pipeline) janitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := p.Config().Pipeline.JanitorInterval.Duration()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
			if next := p.Config().Pipeline.JanitorInterval.Duration(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Tick runs one housekeeping pass: aggregates past their window are
// flushed and idle trace decisions expire, flushing the trace's aggregates.
func (p *Pipeline) Tick() {
	defer p.recoverPanic(context.Background())

	now := p.now()
	p.tickBuffer(now)
	p.sampler.Sweep(now)
}

// tickBuffer holds every stripe while window summaries are taken and
// enqueued, so no Emit can slip a newer record of the same trace ahead of
// its summary.
func (p *Pipeline) tickBuffer(now time.Time) {
	for i := range p.stripes {
		p.stripes[i].Lock()
	}
	defer func() {
		for i := range p.stripes {
			p.stripes[i].Unlock()
		}
	}()
	p.forward(context.Background(), p.buffer.Tick(now))
}

// Emit hands a record to the pipeline. It never blocks on the sink and
// never panics.
func (p *Pipeline) Emit(ctx context.Context, rec record.Record) {
	defer p.recoverPanic(ctx)

	p.emitted.Add(1)
	p.metrics.recordEmitted(ctx)

	now := p.now()
	if rec.Time.IsZero() {
		rec.Time = now
	}
	if rec.TraceID == "" {
		rec.TraceID = TraceIDFromContext(ctx)
	}
	if rec.Path == "" {
		rec.Path = PathFromContext(ctx)
	}

	d := p.sampler.Decide(rec.TraceID, rec.Path, rec.Level, now)
	if !d.Sampled {
		p.sampledOut.Add(1)
		p.metrics.recordSampledOut(ctx)
		return
	}
	rec.Sampled = true
	rec.SampleRate = d.Rate

	snap := p.snap.Load()
	rec, report := snap.engine.SanitizeRecord(rec)
	if report.HasChanges() {
		p.sanitized.Add(1)
	}
	p.metrics.recordSanitize(ctx, report)

	mu := p.stripe(rec.TraceID)
	mu.Lock()
	defer mu.Unlock()
	if p.draining.Load() {
		p.forward(ctx, []record.Record{rec})
		return
	}
	p.forward(ctx, p.buffer.Add(rec, now))
}

// CompleteTrace marks a trace finished: its sampling decision is discarded
// and its pending aggregates are flushed.
func (p *Pipeline) CompleteTrace(traceID string) {
	if traceID == "" {
		return
	}
	defer p.recoverPanic(context.Background())

	// A known trace is flushed through the expiry callback.
	if !p.sampler.Complete(traceID) {
		p.flushTrace(traceID, record.ReasonTraceComplete)
	}
}

func (p *Pipeline) flushTrace(traceID, reason string) {
	mu := p.stripe(traceID)
	mu.Lock()
	defer mu.Unlock()
	p.forward(context.Background(), p.buffer.FlushTrace(traceID, reason))
}

func (p *Pipeline) stripe(traceID string) *sync.Mutex {
	return &p.stripes[xxhash.Sum64String(traceID)%stripeCount]
}

func (p *Pipeline) forward(ctx context.Context, recs []record.Record) {
	for _, r := range recs {
		if r.IsAggregate() {
			p.metrics.recordSummary(ctx, r.Aggregation.Reason)
		}
		p.dispatcher.Enqueue(r)
	}
	p.forwarded.Add(int64(len(recs)))
	p.metrics.recordForwarded(ctx, len(recs))
}

func (p *Pipeline) recoverPanic(ctx context.Context) {
	if r := recover(); r != nil {
		p.panics.Add(1)
		p.metrics.recordPanic(ctx)
		p.logger.Error("recovered panic in pipeline", zap.Any("panic", r), zap.Stack("stack"))
	}
}

// Reload validates cfg and applies it. Components are updated in place and
// a new snapshot is published. On error the previous configuration stays in
// effect.
func (p *Pipeline) Reload(cfg *config.Config) (err error) {
	ctx := context.Background()
	defer func() {
		p.metrics.recordReload(ctx, err)
		if err != nil {
			p.reloadErrors.Add(1)
			p.logger.Warn("config reload rejected", zap.Error(err))
		}
	}()

	if cfg == nil {
		return ErrNilConfig
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	policy, err := cfg.CompilePolicy()
	if err != nil {
		return fmt.Errorf("compiling sanitize policy: %w", err)
	}

	p.reloadMu.Lock()
	defer p.reloadMu.Unlock()

	prev := p.snap.Load()
	if err := p.sampler.SetSettings(cfg.SamplingSettings()); err != nil {
		return fmt.Errorf("applying sampling settings: %w", err)
	}
	evicted, err := p.buffer.SetSettings(cfg.AggregationSettings())
	if err != nil {
		_ = p.sampler.SetSettings(prev.cfg.SamplingSettings())
		return fmt.Errorf("applying aggregation settings: %w", err)
	}
	p.forward(ctx, evicted)

	if !reflect.DeepEqual(prev.cfg.Dispatch, cfg.Dispatch) {
		p.logger.Warn("dispatch settings changed; restart to apply")
	}
	if !reflect.DeepEqual(prev.cfg.Sink, cfg.Sink) {
		p.logger.Warn("sink settings changed; restart to apply")
	}

	next := &snapshot{
		version: prev.version + 1,
		cfg:     cfg,
		engine:  sanitize.New(policy, p.logger.Named("sanitize")),
	}
	p.snap.Store(next)
	p.reloads.Add(1)
	p.logger.Info("config reloaded", zap.Uint64("config_version", next.version))
	return nil
}

// Shutdown stops housekeeping, flushes every pending aggregate and drains
// the dispatcher. Records emitted while draining bypass aggregation.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.runMu.Lock()
	if p.cancel != nil {
		p.cancel()
		<-p.done
		p.cancel = nil
	}
	p.runMu.Unlock()

	if !p.draining.CompareAndSwap(false, true) {
		return dispatch.ErrShutdown
	}

	// Holding every stripe orders the final flush after in-flight emits.
	for i := range p.stripes {
		p.stripes[i].Lock()
	}
	p.forward(ctx, p.buffer.FlushAll())
	for i := range p.stripes {
		p.stripes[i].Unlock()
	}

	err := p.dispatcher.Shutdown(ctx)
	p.metrics.unobserve()

	st := p.dispatcher.Stats()
	p.logger.Info("pipeline stopped",
		zap.Int64("delivered", st.Delivered),
		zap.Int64("dropped", st.Dropped),
		zap.Int64("lost", st.LostOnShutdown))
	return err
}

// Stats returns a snapshot of pipeline and component counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		ConfigVersion: p.Version(),
		Emitted:       p.emitted.Load(),
		SampledOut:    p.sampledOut.Load(),
		Sanitized:     p.sanitized.Load(),
		Forwarded:     p.forwarded.Load(),
		Panics:        p.panics.Load(),
		Reloads:       p.reloads.Load(),
		ReloadErrors:  p.reloadErrors.Load(),
		Sampling:      p.sampler.Stats(),
		Aggregation:   p.buffer.Stats(),
		Dispatch:      p.dispatcher.Stats(),
	}
}
