// Package dispatch delivers finalized records to an output sink without
// blocking producers.
//
// A Dispatcher owns a bounded FIFO queue. Enqueue never blocks: when the
// queue is full the oldest record is discarded and the dropped counter
// increments, so recent records win under sustained overload. One
// goroutine drains the queue in batches and writes each record to the
// Sink, yielding between batches.
//
// Shutdown is one-way. Enqueues keep being accepted for ShutdownGrace, then
// are rejected; the queue is drained for at most DrainTimeout and whatever
// is left is counted as lost. The sink is then flushed and closed.
//
// With Settings.Async false there is no queue: Enqueue writes to the sink
// directly, one producer at a time.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// State is the dispatcher lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	State          string
	Queued         int
	Capacity       int
	Enqueued       int64
	Delivered      int64
	Dropped        int64
	Rejected       int64
	LostOnShutdown int64
	WriteErrors    int64
}

// Dispatcher queues records and delivers them to a Sink.
type Dispatcher struct {
	sink     Sink
	settings Settings
	logger   *zap.Logger
	// Overflow and sink-failure warnings have separate budgets.
	overflowWarn *rate.Limiter
	writeWarn    *rate.Limiter

	mu        sync.Mutex
	queue     *ring
	state     State
	accepting bool

	// syncMu serialises sink writes when Async is off.
	syncMu sync.Mutex

	wake     chan struct{}
	draining chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	enqueued    atomic.Int64
	delivered   atomic.Int64
	dropped     atomic.Int64
	rejected    atomic.Int64
	lost        atomic.Int64
	writeErrors atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates a Dispatcher writing to sink.
func New(sink Sink, s Settings, opts ...Option) (*Dispatcher, error) {
	if sink == nil {
		return nil, fmt.Errorf("%w: sink is required", ErrInvalidSettings)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		sink:         sink,
		settings:     s,
		logger:       zap.NewNop(),
		overflowWarn: rate.NewLimiter(rate.Every(s.WarnInterval), 1),
		writeWarn:    rate.NewLimiter(rate.Every(s.WarnInterval), 1),
		accepting:    true,
		wake:         make(chan struct{}, 1),
		draining:     make(chan struct{}),
		done:         make(chan struct{}),
	}
	if s.Async {
		d.queue = newRing(s.Capacity)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Settings returns the dispatcher settings.
func (d *Dispatcher) Settings() Settings {
	return d.settings
}

// Start starts the drain loop. It may be called once. The loop stops when
// ctx is cancelled or after Shutdown has drained the queue.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateIdle {
		if d.state == StateRunning {
			return ErrAlreadyStarted
		}
		return ErrShutdown
	}
	d.state = StateRunning
	d.startLocked(ctx)
	return nil
}

func (d *Dispatcher) startLocked(ctx context.Context) {
	if !d.settings.Async {
		close(d.done)
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	go d.run(loopCtx)
}

// State returns the lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Enqueue hands rec to the dispatcher. It never blocks on the queue and
// never returns an error; it reports whether rec was accepted. Records
// offered after the shutdown grace period are rejected.
func (d *Dispatcher) Enqueue(rec record.Record) bool {
	if !d.settings.Async {
		return d.writeSync(rec)
	}

	d.mu.Lock()
	if !d.accepting {
		d.mu.Unlock()
		d.rejected.Add(1)
		return false
	}
	overwrote := d.queue.push(rec)
	d.mu.Unlock()

	d.enqueued.Add(1)
	if overwrote {
		n := d.dropped.Add(1)
		if d.overflowWarn.Allow() {
			d.logger.Warn("dispatch queue full, dropping oldest records",
				zap.Int64("dropped_total", n),
				zap.Int("capacity", d.settings.Capacity))
		}
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *Dispatcher) writeSync(rec record.Record) bool {
	d.mu.Lock()
	accepting := d.accepting
	d.mu.Unlock()
	if !accepting {
		d.rejected.Add(1)
		return false
	}

	d.enqueued.Add(1)
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	d.write(context.Background(), rec)
	return true
}

// Dropped returns the number of records discarded on overflow. It only
// increases.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

// Len returns the number of queued records.
func (d *Dispatcher) Len() int {
	if !d.settings.Async {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.len()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	batch := make([]record.Record, 0, d.settings.BatchSize)
	for {
		if ctx.Err() != nil {
			return
		}

		d.mu.Lock()
		batch = d.queue.pop(batch[:0], d.settings.BatchSize)
		d.mu.Unlock()

		if len(batch) > 0 {
			d.deliver(ctx, batch)
			runtime.Gosched()
			continue
		}

		select {
		case <-d.wake:
		case <-d.draining:
			if d.Len() == 0 {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, batch []record.Record) {
	for i := range batch {
		if ctx.Err() != nil {
			d.lost.Add(int64(len(batch) - i))
			return
		}
		d.write(ctx, batch[i])
	}
}

// write delivers one record. Sink errors and panics are counted and
// logged, never returned.
func (d *Dispatcher) write(ctx context.Context, rec record.Record) {
	wctx, cancel := context.WithTimeout(ctx, d.settings.WriteTimeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panic: %v", r)
			}
		}()
		return d.sink.Write(wctx, rec)
	}()
	if err == nil {
		d.delivered.Add(1)
		return
	}

	n := d.writeErrors.Add(1)
	if d.writeWarn.Allow() {
		d.logger.Warn("sink write failed",
			zap.Error(err),
			zap.Int64("write_errors_total", n))
	}
}

// Shutdown stops the dispatcher: it keeps accepting for ShutdownGrace,
// drains the queue for at most DrainTimeout, counts undelivered records as
// lost, then flushes and closes the sink. It may be called once; later
// calls return ErrShutdown.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	switch d.state {
	case StateDraining, StateClosed:
		d.mu.Unlock()
		return ErrShutdown
	case StateIdle:
		d.startLocked(context.Background())
	}
	d.state = StateDraining
	d.mu.Unlock()

	if grace := d.settings.ShutdownGrace; grace > 0 {
		t := time.NewTimer(grace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}

	d.mu.Lock()
	d.accepting = false
	d.mu.Unlock()
	close(d.draining)

	timer := time.NewTimer(d.settings.DrainTimeout)
	defer timer.Stop()

	select {
	case <-d.done:
	case <-timer.C:
	case <-ctx.Done():
	}
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done

	lost := int64(0)
	if d.settings.Async {
		d.mu.Lock()
		lost = int64(d.queue.reset())
		d.mu.Unlock()
	}
	lost = d.lost.Add(lost)
	if lost > 0 {
		d.logger.Warn("records lost on shutdown",
			zap.Int64("lost", lost),
			zap.Duration("drain_timeout", d.settings.DrainTimeout))
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.settings.WriteTimeout)
	defer cancel()
	err := errors.Join(d.sink.Flush(flushCtx), d.sink.Close())

	d.mu.Lock()
	d.state = StateClosed
	d.mu.Unlock()

	if err != nil {
		return fmt.Errorf("closing sink: %w", err)
	}
	return nil
}

// Stats returns a snapshot of dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	state := d.state
	queued := 0
	if d.queue != nil {
		queued = d.queue.len()
	}
	d.mu.Unlock()

	return Stats{
		State:          state.String(),
		Queued:         queued,
		Capacity:       d.settings.Capacity,
		Enqueued:       d.enqueued.Load(),
		Delivered:      d.delivered.Load(),
		Dropped:        d.dropped.Load(),
		Rejected:       d.rejected.Load(),
		LostOnShutdown: d.lost.Load(),
		WriteErrors:    d.writeErrors.Load(),
	}
}
