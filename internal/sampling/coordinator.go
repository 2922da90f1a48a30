package sampling

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// ShardCount is the default number of independently locked decision tables.
const ShardCount = 32

// State is the lifecycle state of a trace in the coordinator.
type State uint8

const (
	StateUnseen State = iota
	StateDecided
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateDecided:
		return "decided"
	case StateExpired:
		return "expired"
	default:
		return "unseen"
	}
}

// Decision is the retain/drop outcome for a trace.
type Decision struct {
	Sampled bool
	Rate    float64

	// Forced is set when an override, not the rate, produced the outcome.
	Forced bool
}

// ExpireFunc is called after a trace decision is discarded. reason is
// record.ReasonTraceComplete for idle expiry and explicit completion, and
// record.ReasonEvicted for capacity eviction. It runs on the caller's
// goroutine with no coordinator locks held.
type ExpireFunc func(traceID, reason string)

// Stats is a point-in-time snapshot of coordinator counters.
type Stats struct {
	Active    int   // live decisions
	Decided   int64 // traces decided
	Sampled   int64 // traces initially decided as sampled
	Excluded  int64 // traces forced out by an excluded path
	Promoted  int64 // traces promoted by a record at or above ForceLevel
	Expired   int64 // decisions discarded after the idle window
	Completed int64 // decisions discarded by Complete
	Evicted   int64 // decisions discarded under capacity pressure
}

type entry struct {
	decision Decision
	lastSeen time.Time
	excluded bool
}

type shard struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *entry]
	capacity int
}

type expired struct {
	traceID string
	reason  string
}

// Coordinator holds one sampling decision per live trace. It is safe for
// concurrent use.
type Coordinator struct {
	settings atomic.Pointer[Settings]
	shards   []*shard
	onExpire ExpireFunc
	logger   *zap.Logger

	decided   atomic.Int64
	sampled   atomic.Int64
	excluded  atomic.Int64
	promoted  atomic.Int64
	expired   atomic.Int64
	completed atomic.Int64
	evicted   atomic.Int64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithOnExpire registers a callback for discarded decisions.
func WithOnExpire(fn ExpireFunc) Option {
	return func(c *Coordinator) {
		c.onExpire = fn
	}
}

// WithShardCount overrides ShardCount. n below 1 is ignored.
func WithShardCount(n int) Option {
	return func(c *Coordinator) {
		if n >= 1 {
			c.shards = make([]*shard, n)
		}
	}
}

// New creates a Coordinator.
func New(s Settings, opts ...Option) (*Coordinator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		shards: make([]*shard, ShardCount),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	perShard := shardCapacity(s.MaxTraces, len(c.shards))
	for i := range c.shards {
		lru, err := simplelru.NewLRU[string, *entry](perShard, nil)
		if err != nil {
			return nil, fmt.Errorf("creating decision table: %w", err)
		}
		c.shards[i] = &shard{lru: lru, capacity: perShard}
	}

	settings := s
	c.settings.Store(&settings)
	return c, nil
}

func shardCapacity(maxTraces, shards int) int {
	n := (maxTraces + shards - 1) / shards
	if n < 1 {
		n = 1
	}
	return n
}

// Settings returns the current settings snapshot.
func (c *Coordinator) Settings() Settings {
	return *c.settings.Load()
}

// SetSettings atomically replaces the settings. Existing decisions keep
// their outcome; a smaller MaxTraces evicts the least recently active
// traces immediately.
func (c *Coordinator) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	settings := s
	old := c.settings.Swap(&settings)
	if old.MaxTraces == s.MaxTraces {
		return nil
	}

	perShard := shardCapacity(s.MaxTraces, len(c.shards))
	var gone []expired
	for _, sh := range c.shards {
		sh.mu.Lock()
		for sh.lru.Len() > perShard {
			k, _, ok := sh.lru.RemoveOldest()
			if !ok {
				break
			}
			gone = append(gone, expired{k, record.ReasonEvicted})
		}
		sh.lru.Resize(perShard)
		sh.capacity = perShard
		sh.mu.Unlock()
	}
	c.evicted.Add(int64(len(gone)))
	c.notify(gone)
	return nil
}

func (c *Coordinator) shardFor(h uint64) *shard {
	return c.shards[h%uint64(len(c.shards))]
}

// Decide returns the decision for the trace a record belongs to and records
// activity for the trace at now.
//
// A record with an empty trace id has no trace to keep consistent: it is
// retained unless its path is excluded, and no table entry is created.
func (c *Coordinator) Decide(traceID, path string, level zapcore.Level, now time.Time) Decision {
	s := c.settings.Load()
	if traceID == "" {
		return untraced(s, path, level)
	}

	h := xxhash.Sum64String(traceID)
	sh := c.shardFor(h)
	var gone []expired

	sh.mu.Lock()
	e, ok := sh.lru.Get(traceID)
	if ok && now.Sub(e.lastSeen) >= s.IdleTimeout {
		sh.lru.Remove(traceID)
		gone = append(gone, expired{traceID, record.ReasonTraceComplete})
		c.expired.Add(1)
		ok = false
	}
	if !ok {
		e = c.initial(s, h, path)
		if sh.lru.Len() >= sh.capacity {
			if k, _, evicted := sh.lru.RemoveOldest(); evicted {
				gone = append(gone, expired{k, record.ReasonEvicted})
				c.evicted.Add(1)
			}
		}
		sh.lru.Add(traceID, e)
	} else if !e.excluded && s.excluded(path) {
		e.excluded = true
		e.decision = Decision{Sampled: false, Rate: e.decision.Rate, Forced: true}
		c.excluded.Add(1)
	}

	if !e.excluded && !e.decision.Sampled && level >= s.ForceLevel {
		e.decision.Sampled = true
		e.decision.Forced = true
		c.promoted.Add(1)
	}
	e.lastSeen = now
	d := e.decision
	sh.mu.Unlock()

	c.notify(gone)
	return d
}

func (c *Coordinator) initial(s *Settings, h uint64, path string) *entry {
	c.decided.Add(1)
	if s.excluded(path) {
		c.excluded.Add(1)
		return &entry{
			decision: Decision{Sampled: false, Rate: s.Rate, Forced: true},
			excluded: true,
		}
	}
	sampled := unit(h) < s.Rate
	if sampled {
		c.sampled.Add(1)
	}
	return &entry{decision: Decision{Sampled: sampled, Rate: s.Rate}}
}

func untraced(s *Settings, path string, level zapcore.Level) Decision {
	if s.excluded(path) {
		return Decision{Sampled: false, Rate: s.Rate, Forced: true}
	}
	return Decision{Sampled: true, Rate: 1, Forced: level >= s.ForceLevel}
}

// unit maps the top 53 bits of h onto [0, 1).
func unit(h uint64) float64 {
	return float64(h>>11) / (1 << 53)
}

// Sampled reports the rate-only decision for traceID. It is the function
// Decide applies to a trace's first record when no override fires.
func Sampled(traceID string, rate float64) bool {
	return unit(xxhash.Sum64String(traceID)) < rate
}

// StateOf reports the lifecycle state of a trace without recording
// activity.
func (c *Coordinator) StateOf(traceID string, now time.Time) State {
	if traceID == "" {
		return StateUnseen
	}
	sh := c.shardFor(xxhash.Sum64String(traceID))
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lru.Peek(traceID)
	if !ok {
		return StateUnseen
	}
	if now.Sub(e.lastSeen) >= c.settings.Load().IdleTimeout {
		return StateExpired
	}
	return StateDecided
}

// Lookup returns the live decision for a trace without recording activity.
func (c *Coordinator) Lookup(traceID string) (Decision, bool) {
	if traceID == "" {
		return Decision{}, false
	}
	sh := c.shardFor(xxhash.Sum64String(traceID))
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.lru.Peek(traceID)
	if !ok {
		return Decision{}, false
	}
	return e.decision, true
}

// Complete discards the decision for a finished trace. It reports whether
// the trace was known.
func (c *Coordinator) Complete(traceID string) bool {
	if traceID == "" {
		return false
	}
	sh := c.shardFor(xxhash.Sum64String(traceID))
	sh.mu.Lock()
	removed := sh.lru.Remove(traceID)
	sh.mu.Unlock()

	if !removed {
		return false
	}
	c.completed.Add(1)
	c.notify([]expired{{traceID, record.ReasonTraceComplete}})
	return true
}

// Sweep discards every decision idle for at least IdleTimeout at now and
// returns the expired trace ids.
func (c *Coordinator) Sweep(now time.Time) []string {
	idle := c.settings.Load().IdleTimeout
	var gone []expired

	for _, sh := range c.shards {
		sh.mu.Lock()
		// Keys are ordered least recently active first.
		for _, k := range sh.lru.Keys() {
			e, ok := sh.lru.Peek(k)
			if !ok {
				continue
			}
			if now.Sub(e.lastSeen) < idle {
				break
			}
			sh.lru.Remove(k)
			gone = append(gone, expired{k, record.ReasonTraceComplete})
		}
		sh.mu.Unlock()
	}
	if len(gone) == 0 {
		return nil
	}

	c.expired.Add(int64(len(gone)))
	c.logger.Debug("expired idle traces", zap.Int("count", len(gone)))
	c.notify(gone)

	ids := make([]string, len(gone))
	for i, g := range gone {
		ids[i] = g.traceID
	}
	return ids
}

func (c *Coordinator) notify(gone []expired) {
	if c.onExpire == nil {
		return
	}
	for _, g := range gone {
		c.onExpire(g.traceID, g.reason)
	}
}

// Len returns the number of live decisions.
func (c *Coordinator) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.Lock()
		n += sh.lru.Len()
		sh.mu.Unlock()
	}
	return n
}

// Stats returns a snapshot of the coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Active:    c.Len(),
		Decided:   c.decided.Load(),
		Sampled:   c.sampled.Load(),
		Excluded:  c.excluded.Load(),
		Promoted:  c.promoted.Load(),
		Expired:   c.expired.Load(),
		Completed: c.completed.Load(),
		Evicted:   c.evicted.Load(),
	}
}
