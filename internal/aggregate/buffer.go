// Package aggregate folds bursts of identical low-severity records into
// summary records.
//
// Records are keyed by (message template, level, trace id). Each key keeps
// the timestamps of its most recent occurrences; once more than
// RepeatThreshold land inside BurstWindow, further occurrences are absorbed
// instead of forwarded. The key is flushed as one summary when its window
// reaches MaxWindow, when it reaches MaxCount, when its trace completes,
// when it is evicted as the least recently used key, or on shutdown.
// A summary is only produced when something was absorbed, and its count
// covers every occurrence in the window, forwarded or not.
package aggregate

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

type key struct {
	msg     string
	level   zapcore.Level
	traceID string
}

type entry struct {
	key   key
	first record.Record

	count      int
	forwarded  int
	suppressed int
	firstSeen  time.Time
	lastSeen   time.Time

	// recent holds up to RepeatThreshold timestamps of forwarded
	// occurrences, oldest first.
	recent  []time.Time
	folding bool
}

// Stats is a point-in-time snapshot of buffer counters.
type Stats struct {
	Entries   int
	Passed    int64 // records forwarded individually
	Bypassed  int64 // records at or above Threshold
	Absorbed  int64 // records folded into an entry
	Summaries int64 // summary records emitted
	Evicted   int64 // entries dropped under capacity pressure
}

// Buffer is a bounded LRU of aggregation entries. It is safe for concurrent
// use; a single mutex keeps capacity and recency global across traces.
type Buffer struct {
	mu       sync.Mutex
	settings Settings
	lru      *simplelru.LRU[key, *entry]
	byTrace  map[string]map[key]struct{}
	logger   *zap.Logger
	stats    Stats
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithLogger sets the diagnostic logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Buffer) {
		if l != nil {
			b.logger = l
		}
	}
}

// New creates a Buffer.
func New(s Settings, opts ...Option) (*Buffer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	lru, err := simplelru.NewLRU[key, *entry](s.Capacity, nil)
	if err != nil {
		return nil, err
	}
	b := &Buffer{
		settings: s,
		lru:      lru,
		byTrace:  make(map[string]map[key]struct{}),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Settings returns the current settings.
func (b *Buffer) Settings() Settings {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.settings
}

// SetSettings replaces the settings. Shrinking Capacity evicts the least
// recently used entries; their summaries are returned.
func (b *Buffer) SetSettings(s Settings) ([]record.Record, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []record.Record
	for b.lru.Len() > s.Capacity {
		_, e, ok := b.lru.RemoveOldest()
		if !ok {
			break
		}
		b.unindex(e.key)
		b.stats.Evicted++
		out = b.appendSummary(out, e, record.ReasonEvicted)
	}
	b.lru.Resize(s.Capacity)
	b.settings = s
	return out, nil
}

// Add offers rec observed at now. It returns the records to forward, in
// order: summaries flushed as a side effect, then rec itself unless it was
// absorbed.
func (b *Buffer) Add(rec record.Record, now time.Time) []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	if rec.Level >= b.settings.Threshold || rec.IsAggregate() {
		b.stats.Bypassed++
		return []record.Record{rec}
	}

	k := key{msg: rec.Message, level: rec.Level, traceID: rec.TraceID}
	var out []record.Record

	e, ok := b.lru.Get(k)
	if ok && now.Sub(e.firstSeen) >= b.settings.MaxWindow {
		b.remove(e)
		out = b.appendSummary(out, e, record.ReasonWindow)
		ok = false
	}
	if !ok {
		if b.lru.Len() >= b.settings.Capacity {
			if _, old, evicted := b.lru.RemoveOldest(); evicted {
				b.unindex(old.key)
				b.stats.Evicted++
				out = b.appendSummary(out, old, record.ReasonEvicted)
			}
		}
		e = &entry{
			key:       k,
			first:     rec,
			firstSeen: now,
			recent:    make([]time.Time, 0, b.settings.RepeatThreshold),
		}
		b.lru.Add(k, e)
		b.index(k)
	}

	e.count++
	e.lastSeen = now

	if !e.folding && b.burst(e, now) {
		e.folding = true
	}
	if e.folding {
		e.suppressed++
		b.stats.Absorbed++
	} else {
		e.forwarded++
		b.stats.Passed++
		out = append(out, rec)
	}

	if e.count >= b.settings.MaxCount {
		b.remove(e)
		out = b.appendSummary(out, e, record.ReasonCount)
	}
	return out
}

// burst records an occurrence at now and reports whether it is one more
// than RepeatThreshold inside BurstWindow.
func (b *Buffer) burst(e *entry, now time.Time) bool {
	n := b.settings.RepeatThreshold
	if k := len(e.recent); k > n {
		// RepeatThreshold was lowered since these were recorded.
		e.recent = append(e.recent[:0], e.recent[k-n:]...)
	}
	if len(e.recent) == n {
		if now.Sub(e.recent[0]) <= b.settings.BurstWindow {
			return true
		}
		copy(e.recent, e.recent[1:])
		e.recent = e.recent[:len(e.recent)-1]
	}
	e.recent = append(e.recent, now)
	return false
}

// Tick flushes entries whose window reached MaxWindow at now.
func (b *Buffer) Tick(now time.Time) []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []record.Record
	for _, k := range b.lru.Keys() {
		e, ok := b.lru.Peek(k)
		if !ok || now.Sub(e.firstSeen) < b.settings.MaxWindow {
			continue
		}
		b.remove(e)
		out = b.appendSummary(out, e, record.ReasonWindow)
	}
	return out
}

// FlushTrace flushes every entry belonging to traceID.
func (b *Buffer) FlushTrace(traceID, reason string) []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	keys := b.byTrace[traceID]
	if len(keys) == 0 {
		return nil
	}
	entries := make([]*entry, 0, len(keys))
	for k := range keys {
		if e, ok := b.lru.Peek(k); ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].firstSeen.Before(entries[j].firstSeen)
	})

	var out []record.Record
	for _, e := range entries {
		b.remove(e)
		out = b.appendSummary(out, e, reason)
	}
	return out
}

// FlushAll empties the buffer, returning every pending summary.
func (b *Buffer) FlushAll() []record.Record {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []record.Record
	for _, k := range b.lru.Keys() {
		if e, ok := b.lru.Peek(k); ok {
			out = b.appendSummary(out, e, record.ReasonShutdown)
		}
	}
	b.lru.Purge()
	b.byTrace = make(map[string]map[key]struct{})
	if len(out) > 0 {
		b.logger.Debug("flushed aggregation buffer", zap.Int("summaries", len(out)))
	}
	return out
}

// Len returns the number of tracked keys.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lru.Len()
}

// Stats returns a snapshot of buffer counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	s.Entries = b.lru.Len()
	return s
}

func (b *Buffer) remove(e *entry) {
	b.lru.Remove(e.key)
	b.unindex(e.key)
}

func (b *Buffer) index(k key) {
	keys, ok := b.byTrace[k.traceID]
	if !ok {
		keys = make(map[key]struct{})
		b.byTrace[k.traceID] = keys
	}
	keys[k] = struct{}{}
}

func (b *Buffer) unindex(k key) {
	keys := b.byTrace[k.traceID]
	delete(keys, k)
	if len(keys) == 0 {
		delete(b.byTrace, k.traceID)
	}
}

// appendSummary appends the summary for e if anything was absorbed.
func (b *Buffer) appendSummary(out []record.Record, e *entry, reason string) []record.Record {
	if e.suppressed == 0 {
		return out
	}
	b.stats.Summaries++

	rec := e.first
	rec.Time = e.lastSeen
	rec.Fields = e.first.Fields.Clone()
	rec.Aggregation = &record.AggregationMeta{
		Count:      e.count,
		Forwarded:  e.forwarded,
		Suppressed: e.suppressed,
		FirstSeen:  e.firstSeen,
		LastSeen:   e.lastSeen,
		Window:     e.lastSeen.Sub(e.firstSeen),
		Reason:     reason,
	}
	return append(out, rec)
}
