package sampling

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newCoordinator(t *testing.T, mutate func(*Settings), opts ...Option) *Coordinator {
	t.Helper()
	s := DefaultSettings()
	if mutate != nil {
		mutate(&s)
	}
	c, err := New(s, opts...)
	require.NoError(t, err)
	return c
}

func TestSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{"defaults", func(*Settings) {}, false},
		{"zero rate", func(s *Settings) { s.Rate = 0 }, false},
		{"negative rate", func(s *Settings) { s.Rate = -0.1 }, true},
		{"rate above one", func(s *Settings) { s.Rate = 1.5 }, true},
		{"zero idle timeout", func(s *Settings) { s.IdleTimeout = 0 }, true},
		{"zero max traces", func(s *Settings) { s.MaxTraces = 0 }, true},
		{"blank excluded path", func(s *Settings) { s.ExcludedPaths = []string{" "} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSettings)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	a := newCoordinator(t, func(s *Settings) { s.Rate = 0.5 })
	b := newCoordinator(t, func(s *Settings) { s.Rate = 0.5 })

	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("trace-%d", i)
		first := a.Decide(id, "/api", zapcore.InfoLevel, t0)
		again := a.Decide(id, "/api", zapcore.InfoLevel, t0.Add(time.Second))
		other := b.Decide(id, "/api", zapcore.InfoLevel, t0)

		assert.Equal(t, first, again, id)
		assert.Equal(t, first, other, id)
		assert.Equal(t, Sampled(id, 0.5), first.Sampled, id)
		assert.Equal(t, 0.5, first.Rate)
		assert.False(t, first.Forced)
	}
}

func TestDecide_RateConverges(t *testing.T) {
	const n = 100000
	for _, rate := range []float64{0.01, 0.1, 0.3, 0.5, 0.9} {
		t.Run(fmt.Sprint(rate), func(t *testing.T) {
			c := newCoordinator(t, func(s *Settings) {
				s.Rate = rate
				s.MaxTraces = n
			})
			sampled := 0
			for i := 0; i < n; i++ {
				if c.Decide(fmt.Sprintf("req-%08d", i), "", zapcore.InfoLevel, t0).Sampled {
					sampled++
				}
			}
			assert.InDelta(t, rate, float64(sampled)/n, 0.01)
			assert.Equal(t, int64(sampled), c.Stats().Sampled)
		})
	}
}

func TestDecide_RateBounds(t *testing.T) {
	none := newCoordinator(t, func(s *Settings) { s.Rate = 0 })
	all := newCoordinator(t, func(s *Settings) { s.Rate = 1 })

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("t%d", i)
		assert.False(t, none.Decide(id, "", zapcore.InfoLevel, t0).Sampled)
		assert.True(t, all.Decide(id, "", zapcore.InfoLevel, t0).Sampled)
	}
}

func TestDecide_ForceLevelPromotesTail(t *testing.T) {
	c := newCoordinator(t, func(s *Settings) {
		s.Rate = 0
		s.ForceLevel = zapcore.ErrorLevel
	})

	d := c.Decide("trace-1", "/checkout", zapcore.InfoLevel, t0)
	assert.False(t, d.Sampled)

	d = c.Decide("trace-1", "/checkout", zapcore.WarnLevel, t0)
	assert.False(t, d.Sampled)

	d = c.Decide("trace-1", "/checkout", zapcore.ErrorLevel, t0)
	assert.True(t, d.Sampled)
	assert.True(t, d.Forced)

	// Everything after the promoting record is kept.
	for _, lvl := range []zapcore.Level{zapcore.DebugLevel, zapcore.InfoLevel, zapcore.WarnLevel} {
		d = c.Decide("trace-1", "/checkout", lvl, t0)
		assert.True(t, d.Sampled, lvl.String())
	}
	assert.Equal(t, int64(1), c.Stats().Promoted)
}

func TestDecide_ExcludedPaths(t *testing.T) {
	c := newCoordinator(t, func(s *Settings) {
		s.Rate = 1
		s.ExcludedPaths = []string{"/health", "/metrics"}
	})

	d := c.Decide("probe-1", "/healthz", zapcore.InfoLevel, t0)
	assert.False(t, d.Sampled)
	assert.True(t, d.Forced)

	// Exclusion beats forced include and sticks to the trace.
	d = c.Decide("probe-1", "/healthz", zapcore.ErrorLevel, t0)
	assert.False(t, d.Sampled)
	d = c.Decide("probe-1", "/api", zapcore.InfoLevel, t0)
	assert.False(t, d.Sampled)

	d = c.Decide("user-1", "/api/orders", zapcore.InfoLevel, t0)
	assert.True(t, d.Sampled)

	// A sampled trace that later touches an excluded path is excluded.
	d = c.Decide("user-1", "/metrics", zapcore.InfoLevel, t0)
	assert.False(t, d.Sampled)
	assert.True(t, d.Forced)

	assert.Equal(t, int64(2), c.Stats().Excluded)
}

func TestDecide_Untraced(t *testing.T) {
	c := newCoordinator(t, func(s *Settings) {
		s.Rate = 0
		s.ExcludedPaths = []string{"/health"}
	})

	d := c.Decide("", "/api", zapcore.InfoLevel, t0)
	assert.True(t, d.Sampled)
	assert.False(t, d.Forced)

	d = c.Decide("", "/health", zapcore.InfoLevel, t0)
	assert.False(t, d.Sampled)

	assert.Equal(t, 0, c.Len())
}

func TestLifecycle_IdleExpiry(t *testing.T) {
	var mu sync.Mutex
	var notified []string
	c := newCoordinator(t, func(s *Settings) { s.IdleTimeout = 30 * time.Second },
		WithOnExpire(func(id, reason string) {
			mu.Lock()
			defer mu.Unlock()
			notified = append(notified, id+":"+reason)
		}))

	assert.Equal(t, StateUnseen, c.StateOf("trace-a", t0))

	c.Decide("trace-a", "", zapcore.InfoLevel, t0)
	c.Decide("trace-b", "", zapcore.InfoLevel, t0.Add(20*time.Second))
	assert.Equal(t, StateDecided, c.StateOf("trace-a", t0.Add(10*time.Second)))
	assert.Equal(t, StateExpired, c.StateOf("trace-a", t0.Add(30*time.Second)))

	ids := c.Sweep(t0.Add(30 * time.Second))
	assert.Equal(t, []string{"trace-a"}, ids)
	assert.Equal(t, StateUnseen, c.StateOf("trace-a", t0.Add(30*time.Second)))
	assert.Equal(t, StateDecided, c.StateOf("trace-b", t0.Add(30*time.Second)))
	assert.Equal(t, []string{"trace-a:" + record.ReasonTraceComplete}, notified)

	assert.Nil(t, c.Sweep(t0.Add(31*time.Second)))
	assert.Equal(t, int64(1), c.Stats().Expired)
}

func TestLifecycle_LazyExpiryOnDecide(t *testing.T) {
	var notified []string
	c := newCoordinator(t, func(s *Settings) {
		s.Rate = 0
		s.IdleTimeout = time.Second
	}, WithOnExpire(func(id, reason string) { notified = append(notified, reason) }))

	d := c.Decide("trace-1", "", zapcore.ErrorLevel, t0)
	require.True(t, d.Forced)

	// The promoted decision does not outlive the idle window.
	d = c.Decide("trace-1", "", zapcore.InfoLevel, t0.Add(2*time.Second))
	assert.False(t, d.Sampled)
	assert.Equal(t, []string{record.ReasonTraceComplete}, notified)
}

func TestLifecycle_Complete(t *testing.T) {
	var notified []string
	c := newCoordinator(t, nil, WithOnExpire(func(id, reason string) {
		notified = append(notified, id+":"+reason)
	}))

	c.Decide("trace-1", "", zapcore.InfoLevel, t0)
	assert.True(t, c.Complete("trace-1"))
	assert.False(t, c.Complete("trace-1"))
	assert.False(t, c.Complete(""))

	assert.Equal(t, StateUnseen, c.StateOf("trace-1", t0))
	assert.Equal(t, []string{"trace-1:" + record.ReasonTraceComplete}, notified)
	assert.Equal(t, int64(1), c.Stats().Completed)
}

func TestEviction_OldestFirst(t *testing.T) {
	var evicted []string
	c := newCoordinator(t, func(s *Settings) { s.MaxTraces = 2 },
		WithShardCount(1),
		WithOnExpire(func(id, reason string) {
			if reason == record.ReasonEvicted {
				evicted = append(evicted, id)
			}
		}))

	c.Decide("a", "", zapcore.InfoLevel, t0)
	c.Decide("b", "", zapcore.InfoLevel, t0.Add(time.Millisecond))
	c.Decide("a", "", zapcore.InfoLevel, t0.Add(2*time.Millisecond))
	c.Decide("c", "", zapcore.InfoLevel, t0.Add(3*time.Millisecond))

	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.Len())
	_, ok := c.Lookup("a")
	assert.True(t, ok)
	_, ok = c.Lookup("b")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evicted)
}

func TestEviction_BoundedTable(t *testing.T) {
	c := newCoordinator(t, func(s *Settings) { s.MaxTraces = 640 })

	for i := 0; i < 10000; i++ {
		c.Decide(fmt.Sprintf("trace-%d", i), "", zapcore.InfoLevel, t0)
	}
	stats := c.Stats()
	assert.LessOrEqual(t, stats.Active, 640)
	assert.Equal(t, int64(10000), stats.Decided)
	assert.Equal(t, int64(10000-stats.Active), stats.Evicted)
}

func TestSetSettings(t *testing.T) {
	var evicted int
	c := newCoordinator(t, func(s *Settings) {
		s.Rate = 0
		s.MaxTraces = 10
	}, WithShardCount(1), WithOnExpire(func(_, reason string) {
		if reason == record.ReasonEvicted {
			evicted++
		}
	}))

	for i := 0; i < 10; i++ {
		c.Decide(fmt.Sprintf("t%d", i), "", zapcore.InfoLevel, t0)
	}

	bad := c.Settings()
	bad.Rate = 2
	assert.ErrorIs(t, c.SetSettings(bad), ErrInvalidSettings)
	assert.Equal(t, 0.0, c.Settings().Rate)

	next := c.Settings()
	next.Rate = 1
	next.MaxTraces = 4
	require.NoError(t, c.SetSettings(next))

	assert.Equal(t, 4, c.Len())
	assert.Equal(t, 6, evicted)

	// Live decisions keep their outcome; new traces use the new rate.
	d, ok := c.Lookup("t9")
	require.True(t, ok)
	assert.False(t, d.Sampled)
	assert.True(t, c.Decide("fresh", "", zapcore.InfoLevel, t0).Sampled)
}

func TestDecide_Concurrent(t *testing.T) {
	c := newCoordinator(t, func(s *Settings) { s.Rate = 0.5 })

	const workers = 16
	const traces = 200
	results := make([][]Decision, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			out := make([]Decision, traces)
			for i := 0; i < traces; i++ {
				out[i] = c.Decide(fmt.Sprintf("trace-%d", i), "/api", zapcore.InfoLevel, t0)
			}
			results[w] = out
		}(w)
	}
	wg.Wait()

	for w := 1; w < workers; w++ {
		assert.Equal(t, results[0], results[w])
	}
	assert.Equal(t, int64(traces), c.Stats().Decided)
}

func TestDefaultSettings_ExcludeHealthAndMetrics(t *testing.T) {
	c := newCoordinator(t, nil)

	for _, path := range []string{"/health", "/metrics"} {
		d := c.Decide("", path, zapcore.InfoLevel, t0)
		assert.False(t, d.Sampled, path)
	}
	assert.True(t, c.Decide("", "/api", zapcore.InfoLevel, t0).Sampled)

	s := DefaultSettings()
	s.ExcludedPaths[0] = "/changed"
	assert.Equal(t, []string{"/health", "/metrics"}, DefaultSettings().ExcludedPaths)
}
