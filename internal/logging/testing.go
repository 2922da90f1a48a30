package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/logsieve/internal/sanitize"
)

// TestLogger is a Logger whose entries are kept in memory for assertions.
// Everything down to Trace is recorded.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   newLogger(zap.New(core), zap.NewAtomicLevelAt(TraceLevel)),
		observed: observed,
	}
}

func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// Zap returns the recording logger in the form pipeline components take.
func (t *TestLogger) Zap() *zap.Logger { return t.base }

func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() { t.observed.TakeAll() }

// matching returns the entries at level whose message contains substr.
func (t *TestLogger) matching(level zapcore.Level, substr string) []observer.LoggedEntry {
	return t.observed.Filter(func(e observer.LoggedEntry) bool {
		return e.Level == level && strings.Contains(e.Message, substr)
	}).All()
}

func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if len(t.matching(level, substr)) == 0 {
		tb.Errorf("no %s entry containing %q among %d entries", LevelString(level), substr, t.observed.Len())
	}
}

func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, substr string) {
	tb.Helper()
	if n := len(t.matching(level, substr)); n > 0 {
		tb.Errorf("%d unexpected %s entries containing %q", n, LevelString(level), substr)
	}
}

// AssertField checks that some entry with message msg carries key=want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		got, ok := e.ContextMap()[key]
		if ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}

// AssertNoSecrets fails when a message or string field matches a built-in
// secret or PII rule, or when a sensitive field name holds an unredacted
// value.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	m, err := sanitize.NewMatcher(nil, nil)
	if err != nil {
		tb.Fatalf("building matcher: %v", err)
	}

	leak := func(where, s string) {
		if rule, ok := m.MatchValue(s); ok {
			tb.Errorf("%s matches %s: %q", where, rule, s)
		}
	}
	for _, e := range t.observed.All() {
		leak("message", e.Message)
		for _, f := range e.Context {
			if f.Type != zapcore.StringType {
				continue
			}
			switch {
			case !m.MatchName(f.Key):
				leak("field "+f.Key, f.String)
			case f.String != "" && !strings.Contains(f.String, "[REDACTED"):
				tb.Errorf("sensitive field %q not redacted: %q", f.Key, f.String)
			}
		}
	}
}
