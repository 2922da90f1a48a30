package sanitize

import (
	"sort"
	"time"
)

// Report describes what a single sanitization call changed. Reports are
// never persisted and never carry the original values.
type Report struct {
	// Fields is the sorted set of field paths that were transformed.
	Fields []string

	// Changed counts transformed values.
	Changed int

	// ByPattern maps rule IDs (or RuleFieldName) to hit counts.
	ByPattern map[string]int

	// Failures counts values that could not be transformed and were fully
	// redacted instead.
	Failures int

	// Cycles counts self-references replaced by CircularMarker.
	Cycles int

	// Duration is how long the call took.
	Duration time.Duration

	touched map[string]struct{}
}

func newReport() *Report {
	return &Report{ByPattern: make(map[string]int)}
}

func (r *Report) hit(path, rule string) {
	r.Changed++
	r.ByPattern[rule]++
	if r.touched == nil {
		r.touched = make(map[string]struct{})
	}
	r.touched[path] = struct{}{}
}

func (r *Report) finish(start time.Time) {
	r.Fields = make([]string, 0, len(r.touched))
	for f := range r.touched {
		r.Fields = append(r.Fields, f)
	}
	sort.Strings(r.Fields)
	r.Duration = time.Since(start)
}

// HasChanges reports whether anything was transformed.
func (r *Report) HasChanges() bool {
	return r.Changed > 0
}
