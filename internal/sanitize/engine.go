package sanitize

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/logsieve/internal/record"
)

// Engine sanitizes structured values according to a compiled policy.
//
// Output has the same shape as the input: mappings stay mappings, sequences
// stay sequences and scalars stay scalars. The only exception is a
// self-reference, which is replaced by CircularMarker at the point where the
// cycle closes. Inputs are never mutated; a container is copied only when
// one of its descendants changed, otherwise the original is returned.
//
// An Engine is immutable and safe for concurrent use.
type Engine struct {
	policy *CompiledPolicy
	logger *zap.Logger
}

// New creates an engine for policy. A nil logger disables diagnostics.
func New(policy *CompiledPolicy, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{policy: policy, logger: logger}
}

// Policy returns the engine's compiled policy.
func (e *Engine) Policy() *CompiledPolicy {
	return e.policy
}

// Sanitize returns a sanitized copy of v and a report of what changed.
func (e *Engine) Sanitize(v any) (any, *Report) {
	start := time.Now()
	w := e.newWalker()
	out := w.guard("", v, func() (any, bool) {
		return w.value("", "", v, nil)
	})
	w.report.finish(start)
	return out, w.report
}

// SanitizeFields sanitizes an ordered field list. Each field name is checked
// against the policy before its value is inspected.
func (e *Engine) SanitizeFields(fs record.Fields) (record.Fields, *Report) {
	start := time.Now()
	w := e.newWalker()
	out, _ := w.fields("", fs, nil)
	w.report.finish(start)
	return out, w.report
}

// SanitizeRecord sanitizes a record's fields and, when value inspection is
// enabled, its message. The input record is left untouched.
func (e *Engine) SanitizeRecord(rec record.Record) (record.Record, *Report) {
	start := time.Now()
	w := e.newWalker()
	fields, fieldsChanged := w.fields("", rec.Fields, nil)
	msg := rec.Message
	if e.policy.inspectValues {
		out := w.guard(record.KeyMessage, msg, func() (any, bool) {
			return w.inspect(record.KeyMessage, msg)
		})
		msg, _ = out.(string)
	}
	w.report.finish(start)

	if !fieldsChanged && msg == rec.Message {
		return rec, w.report
	}
	out := rec
	out.Fields = fields
	out.Message = msg
	return out, w.report
}

func (e *Engine) newWalker() *walker {
	return &walker{
		policy: e.policy,
		logger: e.logger,
		report: newReport(),
	}
}

// visitKey identifies a composite by identity: its type, data pointer and,
// for slices, length.
type visitKey struct {
	typ reflect.Type
	ptr uintptr
	n   int
}

// walker holds the per-call state of one sanitization. The active set holds
// the composites on the current descent path and is discarded with the
// walker.
type walker struct {
	policy *CompiledPolicy
	logger *zap.Logger
	report *Report
	active map[visitKey]struct{}
}

func (w *walker) enter(k visitKey) bool {
	if w.active == nil {
		w.active = make(map[visitKey]struct{})
	}
	if _, ok := w.active[k]; ok {
		w.report.Cycles++
		return false
	}
	w.active[k] = struct{}{}
	return true
}

func (w *walker) leave(k visitKey) {
	delete(w.active, k)
}

func identity(rv reflect.Value) visitKey {
	k := visitKey{typ: rv.Type(), ptr: rv.Pointer()}
	if rv.Kind() == reflect.Slice {
		k.n = rv.Len()
	}
	return k
}

// guard runs fn and converts a panic into full redaction of the value.
func (w *walker) guard(path string, orig any, fn func() (any, bool)) (out any) {
	defer func() {
		if r := recover(); r != nil {
			w.report.Failures++
			w.report.hit(path, "failure")
			w.logger.Warn("sanitization failed, value redacted",
				zap.String("field", path),
				zap.Any("panic", r),
			)
			out = RedactedMarker
		}
	}()
	v, _ := fn()
	return v
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

// child resolves the policy for a keyed child and sanitizes its value.
func (w *walker) child(parent, key string, v any, forced *Strategy) (out any, changed bool) {
	path := joinPath(parent, key)
	if w.policy.excludedField(path, key) {
		return v, false
	}
	if forced == nil {
		if s, sensitive := w.policy.StrategyFor(path, key); sensitive {
			forced = &s
		}
	}

	defer func() {
		if r := recover(); r != nil {
			w.report.Failures++
			w.report.hit(path, "failure")
			w.logger.Warn("sanitization failed, value redacted",
				zap.String("field", path),
				zap.Any("panic", r),
			)
			out, changed = RedactedMarker, true
		}
	}()
	return w.value(path, key, v, forced)
}

// value dispatches on the dynamic type of v. forced is non-nil when an
// ancestor field name was sensitive; every leaf below it is transformed.
func (w *walker) value(path, key string, v any, forced *Strategy) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case string:
		return w.str(path, t, forced)
	case map[string]any:
		return w.mapAny(path, t, forced)
	case []any:
		return w.sliceAny(path, key, t, forced)
	case record.Fields:
		return w.fields(path, t, forced)
	case map[string]string:
		return w.mapString(path, t, forced)
	case []string:
		return w.sliceString(path, t, forced)
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64,
		float32, float64, time.Time, time.Duration, []byte, error, fmt.Stringer:
		return w.scalar(path, t, forced)
	default:
		return w.reflectValue(path, key, v, forced)
	}
}

func (w *walker) str(path, s string, forced *Strategy) (any, bool) {
	if s == "" {
		return s, false
	}
	if forced != nil {
		out := forced.Apply(s)
		if out == s {
			return s, false
		}
		w.report.hit(path, RuleFieldName)
		return out, true
	}
	if !w.policy.inspectValues {
		return s, false
	}
	return w.inspect(path, s)
}

// inspect replaces every detected span in s with the default strategy's
// rendering of that span.
func (w *walker) inspect(path, s string) (any, bool) {
	out, matches := w.policy.matcher.ReplaceAll(s, func(span, _ string) string {
		return w.policy.defaultStrategy.Apply(span)
	})
	if len(matches) == 0 {
		return s, false
	}
	for _, m := range matches {
		w.report.hit(path, m.RuleID)
	}
	return out, true
}

// scalar transforms a non-string leaf under a sensitive name. Without one,
// non-string scalars are left as they are.
func (w *walker) scalar(path string, v any, forced *Strategy) (any, bool) {
	if forced == nil {
		return v, false
	}
	s, ok := stringify(v)
	if !ok {
		w.report.Failures++
		w.report.hit(path, "failure")
		return RedactedMarker, true
	}
	w.report.hit(path, RuleFieldName)
	return forced.Apply(s), true
}

func (w *walker) mapAny(path string, m map[string]any, forced *Strategy) (any, bool) {
	if len(m) == 0 {
		return m, false
	}
	k := identity(reflect.ValueOf(m))
	if !w.enter(k) {
		return CircularMarker, true
	}
	defer w.leave(k)

	var out map[string]any
	for key, v := range m {
		nv, changed := w.child(path, key, v, forced)
		if !changed {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(m))
			for ok, ov := range m {
				out[ok] = ov
			}
		}
		out[key] = nv
	}
	if out == nil {
		return m, false
	}
	return out, true
}

func (w *walker) mapString(path string, m map[string]string, forced *Strategy) (any, bool) {
	var out map[string]string
	for key, v := range m {
		nv, changed := w.child(path, key, v, forced)
		if !changed {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(m))
			for ok, ov := range m {
				out[ok] = ov
			}
		}
		s, _ := nv.(string)
		out[key] = s
	}
	if out == nil {
		return m, false
	}
	return out, true
}

// sliceAny sanitizes sequence elements under the sequence's own field name.
func (w *walker) sliceAny(path, key string, s []any, forced *Strategy) (any, bool) {
	if len(s) == 0 {
		return s, false
	}
	k := identity(reflect.ValueOf(s))
	if !w.enter(k) {
		return CircularMarker, true
	}
	defer w.leave(k)

	var out []any
	for i, v := range s {
		nv, changed := w.element(path, key, i, v, forced)
		if !changed {
			continue
		}
		if out == nil {
			out = make([]any, len(s))
			copy(out, s)
		}
		out[i] = nv
	}
	if out == nil {
		return s, false
	}
	return out, true
}

func (w *walker) sliceString(path string, s []string, forced *Strategy) (any, bool) {
	var out []string
	for i, v := range s {
		nv, changed := w.str(path, v, forced)
		if !changed {
			continue
		}
		if out == nil {
			out = make([]string, len(s))
			copy(out, s)
		}
		out[i], _ = nv.(string)
	}
	if out == nil {
		return s, false
	}
	return out, true
}

// element sanitizes one sequence element. Elements inherit the policy of
// the enclosing field.
func (w *walker) element(path, key string, i int, v any, forced *Strategy) (out any, changed bool) {
	defer func() {
		if r := recover(); r != nil {
			w.report.Failures++
			w.report.hit(path, "failure")
			w.logger.Warn("sanitization failed, value redacted",
				zap.String("field", path),
				zap.Int("index", i),
				zap.Any("panic", r),
			)
			out, changed = RedactedMarker, true
		}
	}()
	return w.value(path, key, v, forced)
}

func (w *walker) fields(path string, fs record.Fields, forced *Strategy) (record.Fields, bool) {
	var out record.Fields
	for i, f := range fs {
		nv, changed := w.child(path, f.Key, f.Value, forced)
		if !changed {
			continue
		}
		if out == nil {
			out = fs.Clone()
		}
		out[i] = record.Field{Key: f.Key, Value: nv}
	}
	if out == nil {
		return fs, false
	}
	return out, true
}

// reflectValue handles containers the fast paths do not know: typed maps,
// slices, arrays, pointers and structs. Changed mappings come back as
// map[string]any and changed sequences as []any.
func (w *walker) reflectValue(path, key string, v any, forced *Strategy) (any, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return v, false
		}
		k := identity(rv)
		if !w.enter(k) {
			return CircularMarker, true
		}
		defer w.leave(k)
		nv, changed := w.value(path, key, rv.Elem().Interface(), forced)
		if !changed {
			return v, false
		}
		return nv, true

	case reflect.Map:
		if rv.IsNil() || rv.Len() == 0 {
			return v, false
		}
		k := identity(rv)
		if !w.enter(k) {
			return CircularMarker, true
		}
		defer w.leave(k)

		out := make(map[string]any, rv.Len())
		dirty := false
		iter := rv.MapRange()
		for iter.Next() {
			mk := fmt.Sprint(iter.Key().Interface())
			nv, changed := w.child(path, mk, iter.Value().Interface(), forced)
			out[mk] = nv
			dirty = dirty || changed
		}
		if !dirty {
			return v, false
		}
		return out, true

	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice {
			if rv.IsNil() || rv.Len() == 0 {
				return v, false
			}
			k := identity(rv)
			if !w.enter(k) {
				return CircularMarker, true
			}
			defer w.leave(k)
		}
		out := make([]any, rv.Len())
		dirty := false
		for i := 0; i < rv.Len(); i++ {
			nv, changed := w.element(path, key, i, rv.Index(i).Interface(), forced)
			out[i] = nv
			dirty = dirty || changed
		}
		if !dirty {
			return v, false
		}
		return out, true

	case reflect.Struct:
		t := rv.Type()
		out := make(map[string]any, rv.NumField())
		dirty := false
		for i := 0; i < rv.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() {
				continue
			}
			name := fieldName(sf)
			if name == "-" {
				continue
			}
			nv, changed := w.child(path, name, rv.Field(i).Interface(), forced)
			out[name] = nv
			dirty = dirty || changed
		}
		if !dirty {
			return v, false
		}
		return out, true

	default:
		return w.scalar(path, v, forced)
	}
}

// fieldName returns the json tag name of a struct field, or its Go name.
func fieldName(sf reflect.StructField) string {
	if tag, ok := sf.Tag.Lookup("json"); ok {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" {
			return name
		}
	}
	return sf.Name
}

// stringify converts a scalar to a stable string form. It never panics;
// ok is false if the value's own formatting panicked.
func stringify(v any) (s string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s, ok = "", false
		}
	}()

	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), true
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	case error:
		return t.Error(), true
	case fmt.Stringer:
		return t.String(), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}
