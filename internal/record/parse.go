package record

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fastjson"
	"go.uber.org/zap/zapcore"
)

// ErrInvalidRecord is returned when an inbound JSON document is not a record.
var ErrInvalidRecord = errors.New("invalid record")

// Parser decodes inbound JSON log records. It is safe for concurrent use.
type Parser struct {
	pool fastjson.ParserPool
	now  func() time.Time
}

// NewParser creates a parser. now supplies timestamps for records that carry
// none; nil uses time.Now.
func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

// Parse decodes a single JSON object or an array of objects.
//
// Recognized keys: ts/time/timestamp (RFC3339 string or unix nanoseconds),
// level, msg/message, trace_id, path, fields (object). Every other top-level
// key becomes a field, in document order.
func (p *Parser) Parse(data []byte) ([]Record, error) {
	parser := p.pool.Get()
	defer p.pool.Put(parser)

	v, err := parser.ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	if v.Type() == fastjson.TypeArray {
		arr, _ := v.Array()
		out := make([]Record, 0, len(arr))
		for i, item := range arr {
			rec, err := p.decode(item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out = append(out, rec)
		}
		return out, nil
	}

	rec, err := p.decode(v)
	if err != nil {
		return nil, err
	}
	return []Record{rec}, nil
}

func (p *Parser) decode(v *fastjson.Value) (Record, error) {
	obj, err := v.Object()
	if err != nil {
		return Record{}, fmt.Errorf("%w: expected object, got %s", ErrInvalidRecord, v.Type())
	}

	rec := Record{Level: zapcore.InfoLevel}
	var decodeErr error
	obj.Visit(func(key []byte, val *fastjson.Value) {
		if decodeErr != nil {
			return
		}
		k := string(key)
		switch k {
		case "ts", "time", "timestamp":
			rec.Time = decodeTime(val)
		case "level", "severity":
			lvl, err := zapcore.ParseLevel(strings.ToLower(string(val.GetStringBytes())))
			if err != nil {
				decodeErr = fmt.Errorf("%w: %v", ErrInvalidRecord, err)
				return
			}
			rec.Level = lvl
		case "msg", "message":
			rec.Message = string(val.GetStringBytes())
		case "trace_id":
			rec.TraceID = string(val.GetStringBytes())
		case "path":
			rec.Path = string(val.GetStringBytes())
		case "fields":
			fo, err := val.Object()
			if err != nil {
				decodeErr = fmt.Errorf("%w: fields must be an object", ErrInvalidRecord)
				return
			}
			fo.Visit(func(fk []byte, fv *fastjson.Value) {
				rec.Fields = append(rec.Fields, Field{Key: string(fk), Value: toValue(fv)})
			})
		default:
			rec.Fields = append(rec.Fields, Field{Key: k, Value: toValue(val)})
		}
	})
	if decodeErr != nil {
		return Record{}, decodeErr
	}
	if rec.Time.IsZero() {
		rec.Time = p.now()
	}
	return rec, nil
}

func decodeTime(v *fastjson.Value) time.Time {
	switch v.Type() {
	case fastjson.TypeNumber:
		return time.Unix(0, v.GetInt64())
	case fastjson.TypeString:
		t, err := time.Parse(time.RFC3339Nano, string(v.GetStringBytes()))
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

// toValue converts a fastjson value into plain Go values: map[string]any,
// []any, string, int64/float64, bool or nil.
func toValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		m := make(map[string]any, o.Len())
		o.Visit(func(k []byte, val *fastjson.Value) {
			m[string(k)] = toValue(val)
		})
		return m
	case fastjson.TypeArray:
		arr, _ := v.Array()
		out := make([]any, len(arr))
		for i, item := range arr {
			out[i] = toValue(item)
		}
		return out
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return i
		}
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
