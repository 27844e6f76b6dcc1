// Package logjson decodes log records from JSON using fastjson.
//
// Records are accepted in two shapes: the native one
// ({"timestamp","body","severity","id","attributes"}) and the flat one used by
// NanoLog ingest clients and nodes ({"timestamp","level","service","host","message"}).
// Keys that are not record fields end up in Attributes.
package logjson

import (
	"fmt"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/nanolog/datasource/internal/model"
)

var parserPool fastjson.ParserPool

// levelNames maps the numeric levels written by NanoLog nodes.
var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

// Value converts a parsed fastjson value to plain Go values
// (map[string]interface{}, []interface{}, string, float64, bool, nil).
func Value(v *fastjson.Value) interface{} {
	if v == nil {
		return nil
	}
	switch v.Type() {
	case fastjson.TypeObject:
		o, _ := v.Object()
		m := make(map[string]interface{}, o.Len())
		o.Visit(func(key []byte, val *fastjson.Value) {
			m[string(key)] = Value(val)
		})
		return m
	case fastjson.TypeArray:
		arr, _ := v.Array()
		out := make([]interface{}, len(arr))
		for i, item := range arr {
			out[i] = Value(item)
		}
		return out
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}

// Record converts a JSON object into a LogRecord.
func Record(v *fastjson.Value) model.LogRecord {
	rec := model.LogRecord{
		Timestamp: v.GetInt64("timestamp"),
		ID:        string(v.GetStringBytes("id")),
		Body:      firstString(v, "body", "message", "msg"),
		Severity:  severity(v),
	}

	o, err := v.Object()
	if err != nil {
		return rec
	}
	attrs := make(map[string]interface{})
	o.Visit(func(key []byte, val *fastjson.Value) {
		switch k := string(key); k {
		case "timestamp", "id", "body", "message", "msg", "severity", "level":
		case "attributes":
			if nested, ok := Value(val).(map[string]interface{}); ok {
				for nk, nv := range nested {
					attrs[nk] = nv
				}
			}
		default:
			attrs[k] = Value(val)
		}
	})
	if len(attrs) > 0 {
		rec.Attributes = attrs
	}
	return rec
}

// ParseRecords parses a single JSON object or an array of objects.
func ParseRecords(data []byte) ([]model.LogRecord, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, err
	}

	switch v.Type() {
	case fastjson.TypeArray:
		arr, _ := v.Array()
		records := make([]model.LogRecord, 0, len(arr))
		for i, item := range arr {
			if item.Type() != fastjson.TypeObject {
				return nil, fmt.Errorf("element %d: expected object, got %s", i, item.Type())
			}
			records = append(records, Record(item))
		}
		return records, nil
	case fastjson.TypeObject:
		return []model.LogRecord{Record(v)}, nil
	default:
		return nil, fmt.Errorf("expected object or array, got %s", v.Type())
	}
}

// ParseAttributes decodes a JSON object into an attribute map. Empty input
// yields a nil map.
func ParseAttributes(data []byte) (map[string]interface{}, error) {
	if len(data) == 0 {
		return nil, nil
	}
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(data)
	if err != nil {
		return nil, err
	}
	m, ok := Value(v).(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("attributes: expected object, got %s", v.Type())
	}
	return m, nil
}

func firstString(v *fastjson.Value, keys ...string) string {
	for _, k := range keys {
		if b := v.GetStringBytes(k); len(b) > 0 {
			return string(b)
		}
	}
	return ""
}

func severity(v *fastjson.Value) string {
	if s := firstString(v, "severity", "level"); s != "" {
		return s
	}
	lvl := v.Get("level")
	if lvl == nil || lvl.Type() != fastjson.TypeNumber {
		return ""
	}
	n := lvl.GetInt()
	if n >= 0 && n < len(levelNames) {
		return levelNames[n]
	}
	return ""
}
