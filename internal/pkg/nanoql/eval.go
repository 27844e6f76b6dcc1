package nanoql

import (
	"fmt"
	"strconv"
	"strings"
)

// Record is the view of a log entry the evaluator needs.
type Record interface {
	GetTimestamp() int64
	GetSeverity() string
	GetBody() string
	GetID() string
	GetAttributes() map[string]interface{}
}

// Compile parses input and returns a predicate over records. Blank input matches
// everything.
func Compile(input string) (func(Record) bool, error) {
	expr, err := Parse(input)
	if err != nil {
		return nil, err
	}
	if expr == nil {
		return func(Record) bool { return true }, nil
	}
	return expr.Eval, nil
}

func (e And) Eval(rec Record) bool { return e.Left.Eval(rec) && e.Right.Eval(rec) }

func (e Or) Eval(rec Record) bool { return e.Left.Eval(rec) || e.Right.Eval(rec) }

func (e Not) Eval(rec Record) bool { return !e.X.Eval(rec) }

// Eval compares case-insensitively. Body fields are free text, so = and != on
// them test for a substring.
func (t Term) Eval(rec Record) bool {
	if t.Field == "" {
		return fullText(rec, strings.ToLower(t.Value))
	}

	field := strings.ToLower(t.Field)
	value, found := fieldValue(rec, field, t.Field)

	var hit bool
	switch {
	case t.Op == OpContains || isBodyField(field):
		hit = found && containsFold(value, t.Value)
	default:
		hit = found && strings.EqualFold(value, t.Value)
	}
	if t.Op == OpNeq {
		return !hit
	}
	return hit
}

func isBodyField(field string) bool {
	return field == "body" || field == "message" || field == "msg"
}

// fieldValue resolves a field name. Names that are not built-in fields are looked
// up in the attributes, where dots descend into nested objects.
func fieldValue(rec Record, lower, name string) (string, bool) {
	switch lower {
	case "severity", "level", "lvl":
		return rec.GetSeverity(), true
	case "body", "message", "msg":
		return rec.GetBody(), true
	case "id":
		return rec.GetID(), true
	case "timestamp", "ts":
		return strconv.FormatInt(rec.GetTimestamp(), 10), true
	}
	v, ok := attribute(rec.GetAttributes(), name)
	if !ok {
		return "", false
	}
	return stringify(v), true
}

func attribute(attrs map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := attrs[path]; ok {
		return v, true
	}
	head, rest, ok := strings.Cut(path, ".")
	if !ok {
		return nil, false
	}
	nested, ok := attrs[head].(map[string]interface{})
	if !ok {
		return nil, false
	}
	return attribute(nested, rest)
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// fullText searches the body, severity, id and string attributes at any depth.
// q must be lower case.
func fullText(rec Record, q string) bool {
	for _, s := range [...]string{rec.GetBody(), rec.GetSeverity(), rec.GetID()} {
		if strings.Contains(strings.ToLower(s), q) {
			return true
		}
	}
	return attrsContain(rec.GetAttributes(), q)
}

func attrsContain(attrs map[string]interface{}, q string) bool {
	for _, v := range attrs {
		switch val := v.(type) {
		case string:
			if strings.Contains(strings.ToLower(val), q) {
				return true
			}
		case map[string]interface{}:
			if attrsContain(val, q) {
				return true
			}
		}
	}
	return false
}
