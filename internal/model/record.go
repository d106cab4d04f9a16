package model

import (
	"encoding/json"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Record is a single row of a remote table, decoded from JSON.
type Record map[string]any

const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUserID    = "user_id"
	FieldRead      = "read"
	FieldRank      = "rank"
	FieldScore     = "score"
	FieldStatus    = "status"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05",
}

// ID returns the record identifier in its canonical string form.
// Numeric identifiers are rendered without exponent or trailing zeros.
func (r Record) ID() string {
	return formatID(r[FieldID])
}

// String returns the field as a string, or "" when absent.
func (r Record) String(field string) string {
	switch v := r[field].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// Float returns the field as a float64. The second result reports whether the
// field held a number (or a numeric string).
func (r Record) Float(field string) (float64, bool) {
	switch v := r[field].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Int returns the field truncated to an int64.
func (r Record) Int(field string) (int64, bool) {
	if v, ok := r[field].(json.Number); ok {
		if i, err := v.Int64(); err == nil {
			return i, true
		}
	}
	f, ok := r.Float(field)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the field as a bool; missing or non-bool values are false.
func (r Record) Bool(field string) bool {
	v, _ := r[field].(bool)
	return v
}

// Time parses a timestamp field. Unparseable or absent values yield the zero time.
func (r Record) Time(field string) time.Time {
	return ParseTime(r.String(field))
}

// Clone returns a deep copy so callers cannot mutate shared state through
// nested maps or slices.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	dup := make(Record, len(r))
	for k, v := range r {
		dup[k] = cloneValue(v)
	}
	return dup
}

// Merge overlays fields onto a copy of r. Fields absent from the patch are kept.
// It returns the merged record and the keys whose values actually changed.
func (r Record) Merge(fields Record) (Record, []string) {
	merged := r.Clone()
	if merged == nil {
		merged = make(Record, len(fields))
	}
	var changed []string
	for k, v := range fields {
		old, present := merged[k]
		if present && reflect.DeepEqual(old, v) {
			continue
		}
		merged[k] = cloneValue(v)
		changed = append(changed, k)
	}
	return merged, changed
}

// ParseTime accepts the timestamp layouts the backend emits.
func ParseTime(value string) time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatID(v any) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(id)
	case json.Number:
		return id.String()
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	default:
		return ""
	}
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		dup := make(map[string]any, len(val))
		for k, inner := range val {
			dup[k] = cloneValue(inner)
		}
		return dup
	case Record:
		return val.Clone()
	case []any:
		dup := make([]any, len(val))
		for i, inner := range val {
			dup[i] = cloneValue(inner)
		}
		return dup
	default:
		return v
	}
}
