package declarative

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Fields is one decoded document item. Accessors take several keys and use
// the first one present, so snake_case and camelCase spellings both work.
type Fields map[string]any

// HasAny reports whether any of keys is present with a non-empty value.
func (f Fields) HasAny(keys ...string) bool {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil && v != "" {
			return true
		}
	}
	return false
}

func (f Fields) lookup(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// String returns the first present key rendered as a string.
func (f Fields) String(keys ...string) string {
	v, ok := f.lookup(keys...)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// StringOr returns String(keys...) or def when empty.
func (f Fields) StringOr(def string, keys ...string) string {
	if s := f.String(keys...); s != "" {
		return s
	}
	return def
}

// Strings returns a list value. A scalar becomes a one-element list.
func (f Fields) Strings(keys ...string) []string {
	v, ok := f.lookup(keys...)
	if !ok {
		return []string{}
	}
	switch t := v.(type) {
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case string:
		if t == "" {
			return []string{}
		}
		return []string{t}
	default:
		return []string{fmt.Sprint(t)}
	}
}

// Int returns an integer value or def. Non-numeric values are a ValidationError.
func (f Fields) Int(def int, keys ...string) (int, error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, Invalid(keys[0], "expected an integer, got %q", t)
		}
		return n, nil
	default:
		return 0, Invalid(keys[0], "expected an integer, got %T", v)
	}
}

// Float returns a numeric value or def.
func (f Fields) Float(def float64, keys ...string) (float64, error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, Invalid(keys[0], "expected a number, got %q", t)
		}
		return n, nil
	default:
		return 0, Invalid(keys[0], "expected a number, got %T", v)
	}
}

// Bool returns a boolean value or def.
func (f Fields) Bool(def bool, keys ...string) (bool, error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return false, Invalid(keys[0], "expected a boolean, got %q", t)
		}
		return b, nil
	default:
		return false, Invalid(keys[0], "expected a boolean, got %T", v)
	}
}

// Map returns a nested mapping, or an empty map when absent.
func (f Fields) Map(keys ...string) map[string]any {
	v, ok := f.lookup(keys...)
	if !ok {
		return map[string]any{}
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// Time parses an RFC 3339 (or date-only) timestamp. Absent keys yield nil.
func (f Fields) Time(keys ...string) (*time.Time, error) {
	v, ok := f.lookup(keys...)
	if !ok {
		return nil, nil
	}
	switch t := v.(type) {
	case time.Time:
		ts := t.UTC()
		return &ts, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
			if ts, err := time.Parse(layout, strings.TrimSpace(t)); err == nil {
				ts = ts.UTC()
				return &ts, nil
			}
		}
		return nil, Invalid(keys[0], "expected an ISO 8601 timestamp, got %q", t)
	default:
		return nil, Invalid(keys[0], "expected a timestamp, got %T", v)
	}
}
