package frame

import "strings"

// Firmware payloads are loosely-typed JSON trees with several historical
// aliases for the same concept. These helpers centralize field access so
// alias handling does not scatter across call sites.

// Str returns the first key whose value is a non-empty string after trimming.
func Str(m map[string]any, keys ...string) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					return trimmed, true
				}
			}
		}
	}
	return "", false
}

// Num returns the first key whose value is a non-boolean number.
func Num(m map[string]any, keys ...string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	for _, key := range keys {
		if v, ok := m[key]; ok {
			if f, ok := asNumber(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

// Int returns the first numeric value truncated to int64.
func Int(m map[string]any, keys ...string) (int64, bool) {
	f, ok := Num(m, keys...)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// Bool returns the named key's value interpreted as a boolean. Absent or
// non-boolean values report false.
func Bool(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, ok := m[key].(bool)
	return ok && b
}

// Map returns the named key's value when it is an object.
func Map(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}
	child, ok := m[key].(map[string]any)
	return child, ok
}

// Slice returns the named key's value when it is an array.
func Slice(m map[string]any, key string) ([]any, bool) {
	if m == nil {
		return nil, false
	}
	items, ok := m[key].([]any)
	return items, ok
}

// Clone returns a shallow copy of m. Nil maps clone to empty maps so callers
// can mutate the result freely.
func Clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeShallow overlays src onto dst field-by-field: incoming fields win,
// fields absent from src are preserved from dst. Neither input is mutated.
func MergeShallow(dst, src map[string]any) map[string]any {
	merged := Clone(dst)
	for k, v := range src {
		merged[k] = v
	}
	return merged
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case bool:
		return 0, false
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
