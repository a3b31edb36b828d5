package manifest

import "strings"

// asMap type-asserts v as a TOML table (map[string]any), returning an
// empty map on mismatch so callers can range over it unconditionally.
func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// asSlice type-asserts v as a TOML array-of-tables.
func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

// nested walks a dotted path ("ssh.extra_args") through nested tables.
func nested(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	cur := any(m)
	for _, p := range parts {
		cm, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := cm[p]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// nestedPresent reports whether path exists in m, regardless of value,
// used for forbidden-override detection.
func nestedPresent(m map[string]any, path string) bool {
	_, ok := nested(m, path)
	return ok
}

func getString(m map[string]any, path string) (string, bool) {
	v, ok := nested(m, path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getBool(m map[string]any, path string, def bool) bool {
	v, ok := nested(m, path)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

func getInt(m map[string]any, path string, def int) int {
	v, ok := nested(m, path)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

func getStringSlice(m map[string]any, path string) []string {
	v, ok := nested(m, path)
	if !ok {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// setNested writes value at a dotted path, creating intermediate tables
// as needed. Used only by the pure mutation functions.
func setNested(m map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := m
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return
		}
		child, ok := cur[p].(map[string]any)
		if !ok {
			child = map[string]any{}
			cur[p] = child
		}
		cur = child
	}
}
