package executor

import "time"

// Params come off the wire as decoded JSON, so numbers arrive as float64.
// These helpers normalize the common shapes executors need.

func paramInt64(params map[string]any, key string) (int64, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func paramInt(params map[string]any, key string, def int) int {
	n, ok := paramInt64(params, key)
	if !ok {
		return def
	}
	return int(n)
}

func paramString(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func paramBool(params map[string]any, key string, def bool) bool {
	v, ok := params[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		return def
	}
	return b
}

// paramTime treats an absent or empty key as a valid nil time; a value that
// is present but not an RFC3339 string is invalid.
func paramTime(params map[string]any, key string) (*time.Time, bool) {
	v, ok := params[key]
	if !ok {
		return nil, true
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	if s == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func paramInt64Slice(params map[string]any, key string) ([]int64, bool) {
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]int64, 0, len(raw))
	for _, item := range raw {
		n, ok := item.(float64)
		if !ok {
			return nil, false
		}
		out = append(out, int64(n))
	}
	return out, true
}

func paramStringSlice(params map[string]any, key string) ([]string, bool) {
	v, ok := params[key]
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
