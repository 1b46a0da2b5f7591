package config

import (
	"encoding/json"
	"sort"
	"time"
)

// Params is a read-only view over a string-keyed map with typed accessors.
// Accessors return the supplied default when the key is missing or the value
// does not convert cleanly. YAML, JSON and Go literal numbers are all
// accepted where a number is asked for.
type Params struct {
	data map[string]any
}

// New wraps data. A nil map yields empty Params.
func New(data map[string]any) Params {
	if data == nil {
		data = make(map[string]any)
	}
	return Params{data: data}
}

// String returns the string at key.
func (p Params) String(key, def string) string {
	if s, ok := p.data[key].(string); ok {
		return s
	}
	return def
}

// Bool returns the bool at key.
func (p Params) Bool(key string, def bool) bool {
	if b, ok := p.data[key].(bool); ok {
		return b
	}
	return def
}

// Int returns the integer at key. Floats convert only without a fraction.
func (p Params) Int(key string, def int) int {
	switch v := p.data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i)
		}
	}
	return def
}

// Float returns the number at key as float64.
func (p Params) Float(key string, def float64) float64 {
	switch v := p.data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return def
}

// Duration returns the duration at key.
// Strings use time.ParseDuration; bare numbers are seconds.
func (p Params) Duration(key string, def time.Duration) time.Duration {
	switch v := p.data[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return time.Duration(f * float64(time.Second))
		}
	}
	return def
}

// Strings returns the string list at key. Mixed lists yield def.
func (p Params) Strings(key string, def []string) []string {
	switch v := p.data[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return def
			}
			out = append(out, s)
		}
		return out
	}
	return def
}

// Sub returns the nested map at key as Params, or empty Params.
func (p Params) Sub(key string) Params {
	switch v := p.data[key].(type) {
	case map[string]any:
		return New(v)
	case Params:
		return v
	}
	return New(nil)
}

// Any returns the raw value at key.
func (p Params) Any(key string, def any) any {
	if v, ok := p.data[key]; ok {
		return v
	}
	return def
}

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p.data[key]
	return ok
}

// Keys returns the keys in ascending order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p.data))
	for k := range p.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (p Params) Len() int {
	return len(p.data)
}

// Raw returns the underlying map. Callers must not modify it.
func (p Params) Raw() map[string]any {
	return p.data
}
