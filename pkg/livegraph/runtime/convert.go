package runtime

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"go.starlark.net/starlark"
)

// HostValue carries an opaque Go value through the interpreter.
// Scripts can pass it around and compare it for truth but cannot inspect it.
type HostValue struct {
	V any
}

// Compile-time interface check.
var _ starlark.Value = (*HostValue)(nil)

// String implements starlark.Value.
func (h *HostValue) String() string { return fmt.Sprintf("<host %T>", h.V) }

// Type implements starlark.Value.
func (h *HostValue) Type() string { return "host" }

// Freeze implements starlark.Value. Host values are never mutated by scripts.
func (h *HostValue) Freeze() {}

// Truth implements starlark.Value.
func (h *HostValue) Truth() starlark.Bool { return h.V != nil }

// Hash implements starlark.Value.
func (h *HostValue) Hash() (uint32, error) {
	return 0, fmt.Errorf("unhashable type: host")
}

// ToValue converts a Go value into a Starlark value.
//
// Scalars, strings, byte slices, slices and string-keyed maps convert
// structurally. json.Number becomes an int when it has no fraction.
// starlark.Value passes through unchanged. Anything else is wrapped in a
// HostValue.
func ToValue(v any) (starlark.Value, error) {
	switch v := v.(type) {
	case nil:
		return starlark.None, nil
	case starlark.Value:
		return v, nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int8:
		return starlark.MakeInt64(int64(v)), nil
	case int16:
		return starlark.MakeInt64(int64(v)), nil
	case int32:
		return starlark.MakeInt64(int64(v)), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case uint:
		return starlark.MakeUint64(uint64(v)), nil
	case uint8:
		return starlark.MakeUint64(uint64(v)), nil
	case uint16:
		return starlark.MakeUint64(uint64(v)), nil
	case uint32:
		return starlark.MakeUint64(uint64(v)), nil
	case uint64:
		return starlark.MakeUint64(v), nil
	case *big.Int:
		return starlark.MakeBigInt(v), nil
	case float32:
		return starlark.Float(v), nil
	case float64:
		return starlark.Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("convert number %q: %w", v.String(), err)
		}
		return starlark.Float(f), nil
	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.Bytes(v), nil
	case []any:
		return toList(len(v), func(i int) any { return v[i] })
	case []string:
		return toList(len(v), func(i int) any { return v[i] })
	case []int:
		return toList(len(v), func(i int) any { return v[i] })
	case []int64:
		return toList(len(v), func(i int) any { return v[i] })
	case []float64:
		return toList(len(v), func(i int) any { return v[i] })
	case []bool:
		return toList(len(v), func(i int) any { return v[i] })
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		d := starlark.NewDict(len(v))
		for _, k := range keys {
			sv, err := ToValue(v[k])
			if err != nil {
				return nil, err
			}
			if err := d.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return d, nil
	}
	return &HostValue{V: v}, nil
}

func toList(n int, at func(int) any) (starlark.Value, error) {
	elems := make([]starlark.Value, n)
	for i := range elems {
		sv, err := ToValue(at(i))
		if err != nil {
			return nil, err
		}
		elems[i] = sv
	}
	return starlark.NewList(elems), nil
}

// ToGo converts a Starlark value into a plain Go value.
//
// Ints become int64 (or *big.Int when they overflow), lists and tuples
// become []any, dicts become map[string]any keyed by each key's string form
// (string keys unquoted), HostValue unwraps to its Go value. Values with no
// Go counterpart, such as functions, are returned unchanged.
func ToGo(v starlark.Value) any {
	switch v := v.(type) {
	case nil, starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.BigInt()
	case starlark.Float:
		return float64(v)
	case starlark.String:
		return string(v)
	case starlark.Bytes:
		return []byte(v)
	case starlark.Tuple:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = ToGo(e)
		}
		return out
	case *starlark.List:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = ToGo(v.Index(i))
		}
		return out
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, kv := range v.Items() {
			key := kv[0].String()
			if s, ok := kv[0].(starlark.String); ok {
				key = string(s)
			}
			out[key] = ToGo(kv[1])
		}
		return out
	case *HostValue:
		return v.V
	}
	return v
}

// Convertible reports whether v survives a ToGo then ToValue round trip
// without collapsing to an opaque value, which is what persistence needs.
func Convertible(v any) bool {
	switch v := v.(type) {
	case nil, bool, int64, float64, string, *big.Int, []byte, json.Number:
		return true
	case int, int32, float32, uint64:
		return true
	case []any:
		for _, e := range v {
			if !Convertible(e) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, e := range v {
			if !Convertible(e) {
				return false
			}
		}
		return true
	}
	return false
}
