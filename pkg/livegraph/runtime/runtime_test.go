package runtime_test

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/randalmurphal/livegraph/pkg/livegraph/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestParseFunc(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		required int
		optional int
		variadic bool
	}{
		{"two params", "def add(a, b):\n    return a + b\n", 2, 0, false},
		{"no params", "def one():\n    return 1\n", 0, 0, false},
		{"default", "def f(a, b=2):\n    return a * b\n", 1, 1, false},
		{"variadic", "def f(*xs):\n    return len(xs)\n", 0, 0, true},
		{"leading comment", "# adds\ndef f(a):\n    return a\n", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := runtime.ParseFunc(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.required, info.Required)
			assert.Equal(t, tt.optional, info.Optional)
			assert.Equal(t, tt.variadic, info.Variadic)
		})
	}
}

func TestParseFunc_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"empty", "  ", runtime.ErrNotSingleDef},
		{"expression", "1 + 2\n", runtime.ErrNotSingleDef},
		{"two defs", "def a():\n    return 1\ndef b():\n    return 2\n", runtime.ErrNotSingleDef},
		{"keyword only", "def f(a, *, b):\n    return a\n", runtime.ErrKeywordOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runtime.ParseFunc(tt.src)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("syntax error", func(t *testing.T) {
		_, err := runtime.ParseFunc("def f(:\n")
		assert.Error(t, err)
	})

	t.Run("undefined name", func(t *testing.T) {
		_, err := runtime.ParseFunc("def f(a):\n    return g(a)\n")
		assert.Error(t, err)
	})

	t.Run("predeclared name", func(t *testing.T) {
		_, err := runtime.ParseFunc("def f(a):\n    return g(a)\n", "g")
		assert.NoError(t, err)
	})
}

func TestFuncInfo_Accepts(t *testing.T) {
	info, err := runtime.ParseFunc("def f(a, b=1):\n    return a\n")
	require.NoError(t, err)

	assert.False(t, info.Accepts(0))
	assert.True(t, info.Accepts(1))
	assert.True(t, info.Accepts(2))
	assert.False(t, info.Accepts(3))
}

func TestFuncInfo_Renamed(t *testing.T) {
	info, err := runtime.ParseFunc("# doc\ndef add(a, b):\n    return a + b\n")
	require.NoError(t, err)

	assert.Equal(t, "# doc\ndef n_4(a, b):\n    return a + b\n", info.Renamed("n_4"))
}

func TestLoadAndCall(t *testing.T) {
	thread := runtime.NewThread("test", nil)

	double := starlark.NewBuiltin("double", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
		var x int
		if err := starlark.UnpackPositionalArgs("double", args, nil, 1, &x); err != nil {
			return nil, err
		}
		return starlark.MakeInt(2 * x), nil
	})

	mod, err := runtime.Load(thread, "unit.star", "def f(x):\n    return double(x) + 1\nK = 3\n",
		starlark.StringDict{"double": double})
	require.NoError(t, err)

	assert.Equal(t, []string{"K", "f"}, mod.Symbols())

	v, err := mod.Call(thread, "f", starlark.MakeInt(4))
	require.NoError(t, err)
	assert.Equal(t, int64(9), runtime.ToGo(v))

	_, err = mod.Call(thread, "missing")
	assert.ErrorIs(t, err, runtime.ErrSymbolNotFound)

	_, err = mod.Call(thread, "K")
	assert.ErrorIs(t, err, runtime.ErrNotCallable)
}

func TestLoad_Error(t *testing.T) {
	_, err := runtime.Load(runtime.NewThread("t", nil), "bad.star", "def f(:\n", nil)
	assert.Error(t, err)
}

func TestCall_ErrorCause(t *testing.T) {
	thread := runtime.NewThread("test", nil)
	boom := errors.New("boom")
	fail := starlark.NewBuiltin("fail_with", func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
		return nil, boom
	})

	mod, err := runtime.Load(thread, "unit.star", "def f():\n    return fail_with()\n", starlark.StringDict{"fail_with": fail})
	require.NoError(t, err)

	_, err = mod.Call(thread, "f")
	assert.ErrorIs(t, err, boom)
}

func TestToValue_ToGo(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"bool", true, true},
		{"int", 7, int64(7)},
		{"int64", int64(-3), int64(-3)},
		{"uint8", uint8(200), int64(200)},
		{"float", 1.5, 1.5},
		{"string", "hi", "hi"},
		{"bytes", []byte("ab"), []byte("ab")},
		{"list", []any{1, "a", nil}, []any{int64(1), "a", nil}},
		{"strings", []string{"a", "b"}, []any{"a", "b"}},
		{"map", map[string]any{"k": 1, "n": []any{true}}, map[string]any{"k": int64(1), "n": []any{true}}},
		{"json int", json.Number("12"), int64(12)},
		{"json float", json.Number("1.25"), 1.25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := runtime.ToValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, runtime.ToGo(v))
		})
	}
}

func TestToGo_BigInt(t *testing.T) {
	big1 := new(big.Int).Lsh(big.NewInt(1), 80)
	v, err := runtime.ToValue(big1)
	require.NoError(t, err)
	assert.Equal(t, 0, big1.Cmp(runtime.ToGo(v).(*big.Int)))
}

func TestToGo_Tuple(t *testing.T) {
	got := runtime.ToGo(starlark.Tuple{starlark.MakeInt(1), starlark.String("x")})
	assert.Equal(t, []any{int64(1), "x"}, got)
}

func TestHostValue(t *testing.T) {
	type handle struct{ id int }
	h := &handle{id: 9}

	v, err := runtime.ToValue(h)
	require.NoError(t, err)

	hv, ok := v.(*runtime.HostValue)
	require.True(t, ok)
	assert.Equal(t, "host", hv.Type())
	assert.Equal(t, starlark.True, hv.Truth())
	_, err = hv.Hash()
	assert.Error(t, err)

	assert.Same(t, h, runtime.ToGo(v))
}

func TestConvertible(t *testing.T) {
	assert.True(t, runtime.Convertible(map[string]any{"a": []any{int64(1), "x"}}))
	assert.False(t, runtime.Convertible(struct{}{}))
	assert.False(t, runtime.Convertible([]any{struct{}{}}))
}

func TestEvalExpr(t *testing.T) {
	v, err := runtime.EvalExpr("[0] * 3")
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(0), int64(0)}, v)

	_, err = runtime.EvalExpr("undefined_name")
	assert.Error(t, err)

	assert.NoError(t, runtime.CheckExpr("{'a': 1}"))
	assert.Error(t, runtime.CheckExpr("def"))
	assert.Error(t, runtime.CheckExpr(""))
}
