package std

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/config"
	"github.com/randalmurphal/livegraph/pkg/livegraph/runtime"
	"github.com/randalmurphal/livegraph/pkg/livegraph/serde"
)

// Inlet is an entrypoint passing its pushed values straight through, one
// output per port.
func Inlet(entry string, ports ...string) (*livegraph.Node, error) {
	params := map[string]any{"entry": entry}
	if len(ports) > 0 {
		params["ports"] = ports
	}
	return newInlet(config.New(params))
}

// params: entry (required), ports (default [value]).
func newInlet(p config.Params) (*livegraph.Node, error) {
	entry := p.String("entry", "")
	if entry == "" {
		return nil, fmt.Errorf("%s: entry required", KindInlet)
	}
	ports := p.Strings("ports", []string{"value"})
	if len(ports) == 0 {
		return nil, fmt.Errorf("%s: at least one port required", KindInlet)
	}

	args := make([]string, len(ports))
	for i := range ports {
		args[i] = fmt.Sprintf("p%d", i)
	}
	ret := args[0]
	if len(args) > 1 {
		ret = "(" + strings.Join(args, ", ") + ")"
	}
	src := fmt.Sprintf("def inlet(%s):\n    return %s\n", strings.Join(args, ", "), ret)

	return livegraph.NewFunc(livegraph.Ports(ports...), livegraph.Ports(ports...), src,
		livegraph.WithEntry(entry), livegraph.WithTag(KindInlet, p.Raw()))
}

// Bang is an entrypoint with no inputs whose single output is True.
func Bang(entry string) (*livegraph.Node, error) {
	return newBang(config.New(map[string]any{"entry": entry}))
}

func newBang(p config.Params) (*livegraph.Node, error) {
	entry := p.String("entry", "")
	if entry == "" {
		return nil, fmt.Errorf("%s: entry required", KindBang)
	}
	return livegraph.NewFunc(nil, livegraph.Ports("bang"), "def bang():\n    return True\n",
		livegraph.WithEntry(entry), livegraph.WithTag(KindBang, p.Raw()))
}

// Const outputs a fixed value. v must be a scalar, list or string-keyed map.
func Const(v any) (*livegraph.Node, error) {
	return newConst(config.New(map[string]any{"value": v}))
}

func newConst(p config.Params) (*livegraph.Node, error) {
	v, err := runtime.ToValue(p.Any("value", nil))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindConst, err)
	}
	if _, ok := v.(*runtime.HostValue); ok {
		return nil, fmt.Errorf("%s: value %s has no literal form", KindConst, v)
	}
	src := "def const():\n    return " + v.String() + "\n"
	return livegraph.NewFunc(nil, livegraph.Ports("value"), src,
		append(serde.FlagOptions(p), livegraph.WithTag(KindConst, p.Raw()))...)
}

// Add sums its two inputs. A None input counts as zero.
func Add() (*livegraph.Node, error) {
	return newAdd(config.New(nil))
}

func newAdd(p config.Params) (*livegraph.Node, error) {
	const src = "def add(a, b):\n" +
		"    if a == None:\n        a = 0\n" +
		"    if b == None:\n        b = 0\n" +
		"    return a + b\n"
	return livegraph.NewFunc(livegraph.Ports("a", "b"), livegraph.Ports("sum"), src,
		append(serde.FlagOptions(p), livegraph.WithTag(KindAdd, p.Raw()))...)
}

// Counter counts the cycles in which it runs, stepping by step.
func Counter(step int) (*livegraph.Node, error) {
	return newCounter(config.New(map[string]any{"step": step}))
}

// params: step (default 1), start (default 0).
func newCounter(p config.Params) (*livegraph.Node, error) {
	step := p.Int("step", 1)
	start := p.Int("start", 0)
	src := fmt.Sprintf("def counter(bang, n):\n    n = n + %d\n    return (n, n)\n", step)
	return livegraph.NewStateful(livegraph.Ports("bang"), livegraph.Ports("count"), fmt.Sprint(start), src,
		append(serde.FlagOptions(p), livegraph.WithTag(KindCounter, p.Raw()))...)
}

// Gate forwards value on "open" when open is truthy and on "closed"
// otherwise. The output not chosen does not fire.
func Gate() (*livegraph.Node, error) {
	return newGate(config.New(nil))
}

func newGate(p config.Params) (*livegraph.Node, error) {
	const src = "def gate(value, open):\n" +
		"    if open:\n        return (0, (value, None))\n" +
		"    return (1, (None, value))\n"
	opts := append(serde.FlagOptions(p), livegraph.WithBranching(), livegraph.WithTag(KindGate, p.Raw()))
	return livegraph.NewFunc(livegraph.Ports("value", "open"), livegraph.Ports("open", "closed"), src, opts...)
}

// Delay outputs the value it received on the previous cycle. init is the
// Starlark expression output before any value arrived.
func Delay(init string) (*livegraph.Node, error) {
	return newDelay(config.New(map[string]any{"init": init}))
}

// params: init (default None).
func newDelay(p config.Params) (*livegraph.Node, error) {
	return livegraph.NewStateful(livegraph.Ports("in"), livegraph.Ports("out"), p.String("init", "None"),
		"def delay(x, prev):\n    return x\n",
		livegraph.WithDelay(), livegraph.WithTag(KindDelay, p.Raw()))
}

// Log writes each value it receives to the cycle logger and passes it on.
func Log(msg string) (*livegraph.Node, error) {
	return newLog(config.New(map[string]any{"msg": msg}))
}

// params: msg (default "value"), level (debug, info, warn, error).
func newLog(p config.Params) (*livegraph.Node, error) {
	msg := p.String("msg", "value")
	level, err := parseLevel(p.String("level", "info"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindLog, err)
	}
	fn := func(ctx livegraph.Context, args []any) (any, error) {
		ctx.Logger().Log(ctx, level, msg, slog.Any("value", args[0]))
		return args[0], nil
	}
	return livegraph.NewHost(livegraph.Ports("value"), livegraph.Ports("value"), KindLog, fn,
		append(serde.FlagOptions(p), livegraph.WithTag(KindLog, p.Raw()))...)
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, err
	}
	return l, nil
}

// Expr evaluates a Starlark expression over named inputs.
//
//	std.Expr("a * b + 1", "a", "b")
func Expr(expr string, inputs ...string) (*livegraph.Node, error) {
	return newExpr(config.New(map[string]any{"expr": expr, "inputs": inputs}))
}

// params: expr (required), inputs, output (default value).
func newExpr(p config.Params) (*livegraph.Node, error) {
	expr := p.String("expr", "")
	if err := runtime.CheckExpr(expr); err != nil {
		return nil, fmt.Errorf("%s: %w", KindExpr, err)
	}
	inputs := p.Strings("inputs", nil)
	src := fmt.Sprintf("def expr(%s):\n    return %s\n", strings.Join(inputs, ", "), expr)
	return livegraph.NewFunc(livegraph.Ports(inputs...), livegraph.Ports(p.String("output", "value")), src,
		append(serde.FlagOptions(p), livegraph.WithTag(KindExpr, p.Raw()))...)
}
