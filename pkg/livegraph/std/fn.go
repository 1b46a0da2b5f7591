package std

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/config"
	"github.com/randalmurphal/livegraph/pkg/livegraph/runtime"
	"github.com/randalmurphal/livegraph/pkg/livegraph/serde"
)

// Fn outputs a function value each time it runs. src is a single Starlark
// def; the function it defines is what flows out on "fn", ready for Apply
// or any Starlark body to call.
//
//	std.Fn("def double(x):\n    return x * 2\n")
func Fn(src string) (*livegraph.Node, error) {
	return newFn(config.New(map[string]any{"src": src}))
}

// params: src (required). The node takes a "bang" input that triggers it.
func newFn(p config.Params) (*livegraph.Node, error) {
	src := p.String("src", "")
	info, err := runtime.ParseFunc(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KindFn, err)
	}

	var b strings.Builder
	b.WriteString("def fn(bang):\n")
	for _, line := range strings.Split(strings.TrimRight(src, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			b.WriteString("\n")
			continue
		}
		b.WriteString("    " + line + "\n")
	}
	fmt.Fprintf(&b, "    return %s\n", info.Name)

	return livegraph.NewFunc(livegraph.Ports("bang"), livegraph.Ports("fn"), b.String(),
		append(serde.FlagOptions(p), livegraph.WithTag(KindFn, p.Raw()))...)
}

// Apply calls the function received on "fn" with the arguments received on
// "args", a list or tuple. A single non-list value is passed as the only
// argument and None as no arguments. With no function the result is None.
func Apply() (*livegraph.Node, error) {
	return newApply(config.New(nil))
}

func newApply(p config.Params) (*livegraph.Node, error) {
	const src = "def apply(f, args):\n" +
		"    if f == None:\n        return None\n" +
		"    if args == None:\n        args = ()\n" +
		"    elif type(args) != \"list\" and type(args) != \"tuple\":\n        args = (args,)\n" +
		"    return f(*args)\n"
	return livegraph.NewFunc(livegraph.Ports("fn", "args"), livegraph.Ports("result"), src,
		append(serde.FlagOptions(p), livegraph.WithTag(KindApply, p.Raw()))...)
}
