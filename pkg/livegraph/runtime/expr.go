package runtime

import (
	"fmt"
	"strings"

	"go.starlark.net/starlark"
)

// CheckExpr parses src as a single Starlark expression without evaluating it.
func CheckExpr(src string) error {
	if strings.TrimSpace(src) == "" {
		return fmt.Errorf("parse expression: empty")
	}
	if _, err := fileOptions.ParseExpr("expr", src, 0); err != nil {
		return fmt.Errorf("parse expression: %w", err)
	}
	return nil
}

// EvalExpr evaluates a Starlark expression on a fresh thread and returns the
// result as a Go value. It is used for state initializers.
func EvalExpr(src string) (any, error) {
	thread := &starlark.Thread{Name: "expr"}
	v, err := starlark.EvalOptions(fileOptions, thread, "expr", src, nil)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", src, err)
	}
	return ToGo(v), nil
}
