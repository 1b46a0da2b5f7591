package runtime

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Sentinel errors for function bodies.
var (
	// ErrNotSingleDef indicates source that is not exactly one top-level def.
	ErrNotSingleDef = errors.New("runtime: body must be a single def statement")

	// ErrKeywordOnly indicates a def with required keyword-only parameters,
	// which positional node calls can never satisfy.
	ErrKeywordOnly = errors.New("runtime: required keyword-only parameter")
)

// FuncInfo describes a parsed single-def body.
type FuncInfo struct {
	// Name is the def's declared name.
	Name string
	// Required is the number of positional parameters without defaults.
	Required int
	// Optional is the number of positional parameters with defaults.
	Optional int
	// Variadic is true when the def takes *args.
	Variadic bool

	src  string
	line int
}

// ParseFunc parses and resolves src, which must contain one top-level def and
// nothing else besides comments. Names other than the Starlark universe and
// the given predeclared set are rejected.
func ParseFunc(src string, predeclared ...string) (*FuncInfo, error) {
	if strings.TrimSpace(src) == "" {
		return nil, ErrNotSingleDef
	}

	known := make(map[string]bool, len(predeclared))
	for _, name := range predeclared {
		known[name] = true
	}

	f, _, err := starlark.SourceProgramOptions(FileOptions(), "body.star", src, func(name string) bool {
		return known[name]
	})
	if err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	if len(f.Stmts) != 1 {
		return nil, fmt.Errorf("%w: found %d statements", ErrNotSingleDef, len(f.Stmts))
	}
	def, ok := f.Stmts[0].(*syntax.DefStmt)
	if !ok {
		return nil, ErrNotSingleDef
	}

	info := &FuncInfo{
		Name: def.Name.Name,
		src:  src,
		line: int(def.Def.Line),
	}

	keywordOnly := false
	for _, p := range def.Params {
		switch p := p.(type) {
		case *syntax.Ident:
			if keywordOnly {
				return nil, fmt.Errorf("%w: %s", ErrKeywordOnly, p.Name)
			}
			info.Required++
		case *syntax.BinaryExpr:
			if !keywordOnly {
				info.Optional++
			}
		case *syntax.UnaryExpr:
			if p.Op == syntax.STAR {
				if p.X != nil {
					info.Variadic = true
				}
				keywordOnly = true
			}
		}
	}

	return info, nil
}

// Accepts reports whether the def can be called with n positional arguments.
func (fi *FuncInfo) Accepts(n int) bool {
	if n < fi.Required {
		return false
	}
	return fi.Variadic || n <= fi.Required+fi.Optional
}

var defName = regexp.MustCompile(`^(\s*def\s+)([A-Za-z_][A-Za-z0-9_]*)`)

// Renamed returns the body source with the def bound to name instead of its
// declared name.
func (fi *FuncInfo) Renamed(name string) string {
	lines := strings.Split(fi.src, "\n")
	i := fi.line - 1
	if i >= 0 && i < len(lines) {
		lines[i] = defName.ReplaceAllString(lines[i], "${1}"+name)
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n") + "\n"
}
