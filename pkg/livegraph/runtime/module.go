// Package runtime wraps the embedded Starlark interpreter used to evaluate
// lowered livegraph units.
//
// The package is deliberately thin: it knows how to load source, call
// symbols, convert values across the Go boundary and inspect single-function
// node bodies. It knows nothing about graphs.
package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Sentinel errors for loading and calling.
var (
	// ErrSymbolNotFound indicates a requested global is not defined by a module.
	ErrSymbolNotFound = errors.New("runtime: symbol not found")

	// ErrNotCallable indicates a global exists but cannot be called.
	ErrNotCallable = errors.New("runtime: symbol not callable")
)

// fileOptions are the dialect settings for every file livegraph loads.
// Top-level rebinding stays off so every lowered symbol has one definition.
var fileOptions = &syntax.FileOptions{
	Set:   true,
	While: true,
}

// FileOptions returns a copy of the Starlark dialect settings used by livegraph.
func FileOptions() *syntax.FileOptions {
	opts := *fileOptions
	return &opts
}

// Module is loaded, frozen source together with its global bindings.
// A Module is safe to call from one thread at a time per Thread value;
// its globals are frozen after load.
type Module struct {
	name    string
	globals starlark.StringDict
}

// Load executes src as a module named name.
// predeclared names are visible to the source but are not part of Globals.
func Load(thread *starlark.Thread, name, src string, predeclared starlark.StringDict) (*Module, error) {
	globals, err := starlark.ExecFileOptions(fileOptions, thread, name, src, predeclared)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	globals.Freeze()
	return &Module{name: name, globals: globals}, nil
}

// Name returns the module name given to Load.
func (m *Module) Name() string {
	return m.name
}

// Symbol returns a global defined by the module.
func (m *Module) Symbol(name string) (starlark.Value, bool) {
	v, ok := m.globals[name]
	return v, ok
}

// Symbols returns the sorted names of all module globals.
func (m *Module) Symbols() []string {
	names := make([]string, 0, len(m.globals))
	for name := range m.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes the global fn with positional args.
func (m *Module) Call(thread *starlark.Thread, fn string, args ...starlark.Value) (starlark.Value, error) {
	v, ok := m.globals[fn]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, fn)
	}
	if _, ok := v.(starlark.Callable); !ok {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCallable, fn, v.Type())
	}
	return starlark.Call(thread, v, starlark.Tuple(args), nil)
}

// NewThread creates an interpreter thread whose print output goes to logger.
// A nil logger uses slog.Default().
func NewThread(name string, logger *slog.Logger) *starlark.Thread {
	if logger == nil {
		logger = slog.Default()
	}
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Info(msg, slog.String("source", "print"))
		},
	}
}
