package serde

import (
	"fmt"
	"sort"
	"sync"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/config"
)

// Constructor builds a node from its persisted params.
type Constructor func(p config.Params) (*livegraph.Node, error)

// Built-in type tags.
const (
	KindFunc  = "func"
	KindState = "state"
	KindGraph = "graph"
)

// Registry maps type tags to node constructors. It is safe for concurrent
// use.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

// NewRegistry returns a registry holding the built-in kinds "func" and
// "state". The "graph" tag is reserved for nested documents.
func NewRegistry() *Registry {
	r := &Registry{kinds: make(map[string]Constructor)}
	r.kinds[KindFunc] = buildFunc
	r.kinds[KindState] = buildState
	return r
}

// Register adds a constructor under tag. Registering a tag twice, or the
// reserved "graph" tag, fails with ErrDuplicateKind.
func (r *Registry) Register(tag string, c Constructor) error {
	if tag == "" || c == nil {
		return fmt.Errorf("register %q: tag and constructor required", tag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.kinds[tag]; ok || tag == KindGraph {
		return fmt.Errorf("%w: %q", ErrDuplicateKind, tag)
	}
	r.kinds[tag] = c
	return nil
}

// MustRegister is Register that panics on error. Meant for package init.
func (r *Registry) MustRegister(tag string, c Constructor) {
	if err := r.Register(tag, c); err != nil {
		panic(err)
	}
}

// Lookup returns the constructor for tag.
func (r *Registry) Lookup(tag string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.kinds[tag]
	return c, ok
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag string) bool {
	_, ok := r.Lookup(tag)
	return ok
}

// Tags returns the registered tags in ascending order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.kinds))
	for t := range r.kinds {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Build constructs a node of kind tag from params.
func (r *Registry) Build(tag string, params map[string]any) (*livegraph.Node, error) {
	c, ok := r.Lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeKind, tag)
	}
	return c(config.New(params))
}

// buildFunc reads a Starlark-defined pure node:
//
//	src: "def f(a, b): ..."   inputs: [a, b]   outputs: [sum]
//	entry: name   branching: bool   pull: bool
func buildFunc(p config.Params) (*livegraph.Node, error) {
	src := p.String("src", "")
	if src == "" {
		return nil, fmt.Errorf("func: src required")
	}
	return livegraph.NewFunc(
		livegraph.Ports(p.Strings("inputs", nil)...),
		livegraph.Ports(p.Strings("outputs", nil)...),
		src,
		append(FlagOptions(p), livegraph.WithTag(KindFunc, p.Raw()))...,
	)
}

// buildState reads a stateful node: the func params plus init (a Starlark
// expression) and delay.
func buildState(p config.Params) (*livegraph.Node, error) {
	src := p.String("src", "")
	if src == "" {
		return nil, fmt.Errorf("state: src required")
	}
	init := p.String("init", "")
	if init == "" {
		return nil, fmt.Errorf("state: init required")
	}
	opts := FlagOptions(p)
	if p.Bool("delay", false) {
		opts = append(opts, livegraph.WithDelay())
	}
	return livegraph.NewStateful(
		livegraph.Ports(p.Strings("inputs", nil)...),
		livegraph.Ports(p.Strings("outputs", nil)...),
		init,
		src,
		append(opts, livegraph.WithTag(KindState, p.Raw()))...,
	)
}

// FlagOptions maps the node flags every kind shares (entry, branching,
// pull) to node options.
func FlagOptions(p config.Params) []livegraph.NodeOption {
	var opts []livegraph.NodeOption
	if e := p.String("entry", ""); e != "" {
		opts = append(opts, livegraph.WithEntry(e))
	}
	if p.Bool("branching", false) {
		opts = append(opts, livegraph.WithBranching())
	}
	if p.Bool("pull", false) {
		opts = append(opts, livegraph.WithPullTarget())
	}
	return opts
}
