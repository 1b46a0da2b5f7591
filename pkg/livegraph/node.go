package livegraph

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/randalmurphal/livegraph/pkg/livegraph/runtime"
)

// NodeID identifies a node within its owning graph. Ids are never reused by
// AddNode; InsertNode may place a node at a specific id.
type NodeID uint32

// String renders the id in decimal.
func (id NodeID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Path addresses a node from the root graph down through nested graph nodes.
type Path []NodeID

// String renders the path as slash separated ids, e.g. "4/2".
func (p Path) String() string {
	var b strings.Builder
	for i, id := range p {
		if i > 0 {
			b.WriteByte('/')
		}
		b.WriteString(id.String())
	}
	return b.String()
}

// Child returns a new path extended by id.
func (p Path) Child(id NodeID) Path {
	out := make(Path, len(p)+1)
	copy(out, p)
	out[len(p)] = id
	return out
}

// Compare orders paths lexicographically by id.
func (p Path) Compare(q Path) int {
	for i := 0; i < len(p) && i < len(q); i++ {
		switch {
		case p[i] < q[i]:
			return -1
		case p[i] > q[i]:
			return 1
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	}
	return 0
}

// ParsePath parses the form produced by Path.String.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("parse path: empty")
	}
	parts := strings.Split(s, "/")
	p := make(Path, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse path %q: %w", s, err)
		}
		p[i] = NodeID(n)
	}
	return p, nil
}

// Kind classifies a node's body.
type Kind int

const (
	// KindPure nodes map inputs to outputs with no memory.
	KindPure Kind = iota
	// KindStateful nodes own a State Slot threaded through every call.
	KindStateful
	// KindGraph nodes wrap a whole Graph behind its exposed ports.
	KindGraph
)

// String returns the kind name used in persisted documents.
func (k Kind) String() string {
	switch k {
	case KindPure:
		return "pure"
	case KindStateful:
		return "stateful"
	case KindGraph:
		return "graph"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Port is a named node input or output. Type is informational only; values
// are dynamically typed and any checking belongs to the body.
type Port struct {
	Name string
	Type string
}

// Ports builds untyped ports from names.
func Ports(names ...string) []Port {
	ports := make([]Port, len(names))
	for i, n := range names {
		ports[i] = Port{Name: n}
	}
	return ports
}

// Node is an immutable node instance: signature, body and flags.
// Graphs hold *Node values; changing any part of a node means building a new
// one and calling Graph.ReplaceNode.
type Node struct {
	kind      Kind
	inputs    []Port
	outputs   []Port
	body      Body
	fn        *runtime.FuncInfo
	init      string
	entry     string
	branching bool
	delay     bool
	pull      bool
	tag       string
	params    map[string]any
}

// NodeOption configures a node at construction.
type NodeOption func(*Node)

// WithEntry marks the node as an entrypoint named name. Its inputs are
// supplied by push events rather than edges.
func WithEntry(name string) NodeOption {
	return func(n *Node) {
		n.entry = name
	}
}

// WithBranching marks the node as choosing, per call, which outputs fire.
// The body returns (fired, outputs) where fired is an output index, a list
// of indices, a list of one bool per output, or None.
func WithBranching() NodeOption {
	return func(n *Node) {
		n.branching = true
	}
}

// WithDelay marks a stateful node as a one-step delay. Its outputs are the
// state read at the start of the cycle and its body maps
// (inputs..., state) to the next state. Edges leaving a delay node do not
// count toward cycle detection.
func WithDelay() NodeOption {
	return func(n *Node) {
		n.delay = true
	}
}

// WithPullTarget marks the node as demanded by pull evaluation even when no
// exposed output refers to it.
func WithPullTarget() NodeOption {
	return func(n *Node) {
		n.pull = true
	}
}

// WithInit sets a stateful node's State Slot initializer, a Starlark
// expression evaluated when the slot is first needed.
func WithInit(expr string) NodeOption {
	return func(n *Node) {
		n.init = expr
	}
}

// WithTag records the registry tag and params used to persist the node.
func WithTag(tag string, params map[string]any) NodeOption {
	return func(n *Node) {
		n.tag = tag
		n.params = params
	}
}

// NewNode validates and builds a node.
//
// Errors wrap ErrSignatureMismatch when the kind, port counts, flags and body
// arity disagree, and ErrUnsupportedBody when a Func body is not a single
// parsable def. Nothing is allocated or registered on failure.
func NewNode(kind Kind, inputs, outputs []Port, body Body, opts ...NodeOption) (*Node, error) {
	n := &Node{
		kind:    kind,
		inputs:  append([]Port(nil), inputs...),
		outputs: append([]Port(nil), outputs...),
		body:    body,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.params != nil {
		n.params = maps.Clone(n.params)
	}

	if err := n.validate(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Node) validate() error {
	if err := uniquePorts("input", n.inputs); err != nil {
		return err
	}
	if err := uniquePorts("output", n.outputs); err != nil {
		return err
	}
	if n.body == nil {
		return mismatch("nil body")
	}

	switch n.kind {
	case KindPure:
		if n.init != "" {
			return mismatch("pure node declares a state initializer")
		}
		if n.delay {
			return mismatch("delay requires a stateful node")
		}
	case KindStateful:
		if n.init == "" {
			return mismatch("stateful node needs an initializer")
		}
		if err := runtime.CheckExpr(n.init); err != nil {
			return mismatch("initializer: %v", err)
		}
		if n.delay && n.branching {
			return mismatch("delay node cannot branch")
		}
	case KindGraph:
		if n.init != "" || n.delay || n.branching || n.entry != "" {
			return mismatch("graph node cannot carry state, delay, branching or entry flags")
		}
	default:
		return mismatch("unknown kind %v", n.kind)
	}

	switch b := n.body.(type) {
	case *Func:
		if n.kind == KindGraph {
			return mismatch("graph node with func body")
		}
		info, err := runtime.ParseFunc(b.Src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnsupportedBody, err)
		}
		if !info.Accepts(n.arity()) {
			return mismatch("body %s takes %d..%d params, node passes %d",
				info.Name, info.Required, info.Required+info.Optional, n.arity())
		}
		n.fn = info
	case *Host:
		if n.kind == KindGraph {
			return mismatch("graph node with host body")
		}
		if b.Fn == nil {
			return fmt.Errorf("%w: host %q has no function", ErrUnsupportedBody, b.Name)
		}
		if b.Arity >= 0 && b.Arity != n.arity() {
			return mismatch("host %s takes %d params, node passes %d", b.Name, b.Arity, n.arity())
		}
	case *Subgraph:
		if n.kind != KindGraph {
			return mismatch("subgraph body on %v node", n.kind)
		}
		if b.Graph == nil {
			return mismatch("subgraph body without graph")
		}
		in, out := b.Graph.ExposedInputs(), b.Graph.ExposedOutputs()
		if len(in) != len(n.inputs) || len(out) != len(n.outputs) {
			return mismatch("graph exposes %d inputs and %d outputs, node declares %d and %d",
				len(in), len(out), len(n.inputs), len(n.outputs))
		}
	default:
		if p := n.body.Params(); p >= 0 && p != n.arity() {
			return mismatch("body takes %d params, node passes %d", p, n.arity())
		}
	}
	return nil
}

// arity is the number of positional values the body receives per call.
func (n *Node) arity() int {
	if n.kind == KindStateful {
		return len(n.inputs) + 1
	}
	return len(n.inputs)
}

func uniquePorts(side string, ports []Port) error {
	seen := make(map[string]bool, len(ports))
	for i, p := range ports {
		if p.Name == "" {
			return mismatch("%s %d has no name", side, i)
		}
		if seen[p.Name] {
			return mismatch("duplicate %s %q", side, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// Inputs returns a copy of the input ports.
func (n *Node) Inputs() []Port { return append([]Port(nil), n.inputs...) }

// Outputs returns a copy of the output ports.
func (n *Node) Outputs() []Port { return append([]Port(nil), n.outputs...) }

// NumInputs returns the input count.
func (n *Node) NumInputs() int { return len(n.inputs) }

// NumOutputs returns the output count.
func (n *Node) NumOutputs() int { return len(n.outputs) }

// Body returns the node body.
func (n *Node) Body() Body { return n.body }

// Init returns the state initializer expression, empty for non-stateful nodes.
func (n *Node) Init() string { return n.init }

// Entry returns the entrypoint name, empty if the node is not an entrypoint.
func (n *Node) Entry() string { return n.entry }

// IsEntry reports whether the node is an entrypoint.
func (n *Node) IsEntry() bool { return n.entry != "" }

// Branching reports whether the node chooses which outputs fire.
func (n *Node) Branching() bool { return n.branching }

// Delay reports whether the node is a one-step delay.
func (n *Node) Delay() bool { return n.delay }

// PullTarget reports whether the node is demanded by pull evaluation.
func (n *Node) PullTarget() bool { return n.pull }

// Tag returns the registry tag, empty for untagged nodes.
func (n *Node) Tag() string { return n.tag }

// Params returns a copy of the params recorded with the tag.
func (n *Node) Params() map[string]any { return maps.Clone(n.params) }

// InputIndex returns the index of the named input, or -1.
func (n *Node) InputIndex(name string) int {
	for i, p := range n.inputs {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// OutputIndex returns the index of the named output, or -1.
func (n *Node) OutputIndex(name string) int {
	for i, p := range n.outputs {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// stateful reports whether the node owns a State Slot.
func (n *Node) stateful() bool { return n.kind == KindStateful }

// NewFunc builds a pure node from a Starlark def.
func NewFunc(inputs, outputs []Port, src string, opts ...NodeOption) (*Node, error) {
	return NewNode(KindPure, inputs, outputs, &Func{Src: src}, opts...)
}

// NewStateful builds a stateful node from an initializer and a Starlark def
// taking the inputs followed by the current state.
func NewStateful(inputs, outputs []Port, init, src string, opts ...NodeOption) (*Node, error) {
	opts = append([]NodeOption{WithInit(init)}, opts...)
	return NewNode(KindStateful, inputs, outputs, &Func{Src: src}, opts...)
}

// NewHost builds a pure node whose body is a Go function.
func NewHost(inputs, outputs []Port, name string, fn HostFunc, opts ...NodeOption) (*Node, error) {
	return NewNode(KindPure, inputs, outputs, &Host{Name: name, Arity: len(inputs), Fn: fn}, opts...)
}

// NewGraphNode wraps g as a node whose ports are g's exposed ports, in
// exposure order.
func NewGraphNode(g *Graph, opts ...NodeOption) (*Node, error) {
	if g == nil {
		return nil, mismatch("nil graph")
	}
	in, out := g.ExposedInputs(), g.ExposedOutputs()
	inputs := make([]Port, len(in))
	for i, x := range in {
		inputs[i] = Port{Name: x.Name}
	}
	outputs := make([]Port, len(out))
	for i, x := range out {
		outputs[i] = Port{Name: x.Name}
	}
	return NewNode(KindGraph, inputs, outputs, &Subgraph{Graph: g}, opts...)
}
