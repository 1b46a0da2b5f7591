package livegraph

import (
	"fmt"
	"slices"
	"sort"
)

// VertexInfo describes one lowered vertex, in execution order.
type VertexInfo struct {
	// Index is the vertex position in the unit's execution order.
	Index int
	// Path addresses the node the vertex came from.
	Path Path
	// Role is RoleNode, or RoleRead/RoleWrite for delay nodes.
	Role VertexRole
	// Kind is the node kind.
	Kind Kind
	// Tag is the node's registry tag, if any.
	Tag string
	// Entry is the qualified entrypoint name, if the node is one.
	Entry string
	// Branching reports whether the node selects which outputs fire.
	Branching bool
	// Outputs is the node's output count.
	Outputs int
	// Deps are the producer vertices, ascending.
	Deps []int
	// Consumers are the vertices that read this one, ascending.
	Consumers []int
	// Partner links the read and write vertices of a delay node; -1 otherwise.
	Partner int
	// Symbol is the lowered def name, "_host" for host bodies, or empty.
	Symbol string
}

// EntryInfo maps an entrypoint to its push symbol.
type EntryInfo struct {
	// Name is the qualified entrypoint name ("in", or "3/in" when nested).
	Name string
	// Symbol is the push function in the unit source.
	Symbol string
	// Path addresses the entry node.
	Path Path
	// Vertex is the entry node's vertex index.
	Vertex int
	// Keys are the external value keys for the entry inputs, in port order.
	Keys []string
}

// OutputInfo maps an exposed output to its pull symbol and producer.
type OutputInfo struct {
	Name   string
	Symbol string
	// Vertex is the producing vertex, or -1 when the output is not lowered.
	Vertex int
	Port   int
}

// SlotInfo describes a stateful node's State Slot.
type SlotInfo struct {
	Path Path
	// Init is the initializer expression.
	Init  string
	Delay bool
	// Compiled reports whether the node was lowered into the unit.
	Compiled bool
	// Allocated reports whether the consulted store already held the slot.
	Allocated bool
}

// Unit is an immutable compiled graph: runtime source plus the tables the
// coordinator needs to select and interpret vertices.
type Unit struct {
	graphID  string
	source   string
	digest   string
	vertices []VertexInfo
	hosts    []*Host
	inits    []string
	entries  map[string]EntryInfo
	outputs  map[string]OutputInfo
	inputs   []string
	slots    []SlotInfo
	byPath   map[string]int
}

// GraphID returns the id of the graph the unit was compiled from.
func (u *Unit) GraphID() string { return u.graphID }

// Source returns the lowered Starlark source.
func (u *Unit) Source() string { return u.source }

// Digest returns the hex sha256 of Source.
func (u *Unit) Digest() string { return u.digest }

// Len returns the number of vertices.
func (u *Unit) Len() int { return len(u.vertices) }

// Vertices returns the vertex table in execution order.
func (u *Unit) Vertices() []VertexInfo {
	return slices.Clone(u.vertices)
}

// Entries returns the entrypoints sorted by name.
func (u *Unit) Entries() []EntryInfo {
	out := make([]EntryInfo, 0, len(u.entries))
	for _, e := range u.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Entry returns the named entrypoint.
func (u *Unit) Entry(name string) (EntryInfo, bool) {
	e, ok := u.entries[name]
	return e, ok
}

// Outputs returns the exposed outputs sorted by name.
func (u *Unit) Outputs() []OutputInfo {
	out := make([]OutputInfo, 0, len(u.outputs))
	for _, o := range u.outputs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Output returns the named exposed output.
func (u *Unit) Output(name string) (OutputInfo, bool) {
	o, ok := u.outputs[name]
	return o, ok
}

// Inputs returns the root graph's exposed input names, which are also their
// external value keys.
func (u *Unit) Inputs() []string {
	return slices.Clone(u.inputs)
}

// Slots returns every stateful node in the graph tree, sorted by path.
func (u *Unit) Slots() []SlotInfo {
	return slices.Clone(u.slots)
}

// HasSlot reports whether path names a stateful node of the unit's graph.
func (u *Unit) HasSlot(path string) bool {
	for _, s := range u.slots {
		if s.Path.String() == path {
			return true
		}
	}
	return false
}

// VertexOf returns the output-bearing vertex of the node at path: the node
// vertex, or the read vertex of a delay.
func (u *Unit) VertexOf(path Path) (int, bool) {
	i, ok := u.byPath[path.String()]
	return i, ok
}

// Required computes the vertex set of one cycle: everything downstream of
// the pushed entrypoints and everything upstream of the pulled outputs and
// node paths. Reaching either half of a delay brings in the other half.
func (u *Unit) Required(pushes, pulls []string, nodes []Path) ([]bool, error) {
	var fwd, bwd []int
	for _, name := range pushes {
		e, ok := u.entries[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, name)
		}
		fwd = append(fwd, e.Vertex)
	}
	for _, name := range pulls {
		o, ok := u.outputs[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOutput, name)
		}
		if o.Vertex >= 0 {
			bwd = append(bwd, o.Vertex)
		}
	}
	for _, p := range nodes {
		i, ok := u.VertexOf(p)
		if !ok {
			return nil, fmt.Errorf("%w: node %s", ErrUnknownOutput, p)
		}
		bwd = append(bwd, i)
	}

	req := make([]bool, len(u.vertices))
	up := make([]bool, len(u.vertices))
	closure(req, fwd, func(i int) []int { return u.vertices[i].Consumers }, u.partner)
	closure(up, bwd, func(i int) []int { return u.vertices[i].Deps }, u.partner)
	for i, ok := range up {
		req[i] = req[i] || ok
	}
	return req, nil
}

func (u *Unit) partner(i int) int { return u.vertices[i].Partner }

// closure marks everything reachable from starts through next in seen.
// Visiting one half of a delay visits the other half too.
func closure(seen []bool, starts []int, next func(int) []int, partner func(int) int) {
	stack := make([]int, 0, len(starts))
	visit := func(i int) {
		if !seen[i] {
			seen[i] = true
			stack = append(stack, i)
		}
	}
	for _, s := range starts {
		visit(s)
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if p := partner(cur); p >= 0 {
			visit(p)
		}
		for _, n := range next(cur) {
			visit(n)
		}
	}
}
