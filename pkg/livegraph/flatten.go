package livegraph

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/livegraph/pkg/livegraph/runtime"
)

// VertexRole distinguishes the vertices a node lowers to.
// Delay nodes lower to a read and a write vertex; all others to one node vertex.
type VertexRole int

const (
	RoleRead VertexRole = iota
	RoleNode
	RoleWrite
)

// String returns the role name.
func (r VertexRole) String() string {
	switch r {
	case RoleRead:
		return "read"
	case RoleNode:
		return "node"
	case RoleWrite:
		return "write"
	default:
		return "unknown"
	}
}

// source is where one vertex argument comes from: a producer vertex port,
// an external key, or nothing (None).
type source struct {
	vertex int
	port   int
	ext    string
}

var noSource = source{vertex: -1}

type vertex struct {
	path    Path
	role    VertexRole
	node    *Node
	fn      *runtime.FuncInfo
	entry   string
	args    []source
	partner int
}

func (v *vertex) less(w *vertex) bool {
	if c := v.path.Compare(w.path); c != 0 {
		return c < 0
	}
	return v.role < w.role
}

type scope struct {
	path   Path
	view   *graphView
	parent *scope
	// node is this scope's graph node id within parent.
	node NodeID
	// main maps a node id in this scope to its output-bearing vertex.
	main map[NodeID]int
	// write maps a delay node id to its write vertex.
	write map[NodeID]int
	// children maps a graph node id to its nested scope.
	children map[NodeID]*scope
}

type exposure struct {
	name   string
	vertex int
	port   int
}

type entryPoint struct {
	name   string
	path   Path
	vertex int
	keys   []string
}

type slotDecl struct {
	path  Path
	init  string
	delay bool
}

// flatGraph is a graph tree inlined into one vertex list.
type flatGraph struct {
	rootID   string
	root     *scope
	vertices []*vertex
	outputs  []exposure
	inputs   []string
	entries  []entryPoint
	slots    []slotDecl
	leaves   []Path
}

// flatten inlines g and every nested graph under it.
func flatten(g *Graph) (*flatGraph, error) {
	fg := &flatGraph{rootID: g.ID()}

	root, err := fg.build(nil, g.view(), nil, 0, map[*Graph]bool{})
	if err != nil {
		return nil, err
	}
	fg.root = root

	fg.resolve(root)

	for _, x := range root.view.exposedIn {
		fg.inputs = append(fg.inputs, x.Name)
	}
	for _, x := range root.view.exposedOut {
		src := fg.output(root, x.Ref.Node, x.Ref.Port)
		fg.outputs = append(fg.outputs, exposure{name: x.Name, vertex: src.vertex, port: src.port})
	}
	return fg, nil
}

// build creates vertices for every node of view, depth first, ascending ids.
func (fg *flatGraph) build(prefix Path, view *graphView, parent *scope, node NodeID, active map[*Graph]bool) (*scope, error) {
	sc := &scope{
		path:     prefix,
		view:     view,
		parent:   parent,
		node:     node,
		main:     make(map[NodeID]int),
		write:    make(map[NodeID]int),
		children: make(map[NodeID]*scope),
	}
	active[view.graph] = true
	defer delete(active, view.graph)

	var errs []error
	for _, id := range view.ids {
		n := view.nodes[id]
		path := prefix.Child(id)

		if n.kind == KindGraph {
			child, err := fg.nested(path, n, sc, id, active)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			sc.children[id] = child
			continue
		}

		fn, err := lowerable(n)
		if err != nil {
			errs = append(errs, &LowerError{Paths: []Path{path}, Err: err})
			continue
		}

		fg.leaves = append(fg.leaves, path)
		if n.stateful() {
			fg.slots = append(fg.slots, slotDecl{path: path, init: n.init, delay: n.delay})
		}

		if n.delay {
			read := fg.add(&vertex{path: path, role: RoleRead, node: n, partner: -1})
			write := fg.add(&vertex{path: path, role: RoleWrite, node: n, fn: fn, partner: read})
			fg.vertices[read].partner = write
			sc.main[id] = read
			sc.write[id] = write
			continue
		}

		v := &vertex{path: path, role: RoleNode, node: n, fn: fn, partner: -1}
		if n.IsEntry() {
			v.entry = entryName(prefix, n.entry)
		}
		idx := fg.add(v)
		sc.main[id] = idx

		if v.entry != "" {
			keys := make([]string, len(n.inputs))
			for i, p := range n.inputs {
				keys[i] = v.entry + "." + p.Name
			}
			fg.entries = append(fg.entries, entryPoint{name: v.entry, path: path, vertex: idx, keys: keys})
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return sc, nil
}

func (fg *flatGraph) nested(path Path, n *Node, parent *scope, id NodeID, active map[*Graph]bool) (*scope, error) {
	sub, ok := n.body.(*Subgraph)
	if !ok || sub.Graph == nil {
		return nil, &LowerError{Paths: []Path{path}, Err: fmt.Errorf("%w: graph node without subgraph", ErrUnsupportedBody)}
	}
	if active[sub.Graph] {
		return nil, &LowerError{Paths: []Path{path}, Err: fmt.Errorf("%w: graph contains itself", ErrCycleViolation)}
	}

	view := sub.Graph.view()
	if len(view.exposedIn) != len(n.inputs) || len(view.exposedOut) != len(n.outputs) {
		return nil, &LowerError{Paths: []Path{path}, Err: mismatch(
			"nested graph now exposes %d inputs and %d outputs, node declares %d and %d",
			len(view.exposedIn), len(view.exposedOut), len(n.inputs), len(n.outputs))}
	}
	return fg.build(path, view, parent, id, active)
}

func (fg *flatGraph) add(v *vertex) int {
	fg.vertices = append(fg.vertices, v)
	return len(fg.vertices) - 1
}

// lowerable re-checks that n's body can be represented in the runtime.
func lowerable(n *Node) (*runtime.FuncInfo, error) {
	switch b := n.body.(type) {
	case *Func:
		if n.fn != nil {
			return n.fn, nil
		}
		fn, err := runtime.ParseFunc(b.Src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedBody, err)
		}
		return fn, nil
	case *Host:
		if b.Fn == nil {
			return nil, fmt.Errorf("%w: host %q has no function", ErrUnsupportedBody, b.Name)
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedBody, n.body)
	}
}

// entryName qualifies a nested entrypoint with its graph node path.
func entryName(prefix Path, name string) string {
	if len(prefix) == 0 {
		return name
	}
	return prefix.String() + "/" + name
}

// resolve fills in the argument sources of every vertex under sc.
func (fg *flatGraph) resolve(sc *scope) {
	for _, id := range sc.view.ids {
		if child, ok := sc.children[id]; ok {
			fg.resolve(child)
			continue
		}

		idx, ok := sc.write[id]
		if !ok {
			idx = sc.main[id]
		}
		v := fg.vertices[idx]
		v.args = make([]source, len(v.node.inputs))
		for k := range v.node.inputs {
			if v.entry != "" {
				v.args[k] = source{vertex: -1, ext: v.entry + "." + v.node.inputs[k].Name}
				continue
			}
			v.args[k] = fg.input(sc, id, k)
		}
	}
}

// input resolves what feeds input k of node id in sc.
func (fg *flatGraph) input(sc *scope, id NodeID, k int) source {
	ref := PortRef{Node: id, Port: k}
	if e, ok := sc.view.inbound[ref]; ok {
		return fg.output(sc, e.From, e.Output)
	}
	for i, x := range sc.view.exposedIn {
		if x.Ref != ref {
			continue
		}
		if sc.parent == nil {
			return source{vertex: -1, ext: x.Name}
		}
		return fg.input(sc.parent, sc.node, i)
	}
	return noSource
}

// output resolves the vertex port behind output o of node id in sc.
func (fg *flatGraph) output(sc *scope, id NodeID, o int) source {
	if child, ok := sc.children[id]; ok {
		x := child.view.exposedOut[o]
		return fg.output(child, x.Ref.Node, x.Ref.Port)
	}
	idx, ok := sc.main[id]
	if !ok {
		return noSource
	}
	return source{vertex: idx, port: o}
}

// pullTargets returns the vertices demanded by pull evaluation: producers of
// root exposed outputs and nodes flagged as pull targets.
func (fg *flatGraph) pullTargets() []int {
	var out []int
	for _, x := range fg.outputs {
		if x.vertex >= 0 {
			out = append(out, x.vertex)
		}
	}
	for i, v := range fg.vertices {
		if v.node.pull && v.role != RoleWrite {
			out = append(out, i)
		}
	}
	return out
}

// deps returns the producer vertices v depends on, without duplicates.
func (fg *flatGraph) deps(i int) []int {
	v := fg.vertices[i]
	var out []int
	seen := make(map[int]bool)
	for _, a := range v.args {
		if a.vertex >= 0 && !seen[a.vertex] {
			seen[a.vertex] = true
			out = append(out, a.vertex)
		}
	}
	if v.role == RoleWrite && !seen[v.partner] {
		out = append(out, v.partner)
	}
	return out
}
