package livegraph

import (
	"slices"

	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
)

// A graph wrapped by a graph node is inlined into its parent when compiled,
// so the slots of its nodes live under the root graph's id at the full path.
// Each graph records the graph nodes that wrap it to find those slots again.

func nestedGraph(n *Node) *Graph {
	if n == nil {
		return nil
	}
	if sub, ok := n.body.(*Subgraph); ok {
		return sub.Graph
	}
	return nil
}

// mountNested records that node id of g wraps n's graph, if any.
func (g *Graph) mountNested(id NodeID, n *Node) {
	inner := nestedGraph(n)
	if inner == nil {
		return
	}
	inner.mountMu.Lock()
	inner.mounts = append(inner.mounts, mount{parent: g, node: id})
	inner.mountMu.Unlock()
}

func (g *Graph) unmountNested(id NodeID, n *Node) {
	inner := nestedGraph(n)
	if inner == nil {
		return
	}
	inner.mountMu.Lock()
	inner.mounts = slices.DeleteFunc(inner.mounts, func(m mount) bool {
		return m.parent == g && m.node == id
	})
	inner.mountMu.Unlock()
}

// slotScope is one place where node paths of a graph are stored: the paths
// sit under prefix in graphID's slots of store.
type slotScope struct {
	store   state.Store
	graphID string
	prefix  Path
}

// slotScopes returns the graph's own scope, when it has a store, and one
// scope per enclosing root reached through its mounts.
func (g *Graph) slotScopes() []slotScope {
	return g.collectScopes(nil, make(map[*Graph]bool))
}

func (g *Graph) collectScopes(below Path, active map[*Graph]bool) []slotScope {
	if active[g] {
		return nil
	}
	active[g] = true
	defer delete(active, g)

	var scopes []slotScope
	if s := g.Store(); s != nil {
		scopes = append(scopes, slotScope{store: s, graphID: g.id, prefix: below})
	}

	g.mountMu.Lock()
	mounts := slices.Clone(g.mounts)
	g.mountMu.Unlock()

	for _, m := range mounts {
		up := append(Path{m.node}, below...)
		scopes = append(scopes, m.parent.collectScopes(up, active)...)
	}
	return scopes
}

// dropSlots releases the slots of node id and its descendants in every scope.
func (g *Graph) dropSlots(id NodeID) {
	for _, sc := range g.slotScopes() {
		sc.store.Drop(sc.graphID, sc.prefix.Child(id).String())
	}
}

// keepsSlots reports whether replacing old with n keeps old's slots: both
// stateful with the same delay flag, or both wrapping the same graph.
func keepsSlots(old, n *Node) bool {
	if old.stateful() && n.stateful() {
		return old.delay == n.delay
	}
	inner := nestedGraph(old)
	return inner != nil && inner == nestedGraph(n)
}
