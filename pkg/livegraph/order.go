package livegraph

import (
	"container/heap"
	"fmt"
	"slices"
)

// Direction selects which way Order walks from its roots.
type Direction int

const (
	// Forward visits the roots and everything downstream of them.
	Forward Direction = iota
	// Backward visits the roots and everything upstream of them.
	Backward
)

// Order returns the nodes reachable from roots in dependency order:
// every producer before its consumers, ties broken by ascending id.
// Edges leaving delay nodes are followed for reachability but do not
// constrain the order. With no roots, the whole graph is ordered.
func (g *Graph) Order(dir Direction, roots ...NodeID) ([]NodeID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if len(roots) == 0 {
		order := g.topo(g.sortedIDs())
		if len(order) != len(g.nodes) {
			return nil, ErrCycleViolation
		}
		return order, nil
	}

	for _, r := range roots {
		if _, ok := g.nodes[r]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, r)
		}
	}

	seen := make(map[NodeID]bool)
	stack := slices.Clone(roots)
	for _, r := range roots {
		seen[r] = true
	}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		adj := g.out[cur]
		if dir == Backward {
			adj = g.in[cur]
		}
		for e := range adj {
			next := e.To
			if dir == Backward {
				next = e.From
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}

	ids := make([]NodeID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	order := g.topo(ids)
	if len(order) != len(ids) {
		return nil, ErrCycleViolation
	}
	return order, nil
}

// topo runs Kahn's algorithm over ids, honoring dependency edges between
// them. Nodes stuck on a cycle are left out. Caller holds mu.
func (g *Graph) topo(ids []NodeID) []NodeID {
	member := make(map[NodeID]bool, len(ids))
	for _, id := range ids {
		member[id] = true
	}

	pending := make(map[NodeID]int, len(ids))
	for _, id := range ids {
		for e := range g.in[id] {
			if member[e.From] && !g.nodes[e.From].delay {
				pending[id]++
			}
		}
	}

	ready := &idHeap{}
	for _, id := range ids {
		if pending[id] == 0 {
			heap.Push(ready, id)
		}
	}

	order := make([]NodeID, 0, len(ids))
	for ready.Len() > 0 {
		id := heap.Pop(ready).(NodeID)
		order = append(order, id)
		if g.nodes[id].delay {
			continue
		}
		for e := range g.out[id] {
			if !member[e.To] {
				continue
			}
			pending[e.To]--
			if pending[e.To] == 0 {
				heap.Push(ready, e.To)
			}
		}
	}
	return order
}

type idHeap []NodeID

func (h idHeap) Len() int           { return len(h) }
func (h idHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h idHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idHeap) Push(x any)        { *h = append(*h, x.(NodeID)) }
func (h *idHeap) Pop() any {
	old := *h
	x := old[len(old)-1]
	*h = old[:len(old)-1]
	return x
}
