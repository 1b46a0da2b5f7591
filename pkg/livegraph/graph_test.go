package livegraph

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/livegraph/pkg/livegraph/event"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identNode(t *testing.T) *Node {
	t.Helper()
	return pureNode(t, []string{"x"}, []string{"x"}, identSrc)
}

func delayNode(t *testing.T) *Node {
	t.Helper()
	return statefulNode(t, []string{"x"}, []string{"x"}, "None", holdSrc, WithDelay())
}

// TestGraph_AddNode tests id assignment and entrypoint name uniqueness.
func TestGraph_AddNode(t *testing.T) {
	g := NewGraph(WithGraphID("g1"))
	assert.Equal(t, "g1", g.ID())
	assert.NotEmpty(t, NewGraph().ID())

	a := add(t, g, identNode(t))
	b := add(t, g, identNode(t))
	assert.Equal(t, NodeID(1), a)
	assert.Equal(t, NodeID(2), b)

	add(t, g, single(t, "go"))
	_, err := g.AddNode(single(t, "go"))
	assert.ErrorIs(t, err, ErrNameTaken)
	assert.Equal(t, map[string]NodeID{"go": 3}, g.Entries())

	_, err = g.AddNode(nil)
	assert.ErrorIs(t, err, ErrSignatureMismatch)
	assert.Equal(t, 3, g.Len())
}

// TestGraph_InsertNode tests caller-chosen ids.
func TestGraph_InsertNode(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.InsertNode(5, identNode(t)))
	assert.ErrorIs(t, g.InsertNode(5, identNode(t)), ErrNodeExists)
	assert.ErrorIs(t, g.InsertNode(0, identNode(t)), ErrNodeExists)

	next := add(t, g, identNode(t))
	assert.Equal(t, NodeID(6), next)

	require.NoError(t, g.InsertNode(2, identNode(t)))
	assert.Equal(t, []NodeID{2, 5, 6}, g.NodeIDs())
}

// TestGraph_AddEdge_Errors tests that rejected edges leave the graph unchanged.
func TestGraph_AddEdge_Errors(t *testing.T) {
	g := NewGraph()
	a := add(t, g, identNode(t))
	b := add(t, g, identNode(t))
	c := add(t, g, identNode(t))
	entry := add(t, g, single(t, "in"))
	connect(t, g, a, "x", b, "x")
	require.NoError(t, g.ExposeInput("ext", PortRef{Node: c, Port: 0}))

	before := g.Edges()

	tests := []struct {
		name string
		edge Edge
		want error
	}{
		{"input taken", Edge{From: c, Output: 0, To: b, Input: 0}, ErrPortAlreadyConnected},
		{"entry input", Edge{From: a, Output: 0, To: entry, Input: 0}, ErrPortAlreadyConnected},
		{"exposed input", Edge{From: a, Output: 0, To: c, Input: 0}, ErrPortAlreadyConnected},
		{"cycle", Edge{From: b, Output: 0, To: a, Input: 0}, ErrCycleViolation},
		{"self loop", Edge{From: b, Output: 0, To: b, Input: 0}, ErrPortAlreadyConnected},
		{"missing node", Edge{From: 99, Output: 0, To: a, Input: 0}, ErrNodeNotFound},
		{"bad output", Edge{From: a, Output: 3, To: c, Input: 0}, ErrPortNotFound},
		{"bad input", Edge{From: a, Output: 0, To: c, Input: -1}, ErrPortNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.AddEdge(tt.edge)
			assert.ErrorIs(t, err, tt.want)
			var ee *EdgeError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.edge, ee.Edge)
			assert.Equal(t, before, g.Edges())
		})
	}

	err := g.Connect(a, "nope", c, "x")
	assert.ErrorIs(t, err, ErrPortNotFound)
	err = g.Connect(a, "x", 42, "x")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

// TestGraph_DelayBreaksCycle tests that feedback through a delay node is allowed.
func TestGraph_DelayBreaksCycle(t *testing.T) {
	g := NewGraph()
	a := add(t, g, identNode(t))
	d := add(t, g, delayNode(t))

	connect(t, g, a, "x", d, "x")
	connect(t, g, d, "x", a, "x")
	assert.Len(t, g.Edges(), 2)

	order, err := g.Order(Forward)
	require.NoError(t, err)
	assert.Equal(t, []NodeID{a, d}, order)

	_, err = Compile(g)
	require.NoError(t, err)
}

// TestGraph_RemoveNode tests that edges, exposures and slots go with the node.
func TestGraph_RemoveNode(t *testing.T) {
	store := state.NewMemoryStore()
	g := NewGraph(WithStateStore(store))
	a := add(t, g, identNode(t))
	acc := add(t, g, statefulNode(t, []string{"x"}, []string{"n"}, "0", countSrc))
	b := add(t, g, identNode(t))
	connect(t, g, a, "x", acc, "x")
	connect(t, g, acc, "n", b, "x")
	exposeOut(t, g, "n", acc, 0)
	exposeOut(t, g, "out", b, 0)

	require.NoError(t, store.Set(g.ID(), "2", int64(4)))
	require.NoError(t, store.Set(g.ID(), "2/1", int64(1)))
	require.NoError(t, store.Set(g.ID(), "3", int64(9)))

	log, unsubscribe := watch(t, g)
	defer unsubscribe()

	require.NoError(t, g.RemoveNode(acc))
	_, ok := g.Node(acc)
	assert.False(t, ok)
	assert.Empty(t, g.Edges())
	assert.Empty(t, g.Incoming(b))
	require.Len(t, g.ExposedOutputs(), 1)
	assert.Equal(t, "out", g.ExposedOutputs()[0].Name)
	assert.Equal(t, []string{"3"}, store.Paths(g.ID()))
	assert.Equal(t, []ChangeOp{EdgeRemoved, EdgeRemoved, PortUnexposed, NodeRemoved}, log.ops(t, 4))

	assert.ErrorIs(t, g.RemoveNode(acc), ErrNodeNotFound)
}

// TestGraph_RemoveNode_Nested tests that removing a node of a nested graph
// releases its slot under the root graph at the full path.
func TestGraph_RemoveNode_Nested(t *testing.T) {
	store := state.NewMemoryStore()
	leaf := NewGraph()
	acc := add(t, leaf, statefulNode(t, []string{"x"}, []string{"n"}, "0", countSrc))
	other := add(t, leaf, statefulNode(t, []string{"x"}, []string{"n"}, "0", countSrc))
	exposeOut(t, leaf, "n", acc, 0)

	mid := NewGraph()
	l := add(t, mid, must(t)(NewGraphNode(leaf)))
	exposeOut(t, mid, "n", l, 0)

	root := NewGraph(WithStateStore(store))
	m := add(t, root, must(t)(NewGraphNode(mid)))

	accPath := Path{m, l, acc}.String()
	otherPath := Path{m, l, other}.String()
	require.NoError(t, store.Set(root.ID(), accPath, int64(3)))
	require.NoError(t, store.Set(root.ID(), otherPath, int64(4)))

	require.NoError(t, leaf.RemoveNode(acc))
	assert.Equal(t, []string{otherPath}, store.Paths(root.ID()))

	require.NoError(t, root.ReplaceNode(m, must(t)(NewGraphNode(mid))))
	assert.Equal(t, []string{otherPath}, store.Paths(root.ID()))

	require.NoError(t, root.RemoveNode(m))
	assert.Empty(t, store.Paths(root.ID()))

	// Once detached, the leaf no longer reaches the root's slots.
	require.NoError(t, store.Set(root.ID(), otherPath, int64(4)))
	require.NoError(t, leaf.RemoveNode(other))
	assert.Equal(t, []string{otherPath}, store.Paths(root.ID()))
}

// TestGraph_ReplaceNode tests edge pruning and slot retention on replace.
func TestGraph_ReplaceNode(t *testing.T) {
	store := state.NewMemoryStore()
	g := NewGraph(WithStateStore(store))
	in := add(t, g, inlet(t, "in"))
	acc := add(t, g, statefulNode(t, []string{"x"}, []string{"n"}, "0", countSrc))
	sum := add(t, g, pureNode(t, []string{"a", "b"}, []string{"s"}, addSrc))
	connect(t, g, in, "a", acc, "x")
	connect(t, g, in, "a", sum, "a")
	connect(t, g, in, "b", sum, "b")
	exposeOut(t, g, "b", in, 1)
	require.NoError(t, store.Set(g.ID(), "2", int64(7)))

	t.Run("stateful to stateful keeps slot", func(t *testing.T) {
		next := statefulNode(t, []string{"x"}, []string{"n"}, "10", countSrc)
		require.NoError(t, g.ReplaceNode(acc, next))
		v, ok := store.Get(g.ID(), "2")
		require.True(t, ok)
		assert.Equal(t, int64(7), v)
	})

	t.Run("stateful to pure drops slot", func(t *testing.T) {
		require.NoError(t, g.ReplaceNode(acc, identNode(t)))
		assert.False(t, store.Has(g.ID(), "2"))
		assert.Len(t, g.Incoming(acc), 1)
	})

	t.Run("narrower signature drops edges and exposures", func(t *testing.T) {
		narrow := pureNode(t, []string{"a"}, []string{"a"}, identSrc, WithEntry("in"))
		require.NoError(t, g.ReplaceNode(in, narrow))
		assert.Equal(t, []Edge{
			{From: in, Output: 0, To: acc, Input: 0},
			{From: in, Output: 0, To: sum, Input: 0},
		}, g.Edges())
		assert.Empty(t, g.ExposedOutputs())
	})

	t.Run("entry name clash", func(t *testing.T) {
		err := g.ReplaceNode(sum, pureNode(t, []string{"a", "b"}, []string{"s"}, addSrc, WithEntry("in")))
		assert.ErrorIs(t, err, ErrNameTaken)
	})

	t.Run("entry with connected inputs", func(t *testing.T) {
		err := g.ReplaceNode(sum, pureNode(t, []string{"a", "b"}, []string{"s"}, addSrc, WithEntry("other")))
		assert.ErrorIs(t, err, ErrPortAlreadyConnected)
		n, _ := g.Node(sum)
		assert.False(t, n.IsEntry())
	})

	t.Run("missing", func(t *testing.T) {
		assert.ErrorIs(t, g.ReplaceNode(99, identNode(t)), ErrNodeNotFound)
	})
}

// TestGraph_ReplaceNode_Exposures tests that exposed inputs are checked
// against the new node's inputs and exposed outputs against its outputs.
func TestGraph_ReplaceNode_Exposures(t *testing.T) {
	g := NewGraph()
	sum := add(t, g, pureNode(t, []string{"a", "b"}, []string{"c"}, addSrc))
	require.NoError(t, g.ExposeInput("x", PortRef{Node: sum, Port: 0}))
	require.NoError(t, g.ExposeInput("y", PortRef{Node: sum, Port: 1}))
	exposeOut(t, g, "c", sum, 0)

	require.NoError(t, g.ReplaceNode(sum, pureNode(t, []string{"a", "b"}, []string{"c"}, addSrc)))
	assert.Equal(t, []Exposed{
		{Name: "x", Ref: PortRef{Node: sum, Port: 0}},
		{Name: "y", Ref: PortRef{Node: sum, Port: 1}},
	}, g.ExposedInputs())
	assert.Len(t, g.ExposedOutputs(), 1)

	split := pureNode(t, []string{"a"}, []string{"c", "d"}, "def split(a):\n    return (a, a)\n")
	require.NoError(t, g.ReplaceNode(sum, split))
	assert.Equal(t, []Exposed{{Name: "x", Ref: PortRef{Node: sum, Port: 0}}}, g.ExposedInputs())
	assert.Equal(t, []Exposed{{Name: "c", Ref: PortRef{Node: sum, Port: 0}}}, g.ExposedOutputs())

	require.NoError(t, g.ReplaceNode(sum, pureNode(t, []string{"a", "b"}, nil, "def sink(a, b):\n    return None\n")))
	assert.Len(t, g.ExposedInputs(), 1)
	assert.Empty(t, g.ExposedOutputs())
}

// TestGraph_ReplaceNode_Delay tests that a delay in a loop cannot be replaced
// by a node that would close the cycle.
func TestGraph_ReplaceNode_Delay(t *testing.T) {
	g := NewGraph()
	a := add(t, g, identNode(t))
	d := add(t, g, delayNode(t))
	connect(t, g, a, "x", d, "x")
	connect(t, g, d, "x", a, "x")

	err := g.ReplaceNode(d, identNode(t))
	assert.ErrorIs(t, err, ErrCycleViolation)
	n, _ := g.Node(d)
	assert.True(t, n.Delay())

	require.NoError(t, g.ReplaceNode(d, statefulNode(t, []string{"x"}, []string{"x"}, "0", holdSrc, WithDelay())))
}

// TestGraph_Expose tests exposed port validation.
func TestGraph_Expose(t *testing.T) {
	g := NewGraph()
	a := add(t, g, identNode(t))
	b := add(t, g, identNode(t))
	e := add(t, g, single(t, "in"))
	connect(t, g, a, "x", b, "x")

	require.NoError(t, g.ExposeInput("x", PortRef{Node: a, Port: 0}))
	require.NoError(t, g.ExposeOutput("y", PortRef{Node: b, Port: 0}))

	assert.ErrorIs(t, g.ExposeInput("x", PortRef{Node: e, Port: 0}), ErrNameTaken)
	assert.ErrorIs(t, g.ExposeInput("x2", PortRef{Node: a, Port: 0}), ErrPortAlreadyConnected)
	assert.ErrorIs(t, g.ExposeInput("x3", PortRef{Node: b, Port: 0}), ErrPortAlreadyConnected)
	assert.ErrorIs(t, g.ExposeInput("x4", PortRef{Node: e, Port: 0}), ErrPortAlreadyConnected)
	assert.ErrorIs(t, g.ExposeInput("x5", PortRef{Node: 9, Port: 0}), ErrNodeNotFound)
	assert.ErrorIs(t, g.ExposeInput("", PortRef{Node: a, Port: 0}), ErrSignatureMismatch)
	assert.ErrorIs(t, g.ExposeOutput("y", PortRef{Node: a, Port: 0}), ErrNameTaken)
	assert.ErrorIs(t, g.ExposeOutput("z", PortRef{Node: a, Port: 1}), ErrPortNotFound)

	require.NoError(t, g.ExposeOutput("y2", PortRef{Node: b, Port: 0}))
	assert.Len(t, g.ExposedOutputs(), 2)

	require.NoError(t, g.UnexposeOutput("y"))
	assert.Equal(t, []Exposed{{Name: "y2", Ref: PortRef{Node: b, Port: 0}}}, g.ExposedOutputs())
	assert.ErrorIs(t, g.UnexposeInput("nope"), ErrPortNotFound)
	require.NoError(t, g.UnexposeInput("x"))
	assert.Empty(t, g.ExposedInputs())
}

// TestGraph_Order tests dependency order with id tie-breaking.
func TestGraph_Order(t *testing.T) {
	g := NewGraph()
	n1 := add(t, g, identNode(t))
	n2 := add(t, g, identNode(t))
	n3 := add(t, g, identNode(t))
	n4 := add(t, g, pureNode(t, []string{"a", "b"}, []string{"s"}, addSrc))
	connect(t, g, n3, "x", n1, "x")
	connect(t, g, n1, "x", n4, "a")
	connect(t, g, n2, "x", n4, "b")

	tests := []struct {
		name  string
		dir   Direction
		roots []NodeID
		want  []NodeID
	}{
		{"whole graph", Forward, nil, []NodeID{n2, n3, n1, n4}},
		{"forward from 3", Forward, []NodeID{n3}, []NodeID{n3, n1, n4}},
		{"forward from 2", Forward, []NodeID{n2}, []NodeID{n2, n4}},
		{"backward from 1", Backward, []NodeID{n1}, []NodeID{n3, n1}},
		{"backward from 4", Backward, []NodeID{n4}, []NodeID{n2, n3, n1, n4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Order(tt.dir, tt.roots...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := g.Order(Forward, 99)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

// TestGraph_Subscribe tests change delivery and unsubscribe.
func TestGraph_Subscribe(t *testing.T) {
	g := NewGraph()
	log, unsubscribe := watch(t, g)

	a := add(t, g, identNode(t))
	b := add(t, g, identNode(t))
	connect(t, g, a, "x", b, "x")
	exposeOut(t, g, "out", b, 0)
	require.NoError(t, g.RemoveEdge(Edge{From: a, Output: 0, To: b, Input: 0}))

	assert.Equal(t, []Change{
		{Op: NodeAdded, Node: a},
		{Op: NodeAdded, Node: b},
		{Op: EdgeAdded, Edge: Edge{From: a, Output: 0, To: b, Input: 0}},
		{Op: PortExposed, Node: b, Name: "out"},
		{Op: EdgeRemoved, Edge: Edge{From: a, Output: 0, To: b, Input: 0}},
	}, log.wait(t, 5))

	unsubscribe()
	unsubscribe()
	add(t, g, identNode(t))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log.changes(), 5)

	err := g.RemoveEdge(Edge{From: a, Output: 0, To: b, Input: 0})
	assert.ErrorIs(t, err, ErrEdgeNotFound)
	assert.Equal(t, "edge_removed", EdgeRemoved.String())
}

// TestGraph_Subscribe_Order tests that concurrent edits are delivered in the
// order they were applied.
func TestGraph_Subscribe_Order(t *testing.T) {
	g := NewGraph()
	log, unsubscribe := watch(t, g)
	defer unsubscribe()

	const workers, each = 8, 25
	nodes := make([]*Node, workers*each)
	for i := range nodes {
		nodes[i] = identNode(t)
	}

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, n := range nodes[w*each : (w+1)*each] {
				_, err := g.AddNode(n)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got := log.wait(t, workers*each)
	for i, c := range got {
		assert.Equal(t, NodeAdded, c.Op)
		assert.Equal(t, NodeID(i+1), c.Node)
	}
}

// TestGraph_Events tests the published events of one mutation share a
// correlation id and chain their causation ids.
func TestGraph_Events(t *testing.T) {
	g := NewGraph()
	a := add(t, g, identNode(t))
	b := add(t, g, identNode(t))
	connect(t, g, a, "x", b, "x")

	var mu sync.Mutex
	var got []event.Event
	sub := g.Events().Subscribe(ChangeEventTypes(), event.HandlerFunc(func(_ context.Context, evt event.Event) ([]event.Event, error) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt)
		return nil, nil
	}))
	defer sub.Unsubscribe()

	require.NoError(t, g.RemoveNode(b))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "graph.edge_removed", got[0].Type())
	assert.Equal(t, "graph.node_removed", got[1].Type())
	assert.Equal(t, g.ID(), got[0].Source())
	assert.Equal(t, got[0].ID(), got[1].CorrelationID())
	assert.Equal(t, got[0].ID(), got[1].CausationID())
	assert.Equal(t, Change{Op: NodeRemoved, Node: b}, got[1].Data())
}

// TestGraph_SharedBus tests that graphs on one bus only report their own
// changes to Subscribe.
func TestGraph_SharedBus(t *testing.T) {
	bus := event.NewBus(event.DefaultBusConfig)
	defer bus.Close()
	g1 := NewGraph(WithEventBus(bus))
	g2 := NewGraph(WithEventBus(bus))
	assert.Same(t, bus, g1.Events())

	log1, unsub1 := watch(t, g1)
	defer unsub1()
	var c collectorAll
	sub := bus.SubscribeAll(c.handler())
	defer sub.Unsubscribe()

	add(t, g2, identNode(t))
	add(t, g1, identNode(t))
	add(t, g1, identNode(t))

	assert.Equal(t, []ChangeOp{NodeAdded, NodeAdded}, log1.ops(t, 2))
	require.Eventually(t, func() bool { return c.count() == 3 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, log1.changes(), 2)
}

// collectorAll counts every event on a bus.
type collectorAll struct {
	mu sync.Mutex
	n  int
}

func (c *collectorAll) handler() event.Handler {
	return event.HandlerFunc(func(context.Context, event.Event) ([]event.Event, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.n++
		return nil, nil
	})
}

func (c *collectorAll) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// TestGraph_Dot tests the debug rendering.
func TestGraph_Dot(t *testing.T) {
	g := NewGraph(WithGraphID("demo"))
	in := add(t, g, single(t, "in"))
	d := add(t, g, delayNode(t))
	connect(t, g, in, "x", d, "x")
	exposeOut(t, g, "prev", d, 0)

	dot := g.Dot()
	assert.True(t, strings.HasPrefix(dot, `digraph "demo" {`))
	assert.Contains(t, dot, "entry:in")
	assert.Contains(t, dot, "n1:o0 -> n2:i0")
	assert.Contains(t, dot, `n2:o0 -> "out:prev";`)
	assert.NotContains(t, dot, "style=dashed")

	out := add(t, g, identNode(t))
	connect(t, g, d, "x", out, "x")
	assert.Contains(t, g.Dot(), "n2:o0 -> n3:i0 [label=\"x -> x\", style=dashed];")
}
