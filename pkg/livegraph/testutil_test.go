package livegraph

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
	"github.com/stretchr/testify/require"
)

// Starlark bodies shared across tests.
const (
	addSrc     = "def add(a, b):\n    return a + b\n"
	doubleSrc  = "def double(x):\n    return x * 2\n"
	identSrc   = "def ident(x):\n    return x\n"
	pairSrc    = "def pair(a, b):\n    return (a, b)\n"
	countSrc   = "def count(x, n):\n    n = n + 1\n    return (n, n)\n"
	holdSrc    = "def hold(x, prev):\n    return x\n"
	failSrc    = "def fail(x):\n    return x + \"oops\"\n"
	gateSrc    = "def gate(cond, x):\n    if cond:\n        return (0, (x, None))\n    return (1, (None, x))\n"
	sourceSrc  = "def source():\n    return 1\n"
	spinSrc    = "def spin(x):\n    while True:\n        x = x + 1\n    return x\n"
	counterSrc = "def counter(bang, n):\n    n = n + 1\n    return (n, n)\n"
)

// must wraps a node constructor call: must(t)(NewFunc(...)).
func must(t *testing.T) func(*Node, error) *Node {
	t.Helper()
	return func(n *Node, err error) *Node {
		t.Helper()
		require.NoError(t, err)
		return n
	}
}

func pureNode(t *testing.T, inputs, outputs []string, src string, opts ...NodeOption) *Node {
	t.Helper()
	return must(t)(NewFunc(Ports(inputs...), Ports(outputs...), src, opts...))
}

func statefulNode(t *testing.T, inputs, outputs []string, init, src string, opts ...NodeOption) *Node {
	t.Helper()
	return must(t)(NewStateful(Ports(inputs...), Ports(outputs...), init, src, opts...))
}

// inlet is an entry node passing two values through.
func inlet(t *testing.T, name string) *Node {
	t.Helper()
	return pureNode(t, []string{"a", "b"}, []string{"a", "b"}, pairSrc, WithEntry(name))
}

// single is an entry node passing one value through.
func single(t *testing.T, name string) *Node {
	t.Helper()
	return pureNode(t, []string{"x"}, []string{"x"}, identSrc, WithEntry(name))
}

func add(t *testing.T, g *Graph, n *Node) NodeID {
	t.Helper()
	id, err := g.AddNode(n)
	require.NoError(t, err)
	return id
}

func connect(t *testing.T, g *Graph, from NodeID, out string, to NodeID, in string) {
	t.Helper()
	require.NoError(t, g.Connect(from, out, to, in))
}

func exposeOut(t *testing.T, g *Graph, name string, id NodeID, port int) {
	t.Helper()
	require.NoError(t, g.ExposeOutput(name, PortRef{Node: id, Port: port}))
}

// loaded compiles g and loads it into a fresh coordinator sharing g's store.
func loaded(t *testing.T, g *Graph, opts ...Option) *Coordinator {
	t.Helper()
	store := g.Store()
	if store == nil {
		store = state.NewMemoryStore()
		g.SetStore(store)
	}
	u, err := Compile(g)
	require.NoError(t, err)
	c := NewCoordinator(store, opts...)
	require.NoError(t, c.Load(context.Background(), u))
	return c
}

// reload recompiles g into c.
func reload(t *testing.T, c *Coordinator, g *Graph) *Unit {
	t.Helper()
	u, err := Compile(g)
	require.NoError(t, err)
	require.NoError(t, c.Load(context.Background(), u))
	return u
}

// callLog records host body calls across a cycle.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// trackingNode is a host node that records its name and passes x through.
func trackingNode(t *testing.T, name string, log *callLog) *Node {
	t.Helper()
	return must(t)(NewHost(Ports("x"), Ports("x"), name, func(_ Context, args []any) (any, error) {
		log.record(name)
		return args[0], nil
	}))
}

// scenarioA builds in(a, b) -> add -> exposed "c".
func scenarioA(t *testing.T) (*Graph, NodeID, NodeID) {
	t.Helper()
	g := NewGraph(WithStateStore(state.NewMemoryStore()))
	in := add(t, g, inlet(t, "in"))
	sum := add(t, g, pureNode(t, []string{"a", "b"}, []string{"c"}, addSrc))
	connect(t, g, in, "a", sum, "a")
	connect(t, g, in, "b", sum, "b")
	exposeOut(t, g, "c", sum, 0)
	return g, in, sum
}

// changeLog collects the changes delivered to a graph subscription.
type changeLog struct {
	mu  sync.Mutex
	got []Change
}

// watch subscribes a new changeLog to g.
func watch(t *testing.T, g *Graph) (*changeLog, func()) {
	t.Helper()
	l := &changeLog{}
	unsubscribe := g.Subscribe(func(c Change) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.got = append(l.got, c)
	})
	return l, unsubscribe
}

func (l *changeLog) changes() []Change {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Change(nil), l.got...)
}

// wait blocks until n changes arrived and returns them.
func (l *changeLog) wait(t *testing.T, n int) []Change {
	t.Helper()
	require.Eventually(t, func() bool { return len(l.changes()) >= n }, time.Second, time.Millisecond)
	return l.changes()
}

func (l *changeLog) ops(t *testing.T, n int) []ChangeOp {
	t.Helper()
	var ops []ChangeOp
	for _, c := range l.wait(t, n) {
		ops = append(ops, c.Op)
	}
	return ops
}
