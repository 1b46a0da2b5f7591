package history_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/history"
	"github.com/randalmurphal/livegraph/pkg/livegraph/serde"
	"github.com/randalmurphal/livegraph/pkg/livegraph/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ticker returns a clock advancing one second per call.
func ticker() func() time.Time {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		at = at.Add(time.Second)
		return at
	}
}

// scaler builds a graph exposing x -> y = x * factor.
func scaler(t *testing.T, factor int, opts ...livegraph.GraphOption) *livegraph.Graph {
	t.Helper()
	g := livegraph.NewGraph(opts...)
	src := "def scale(x):\n    return x * " + string(rune('0'+factor)) + "\n"
	n, err := livegraph.NewFunc(livegraph.Ports("x"), livegraph.Ports("y"), src)
	require.NoError(t, err)
	id, err := g.AddNode(n)
	require.NoError(t, err)
	require.NoError(t, g.ExposeInput("x", livegraph.PortRef{Node: id, Port: 0}))
	require.NoError(t, g.ExposeOutput("y", livegraph.PortRef{Node: id, Port: 0}))
	return g
}

func graphAddr(t *testing.T, g *livegraph.Graph) history.Addr {
	t.Helper()
	a, err := history.GraphAddr(g)
	require.NoError(t, err)
	return a
}

// TestGraphAddr tests that addresses follow content, not graph ids.
func TestGraphAddr(t *testing.T) {
	a := graphAddr(t, scaler(t, 2, livegraph.WithGraphID("one")))
	b := graphAddr(t, scaler(t, 2, livegraph.WithGraphID("two")))
	c := graphAddr(t, scaler(t, 3))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	doc, err := serde.EncodeGraph(scaler(t, 2))
	require.NoError(t, err)
	data, err := serde.Marshal(doc, serde.FormatYAML)
	require.NoError(t, err)
	var back serde.Document
	require.NoError(t, serde.Unmarshal(data, serde.FormatYAML, &back))
	g, err := serde.DecodeGraph(&back, serde.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, a, graphAddr(t, g))
}

// TestAddr_Text tests the text forms of an address.
func TestAddr_Text(t *testing.T) {
	a := graphAddr(t, scaler(t, 2))
	parsed, err := history.ParseAddr(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.Len(t, a.Short(), 8)
	assert.True(t, history.Addr{}.IsZero())

	text, err := history.Addr{}.MarshalText()
	require.NoError(t, err)
	assert.Empty(t, text)

	_, err = history.ParseAddr("abc")
	assert.Error(t, err)
	_, err = history.ParseAddr(string(make([]byte, 64)))
	assert.Error(t, err)
}

// TestCommit_Addr tests that every commit field feeds the address.
func TestCommit_Addr(t *testing.T) {
	at := time.Date(2026, 3, 1, 0, 0, 0, 5, time.UTC)
	g := graphAddr(t, scaler(t, 2))
	base := history.Commit{Timestamp: at, Graph: g}
	assert.Equal(t, base.Addr(), history.Commit{Timestamp: at, Graph: g}.Addr())

	later := base
	later.Timestamp = at.Add(time.Nanosecond)
	child := base
	child.Parent = base.Addr()
	other := base
	other.Graph = graphAddr(t, scaler(t, 3))

	seen := map[history.Addr]bool{base.Addr(): true}
	for _, c := range []history.Commit{later, child, other} {
		assert.False(t, seen[c.Addr()])
		seen[c.Addr()] = true
	}
}

// TestRegistry_BranchHead tests committing through a branch head.
func TestRegistry_BranchHead(t *testing.T) {
	reg := history.NewRegistry(history.WithClock(ticker()))
	head, err := reg.InitHead("main")
	require.NoError(t, err)
	assert.Equal(t, "main", head.String())
	root, ok := reg.HeadCommit(head)
	require.True(t, ok)

	first, err := reg.CommitToHead(&head, scaler(t, 2))
	require.NoError(t, err)
	second, err := reg.CommitToHead(&head, scaler(t, 3))
	require.NoError(t, err)

	tip, ok := reg.HeadCommit(head)
	require.True(t, ok)
	assert.Equal(t, second, tip)
	assert.Equal(t, []history.Addr{second, first, root}, reg.Log(tip))

	c, ok := reg.CommitAt(second)
	require.True(t, ok)
	assert.Equal(t, first, c.Parent)
	assert.Equal(t, graphAddr(t, scaler(t, 3)), c.Graph)

	g, err := reg.HeadGraph(head, serde.NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, graphAddr(t, scaler(t, 3)), graphAddr(t, g))

	empty, err := reg.CommitGraph(root, serde.NewRegistry())
	require.NoError(t, err)
	assert.Empty(t, empty.NodeIDs())
}

// TestRegistry_DetachedHead tests that a detached head moves itself.
func TestRegistry_DetachedHead(t *testing.T) {
	reg := history.NewRegistry(history.WithClock(ticker()))
	head, err := reg.InitHead("")
	require.NoError(t, err)
	require.Empty(t, head.Branch)
	root := head.Commit

	next, err := reg.CommitToHead(&head, scaler(t, 2))
	require.NoError(t, err)
	assert.Equal(t, next, head.Commit)
	assert.Equal(t, []history.Addr{next, root}, reg.Log(next))
	assert.Empty(t, reg.Names())

	_, err = reg.CommitToHead(&history.Head{Branch: "nope"}, scaler(t, 2))
	assert.ErrorIs(t, err, history.ErrNotFound)
}

// TestRegistry_CommitToName tests name creation and parent chaining.
func TestRegistry_CommitToName(t *testing.T) {
	reg := history.NewRegistry(history.WithClock(ticker()))

	first, err := reg.CommitToName("scale", scaler(t, 2))
	require.NoError(t, err)
	c, ok := reg.CommitAt(first)
	require.True(t, ok)
	assert.True(t, c.Parent.IsZero())

	second, err := reg.CommitToName("scale", scaler(t, 2))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	addr, c, ok := reg.NamedCommit("scale")
	require.True(t, ok)
	assert.Equal(t, second, addr)
	assert.Equal(t, first, c.Parent)

	_, err = reg.CommitToName("", scaler(t, 2))
	assert.Error(t, err)
	_, err = reg.Commit(graphAddr(t, scaler(t, 9)), scaler(t, 2))
	assert.ErrorIs(t, err, history.ErrNotFound)
}

// TestRegistry_Names tests moving and removing names.
func TestRegistry_Names(t *testing.T) {
	reg := history.NewRegistry(history.WithClock(ticker()))
	a, err := reg.Commit(history.Addr{}, scaler(t, 2))
	require.NoError(t, err)
	b, err := reg.Commit(a, scaler(t, 3))
	require.NoError(t, err)

	prev, err := reg.SetName("n", a)
	require.NoError(t, err)
	assert.True(t, prev.IsZero())
	prev, err = reg.SetName("n", b)
	require.NoError(t, err)
	assert.Equal(t, a, prev)
	assert.Equal(t, map[string]history.Addr{"n": b}, reg.Names())

	_, err = reg.SetName("n", graphAddr(t, scaler(t, 2)))
	assert.ErrorIs(t, err, history.ErrNotFound)

	removed, ok := reg.RemoveName("n")
	assert.True(t, ok)
	assert.Equal(t, b, removed)
	_, ok = reg.CommitAt(b)
	assert.True(t, ok)
}

// TestRegistry_ResolveGraph tests resolving names and both address kinds.
func TestRegistry_ResolveGraph(t *testing.T) {
	reg := history.NewRegistry(history.WithClock(ticker()))
	commit, err := reg.CommitToName("double", scaler(t, 2))
	require.NoError(t, err)
	want := graphAddr(t, scaler(t, 2))

	for _, ref := range []string{"double", commit.String(), want.String()} {
		doc, err := reg.ResolveGraph(ref)
		require.NoError(t, err, ref)
		got, err := history.DocumentAddr(doc)
		require.NoError(t, err)
		assert.Equal(t, want, got, ref)
	}

	_, err = reg.ResolveGraph("missing")
	assert.ErrorIs(t, err, history.ErrNotFound)
	_, err = reg.ResolveGraph(graphAddr(t, scaler(t, 7)).String())
	assert.ErrorIs(t, err, history.ErrNotFound)
}

// TestRegistry_RefNodes tests ref nodes by name and by commit address.
func TestRegistry_RefNodes(t *testing.T) {
	reg := history.NewRegistry(history.WithClock(ticker()))
	pinned, err := reg.CommitToName("scale", scaler(t, 2))
	require.NoError(t, err)

	kinds := serde.NewRegistry()
	require.NoError(t, kinds.RegisterRef(reg))

	byName, err := kinds.NewRefNode(reg, "scale")
	require.NoError(t, err)
	byCommit, err := kinds.NewRefNode(reg, pinned.String())
	require.NoError(t, err)

	g := livegraph.NewGraph(livegraph.WithGraphID("outer"))
	in, err := livegraph.NewFunc(livegraph.Ports("x"), livegraph.Ports("x"), "def in_(x):\n    return x\n", livegraph.WithEntry("in"))
	require.NoError(t, err)
	inID, err := g.AddNode(in)
	require.NoError(t, err)
	nameID, err := g.AddNode(byName)
	require.NoError(t, err)
	commitID, err := g.AddNode(byCommit)
	require.NoError(t, err)
	require.NoError(t, g.Connect(inID, "x", nameID, "x"))
	require.NoError(t, g.Connect(inID, "x", commitID, "x"))
	require.NoError(t, g.ExposeOutput("named", livegraph.PortRef{Node: nameID, Port: 0}))
	require.NoError(t, g.ExposeOutput("pinned", livegraph.PortRef{Node: commitID, Port: 0}))

	doc, err := serde.EncodeGraph(g)
	require.NoError(t, err)
	_, err = reg.CommitToName("scale", scaler(t, 3))
	require.NoError(t, err)

	g2, err := serde.DecodeGraph(doc, kinds)
	require.NoError(t, err)
	u, err := livegraph.Compile(g2)
	require.NoError(t, err)
	c := livegraph.NewCoordinator(nil)
	require.NoError(t, c.Load(context.Background(), u))

	res, err := c.Push(context.Background(), "in", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), res.Outputs["named"])
	assert.Equal(t, int64(10), res.Outputs["pinned"])
}

// TestRegistry_SaveLoad tests persisting a registry in both snapshot stores.
func TestRegistry_SaveLoad(t *testing.T) {
	sqlite, err := snapshot.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer sqlite.Close()

	stores := map[string]snapshot.Store{
		"memory": snapshot.NewMemoryStore(),
		"sqlite": sqlite,
	}
	for name, snaps := range stores {
		t.Run(name, func(t *testing.T) {
			reg := history.NewRegistry(history.WithClock(ticker()))
			head, err := reg.InitHead("main")
			require.NoError(t, err)
			tip, err := reg.CommitToHead(&head, scaler(t, 2))
			require.NoError(t, err)
			require.NoError(t, reg.Save(snaps, "project"))

			back, err := history.Load(snaps, "project")
			require.NoError(t, err)
			assert.Equal(t, reg.Names(), back.Names())
			assert.Equal(t, reg.Log(tip), back.Log(tip))

			g, err := back.HeadGraph(head, serde.NewRegistry())
			require.NoError(t, err)
			assert.Equal(t, graphAddr(t, scaler(t, 2)), graphAddr(t, g))

			_, err = history.Load(snaps, "other")
			assert.ErrorIs(t, err, snapshot.ErrNotFound)
		})
	}
}

// TestLoad_Corrupt tests that tampered graphs and commits are rejected.
func TestLoad_Corrupt(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(raw map[string]any)
	}{
		{"graph", func(raw map[string]any) {
			graphs := raw["graphs"].(map[string]any)
			for addr := range graphs {
				graphs[addr] = base64.StdEncoding.EncodeToString([]byte(`{"version":1,"nodes":[]}`))
			}
		}},
		{"commit", func(raw map[string]any) {
			for _, c := range raw["commits"].(map[string]any) {
				c.(map[string]any)["timestamp"] = "2001-01-01T00:00:00Z"
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snaps := snapshot.NewMemoryStore()
			reg := history.NewRegistry()
			_, err := reg.CommitToName("main", scaler(t, 2))
			require.NoError(t, err)
			require.NoError(t, reg.Save(snaps, "p"))

			data, err := snaps.Load("p", history.SnapshotName)
			require.NoError(t, err)
			var raw map[string]any
			require.NoError(t, json.Unmarshal(data, &raw))
			tt.tamper(raw)
			data, err = json.Marshal(raw)
			require.NoError(t, err)
			require.NoError(t, snaps.Save("p", history.SnapshotName, data))

			_, err = history.Load(snaps, "p")
			assert.ErrorIs(t, err, history.ErrCorrupt)
		})
	}
}

// TestRegistry_PruneExportMerge tests moving subsets of history around.
func TestRegistry_PruneExportMerge(t *testing.T) {
	reg := history.NewRegistry(history.WithClock(ticker()))
	a, err := reg.CommitToName("alpha", scaler(t, 2))
	require.NoError(t, err)
	b, err := reg.CommitToName("alpha", scaler(t, 3))
	require.NoError(t, err)
	c, err := reg.CommitToName("beta", scaler(t, 4))
	require.NoError(t, err)

	exported := reg.Export([]history.Addr{b})
	assert.Equal(t, map[string]history.Addr{"alpha": b}, exported.Names())
	_, ok := exported.CommitAt(a)
	assert.False(t, ok)
	_, err = exported.ResolveGraph("alpha")
	require.NoError(t, err)
	_, err = exported.ResolveGraph(graphAddr(t, scaler(t, 4)).String())
	assert.ErrorIs(t, err, history.ErrNotFound)

	other := history.NewRegistry(history.WithClock(ticker()))
	_, err = other.CommitToName("alpha", scaler(t, 5))
	require.NoError(t, err)
	_, err = other.CommitToName("gamma", scaler(t, 6))
	require.NoError(t, err)
	res := other.Merge(exported)
	assert.Empty(t, res.Added)
	require.Len(t, res.Replaced, 1)
	assert.Equal(t, "alpha", res.Replaced[0].Name)
	assert.Equal(t, b, res.Replaced[0].New)

	res = other.Merge(reg)
	assert.Equal(t, []string{"beta"}, res.Added)
	assert.Empty(t, res.Replaced)

	reg.Prune([]history.Addr{b, c})
	_, ok = reg.CommitAt(a)
	assert.False(t, ok)
	pruned, ok := reg.CommitAt(b)
	require.True(t, ok)
	assert.True(t, pruned.Parent.IsZero())
	assert.Equal(t, []history.Addr{b}, reg.Log(b))
	_, err = reg.ResolveGraph(graphAddr(t, scaler(t, 2)).String())
	assert.ErrorIs(t, err, history.ErrNotFound)
}
