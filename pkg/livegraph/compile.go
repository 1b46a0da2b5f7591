package livegraph

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"time"

	"github.com/randalmurphal/livegraph/pkg/livegraph/observability"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
)

// CompileOption configures Compile.
type CompileOption func(*compileConfig)

type compileConfig struct {
	view    state.Store
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// WithStateView lets the compiler report which State Slots are already
// allocated. The store is only read.
func WithStateView(s state.Store) CompileOption {
	return func(c *compileConfig) {
		c.view = s
	}
}

// WithCompileLogger sets the logger for compile and unreachable-node records.
func WithCompileLogger(logger *slog.Logger) CompileOption {
	return func(c *compileConfig) {
		c.logger = logger
	}
}

// WithCompileMetrics records compile latency and size.
func WithCompileMetrics(m observability.MetricsRecorder) CompileOption {
	return func(c *compileConfig) {
		c.metrics = m
	}
}

// Compile lowers g, including every nested graph, into a Unit.
//
// Only vertices downstream of an entrypoint or upstream of a pull target are
// lowered; other nodes are logged as unreachable. Compiling the same graph
// twice yields byte-identical source.
//
// Errors are *LowerError values (joined when several nodes fail) wrapping
// ErrUnsupportedBody, ErrCycleViolation or ErrSignatureMismatch.
func Compile(g *Graph, opts ...CompileOption) (*Unit, error) {
	cfg := &compileConfig{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.view == nil {
		cfg.view = g.Store()
	}

	start := time.Now()
	elapsed := observability.TimedOperation()

	u, err := compile(g, cfg)
	size := 0
	if u != nil {
		size = u.Len()
	}
	cfg.metrics.RecordCompile(context.Background(), size, time.Since(start), err)
	if err != nil {
		cfg.logger.Error("graph compile failed", slog.String("graph_id", g.ID()), slog.String("error", err.Error()))
		return nil, err
	}

	observability.LogCompile(cfg.logger, u.graphID, u.digest, u.Len(), elapsed())
	return u, nil
}

func compile(g *Graph, cfg *compileConfig) (*Unit, error) {
	fg, err := flatten(g)
	if err != nil {
		return nil, err
	}

	n := len(fg.vertices)
	deps := make([][]int, n)
	consumers := make([][]int, n)
	for i := range fg.vertices {
		deps[i] = fg.deps(i)
		for _, d := range deps[i] {
			consumers[d] = append(consumers[d], i)
		}
	}
	partner := func(i int) int { return fg.vertices[i].partner }

	down := make([]bool, n)
	up := make([]bool, n)
	var starts []int
	for _, e := range fg.entries {
		starts = append(starts, e.vertex)
	}
	closure(down, starts, func(i int) []int { return consumers[i] }, partner)
	closure(up, fg.pullTargets(), func(i int) []int { return deps[i] }, partner)

	included := make([]bool, n)
	for i := range included {
		included[i] = down[i] || up[i]
	}

	lowered := make(map[string]bool)
	for i, v := range fg.vertices {
		if included[i] {
			lowered[v.path.String()] = true
		}
	}
	for _, p := range fg.leaves {
		if !lowered[p.String()] {
			observability.LogUnreachable(cfg.logger, fg.rootID, p.String())
		}
	}

	order, err := fg.order(included, deps, consumers)
	if err != nil {
		return nil, err
	}

	u := fg.unit(order, cfg.view)
	u.source = emit(fg, u, order)
	sum := sha256.Sum256([]byte(u.source))
	u.digest = hex.EncodeToString(sum[:])
	return u, nil
}

// order sorts the included vertices topologically, ties by path then role.
func (fg *flatGraph) order(included []bool, deps, consumers [][]int) ([]int, error) {
	pending := make(map[int]int)
	ready := &vertexHeap{fg: fg}
	total := 0
	for i := range fg.vertices {
		if !included[i] {
			continue
		}
		total++
		for _, d := range deps[i] {
			if included[d] {
				pending[i]++
			}
		}
		if pending[i] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, total)
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, c := range consumers[i] {
			if !included[c] {
				continue
			}
			pending[c]--
			if pending[c] == 0 {
				heap.Push(ready, c)
			}
		}
	}

	if len(order) != total {
		var stuck []Path
		for i, v := range fg.vertices {
			if included[i] && pending[i] > 0 && !slices.ContainsFunc(stuck, func(p Path) bool { return p.Compare(v.path) == 0 }) {
				stuck = append(stuck, v.path)
			}
		}
		slices.SortFunc(stuck, Path.Compare)
		return nil, &LowerError{Paths: stuck, Err: ErrCycleViolation}
	}
	return order, nil
}

type vertexHeap struct {
	fg  *flatGraph
	ids []int
}

func (h *vertexHeap) Len() int { return len(h.ids) }
func (h *vertexHeap) Less(i, j int) bool {
	return h.fg.vertices[h.ids[i]].less(h.fg.vertices[h.ids[j]])
}
func (h *vertexHeap) Swap(i, j int) { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *vertexHeap) Push(x any)    { h.ids = append(h.ids, x.(int)) }
func (h *vertexHeap) Pop() any {
	x := h.ids[len(h.ids)-1]
	h.ids = h.ids[:len(h.ids)-1]
	return x
}

// unit builds the unit tables for the ordered vertices.
func (fg *flatGraph) unit(order []int, view state.Store) *Unit {
	pos := make(map[int]int, len(order))
	for i, old := range order {
		pos[old] = i
	}

	u := &Unit{
		graphID:  fg.rootID,
		vertices: make([]VertexInfo, len(order)),
		hosts:    make([]*Host, len(order)),
		inits:    make([]string, len(order)),
		entries:  make(map[string]EntryInfo),
		outputs:  make(map[string]OutputInfo),
		inputs:   slices.Clone(fg.inputs),
		byPath:   make(map[string]int),
	}

	for i, old := range order {
		v := fg.vertices[old]
		info := VertexInfo{
			Index:     i,
			Path:      v.path,
			Role:      v.role,
			Kind:      v.node.kind,
			Tag:       v.node.tag,
			Entry:     v.entry,
			Branching: v.node.branching,
			Outputs:   v.node.NumOutputs(),
			Partner:   -1,
			Symbol:    symbolFor(v),
		}
		if v.partner >= 0 {
			if p, ok := pos[v.partner]; ok {
				info.Partner = p
			}
		}
		for _, d := range fg.deps(old) {
			if p, ok := pos[d]; ok {
				info.Deps = append(info.Deps, p)
			}
		}
		slices.Sort(info.Deps)
		u.vertices[i] = info

		if h, ok := v.node.body.(*Host); ok && v.role != RoleRead {
			u.hosts[i] = h
		}
		if v.node.stateful() {
			u.inits[i] = v.node.init
		}
		if v.role != RoleWrite {
			u.byPath[v.path.String()] = i
		}
	}
	for i := range u.vertices {
		for _, d := range u.vertices[i].Deps {
			u.vertices[d].Consumers = append(u.vertices[d].Consumers, i)
		}
	}

	entries := slices.Clone(fg.entries)
	slices.SortFunc(entries, func(a, b entryPoint) int {
		switch {
		case a.name < b.name:
			return -1
		case a.name > b.name:
			return 1
		}
		return 0
	})
	for i, e := range entries {
		u.entries[e.name] = EntryInfo{
			Name:   e.name,
			Symbol: "push_" + itoa(i) + "_" + sanitize(e.name),
			Path:   e.path,
			Vertex: pos[e.vertex],
			Keys:   slices.Clone(e.keys),
		}
	}

	for i, x := range fg.outputs {
		o := OutputInfo{Name: x.name, Symbol: "pull_" + itoa(i) + "_" + sanitize(x.name), Vertex: -1, Port: x.port}
		if p, ok := pos[x.vertex]; ok && x.vertex >= 0 {
			o.Vertex = p
		}
		u.outputs[x.name] = o
	}

	slots := slices.Clone(fg.slots)
	slices.SortFunc(slots, func(a, b slotDecl) int { return a.path.Compare(b.path) })
	for _, s := range slots {
		_, compiled := u.byPath[s.path.String()]
		info := SlotInfo{Path: s.path, Init: s.init, Delay: s.delay, Compiled: compiled}
		if view != nil {
			info.Allocated = view.Has(fg.rootID, s.path.String())
		}
		u.slots = append(u.slots, info)
	}

	return u
}
