package livegraph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/randalmurphal/livegraph/pkg/livegraph/event"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
)

// Edge connects one producer output to one consumer input.
type Edge struct {
	From   NodeID
	Output int
	To     NodeID
	Input  int
}

// String renders the edge as "from.out->to.in".
func (e Edge) String() string {
	return fmt.Sprintf("%d.%d->%d.%d", e.From, e.Output, e.To, e.Input)
}

func compareEdges(a, b Edge) int {
	switch {
	case a.From != b.From:
		return cmpID(a.From, b.From)
	case a.Output != b.Output:
		return a.Output - b.Output
	case a.To != b.To:
		return cmpID(a.To, b.To)
	default:
		return a.Input - b.Input
	}
}

func cmpID(a, b NodeID) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// PortRef names one port of one node.
type PortRef struct {
	Node NodeID
	Port int
}

// Exposed binds a graph-level port name to an internal node port.
type Exposed struct {
	Name string
	Ref  PortRef
}

// Graph is an editable arena of nodes and edges.
//
// Every mutation validates first and either applies completely or returns an
// error leaving the graph untouched. Graph is safe for concurrent use.
// Mutations are serialized and each applied one publishes its Changes on the
// graph's event bus before the next mutation starts.
type Graph struct {
	editMu sync.Mutex

	mu         sync.RWMutex
	id         string
	nodes      map[NodeID]*Node
	next       NodeID
	edges      map[Edge]struct{}
	inbound    map[PortRef]Edge
	out        map[NodeID]map[Edge]struct{}
	in         map[NodeID]map[Edge]struct{}
	exposedIn  []Exposed
	exposedOut []Exposed
	store      state.Store
	bus        event.Bus

	mountMu sync.Mutex
	mounts  []mount
}

// mount records a graph node that wraps this graph.
type mount struct {
	parent *Graph
	node   NodeID
}

// GraphOption configures a new Graph.
type GraphOption func(*Graph)

// WithGraphID sets the graph id instead of generating a UUID.
func WithGraphID(id string) GraphOption {
	return func(g *Graph) {
		if id != "" {
			g.id = id
		}
	}
}

// WithStateStore attaches the store whose slots RemoveNode and ReplaceNode
// release. It should be the store the graph's coordinator uses.
func WithStateStore(s state.Store) GraphOption {
	return func(g *Graph) {
		g.store = s
	}
}

// WithEventBus publishes the graph's changes on b instead of a private bus,
// so one subscriber can follow several graphs.
func WithEventBus(b event.Bus) GraphOption {
	return func(g *Graph) {
		g.bus = b
	}
}

// NewGraph creates an empty graph.
func NewGraph(opts ...GraphOption) *Graph {
	g := &Graph{
		id:      uuid.New().String(),
		nodes:   make(map[NodeID]*Node),
		next:    1,
		edges:   make(map[Edge]struct{}),
		inbound: make(map[PortRef]Edge),
		out:     make(map[NodeID]map[Edge]struct{}),
		in:      make(map[NodeID]map[Edge]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.bus == nil {
		g.bus = event.NewBus(event.DefaultBusConfig)
	}
	return g
}

// ID returns the graph id, the key for its State Slots.
func (g *Graph) ID() string {
	return g.id
}

// Store returns the attached state store, or nil.
func (g *Graph) Store() state.Store {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store
}

// SetStore attaches a state store after construction.
func (g *Graph) SetStore(s state.Store) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.store = s
}

// AddNode adds n under the next free id.
// Fails with ErrNameTaken if n's entrypoint name is already used.
func (g *Graph) AddNode(n *Node) (NodeID, error) {
	if n == nil {
		return 0, mismatch("nil node")
	}
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	if err := g.checkEntryName(n, 0); err != nil {
		g.mu.Unlock()
		return 0, err
	}
	id := g.next
	g.place(id, n)
	g.mu.Unlock()

	g.mountNested(id, n)
	g.publish(Change{Op: NodeAdded, Node: id})
	return id, nil
}

// InsertNode adds n under a caller-chosen id, as when restoring a graph.
func (g *Graph) InsertNode(id NodeID, n *Node) error {
	if n == nil {
		return mismatch("nil node")
	}
	if id == 0 {
		return fmt.Errorf("%w: id 0 is reserved", ErrNodeExists)
	}
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	if _, ok := g.nodes[id]; ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeExists, id)
	}
	if err := g.checkEntryName(n, 0); err != nil {
		g.mu.Unlock()
		return err
	}
	g.place(id, n)
	g.mu.Unlock()

	g.mountNested(id, n)
	g.publish(Change{Op: NodeAdded, Node: id})
	return nil
}

// place stores n at id. Caller holds mu.
func (g *Graph) place(id NodeID, n *Node) {
	g.nodes[id] = n
	if id >= g.next {
		g.next = id + 1
	}
}

// checkEntryName rejects a second entrypoint with the same name. Caller holds mu.
func (g *Graph) checkEntryName(n *Node, except NodeID) error {
	if !n.IsEntry() {
		return nil
	}
	for id, other := range g.nodes {
		if id != except && other.entry == n.entry {
			return fmt.Errorf("%w: entrypoint %q on node %d", ErrNameTaken, n.entry, id)
		}
	}
	return nil
}

// Node returns the node at id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node ids in ascending order.
func (g *Graph) NodeIDs() []NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedIDs()
}

func (g *Graph) sortedIDs() []NodeID {
	ids := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Entries returns entrypoint names mapped to their node ids.
func (g *Graph) Entries() map[string]NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]NodeID)
	for id, n := range g.nodes {
		if n.IsEntry() {
			out[n.entry] = id
		}
	}
	return out
}

// RemoveNode removes the node, its incident edges and exposures, and
// releases its State Slots (including nested ones). When the graph is nested
// inside other graphs the slots are released under every enclosing root.
func (g *Graph) RemoveNode(id NodeID) error {
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	old, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}

	var changes []Change
	for _, e := range g.incident(id) {
		g.unlink(e)
		changes = append(changes, Change{Op: EdgeRemoved, Edge: e})
	}
	onNode := func(x Exposed) bool { return x.Ref.Node == id }
	changes = append(changes, g.dropExposures(onNode, onNode)...)

	delete(g.nodes, id)
	delete(g.out, id)
	delete(g.in, id)
	g.mu.Unlock()

	g.unmountNested(id, old)
	g.dropSlots(id)
	g.publish(append(changes, Change{Op: NodeRemoved, Node: id})...)
	return nil
}

// ReplaceNode swaps the node at id for n, keeping edges whose ports still
// exist and dropping the rest. The State Slot survives only when both nodes
// are stateful with the same delay flag.
func (g *Graph) ReplaceNode(id NodeID, n *Node) error {
	if n == nil {
		return mismatch("nil node")
	}
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	old, ok := g.nodes[id]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	if err := g.checkEntryName(n, id); err != nil {
		g.mu.Unlock()
		return err
	}

	var dropped []Edge
	for _, e := range g.incident(id) {
		if (e.From == id && e.Output >= n.NumOutputs()) || (e.To == id && e.Input >= n.NumInputs()) {
			dropped = append(dropped, e)
			continue
		}
		if e.To == id && n.IsEntry() {
			g.mu.Unlock()
			return &EdgeError{Edge: e, Err: fmt.Errorf("%w: entrypoint inputs are external", ErrPortAlreadyConnected)}
		}
	}
	if n.IsEntry() {
		for _, x := range g.exposedIn {
			if x.Ref.Node == id {
				g.mu.Unlock()
				return fmt.Errorf("%w: input %q is exposed", ErrPortAlreadyConnected, x.Name)
			}
		}
	}

	g.nodes[id] = n
	if old.delay && !n.delay && g.hasCycle() {
		g.nodes[id] = old
		g.mu.Unlock()
		return fmt.Errorf("%w: node %d no longer breaks a cycle", ErrCycleViolation, id)
	}

	var changes []Change
	for _, e := range dropped {
		g.unlink(e)
		changes = append(changes, Change{Op: EdgeRemoved, Edge: e})
	}
	changes = append(changes, g.dropExposures(
		func(x Exposed) bool { return x.Ref.Node == id && x.Ref.Port >= n.NumInputs() },
		func(x Exposed) bool { return x.Ref.Node == id && x.Ref.Port >= n.NumOutputs() },
	)...)
	g.mu.Unlock()

	g.unmountNested(id, old)
	g.mountNested(id, n)
	if !keepsSlots(old, n) {
		g.dropSlots(id)
	}

	g.publish(append(changes, Change{Op: NodeReplaced, Node: id})...)
	return nil
}

// AddEdge connects e.From's output to e.To's input.
//
// Fails with ErrPortAlreadyConnected if the input already has a source (an
// edge, an exposed input, or the node being an entrypoint) and with
// ErrCycleViolation if the edge closes a cycle that no delay node breaks.
func (g *Graph) AddEdge(e Edge) error {
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	if err := g.checkEdge(e); err != nil {
		g.mu.Unlock()
		return &EdgeError{Edge: e, Err: err}
	}
	g.link(e)
	g.mu.Unlock()

	g.publish(Change{Op: EdgeAdded, Edge: e})
	return nil
}

// Connect is AddEdge with ports named instead of indexed.
func (g *Graph) Connect(from NodeID, output string, to NodeID, input string) error {
	g.mu.RLock()
	src, okFrom := g.nodes[from]
	dst, okTo := g.nodes[to]
	g.mu.RUnlock()

	if !okFrom || !okTo {
		return fmt.Errorf("%w: connect %d -> %d", ErrNodeNotFound, from, to)
	}
	e := Edge{From: from, Output: src.OutputIndex(output), To: to, Input: dst.InputIndex(input)}
	if e.Output < 0 || e.Input < 0 {
		return &EdgeError{Edge: e, Err: fmt.Errorf("%w: %s -> %s", ErrPortNotFound, output, input)}
	}
	return g.AddEdge(e)
}

// checkEdge validates e against the current graph. Caller holds mu.
func (g *Graph) checkEdge(e Edge) error {
	src, ok := g.nodes[e.From]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, e.From)
	}
	dst, ok := g.nodes[e.To]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, e.To)
	}
	if e.Output < 0 || e.Output >= src.NumOutputs() {
		return fmt.Errorf("%w: output %d of node %d", ErrPortNotFound, e.Output, e.From)
	}
	if e.Input < 0 || e.Input >= dst.NumInputs() {
		return fmt.Errorf("%w: input %d of node %d", ErrPortNotFound, e.Input, e.To)
	}

	ref := PortRef{Node: e.To, Port: e.Input}
	if prev, ok := g.inbound[ref]; ok {
		return fmt.Errorf("%w: fed by %s", ErrPortAlreadyConnected, prev)
	}
	if dst.IsEntry() {
		return fmt.Errorf("%w: entrypoint inputs are external", ErrPortAlreadyConnected)
	}
	for _, x := range g.exposedIn {
		if x.Ref == ref {
			return fmt.Errorf("%w: exposed as %q", ErrPortAlreadyConnected, x.Name)
		}
	}

	if !src.delay && g.reaches(e.To, e.From) {
		return ErrCycleViolation
	}
	return nil
}

// RemoveEdge deletes e.
func (g *Graph) RemoveEdge(e Edge) error {
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	if _, ok := g.edges[e]; !ok {
		g.mu.Unlock()
		return &EdgeError{Edge: e, Err: ErrEdgeNotFound}
	}
	g.unlink(e)
	g.mu.Unlock()

	g.publish(Change{Op: EdgeRemoved, Edge: e})
	return nil
}

func (g *Graph) link(e Edge) {
	g.edges[e] = struct{}{}
	g.inbound[PortRef{Node: e.To, Port: e.Input}] = e
	if g.out[e.From] == nil {
		g.out[e.From] = make(map[Edge]struct{})
	}
	g.out[e.From][e] = struct{}{}
	if g.in[e.To] == nil {
		g.in[e.To] = make(map[Edge]struct{})
	}
	g.in[e.To][e] = struct{}{}
}

func (g *Graph) unlink(e Edge) {
	delete(g.edges, e)
	delete(g.inbound, PortRef{Node: e.To, Port: e.Input})
	delete(g.out[e.From], e)
	delete(g.in[e.To], e)
}

// incident returns the sorted edges touching id. Caller holds mu.
func (g *Graph) incident(id NodeID) []Edge {
	var es []Edge
	for e := range g.out[id] {
		es = append(es, e)
	}
	for e := range g.in[id] {
		if e.From != id {
			es = append(es, e)
		}
	}
	slices.SortFunc(es, compareEdges)
	return es
}

// reaches reports whether to is reachable from from along dependency edges,
// which are all edges except those leaving delay nodes. Caller holds mu.
func (g *Graph) reaches(from, to NodeID) bool {
	seen := map[NodeID]bool{from: true}
	stack := []NodeID{from}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if g.nodes[cur].delay {
			continue
		}
		for e := range g.out[cur] {
			if !seen[e.To] {
				seen[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return false
}

// hasCycle reports an unbroken cycle anywhere in the graph. Caller holds mu.
func (g *Graph) hasCycle() bool {
	order := g.topo(g.sortedIDs())
	return len(order) != len(g.nodes)
}

// Edges returns all edges in ascending order.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	es := make([]Edge, 0, len(g.edges))
	for e := range g.edges {
		es = append(es, e)
	}
	slices.SortFunc(es, compareEdges)
	return es
}

// Incoming returns the edges into id in ascending order.
func (g *Graph) Incoming(id NodeID) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.in[id])
}

// Outgoing returns the edges out of id in ascending order.
func (g *Graph) Outgoing(id NodeID) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedEdges(g.out[id])
}

func sortedEdges(set map[Edge]struct{}) []Edge {
	es := make([]Edge, 0, len(set))
	for e := range set {
		es = append(es, e)
	}
	slices.SortFunc(es, compareEdges)
	return es
}

// ExposeInput publishes an internal input port under name.
// The port must be unconnected and not belong to an entrypoint.
func (g *Graph) ExposeInput(name string, ref PortRef) error {
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	if err := g.checkExposeInput(name, ref); err != nil {
		g.mu.Unlock()
		return err
	}
	g.exposedIn = append(g.exposedIn, Exposed{Name: name, Ref: ref})
	g.mu.Unlock()

	g.publish(Change{Op: PortExposed, Node: ref.Node, Name: name})
	return nil
}

func (g *Graph) checkExposeInput(name string, ref PortRef) error {
	if name == "" {
		return mismatch("exposed input needs a name")
	}
	for _, x := range g.exposedIn {
		if x.Name == name {
			return fmt.Errorf("%w: input %q", ErrNameTaken, name)
		}
		if x.Ref == ref {
			return fmt.Errorf("%w: already exposed as %q", ErrPortAlreadyConnected, x.Name)
		}
	}
	n, ok := g.nodes[ref.Node]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, ref.Node)
	}
	if ref.Port < 0 || ref.Port >= n.NumInputs() {
		return fmt.Errorf("%w: input %d of node %d", ErrPortNotFound, ref.Port, ref.Node)
	}
	if n.IsEntry() {
		return fmt.Errorf("%w: entrypoint inputs are external", ErrPortAlreadyConnected)
	}
	if e, ok := g.inbound[ref]; ok {
		return fmt.Errorf("%w: fed by %s", ErrPortAlreadyConnected, e)
	}
	return nil
}

// ExposeOutput publishes an internal output port under name.
func (g *Graph) ExposeOutput(name string, ref PortRef) error {
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	if err := g.checkExposeOutput(name, ref); err != nil {
		g.mu.Unlock()
		return err
	}
	g.exposedOut = append(g.exposedOut, Exposed{Name: name, Ref: ref})
	g.mu.Unlock()

	g.publish(Change{Op: PortExposed, Node: ref.Node, Name: name})
	return nil
}

func (g *Graph) checkExposeOutput(name string, ref PortRef) error {
	if name == "" {
		return mismatch("exposed output needs a name")
	}
	for _, x := range g.exposedOut {
		if x.Name == name {
			return fmt.Errorf("%w: output %q", ErrNameTaken, name)
		}
	}
	n, ok := g.nodes[ref.Node]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, ref.Node)
	}
	if ref.Port < 0 || ref.Port >= n.NumOutputs() {
		return fmt.Errorf("%w: output %d of node %d", ErrPortNotFound, ref.Port, ref.Node)
	}
	return nil
}

// UnexposeInput removes an exposed input by name.
func (g *Graph) UnexposeInput(name string) error {
	return g.unexpose(&g.exposedIn, name)
}

// UnexposeOutput removes an exposed output by name.
func (g *Graph) UnexposeOutput(name string) error {
	return g.unexpose(&g.exposedOut, name)
}

func (g *Graph) unexpose(list *[]Exposed, name string) error {
	g.editMu.Lock()
	defer g.editMu.Unlock()

	g.mu.Lock()
	i := slices.IndexFunc(*list, func(x Exposed) bool { return x.Name == name })
	if i < 0 {
		g.mu.Unlock()
		return fmt.Errorf("%w: exposed port %q", ErrPortNotFound, name)
	}
	x := (*list)[i]
	*list = slices.Delete(*list, i, i+1)
	g.mu.Unlock()

	g.publish(Change{Op: PortUnexposed, Node: x.Ref.Node, Name: name})
	return nil
}

// dropExposures removes exposed inputs matching in and exposed outputs
// matching out. Caller holds mu.
func (g *Graph) dropExposures(in, out func(Exposed) bool) []Change {
	var changes []Change
	filter := func(list []Exposed, match func(Exposed) bool) []Exposed {
		return slices.DeleteFunc(list, func(x Exposed) bool {
			if match(x) {
				changes = append(changes, Change{Op: PortUnexposed, Node: x.Ref.Node, Name: x.Name})
				return true
			}
			return false
		})
	}
	g.exposedIn = filter(g.exposedIn, in)
	g.exposedOut = filter(g.exposedOut, out)
	return changes
}

// ExposedInputs returns the exposed inputs in exposure order.
func (g *Graph) ExposedInputs() []Exposed {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.exposedIn)
}

// ExposedOutputs returns the exposed outputs in exposure order.
func (g *Graph) ExposedOutputs() []Exposed {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.exposedOut)
}

// graphView is a consistent copy of one graph level, taken for lowering.
type graphView struct {
	graph      *Graph
	id         string
	ids        []NodeID
	nodes      map[NodeID]*Node
	inbound    map[PortRef]Edge
	exposedIn  []Exposed
	exposedOut []Exposed
}

func (g *Graph) view() *graphView {
	g.mu.RLock()
	defer g.mu.RUnlock()

	v := &graphView{
		graph:      g,
		id:         g.id,
		ids:        g.sortedIDs(),
		nodes:      make(map[NodeID]*Node, len(g.nodes)),
		inbound:    make(map[PortRef]Edge, len(g.inbound)),
		exposedIn:  slices.Clone(g.exposedIn),
		exposedOut: slices.Clone(g.exposedOut),
	}
	for id, n := range g.nodes {
		v.nodes[id] = n
	}
	for ref, e := range g.inbound {
		v.inbound[ref] = e
	}
	return v
}
