package serde

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
)

// EncodeGraph writes g as a Document. Tagged nodes persist their tag and
// params, so a ref node stores its reference and not the graph behind it.
// Untagged Func nodes are written as the built-in "func" or "state"
// kinds and nested graphs as "graph". An untagged Host node cannot be
// written and fails with ErrUnencodable.
func EncodeGraph(g *livegraph.Graph) (*Document, error) {
	return encodeGraph(g, "")
}

func encodeGraph(g *livegraph.Graph, prefix string) (*Document, error) {
	doc := &Document{
		Version: Version,
		GraphID: g.ID(),
		Nodes:   []NodeDoc{},
	}

	for _, id := range g.NodeIDs() {
		n, _ := g.Node(id)
		nd, err := encodeNode(id, n, pathOf(prefix, id))
		if err != nil {
			return nil, err
		}
		doc.Nodes = append(doc.Nodes, nd)
	}

	for _, e := range g.Edges() {
		from, _ := g.Node(e.From)
		to, _ := g.Node(e.To)
		doc.Edges = append(doc.Edges, EdgeDoc{
			From:   uint32(e.From),
			Output: from.Outputs()[e.Output].Name,
			To:     uint32(e.To),
			Input:  to.Inputs()[e.Input].Name,
		})
	}

	for _, x := range g.ExposedInputs() {
		n, _ := g.Node(x.Ref.Node)
		doc.ExposedInputs = append(doc.ExposedInputs, PortDoc{
			Name: x.Name, Node: uint32(x.Ref.Node), Port: n.Inputs()[x.Ref.Port].Name,
		})
	}
	for _, x := range g.ExposedOutputs() {
		n, _ := g.Node(x.Ref.Node)
		doc.ExposedOutputs = append(doc.ExposedOutputs, PortDoc{
			Name: x.Name, Node: uint32(x.Ref.Node), Port: n.Outputs()[x.Ref.Port].Name,
		})
	}
	return doc, nil
}

func encodeNode(id livegraph.NodeID, n *livegraph.Node, path string) (NodeDoc, error) {
	nd := NodeDoc{
		ID:      uint32(id),
		Inputs:  portNames(n.Inputs()),
		Outputs: portNames(n.Outputs()),
		Init:    n.Init(),
	}

	// A tagged graph node, such as a ref, is rebuilt from its params.
	if n.Tag() != "" {
		nd.Type = n.Tag()
		nd.Params = n.Params()
		return nd, nil
	}

	if sub, ok := n.Body().(*livegraph.Subgraph); ok {
		child, err := encodeGraph(sub.Graph, path)
		if err != nil {
			return NodeDoc{}, err
		}
		nd.Type = KindGraph
		nd.Graph = child
		return nd, nil
	}

	fn, ok := n.Body().(*livegraph.Func)
	if !ok {
		return NodeDoc{}, fmt.Errorf("encode node %s: %w: %T body without a registry tag", path, ErrUnencodable, n.Body())
	}
	params := map[string]any{
		"src":     fn.Src,
		"inputs":  nd.Inputs,
		"outputs": nd.Outputs,
	}
	if n.IsEntry() {
		params["entry"] = n.Entry()
	}
	if n.Branching() {
		params["branching"] = true
	}
	if n.PullTarget() {
		params["pull"] = true
	}
	nd.Type = KindFunc
	if n.Kind() == livegraph.KindStateful {
		nd.Type = KindState
		params["init"] = n.Init()
		if n.Delay() {
			params["delay"] = true
		}
	}
	nd.Params = params
	return nd, nil
}

// EncodeState writes the State Slots of g held in store. A nil store means
// g's attached store.
func EncodeState(g *livegraph.Graph, store state.Store) (*StateDoc, error) {
	if store == nil {
		store = g.Store()
	}
	doc := &StateDoc{Version: Version, GraphID: g.ID(), Slots: map[string]any{}}
	if store == nil {
		return doc, nil
	}

	paths := store.Paths(g.ID())
	sort.Strings(paths)
	for _, p := range paths {
		v, ok := store.Get(g.ID(), p)
		if !ok {
			continue
		}
		if err := portable(v); err != nil {
			return nil, fmt.Errorf("encode slot %s: %w", p, err)
		}
		doc.Slots[p] = v
	}
	return doc, nil
}

// portable checks that v has a JSON and YAML representation.
func portable(v any) error {
	switch v := v.(type) {
	case nil, bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	case []any:
		for _, e := range v {
			if err := portable(e); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		for _, e := range v {
			if err := portable(e); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnencodable, v)
	}
}

func portNames(ports []livegraph.Port) []string {
	names := make([]string, len(ports))
	for i, p := range ports {
		names[i] = p.Name
	}
	return names
}

func pathOf(prefix string, id livegraph.NodeID) string {
	if prefix == "" {
		return id.String()
	}
	return prefix + "/" + id.String()
}
