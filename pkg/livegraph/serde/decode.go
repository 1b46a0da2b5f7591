package serde

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
)

// DecodeOption configures DecodeGraph.
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	store   state.Store
	graphID string
}

// WithStore attaches store to the decoded root graph.
func WithStore(s state.Store) DecodeOption {
	return func(c *decodeConfig) {
		c.store = s
	}
}

// WithGraphID overrides the root graph id recorded in the document.
func WithGraphID(id string) DecodeOption {
	return func(c *decodeConfig) {
		c.graphID = id
	}
}

// DecodeGraph rebuilds a graph from doc, constructing every node through
// reg. Node failures are collected and returned together; edges and
// exposures are only wired when every node built.
func DecodeGraph(doc *Document, reg *Registry, opts ...DecodeOption) (*livegraph.Graph, error) {
	if doc == nil {
		return nil, &DecodeError{Err: errors.New("nil document")}
	}
	if reg == nil {
		reg = NewRegistry()
	}
	var cfg decodeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	id := doc.GraphID
	if cfg.graphID != "" {
		id = cfg.graphID
	}
	return decodeGraph(doc, reg, "", id, cfg.store)
}

func decodeGraph(doc *Document, reg *Registry, prefix, id string, store state.Store) (*livegraph.Graph, error) {
	if doc.Version != 0 && doc.Version != Version {
		return nil, &DecodeError{Path: prefix, Err: fmt.Errorf("%w: %d", ErrVersion, doc.Version)}
	}

	var gopts []livegraph.GraphOption
	if id != "" {
		gopts = append(gopts, livegraph.WithGraphID(id))
	}
	if store != nil {
		gopts = append(gopts, livegraph.WithStateStore(store))
	}
	g := livegraph.NewGraph(gopts...)

	var errs []error
	for _, nd := range doc.Nodes {
		path := pathOf(prefix, livegraph.NodeID(nd.ID))
		n, err := decodeNode(nd, reg, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := g.InsertNode(livegraph.NodeID(nd.ID), n); err != nil {
			errs = append(errs, &DecodeError{Path: path, Type: nd.Type, Err: err})
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, ed := range doc.Edges {
		e, err := resolveEdge(g, ed)
		if err != nil {
			return nil, &DecodeError{Path: prefix, Err: err}
		}
		if err := g.AddEdge(e); err != nil {
			return nil, &DecodeError{Path: prefix, Err: err}
		}
	}

	for _, pd := range doc.ExposedInputs {
		ref, err := resolvePort(g, pd.Node, pd.Port, true)
		if err == nil {
			err = g.ExposeInput(pd.Name, ref)
		}
		if err != nil {
			return nil, &DecodeError{Path: prefix, Err: fmt.Errorf("exposed input %q: %w", pd.Name, err)}
		}
	}
	for _, pd := range doc.ExposedOutputs {
		ref, err := resolvePort(g, pd.Node, pd.Port, false)
		if err == nil {
			err = g.ExposeOutput(pd.Name, ref)
		}
		if err != nil {
			return nil, &DecodeError{Path: prefix, Err: fmt.Errorf("exposed output %q: %w", pd.Name, err)}
		}
	}
	return g, nil
}

func decodeNode(nd NodeDoc, reg *Registry, path string) (*livegraph.Node, error) {
	wrap := func(err error) error {
		return &DecodeError{Path: path, Type: nd.Type, Err: err}
	}

	var (
		n   *livegraph.Node
		err error
	)
	if nd.Type == KindGraph {
		if nd.Graph == nil {
			return nil, wrap(errors.New("graph node without nested document"))
		}
		sub, err := decodeGraph(nd.Graph, reg, path, nd.Graph.GraphID, nil)
		if err != nil {
			return nil, err
		}
		n, err = livegraph.NewGraphNode(sub)
		if err != nil {
			return nil, wrap(err)
		}
	} else {
		n, err = reg.Build(nd.Type, nd.Params)
		if err != nil {
			return nil, wrap(err)
		}
	}

	if err := checkPorts("input", nd.Inputs, n.Inputs()); err != nil {
		return nil, wrap(err)
	}
	if err := checkPorts("output", nd.Outputs, n.Outputs()); err != nil {
		return nil, wrap(err)
	}
	return n, nil
}

// checkPorts compares recorded port names with the rebuilt node's. A nil
// record, as in hand-written documents, is not checked.
func checkPorts(side string, recorded []string, got []livegraph.Port) error {
	if recorded == nil {
		return nil
	}
	if len(recorded) != len(got) {
		return drift("%d %ss recorded, node has %d", len(recorded), side, len(got))
	}
	for i, name := range recorded {
		if got[i].Name != name {
			return drift("%s %d is %q, recorded %q", side, i, got[i].Name, name)
		}
	}
	return nil
}

func resolveEdge(g *livegraph.Graph, ed EdgeDoc) (livegraph.Edge, error) {
	from, err := resolvePort(g, ed.From, ed.Output, false)
	if err != nil {
		return livegraph.Edge{}, fmt.Errorf("edge %d.%s->%d.%s: %w", ed.From, ed.Output, ed.To, ed.Input, err)
	}
	to, err := resolvePort(g, ed.To, ed.Input, true)
	if err != nil {
		return livegraph.Edge{}, fmt.Errorf("edge %d.%s->%d.%s: %w", ed.From, ed.Output, ed.To, ed.Input, err)
	}
	return livegraph.Edge{From: from.Node, Output: from.Port, To: to.Node, Input: to.Port}, nil
}

func resolvePort(g *livegraph.Graph, id uint32, name string, input bool) (livegraph.PortRef, error) {
	n, ok := g.Node(livegraph.NodeID(id))
	if !ok {
		return livegraph.PortRef{}, fmt.Errorf("%w: %d", livegraph.ErrNodeNotFound, id)
	}
	idx := n.OutputIndex(name)
	side := "output"
	if input {
		idx, side = n.InputIndex(name), "input"
	}
	if idx < 0 {
		return livegraph.PortRef{}, drift("node %d has no %s %q", id, side, name)
	}
	return livegraph.PortRef{Node: livegraph.NodeID(id), Port: idx}, nil
}

// DecodeState writes doc's slots into store. graphID overrides the id
// recorded in doc when not empty. Numbers are normalized to int64 or
// float64 so decoded slots compare equal to the values the runtime stores.
func DecodeState(doc *StateDoc, store state.Store, graphID string) error {
	if doc == nil {
		return errors.New("decode state: nil document")
	}
	if doc.Version != 0 && doc.Version != Version {
		return fmt.Errorf("decode state: %w: %d", ErrVersion, doc.Version)
	}
	if graphID == "" {
		graphID = doc.GraphID
	}
	for path, v := range doc.Slots {
		if _, err := livegraph.ParsePath(path); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
		nv, err := normalize(v)
		if err != nil {
			return fmt.Errorf("decode slot %s: %w", path, err)
		}
		if err := store.Set(graphID, path, nv); err != nil {
			return fmt.Errorf("decode slot %s: %w", path, err)
		}
	}
	return nil
}

func normalize(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		return v.Float64()
	case int:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return float64(v), nil
		}
		return int64(v), nil
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			ne, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = ne
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			ne, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = ne
		}
		return out, nil
	default:
		return v, portable(v)
	}
}
