package serde

import (
	"fmt"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/snapshot"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
)

// Save writes g and its State Slots in store as the snapshot name. A nil
// store means g's attached store; a graph with no store saves no state.
func Save(snaps snapshot.Store, name string, g *livegraph.Graph, store state.Store) error {
	doc, err := EncodeGraph(g)
	if err != nil {
		return err
	}
	graph, err := Marshal(doc, FormatJSON)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	sdoc, err := EncodeState(g, store)
	if err != nil {
		return err
	}
	st, err := Marshal(sdoc, FormatJSON)
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	data, err := snapshot.NewRecord(g.ID(), name, graph, st).Marshal()
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return snaps.Save(g.ID(), name, data)
}

// Load restores the snapshot (graphID, name). The graph is rebuilt through
// reg and attached to store; saved slots are written into store only after
// the graph decoded cleanly.
func Load(snaps snapshot.Store, graphID, name string, reg *Registry, store state.Store) (*livegraph.Graph, error) {
	data, err := snaps.Load(graphID, name)
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", graphID, name, err)
	}
	rec, err := snapshot.UnmarshalRecord(data)
	if err != nil {
		return nil, err
	}

	var doc Document
	if err := Unmarshal(rec.Graph, FormatJSON, &doc); err != nil {
		return nil, err
	}
	g, err := DecodeGraph(&doc, reg, WithStore(store))
	if err != nil {
		return nil, err
	}

	if store != nil && len(rec.State) > 0 {
		var sdoc StateDoc
		if err := Unmarshal(rec.State, FormatJSON, &sdoc); err != nil {
			return nil, err
		}
		if err := DecodeState(&sdoc, store, g.ID()); err != nil {
			return nil, err
		}
	}
	return g, nil
}
