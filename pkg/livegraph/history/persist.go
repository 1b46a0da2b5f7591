package history

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/randalmurphal/livegraph/pkg/livegraph/snapshot"
)

// SnapshotName is the snapshot name a registry is saved under.
const SnapshotName = "history"

// Version is the persisted registry format version.
const Version = 1

type registryDoc struct {
	Version int             `json:"version"`
	Graphs  map[Addr][]byte `json:"graphs"`
	Commits map[Addr]Commit `json:"commits"`
	Names   map[string]Addr `json:"names"`
}

// Save writes the registry to snaps as snapshot (id, SnapshotName).
func (r *Registry) Save(snaps snapshot.Store, id string) error {
	r.mu.RLock()
	doc := registryDoc{
		Version: Version,
		Graphs:  maps.Clone(r.graphs),
		Commits: maps.Clone(r.commits),
		Names:   maps.Clone(r.names),
	}
	r.mu.RUnlock()

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("save history %s: %w", id, err)
	}
	return snaps.Save(id, SnapshotName, data)
}

// Load reads the registry saved as (id, SnapshotName). Every graph is
// checked against its address, and every commit and name must point at
// stored content.
func Load(snaps snapshot.Store, id string, opts ...Option) (*Registry, error) {
	data, err := snaps.Load(id, SnapshotName)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	var doc registryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("load history %s: %w", id, err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("load history %s: version %d, want %d", id, doc.Version, Version)
	}

	r := NewRegistry(opts...)
	for addr, g := range doc.Graphs {
		if sha256.Sum256(g) != addr {
			return nil, fmt.Errorf("load history %s: graph %s: %w", id, addr.Short(), ErrCorrupt)
		}
		r.graphs[addr] = g
	}
	for addr, c := range doc.Commits {
		if c.Addr() != addr {
			return nil, fmt.Errorf("load history %s: commit %s: %w", id, addr.Short(), ErrCorrupt)
		}
		if _, ok := r.graphs[c.Graph]; !ok {
			return nil, fmt.Errorf("load history %s: commit %s graph: %w", id, addr.Short(), ErrNotFound)
		}
		r.commits[addr] = c
	}
	detachParents(r.commits)
	for name, addr := range doc.Names {
		if _, ok := r.commits[addr]; !ok {
			return nil, fmt.Errorf("load history %s: name %q: %w", id, name, ErrNotFound)
		}
		r.names[name] = addr
	}
	return r, nil
}
