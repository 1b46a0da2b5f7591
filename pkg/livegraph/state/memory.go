package state

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store.
// Slots are lost when the process exits; use serde.EncodeState to persist them.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]map[string]any // graphID -> path -> value
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]map[string]any),
	}
}

// GetOrInit implements Store.
// init runs under the write lock so a slot is initialized at most once.
func (m *MemoryStore) GetOrInit(graphID, path string, init func() (any, error)) (any, error) {
	if graphID == "" || path == "" {
		return nil, ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.slots[graphID][path]; ok {
		return v, nil
	}

	var v any
	if init != nil {
		var err error
		if v, err = init(); err != nil {
			return nil, err
		}
	}

	m.graph(graphID)[path] = v
	return v, nil
}

// Get implements Store.
func (m *MemoryStore) Get(graphID, path string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.slots[graphID][path]
	return v, ok
}

// Has implements Store.
func (m *MemoryStore) Has(graphID, path string) bool {
	_, ok := m.Get(graphID, path)
	return ok
}

// Set implements Store.
func (m *MemoryStore) Set(graphID, path string, value any) error {
	if graphID == "" || path == "" {
		return ErrInvalidKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.graph(graphID)[path] = value
	return nil
}

// Drop implements Store.
func (m *MemoryStore) Drop(graphID, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.slots[graphID]
	if !ok {
		return 0
	}

	n := 0
	for p := range g {
		if p == path || IsDescendant(path, p) {
			delete(g, p)
			n++
		}
	}
	if len(g) == 0 {
		delete(m.slots, graphID)
	}
	return n
}

// DropGraph implements Store.
func (m *MemoryStore) DropGraph(graphID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.slots[graphID])
	delete(m.slots, graphID)
	return n
}

// Paths implements Store.
func (m *MemoryStore) Paths(graphID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paths := make([]string, 0, len(m.slots[graphID]))
	for p := range m.slots[graphID] {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// graph returns the slot table for graphID, creating it. Caller holds mu.
func (m *MemoryStore) graph(graphID string) map[string]any {
	g, ok := m.slots[graphID]
	if !ok {
		g = make(map[string]any)
		m.slots[graphID] = g
	}
	return g
}
