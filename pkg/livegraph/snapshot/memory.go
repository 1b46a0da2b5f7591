package snapshot

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory. Useful for tests and for
// short-lived sessions.
type MemoryStore struct {
	mu     sync.RWMutex
	graphs map[string]map[string]memEntry
	seq    int
	closed bool
}

type memEntry struct {
	data []byte
	seq  int
	at   time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{graphs: make(map[string]map[string]memEntry)}
}

// Save implements Store.
func (m *MemoryStore) Save(graphID, name string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	byName, ok := m.graphs[graphID]
	if !ok {
		byName = make(map[string]memEntry)
		m.graphs[graphID] = byName
	}
	m.seq++
	byName[name] = memEntry{
		data: append([]byte(nil), data...),
		seq:  m.seq,
		at:   time.Now().UTC(),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(graphID, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	e, ok := m.graphs[graphID][name]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.data...), nil
}

// List implements Store.
func (m *MemoryStore) List(graphID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	byName := m.graphs[graphID]
	infos := make([]Info, 0, len(byName))
	for name, e := range byName {
		infos = append(infos, Info{
			GraphID:   graphID,
			Name:      name,
			Sequence:  e.seq,
			Timestamp: e.at,
			Size:      int64(len(e.data)),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Sequence < infos[j].Sequence })
	return infos, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(graphID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.graphs[graphID], name)
	return nil
}

// DeleteGraph implements Store.
func (m *MemoryStore) DeleteGraph(graphID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.graphs, graphID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.graphs = nil
	return nil
}

// Len returns the number of snapshots across all graphs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, byName := range m.graphs {
		n += len(byName)
	}
	return n
}
