package snapshot

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the record format version.
const Version = 1

// Record is the envelope stored for each snapshot: the graph document and
// the state document side by side.
type Record struct {
	Version   int             `json:"version"`
	GraphID   string          `json:"graph_id"`
	Name      string          `json:"name"`
	Timestamp time.Time       `json:"timestamp"`
	Graph     json.RawMessage `json:"graph"`
	State     json.RawMessage `json:"state,omitempty"`
}

// NewRecord builds a record stamped with the current time.
func NewRecord(graphID, name string, graph, st []byte) *Record {
	return &Record{
		Version:   Version,
		GraphID:   graphID,
		Name:      name,
		Timestamp: time.Now().UTC(),
		Graph:     graph,
		State:     st,
	}
}

// Marshal encodes the record as JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalRecord decodes a record and checks its version.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode snapshot record: %w", err)
	}
	if r.Version != Version {
		return nil, fmt.Errorf("snapshot record version %d, want %d", r.Version, Version)
	}
	return &r, nil
}
