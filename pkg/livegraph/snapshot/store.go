// Package snapshot persists named snapshots of a graph and its state.
//
// A snapshot is an opaque blob keyed by (graph id, name). The serde package
// builds the blobs; stores only move bytes.
package snapshot

import (
	"errors"
	"time"
)

// Store persists snapshot blobs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Save writes data under (graphID, name), replacing any previous blob.
	Save(graphID, name string, data []byte) error

	// Load returns the blob for (graphID, name), or ErrNotFound.
	Load(graphID, name string) ([]byte, error)

	// List returns the snapshots of graphID, oldest save first.
	List(graphID string) ([]Info, error)

	// Delete removes one snapshot. Deleting a missing snapshot is not an error.
	Delete(graphID, name string) error

	// DeleteGraph removes every snapshot of graphID.
	DeleteGraph(graphID string) error

	// Close releases resources. Calls after Close return ErrStoreClosed.
	Close() error
}

// Info describes a stored snapshot without its data.
type Info struct {
	GraphID   string
	Name      string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

var (
	// ErrNotFound is returned when a snapshot does not exist.
	ErrNotFound = errors.New("snapshot not found")

	// ErrStoreClosed is returned by a closed store.
	ErrStoreClosed = errors.New("snapshot store closed")
)
