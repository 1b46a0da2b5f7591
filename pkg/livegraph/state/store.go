// Package state owns per-node State Slots for livegraph graphs.
//
// Slots are keyed by a graph id and a node path. The path is the slash
// separated chain of node ids from the root graph down through nested graph
// nodes (e.g. "4" or "4/2"). Slot lifetime is independent of any compiled
// unit: recompiling a graph never touches the store, only removing a node
// does.
package state

import (
	"errors"
	"strings"
)

// Store holds State Slots.
// Implementations must be safe for concurrent use; livegraph itself only
// ever issues sequential access per graph.
type Store interface {
	// GetOrInit returns the slot value, calling init to create it when the
	// slot does not exist yet. A failing init leaves no slot behind.
	GetOrInit(graphID, path string, init func() (any, error)) (any, error)

	// Get returns the slot value and whether the slot exists.
	Get(graphID, path string) (any, bool)

	// Has reports whether a slot exists.
	Has(graphID, path string) bool

	// Set creates or overwrites a slot.
	Set(graphID, path string, value any) error

	// Drop removes the slot at path and every slot nested below it.
	// Returns the number of slots removed.
	Drop(graphID, path string) int

	// DropGraph removes every slot owned by a graph.
	DropGraph(graphID string) int

	// Paths returns the slot paths for a graph in ascending order.
	Paths(graphID string) []string
}

// ErrInvalidKey indicates an empty graph id or path.
var ErrInvalidKey = errors.New("state: graph id and path required")

// IsDescendant reports whether path lies strictly below parent.
func IsDescendant(parent, path string) bool {
	return strings.HasPrefix(path, parent+"/")
}
