package livegraph

import (
	"context"
	"log/slog"
)

// Context is handed to host bodies on every call.
// It extends context.Context with the cycle's logger and identity.
type Context interface {
	context.Context

	// Logger returns a logger enriched with graph_id, cycle_id and node_path.
	// Never nil.
	Logger() *slog.Logger

	// GraphID returns the id of the graph whose unit is running.
	GraphID() string

	// CycleID returns the id of the current evaluation cycle.
	CycleID() string

	// NodePath returns the path of the node being called.
	NodePath() Path
}

// nodeContext is the Context implementation built per host call.
type nodeContext struct {
	context.Context

	logger  *slog.Logger
	graphID string
	cycleID string
	path    Path
}

func (c *nodeContext) Logger() *slog.Logger { return c.logger }

func (c *nodeContext) GraphID() string { return c.graphID }

func (c *nodeContext) CycleID() string { return c.cycleID }

func (c *nodeContext) NodePath() Path { return c.path }
