package livegraph

import (
	"context"

	"github.com/randalmurphal/livegraph/pkg/livegraph/event"
)

// ChangeOp names the kind of graph mutation a Change reports.
type ChangeOp int

const (
	NodeAdded ChangeOp = iota
	NodeRemoved
	NodeReplaced
	EdgeAdded
	EdgeRemoved
	PortExposed
	PortUnexposed
)

// String returns the op name.
func (op ChangeOp) String() string {
	switch op {
	case NodeAdded:
		return "node_added"
	case NodeRemoved:
		return "node_removed"
	case NodeReplaced:
		return "node_replaced"
	case EdgeAdded:
		return "edge_added"
	case EdgeRemoved:
		return "edge_removed"
	case PortExposed:
		return "port_exposed"
	case PortUnexposed:
		return "port_unexposed"
	default:
		return "unknown"
	}
}

// EventType returns the bus event type for op, e.g. "graph.node_added".
func (op ChangeOp) EventType() string {
	return "graph." + op.String()
}

// ChangeEventTypes lists the event types a graph publishes.
func ChangeEventTypes() []string {
	ops := []ChangeOp{NodeAdded, NodeRemoved, NodeReplaced, EdgeAdded, EdgeRemoved, PortExposed, PortUnexposed}
	types := make([]string, len(ops))
	for i, op := range ops {
		types[i] = op.EventType()
	}
	return types
}

// Change describes one applied mutation. It is the payload of the events a
// graph publishes; the event source is the graph id.
type Change struct {
	Op ChangeOp
	// Node is set for node and exposure changes.
	Node NodeID
	// Edge is set for edge changes.
	Edge Edge
	// Name is the exposed port name for exposure changes.
	Name string
}

// Events returns the bus the graph publishes its changes on.
func (g *Graph) Events() event.Bus {
	return g.bus
}

// Subscribe registers fn to receive every change applied to this graph.
// Delivery is asynchronous, on the bus's goroutine for the subscription, and
// follows the order the mutations were applied in. The returned func
// unsubscribes.
//
// fn may read the graph. Editing the same graph from fn can stall once the
// subscription buffer is full.
func (g *Graph) Subscribe(fn func(Change)) func() {
	h := event.TypedHandler(ChangeEventTypes(), func(_ context.Context, c Change, meta event.Metadata) ([]event.Event, error) {
		if meta.EventSource == g.id {
			fn(c)
		}
		return nil, nil
	})
	sub := g.bus.Subscribe(h.Handles(), h)
	if sub == nil {
		return func() {}
	}
	return sub.Unsubscribe
}

// publish sends changes from one mutation as one correlation group, each
// event caused by the one before it. Caller holds editMu so that groups go
// out in mutation order.
func (g *Graph) publish(changes ...Change) {
	var prev event.Event
	for _, c := range changes {
		var evt *event.BaseEvent[Change]
		if prev == nil {
			evt = event.New(c.Op.EventType(), g.id, c)
		} else {
			evt = event.NewFromParent(prev, c.Op.EventType(), g.id, c)
		}
		// A closed bus has no subscribers left to tell.
		_ = g.bus.Publish(context.Background(), evt)
		prev = evt
	}
}
