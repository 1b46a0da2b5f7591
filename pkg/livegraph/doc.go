/*
Package livegraph builds live-editable dataflow graphs and evaluates them
through an embedded Starlark runtime.

# Overview

A Graph holds Nodes joined by Edges from one output port to one input port.
Nodes are pure (inputs to outputs), stateful (they own a State Slot that
survives recompilation), or whole graphs wrapped behind their exposed ports.
Compile lowers a graph into a Unit of Starlark source; a Coordinator loads
units and runs evaluation cycles against them.

Two triggering disciplines share one scheduler:
  - Push: an event at an entrypoint runs everything downstream of it.
  - Pull: a request for an output runs exactly its upstream closure.

A single cycle may mix both. The required vertices are merged first and
walked once in topological order, so a node on both paths runs once.

# Basic Usage

	g := livegraph.NewGraph()

	in, _ := livegraph.NewFunc(livegraph.Ports("a", "b"), livegraph.Ports("a", "b"),
	    "def inlet(a, b):\n    return (a, b)\n", livegraph.WithEntry("in"))
	add, _ := livegraph.NewFunc(livegraph.Ports("a", "b"), livegraph.Ports("sum"),
	    "def add(a, b):\n    return a + b\n")

	inID, _ := g.AddNode(in)
	addID, _ := g.AddNode(add)
	_ = g.AddEdge(livegraph.Edge{From: inID, Output: 0, To: addID, Input: 0})
	_ = g.AddEdge(livegraph.Edge{From: inID, Output: 1, To: addID, Input: 1})
	_ = g.ExposeOutput("c", livegraph.PortRef{Node: addID, Port: 0})

	unit, err := livegraph.Compile(g)
	if err != nil {
	    log.Fatal(err)
	}

	coord := livegraph.NewCoordinator(state.NewMemoryStore())
	if err := coord.Load(ctx, unit); err != nil {
	    log.Fatal(err)
	}
	res, err := coord.Push(ctx, "in", 2, 3)
	// res.Outputs["c"] == int64(5)

# Body Conventions

Func bodies are a single Starlark def. A stateful body takes the state as
its last argument and returns (result, state). A branching body returns
(fired, result); downstream nodes fed only by outputs that did not fire are
skipped for the cycle, not merely handed None. Delay nodes read their state
as output at the start of a cycle and write the next state from their
inputs, which is how feedback loops are expressed.

# State

State Slots live in a state.Store keyed by (graph id, node path), apart from
compiled units. Recompiling and reloading keeps every slot whose node still
exists and is still stateful; removing a node drops its slot.

# Errors

Graph edits are validated up front and leave the graph unchanged on failure
(ErrPortAlreadyConnected, ErrCycleViolation, ...). Lowering failures are
*LowerError values. A failing body aborts only its cycle and is reported as
an *EvalError carrying the node path and position; slots written earlier in
the cycle keep their new values.
*/
package livegraph
