package livegraph

// Body is the executable part of a node.
//
// The concrete bodies are *Func, *Host and *Subgraph. Other implementations
// may be constructed but fail lowering with ErrUnsupportedBody.
type Body interface {
	// Params returns how many positional values the body accepts per call,
	// or -1 when it cannot tell.
	Params() int
}

// Func is a body written as one Starlark def.
//
// Pure nodes receive their inputs in port order. Stateful nodes receive the
// current state as an extra trailing argument and return (result, state).
// A branching node returns (fired, result), nested inside the stateful pair
// when it is also stateful. For zero outputs the result is ignored, for one
// output it is the value itself, and for more it is a tuple or list with one
// element per output.
type Func struct {
	Src string
}

// Params returns -1; the def is parsed when the node is built.
func (f *Func) Params() int { return -1 }

// HostFunc is a Go node body. args holds one converted value per input (and
// the state last, for stateful nodes). The return value follows the Func
// conventions, using []any for tuples.
type HostFunc func(ctx Context, args []any) (any, error)

// Host is a body implemented in Go and called from the runtime.
type Host struct {
	// Name identifies the function in logs and lowered source comments.
	Name string
	// Arity is the positional argument count, or -1 for any.
	Arity int
	// Fn is the implementation.
	Fn HostFunc
}

// Params returns the declared arity.
func (h *Host) Params() int { return h.Arity }

// Subgraph delegates to a nested graph's exposed ports.
type Subgraph struct {
	Graph *Graph
}

// Params returns the nested graph's exposed input count.
func (s *Subgraph) Params() int {
	if s.Graph == nil {
		return -1
	}
	return len(s.Graph.ExposedInputs())
}
