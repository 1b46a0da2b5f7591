package livegraph

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for node construction and graph edits.
var (
	// ErrSignatureMismatch indicates ports, kind and body disagree.
	ErrSignatureMismatch = errors.New("signature mismatch")

	// ErrPortAlreadyConnected indicates an input port that already has a source.
	ErrPortAlreadyConnected = errors.New("port already connected")

	// ErrCycleViolation indicates a cycle not broken by a delay node.
	ErrCycleViolation = errors.New("cycle not broken by a delay node")

	// ErrNodeNotFound indicates a reference to a node id the graph does not hold.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNodeExists indicates InsertNode with an id already in use.
	ErrNodeExists = errors.New("node id already in use")

	// ErrPortNotFound indicates a port index outside the node's signature.
	ErrPortNotFound = errors.New("port not found")

	// ErrEdgeNotFound indicates RemoveEdge for an edge the graph does not hold.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrNameTaken indicates an exposed port or entrypoint name already in use.
	ErrNameTaken = errors.New("name already in use")
)

// Sentinel errors for lowering.
var (
	// ErrUnsupportedBody indicates a node body the runtime cannot represent.
	ErrUnsupportedBody = errors.New("unsupported body")
)

// Sentinel errors for evaluation.
var (
	// ErrRuntimeEvaluation matches every *EvalError.
	ErrRuntimeEvaluation = errors.New("runtime evaluation error")

	// ErrNilContext indicates an evaluation request with a nil context.
	ErrNilContext = errors.New("context cannot be nil")

	// ErrNotLoaded indicates an evaluation request before any unit was loaded.
	ErrNotLoaded = errors.New("no compiled unit loaded")

	// ErrStopped indicates a request to a stopped coordinator.
	ErrStopped = errors.New("coordinator stopped")

	// ErrUnknownEntry indicates a push to an entrypoint the unit does not define.
	ErrUnknownEntry = errors.New("unknown entrypoint")

	// ErrUnknownOutput indicates a pull of an output or node the unit does not define.
	ErrUnknownOutput = errors.New("unknown output")

	// ErrArity indicates a push with the wrong number of values.
	ErrArity = errors.New("wrong number of values")

	// ErrBadResult indicates a body returned a value that does not fit its
	// output, state or branching convention.
	ErrBadResult = errors.New("malformed body result")
)

// SignatureError reports why a node's ports, kind and body disagree.
type SignatureError struct {
	// Reason describes the mismatch.
	Reason string
}

// Error implements the error interface.
func (e *SignatureError) Error() string {
	return fmt.Sprintf("%v: %s", ErrSignatureMismatch, e.Reason)
}

// Unwrap returns ErrSignatureMismatch for errors.Is support.
func (e *SignatureError) Unwrap() error {
	return ErrSignatureMismatch
}

func mismatch(format string, args ...any) error {
	return &SignatureError{Reason: fmt.Sprintf(format, args...)}
}

// EdgeError wraps a rejected graph edit with the edge involved.
type EdgeError struct {
	// Edge is the edge that was rejected.
	Edge Edge
	// Err is the underlying sentinel.
	Err error
}

// Error implements the error interface.
func (e *EdgeError) Error() string {
	return fmt.Sprintf("edge %s: %v", e.Edge, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EdgeError) Unwrap() error {
	return e.Err
}

// LowerError wraps a lowering failure with the node paths involved.
type LowerError struct {
	// Paths are the offending nodes, in ascending order.
	Paths []Path
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *LowerError) Error() string {
	if len(e.Paths) == 0 {
		return fmt.Sprintf("lower: %v", e.Err)
	}
	parts := make([]string, len(e.Paths))
	for i, p := range e.Paths {
		parts[i] = p.String()
	}
	return fmt.Sprintf("lower [%s]: %v", strings.Join(parts, ", "), e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *LowerError) Unwrap() error {
	return e.Err
}

// EvalError reports a node body failure that aborted a cycle.
// State written before the failure stays written.
type EvalError struct {
	// Path is the failing node.
	Path Path
	// Position is the failing vertex's index in the unit's execution order.
	Position int
	// Step counts node calls that completed earlier in the cycle.
	Step int
	// CycleID identifies the aborted cycle.
	CycleID string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("node %s at position %d: %v", e.Path, e.Position, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *EvalError) Unwrap() error {
	return e.Err
}

// Is makes every EvalError match ErrRuntimeEvaluation.
func (e *EvalError) Is(target error) bool {
	return target == ErrRuntimeEvaluation
}

// PanicError captures a panic raised by a host body.
type PanicError struct {
	// Path is the node whose host function panicked.
	Path Path
	// Value is the value passed to panic().
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.Path, e.Value)
}

// CancellationError reports a cycle cancelled before or between node calls.
type CancellationError struct {
	// Path is the node that was about to run; empty if the cycle never started.
	Path Path
	// Cause is context.Canceled or context.DeadlineExceeded.
	Cause error
	// Started is true if some node bodies had already run.
	Started bool
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	if !e.Started {
		return fmt.Sprintf("cancelled before cycle start: %v", e.Cause)
	}
	return fmt.Sprintf("cancelled before node %s: %v", e.Path, e.Cause)
}

// Unwrap returns the cancellation cause for errors.Is/As support.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}
