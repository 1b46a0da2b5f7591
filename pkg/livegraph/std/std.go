// Package std provides a small set of ready-made nodes.
//
// Every node is built from params through a serde constructor, so graphs
// using them persist and reload like any other registered kind. The Go
// helpers (Inlet, Add, Counter, ...) are shorthands for the same
// constructors.
//
//	reg := serde.NewRegistry()
//	if err := std.Register(reg); err != nil { ... }
package std

import (
	"fmt"

	"github.com/randalmurphal/livegraph/pkg/livegraph/serde"
)

// Type tags.
const (
	KindInlet   = "std.inlet"
	KindBang    = "std.bang"
	KindConst   = "std.const"
	KindAdd     = "std.add"
	KindCounter = "std.counter"
	KindGate    = "std.gate"
	KindDelay   = "std.delay"
	KindLog     = "std.log"
	KindExpr    = "std.expr"
	KindFn      = "std.fn"
	KindApply   = "std.apply"
)

var kinds = map[string]serde.Constructor{
	KindInlet:   newInlet,
	KindBang:    newBang,
	KindConst:   newConst,
	KindAdd:     newAdd,
	KindCounter: newCounter,
	KindGate:    newGate,
	KindDelay:   newDelay,
	KindLog:     newLog,
	KindExpr:    newExpr,
	KindFn:      newFn,
	KindApply:   newApply,
}

// Register adds every std kind to reg.
func Register(reg *serde.Registry) error {
	for _, tag := range Tags() {
		if err := reg.Register(tag, kinds[tag]); err != nil {
			return fmt.Errorf("std: %w", err)
		}
	}
	return nil
}

// Registry returns a new registry with the built-in and std kinds.
func Registry() *serde.Registry {
	reg := serde.NewRegistry()
	if err := Register(reg); err != nil {
		panic(err)
	}
	return reg
}

// Tags lists the std type tags in registration order.
func Tags() []string {
	return []string{
		KindInlet, KindBang, KindConst, KindAdd, KindCounter,
		KindGate, KindDelay, KindLog, KindExpr,
		KindFn, KindApply,
	}
}
