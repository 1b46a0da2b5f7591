package serde

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/config"
)

// KindRef is the type tag of nodes that wrap a graph looked up by
// reference. Register it with RegisterRef.
const KindRef = "ref"

// GraphResolver looks up a graph document by reference, a name or a
// content address.
type GraphResolver interface {
	ResolveGraph(ref string) (*Document, error)
}

// RegisterRef adds the "ref" kind to r. A ref node is a graph node whose
// graph comes from res when the node is built:
//
//	type: ref   params: {graph: "filters/lowpass"}
//
// Only the reference is persisted. Decoding resolves it again, so a ref
// by name follows the name while a ref by commit address stays pinned.
func (r *Registry) RegisterRef(res GraphResolver) error {
	if res == nil {
		return fmt.Errorf("register %q: resolver required", KindRef)
	}
	return r.Register(KindRef, r.refKind(res, nil))
}

// NewRefNode builds a ref node for ref, decoding the resolved graph
// through r.
func (r *Registry) NewRefNode(res GraphResolver, ref string) (*livegraph.Node, error) {
	return r.refKind(res, nil)(config.New(map[string]any{"graph": ref}))
}

// refKind returns the ref constructor. seen holds the refs being resolved
// above this one.
func (r *Registry) refKind(res GraphResolver, seen []string) Constructor {
	return func(p config.Params) (*livegraph.Node, error) {
		ref := p.String("graph", "")
		if ref == "" {
			return nil, fmt.Errorf("%s: graph required", KindRef)
		}
		if slices.Contains(seen, ref) {
			return nil, fmt.Errorf("%w: %s", ErrRefCycle, strings.Join(append(slices.Clone(seen), ref), " -> "))
		}
		doc, err := res.ResolveGraph(ref)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", KindRef, ref, err)
		}

		inner := r.with(KindRef, r.refKind(res, append(slices.Clone(seen), ref)))
		g, err := DecodeGraph(doc, inner)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", KindRef, ref, err)
		}
		return livegraph.NewGraphNode(g, livegraph.WithTag(KindRef, p.Raw()))
	}
}

// with returns a copy of r with tag bound to c.
func (r *Registry) with(tag string, c Constructor) *Registry {
	r.mu.RLock()
	kinds := maps.Clone(r.kinds)
	r.mu.RUnlock()
	kinds[tag] = c
	return &Registry{kinds: kinds}
}
