package serde

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownNodeKind is returned when a document names an unregistered
	// type tag.
	ErrUnknownNodeKind = errors.New("unknown node kind")

	// ErrPortSignatureDrift is returned when a rebuilt node's ports differ
	// from the ports recorded in the document, or an edge or exposure names
	// a port the node no longer has.
	ErrPortSignatureDrift = errors.New("port signature drift")

	// ErrDuplicateKind is returned when registering a tag twice.
	ErrDuplicateKind = errors.New("node kind already registered")

	// ErrUnencodable is returned for nodes with no registry tag that cannot
	// be described by a built-in kind, and for state values with no
	// portable representation.
	ErrUnencodable = errors.New("not encodable")

	// ErrRefCycle is returned when a ref node resolves, directly or through
	// other refs, to a graph containing itself.
	ErrRefCycle = errors.New("ref cycle")

	// ErrVersion is returned for documents written by an unknown format
	// version.
	ErrVersion = errors.New("unsupported document version")
)

// DecodeError locates a decode failure inside a document.
type DecodeError struct {
	// Path is the node path from the root document, e.g. "3/2". Empty for
	// document-level errors.
	Path string
	// Type is the node's type tag, when known.
	Type string
	Err  error
}

// Error implements error.
func (e *DecodeError) Error() string {
	switch {
	case e.Path == "":
		return fmt.Sprintf("decode graph: %v", e.Err)
	case e.Type == "":
		return fmt.Sprintf("decode node %s: %v", e.Path, e.Err)
	default:
		return fmt.Sprintf("decode node %s (%s): %v", e.Path, e.Type, e.Err)
	}
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func drift(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPortSignatureDrift, fmt.Sprintf(format, args...))
}
