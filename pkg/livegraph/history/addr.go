// Package history keeps content-addressed graphs and their commit history.
//
// A graph's address is the SHA-256 of its canonical serde document, so
// equal graphs share one address whatever their graph ids. Commits point
// at a graph address and a parent commit and are addressed by their own
// content. Branch names map to commits, and a Head follows either a
// branch or a single commit.
//
//	reg := history.NewRegistry()
//	head, _ := reg.InitHead("main")
//	addr, err := reg.CommitToHead(&head, g)
//
// A Registry also resolves references for serde ref nodes:
//
//	kinds := std.Registry()
//	err := kinds.RegisterRef(reg)
package history

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/serde"
)

// Addr is a content address.
type Addr [sha256.Size]byte

// String returns the address in hex.
func (a Addr) String() string {
	return hex.EncodeToString(a[:])
}

// Short returns the first eight hex digits.
func (a Addr) Short() string {
	return a.String()[:8]
}

// IsZero reports whether a is the zero address, used for "none".
func (a Addr) IsZero() bool {
	return a == Addr{}
}

// MarshalText implements encoding.TextMarshaler. The zero address is empty.
func (a Addr) MarshalText() ([]byte, error) {
	if a.IsZero() {
		return []byte{}, nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Addr) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Addr{}
		return nil
	}
	parsed, err := ParseAddr(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddr parses a full hex address.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	if len(s) != hex.EncodedLen(len(a)) {
		return a, fmt.Errorf("parse address %q: want %d hex digits", s, hex.EncodedLen(len(a)))
	}
	if _, err := hex.Decode(a[:], []byte(s)); err != nil {
		return a, fmt.Errorf("parse address %q: %w", s, err)
	}
	return a, nil
}

// Canonical returns the canonical bytes of doc: compact JSON with every
// graph id cleared. doc is not modified.
func Canonical(doc *serde.Document) ([]byte, error) {
	return json.Marshal(anonymous(doc))
}

func anonymous(doc *serde.Document) *serde.Document {
	out := *doc
	out.GraphID = ""
	out.Nodes = make([]serde.NodeDoc, len(doc.Nodes))
	for i, nd := range doc.Nodes {
		if nd.Graph != nil {
			nd.Graph = anonymous(nd.Graph)
		}
		out.Nodes[i] = nd
	}
	return &out
}

// DocumentAddr returns the address of doc.
func DocumentAddr(doc *serde.Document) (Addr, error) {
	data, err := Canonical(doc)
	if err != nil {
		return Addr{}, fmt.Errorf("canonical document: %w", err)
	}
	return sha256.Sum256(data), nil
}

// GraphAddr returns the address of g's current content.
func GraphAddr(g *livegraph.Graph) (Addr, error) {
	doc, err := serde.EncodeGraph(g)
	if err != nil {
		return Addr{}, err
	}
	return DocumentAddr(doc)
}

// Commit records one version of a graph.
type Commit struct {
	// Timestamp is when the commit was made.
	Timestamp time.Time `json:"timestamp"`
	// Parent is the previous commit, zero for a root commit.
	Parent Addr `json:"parent"`
	// Graph is the address of the committed graph.
	Graph Addr `json:"graph"`
}

// Addr returns the commit's address, hashed over its timestamp, parent and
// graph address.
func (c Commit) Addr() Addr {
	h := sha256.New()
	var ts [12]byte
	binary.BigEndian.PutUint64(ts[:8], uint64(c.Timestamp.Unix()))
	binary.BigEndian.PutUint32(ts[8:], uint32(c.Timestamp.Nanosecond()))
	h.Write(ts[:])
	if c.Parent.IsZero() {
		h.Write([]byte{0})
	} else {
		h.Write([]byte{1})
		h.Write(c.Parent[:])
	}
	h.Write(c.Graph[:])

	var a Addr
	h.Sum(a[:0])
	return a
}

// Head points at the working commit, either through a branch name or
// directly.
type Head struct {
	Branch string `json:"branch,omitempty"`
	Commit Addr   `json:"commit"`
}

// BranchHead returns a head following branch name.
func BranchHead(name string) Head {
	return Head{Branch: name}
}

// CommitHead returns a head detached at commit.
func CommitHead(commit Addr) Head {
	return Head{Commit: commit}
}

// String returns the branch name, or the short commit address.
func (h Head) String() string {
	if h.Branch != "" {
		return h.Branch
	}
	return h.Commit.Short()
}
