package history

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/serde"
)

var (
	// ErrNotFound is returned for unknown addresses, names and refs.
	ErrNotFound = errors.New("not found")

	// ErrCorrupt is returned when stored content does not hash to its
	// address.
	ErrCorrupt = errors.New("content does not match address")
)

// Registry holds content-addressed graphs, the commits pointing at them and
// branch names. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	graphs  map[Addr][]byte
	commits map[Addr]Commit
	names   map[string]Addr

	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock sets the commit timestamp source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// WithLogger logs commits and name changes at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		graphs:  make(map[Addr][]byte),
		commits: make(map[Addr]Commit),
		names:   make(map[string]Addr),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddGraph stores g's content and returns its address. Storing equal
// content twice keeps one copy.
func (r *Registry) AddGraph(g *livegraph.Graph) (Addr, error) {
	doc, err := serde.EncodeGraph(g)
	if err != nil {
		return Addr{}, err
	}
	return r.AddDocument(doc)
}

// AddDocument stores doc and returns its address.
func (r *Registry) AddDocument(doc *serde.Document) (Addr, error) {
	data, err := Canonical(doc)
	if err != nil {
		return Addr{}, fmt.Errorf("canonical document: %w", err)
	}
	addr := Addr(sha256.Sum256(data))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graphs[addr]; !ok {
		r.graphs[addr] = data
	}
	return addr, nil
}

// Commit stores g and records a commit of it on top of parent, which may be
// zero for a root commit.
func (r *Registry) Commit(parent Addr, g *livegraph.Graph) (Addr, error) {
	graph, err := r.AddGraph(g)
	if err != nil {
		return Addr{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commitLocked(parent, graph)
}

// CommitToName commits g with the commit name points at as parent and
// moves name to the new commit.
func (r *Registry) CommitToName(name string, g *livegraph.Graph) (Addr, error) {
	if name == "" {
		return Addr{}, errors.New("commit: empty name")
	}
	graph, err := r.AddGraph(g)
	if err != nil {
		return Addr{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.commitLocked(r.names[name], graph)
	if err != nil {
		return Addr{}, err
	}
	r.setNameLocked(name, c)
	return c, nil
}

// CommitToHead commits g on top of the commit head points at and advances
// head: a branch head moves its branch, a detached head moves itself.
func (r *Registry) CommitToHead(head *Head, g *livegraph.Graph) (Addr, error) {
	graph, err := r.AddGraph(g)
	if err != nil {
		return Addr{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	parent, ok := r.headCommitLocked(*head)
	if !ok {
		return Addr{}, fmt.Errorf("commit to head %s: %w", head, ErrNotFound)
	}
	c, err := r.commitLocked(parent, graph)
	if err != nil {
		return Addr{}, err
	}
	if head.Branch != "" {
		r.setNameLocked(head.Branch, c)
	} else {
		head.Commit = c
	}
	return c, nil
}

// InitHead commits an empty graph as a root commit. With a branch name the
// branch is pointed at it and a branch head returned; otherwise the head
// is detached at the commit.
func (r *Registry) InitHead(branch string) (Head, error) {
	graph, err := r.AddDocument(&serde.Document{Version: serde.Version, Nodes: []serde.NodeDoc{}})
	if err != nil {
		return Head{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	c, err := r.commitLocked(Addr{}, graph)
	if err != nil {
		return Head{}, err
	}
	if branch == "" {
		return CommitHead(c), nil
	}
	r.setNameLocked(branch, c)
	return BranchHead(branch), nil
}

func (r *Registry) commitLocked(parent, graph Addr) (Addr, error) {
	if !parent.IsZero() {
		if _, ok := r.commits[parent]; !ok {
			return Addr{}, fmt.Errorf("parent commit %s: %w", parent.Short(), ErrNotFound)
		}
	}
	c := Commit{Timestamp: r.now().UTC(), Parent: parent, Graph: graph}
	addr := c.Addr()
	r.commits[addr] = c
	if r.logger != nil {
		r.logger.Debug("graph committed",
			slog.String("commit", addr.Short()),
			slog.String("graph", graph.Short()),
		)
	}
	return addr, nil
}

func (r *Registry) setNameLocked(name string, commit Addr) {
	r.names[name] = commit
	if r.logger != nil {
		r.logger.Debug("name moved",
			slog.String("name", name),
			slog.String("commit", commit.Short()),
		)
	}
}

// SetName points name at commit and returns the commit it pointed at
// before, zero if none.
func (r *Registry) SetName(name string, commit Addr) (Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.commits[commit]; !ok {
		return Addr{}, fmt.Errorf("commit %s: %w", commit.Short(), ErrNotFound)
	}
	prev := r.names[name]
	r.setNameLocked(name, commit)
	return prev, nil
}

// RemoveName deletes name. The commit it pointed at stays.
func (r *Registry) RemoveName(name string) (Addr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.names[name]
	delete(r.names, name)
	return prev, ok
}

// Names returns a copy of the name to commit mapping.
func (r *Registry) Names() map[string]Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.names)
}

// NamedCommit returns the commit name points at.
func (r *Registry) NamedCommit(name string) (Addr, Commit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.names[name]
	if !ok {
		return Addr{}, Commit{}, false
	}
	c, ok := r.commits[addr]
	return addr, c, ok
}

// CommitAt returns the commit stored at addr.
func (r *Registry) CommitAt(addr Addr) (Commit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.commits[addr]
	return c, ok
}

// HeadCommit returns the commit address head points at.
func (r *Registry) HeadCommit(head Head) (Addr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.headCommitLocked(head)
}

func (r *Registry) headCommitLocked(head Head) (Addr, bool) {
	addr := head.Commit
	if head.Branch != "" {
		var ok bool
		if addr, ok = r.names[head.Branch]; !ok {
			return Addr{}, false
		}
	}
	_, ok := r.commits[addr]
	return addr, ok
}

// Document returns a fresh copy of the graph document stored at addr.
func (r *Registry) Document(addr Addr) (*serde.Document, error) {
	r.mu.RLock()
	data, ok := r.graphs[addr]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("graph %s: %w", addr.Short(), ErrNotFound)
	}
	var doc serde.Document
	if err := serde.Unmarshal(data, serde.FormatJSON, &doc); err != nil {
		return nil, fmt.Errorf("graph %s: %w", addr.Short(), err)
	}
	return &doc, nil
}

// CommitGraph decodes the graph of commit through kinds.
func (r *Registry) CommitGraph(commit Addr, kinds *serde.Registry, opts ...serde.DecodeOption) (*livegraph.Graph, error) {
	c, ok := r.CommitAt(commit)
	if !ok {
		return nil, fmt.Errorf("commit %s: %w", commit.Short(), ErrNotFound)
	}
	doc, err := r.Document(c.Graph)
	if err != nil {
		return nil, err
	}
	return serde.DecodeGraph(doc, kinds, opts...)
}

// HeadGraph decodes the graph head points at.
func (r *Registry) HeadGraph(head Head, kinds *serde.Registry, opts ...serde.DecodeOption) (*livegraph.Graph, error) {
	commit, ok := r.HeadCommit(head)
	if !ok {
		return nil, fmt.Errorf("head %s: %w", head, ErrNotFound)
	}
	return r.CommitGraph(commit, kinds, opts...)
}

// Log returns the commits from commit back to its root, newest first.
func (r *Registry) Log(commit Addr) []Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Addr
	seen := make(map[Addr]bool)
	for addr := commit; !addr.IsZero() && !seen[addr]; {
		c, ok := r.commits[addr]
		if !ok {
			break
		}
		seen[addr] = true
		out = append(out, addr)
		addr = c.Parent
	}
	return out
}

// ResolveGraph implements serde.GraphResolver. ref is a branch name, a
// commit address or a graph address, tried in that order.
func (r *Registry) ResolveGraph(ref string) (*serde.Document, error) {
	if _, c, ok := r.NamedCommit(ref); ok {
		return r.Document(c.Graph)
	}
	addr, err := ParseAddr(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is neither a name nor an address", ErrNotFound, ref)
	}
	if c, ok := r.CommitAt(addr); ok {
		return r.Document(c.Graph)
	}
	return r.Document(addr)
}

// Prune keeps only the commits in keep, the graphs they point at and the
// names pointing at them. Parents outside keep are cleared.
func (r *Registry) Prune(keep []Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	required := make(map[Addr]bool, len(keep))
	for _, a := range keep {
		required[a] = true
	}
	maps.DeleteFunc(r.commits, func(a Addr, _ Commit) bool { return !required[a] })
	maps.DeleteFunc(r.names, func(_ string, a Addr) bool { return !required[a] })

	used := make(map[Addr]bool, len(r.commits))
	for _, c := range r.commits {
		used[c.Graph] = true
	}
	maps.DeleteFunc(r.graphs, func(a Addr, _ []byte) bool { return !used[a] })
	detachParents(r.commits)
}

// Export returns a new registry holding the commits in keep, the graphs
// they point at and the names pointing at them.
func (r *Registry) Export(keep []Addr) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := NewRegistry(WithClock(r.now), WithLogger(r.logger))
	for _, a := range keep {
		c, ok := r.commits[a]
		if !ok {
			continue
		}
		out.commits[a] = c
		out.graphs[c.Graph] = r.graphs[c.Graph]
	}
	for name, a := range r.names {
		if _, ok := out.commits[a]; ok {
			out.names[name] = a
		}
	}
	return out
}

// MergeResult reports how names changed in Merge.
type MergeResult struct {
	// Added lists names that were new.
	Added []string
	// Replaced lists names that now point at a different commit.
	Replaced []Rename
}

// Rename is a name moved by Merge.
type Rename struct {
	Name     string
	Old, New Addr
}

// Merge copies in's graphs, commits and names into r. Content is added
// idempotently; a name in both registries takes in's commit.
func (r *Registry) Merge(in *Registry) MergeResult {
	in.mu.RLock()
	graphs := maps.Clone(in.graphs)
	commits := maps.Clone(in.commits)
	names := maps.Clone(in.names)
	in.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	maps.Copy(r.graphs, graphs)
	maps.Copy(r.commits, commits)

	var res MergeResult
	keys := slices.Collect(maps.Keys(names))
	sort.Strings(keys)
	for _, name := range keys {
		next := names[name]
		prev, ok := r.names[name]
		switch {
		case !ok:
			res.Added = append(res.Added, name)
		case prev != next:
			res.Replaced = append(res.Replaced, Rename{Name: name, Old: prev, New: next})
		default:
			continue
		}
		r.setNameLocked(name, next)
	}
	return res
}

// detachParents clears parents that are not in commits.
func detachParents(commits map[Addr]Commit) {
	for a, c := range commits {
		if c.Parent.IsZero() {
			continue
		}
		if _, ok := commits[c.Parent]; !ok {
			c.Parent = Addr{}
			commits[a] = c
		}
	}
}
