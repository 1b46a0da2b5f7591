package livegraph

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/randalmurphal/livegraph/pkg/livegraph/observability"
	"github.com/randalmurphal/livegraph/pkg/livegraph/runtime"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
	"go.starlark.net/starlark"
)

// Status is the coordinator lifecycle state.
type Status int

const (
	StatusUnloaded Status = iota
	StatusLoaded
	StatusRunning
	StatusReloading
	StatusStopped
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoaded:
		return "loaded"
	case StatusRunning:
		return "running"
	case StatusReloading:
		return "reloading"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// PushRequest is one entrypoint event inside an Eval request.
type PushRequest struct {
	Entry string
	Args  []any
}

// Request is one evaluation cycle mixing pushes and pulls. All required
// vertices are merged into a single ordered pass, so a node on both a pushed
// and a pulled path runs once.
type Request struct {
	Pushes []PushRequest
	// Pulls names exposed outputs.
	Pulls []string
	// Nodes names node paths to pull directly.
	Nodes []Path
	// Inputs supplies exposed input values and entry inputs by key.
	Inputs map[string]any
}

// Coordinator loads compiled units and runs evaluation cycles against them,
// one cycle at a time.
type Coordinator struct {
	sem   chan struct{}
	store state.Store
	cfg   coordinatorConfig

	mu     sync.RWMutex
	unit   *Unit
	module *runtime.Module
	status Status

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// NewCoordinator creates an unloaded coordinator backed by store.
// A nil store gets a fresh MemoryStore.
func NewCoordinator(store state.Store, opts ...Option) *Coordinator {
	if store == nil {
		store = state.NewMemoryStore()
	}
	cfg := defaultCoordinatorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Coordinator{
		sem:   make(chan struct{}, 1),
		store: store,
		cfg:   cfg,
	}
}

// Store returns the coordinator's state store.
func (c *Coordinator) Store() state.Store {
	return c.store
}

// Status returns the lifecycle state.
func (c *Coordinator) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Unit returns the loaded unit, or nil.
func (c *Coordinator) Unit() *Unit {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unit
}

// acquire takes the cycle slot, giving up when ctx ends first.
func (c *Coordinator) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &CancellationError{Cause: err}
	}
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return &CancellationError{Cause: ctx.Err()}
	}
}

func (c *Coordinator) release() {
	<-c.sem
}

// Load makes u the active unit. It waits for any in-flight cycle, then
// drops State Slots whose node is gone from u or no longer stateful; all
// other slots carry over by path.
//
// If the runtime rejects the source the previous unit stays active.
func (c *Coordinator) Load(ctx context.Context, u *Unit) error {
	if ctx == nil {
		return ErrNilContext
	}
	if u == nil {
		return fmt.Errorf("load: nil unit")
	}
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	c.mu.Lock()
	prev := c.status
	if prev == StatusStopped {
		c.mu.Unlock()
		return ErrStopped
	}
	from := ""
	if c.unit != nil {
		from = c.unit.Digest()
	}
	if prev == StatusRunning {
		c.status = StatusReloading
	}
	c.mu.Unlock()

	thread := runtime.NewThread("load", c.cfg.logger)
	mod, err := runtime.Load(thread, moduleName(u), u.Source(), builtins)
	if err != nil {
		c.mu.Lock()
		c.status = prev
		c.mu.Unlock()
		return fmt.Errorf("load unit %s: %w", shortDigest(u.Digest()), err)
	}

	dropped := c.dropOrphans(ctx, u)

	c.mu.Lock()
	c.unit, c.module = u, mod
	switch prev {
	case StatusUnloaded:
		c.status = StatusLoaded
	case StatusRunning:
		c.status = StatusRunning
	}
	c.mu.Unlock()

	observability.LogReload(c.cfg.logger, u.GraphID(), from, u.Digest(), dropped)
	return nil
}

// dropOrphans releases slots of u's graph that u no longer declares.
func (c *Coordinator) dropOrphans(ctx context.Context, u *Unit) int {
	dropped := 0
	for _, path := range c.store.Paths(u.GraphID()) {
		if u.HasSlot(path) || c.coversSlot(u, path) {
			continue
		}
		n := c.store.Drop(u.GraphID(), path)
		if n > 0 {
			dropped += n
			observability.LogSlotDropped(c.cfg.logger, u.GraphID(), path)
		}
	}
	if dropped > 0 {
		c.cfg.metrics.RecordSlots(ctx, u.GraphID(), -int64(dropped))
	}
	return dropped
}

// coversSlot reports whether a live slot of u sits below path, in which case
// dropping path would take it along.
func (c *Coordinator) coversSlot(u *Unit, path string) bool {
	for _, s := range u.slots {
		if state.IsDescendant(path, s.Path.String()) {
			return true
		}
	}
	return false
}

// Push runs one cycle triggered at the named entrypoint, with args as the
// entry node's inputs in port order.
func (c *Coordinator) Push(ctx context.Context, entry string, args ...any) (*Result, error) {
	return c.run(ctx, "push", func(u *Unit) (*plan, error) {
		e, ok := u.Entry(entry)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEntry, entry)
		}
		if len(args) != len(e.Keys) {
			return nil, fmt.Errorf("%w: entry %q takes %d, got %d", ErrArity, entry, len(e.Keys), len(args))
		}
		ext := make(map[string]any, len(args))
		for i, key := range e.Keys {
			ext[key] = args[i]
		}
		return &plan{symbol: e.Symbol, ext: ext}, nil
	})
}

// Pull runs the upstream closure of the named exposed output. inputs
// supplies exposed input and entry input values by key.
func (c *Coordinator) Pull(ctx context.Context, output string, inputs map[string]any) (*Result, error) {
	return c.run(ctx, "pull", func(u *Unit) (*plan, error) {
		o, ok := u.Output(output)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownOutput, output)
		}
		return &plan{symbol: o.Symbol, ext: inputs}, nil
	})
}

// PullNode runs the upstream closure of the node at path.
func (c *Coordinator) PullNode(ctx context.Context, path Path, inputs map[string]any) (*Result, error) {
	return c.run(ctx, "pull", func(u *Unit) (*plan, error) {
		req, err := u.Required(nil, nil, []Path{path})
		if err != nil {
			return nil, err
		}
		return &plan{symbol: "_cycle", req: req, ext: inputs}, nil
	})
}

// Eval runs one cycle over the merged required set of every push and pull
// in r. Push args override Inputs for the same key.
func (c *Coordinator) Eval(ctx context.Context, r Request) (*Result, error) {
	return c.run(ctx, "eval", func(u *Unit) (*plan, error) {
		ext := make(map[string]any, len(r.Inputs))
		for k, v := range r.Inputs {
			ext[k] = v
		}

		var errs []error
		entries := make([]string, 0, len(r.Pushes))
		seen := make(map[string]bool)
		for _, p := range r.Pushes {
			e, ok := u.Entry(p.Entry)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownEntry, p.Entry))
				continue
			}
			if seen[p.Entry] {
				errs = append(errs, fmt.Errorf("entry %q pushed twice in one cycle", p.Entry))
				continue
			}
			seen[p.Entry] = true
			if len(p.Args) != len(e.Keys) {
				errs = append(errs, fmt.Errorf("%w: entry %q takes %d, got %d", ErrArity, p.Entry, len(e.Keys), len(p.Args)))
				continue
			}
			for i, key := range e.Keys {
				ext[key] = p.Args[i]
			}
			entries = append(entries, p.Entry)
		}
		if len(errs) > 0 {
			return nil, errors.Join(errs...)
		}

		req, err := u.Required(entries, r.Pulls, r.Nodes)
		if err != nil {
			return nil, err
		}
		return &plan{symbol: "_cycle", req: req, ext: ext}, nil
	})
}

// Cancel cancels the in-flight cycle, if any. The cycle stops before its
// next node call.
func (c *Coordinator) Cancel() {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

// Stop cancels the in-flight cycle, waits for it to end and refuses all
// later requests.
func (c *Coordinator) Stop() {
	c.Cancel()
	c.sem <- struct{}{}
	defer c.release()

	c.mu.Lock()
	c.status = StatusStopped
	c.unit, c.module = nil, nil
	c.mu.Unlock()
}

// plan is a resolved evaluation request.
type plan struct {
	symbol string
	// req is passed to _cycle; nil when symbol carries its own set.
	req []bool
	ext map[string]any
}

func (c *Coordinator) run(ctx context.Context, kind string, resolve func(*Unit) (*plan, error)) (*Result, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	c.mu.Lock()
	switch c.status {
	case StatusStopped:
		c.mu.Unlock()
		return nil, ErrStopped
	case StatusUnloaded:
		c.mu.Unlock()
		return nil, ErrNotLoaded
	}
	u, mod := c.unit, c.module
	c.status = StatusRunning
	c.mu.Unlock()

	p, err := resolve(u)
	if err != nil {
		return nil, err
	}

	args, err := p.args()
	if err != nil {
		return nil, err
	}

	cycleCtx, cancel := context.WithCancel(ctx)
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()
	defer func() {
		c.cancelMu.Lock()
		c.cancel = nil
		c.cancelMu.Unlock()
		cancel()
	}()

	cy := newCycle(cycleCtx, u, c.store, &c.cfg, kind)
	return cy.run(mod, p.symbol, args)
}

// args converts the plan into _cycle / push / pull call arguments.
func (p *plan) args() ([]starlark.Value, error) {
	ext, err := runtime.ToValue(nonNil(p.ext))
	if err != nil {
		return nil, fmt.Errorf("inputs: %w", err)
	}
	if p.req == nil {
		return []starlark.Value{ext}, nil
	}
	req := make(starlark.Tuple, len(p.req))
	for i, ok := range p.req {
		req[i] = starlark.Bool(ok)
	}
	return []starlark.Value{req, ext}, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func moduleName(u *Unit) string {
	return "unit_" + shortDigest(u.Digest()) + ".star"
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
