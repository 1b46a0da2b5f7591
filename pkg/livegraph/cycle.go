package livegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/livegraph/pkg/livegraph/observability"
	"github.com/randalmurphal/livegraph/pkg/livegraph/runtime"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
	"go.opentelemetry.io/otel/trace"
	"go.starlark.net/starlark"
)

const (
	cycleKey = "livegraph.cycle"
	nodeKey  = "livegraph.node"
)

// builtins are predeclared for every unit. They find the running cycle
// through the thread.
var builtins = starlark.StringDict{
	"_call":      starlark.NewBuiltin("_call", callBuiltin),
	"_host":      starlark.NewBuiltin("_host", hostBuiltin),
	"_state_get": starlark.NewBuiltin("_state_get", stateGetBuiltin),
	"_state_set": starlark.NewBuiltin("_state_set", stateSetBuiltin),
	"_outs":      starlark.NewBuiltin("_outs", outsBuiltin),
}

// cycle is the per-evaluation bookkeeping behind the builtins.
type cycle struct {
	ctx    context.Context
	id     string
	kind   string
	unit   *Unit
	store  state.Store
	cfg    *coordinatorConfig
	logger *slog.Logger

	steps    int
	executed []int
	ran      map[int]bool
}

// nodeCall is the vertex a _call is currently running, for _host.
type nodeCall struct {
	index int
	ctx   context.Context
}

func newCycle(ctx context.Context, u *Unit, store state.Store, cfg *coordinatorConfig, kind string) *cycle {
	id := uuid.New().String()
	return &cycle{
		ctx:    ctx,
		id:     id,
		kind:   kind,
		unit:   u,
		store:  store,
		cfg:    cfg,
		logger: observability.EnrichLogger(cfg.logger, u.GraphID(), id, ""),
		ran:    make(map[int]bool),
	}
}

func (cy *cycle) run(mod *runtime.Module, symbol string, args []starlark.Value) (res *Result, err error) {
	start := time.Now()
	elapsed := observability.TimedOperation()

	var span trace.Span
	if cy.cfg.tracingEnabled {
		cy.ctx, span = cy.cfg.spans.StartCycleSpan(cy.ctx, cy.unit.GraphID(), cy.id, cy.kind)
		defer func() {
			cy.cfg.spans.EndSpanWithError(span, err)
		}()
	}
	observability.LogCycleStart(cy.logger, cy.kind)

	thread := runtime.NewThread("cycle "+cy.id, cy.logger)
	thread.SetLocal(cycleKey, cy)
	if cy.cfg.maxSteps > 0 {
		thread.SetMaxExecutionSteps(cy.cfg.maxSteps)
	}

	out, callErr := mod.Call(thread, symbol, args...)
	if callErr == nil {
		res, err = cy.result(out)
	} else {
		err = cy.classify(callErr)
	}

	cy.cfg.metrics.RecordCycle(cy.ctx, cy.kind, err == nil, time.Since(start))
	if err != nil {
		observability.LogCycleError(cy.logger, err, elapsed(), failedPath(err))
		return nil, err
	}
	observability.LogCycleComplete(cy.logger, elapsed(), len(cy.executed))
	return res, nil
}

// classify digs the livegraph error out of the interpreter's wrapping.
func (cy *cycle) classify(err error) error {
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) {
		return cancelErr
	}
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return evalErr
	}
	return &EvalError{Position: -1, Step: cy.steps, CycleID: cy.id, Err: err}
}

func failedPath(err error) string {
	var evalErr *EvalError
	if errors.As(err, &evalErr) && evalErr.Path != nil {
		return evalErr.Path.String()
	}
	var cancelErr *CancellationError
	if errors.As(err, &cancelErr) && cancelErr.Path != nil {
		return cancelErr.Path.String()
	}
	return ""
}

func cycleOf(thread *starlark.Thread) (*cycle, error) {
	cy, ok := thread.Local(cycleKey).(*cycle)
	if !ok {
		return nil, fmt.Errorf("livegraph builtin called outside a cycle")
	}
	return cy, nil
}

func (cy *cycle) vertex(idx int) (VertexInfo, error) {
	if idx < 0 || idx >= len(cy.unit.vertices) {
		return VertexInfo{}, fmt.Errorf("vertex %d out of range", idx)
	}
	return cy.unit.vertices[idx], nil
}

func (cy *cycle) fail(vx VertexInfo, err error) error {
	return &EvalError{Path: vx.Path, Position: vx.Index, Step: cy.steps, CycleID: cy.id, Err: err}
}

// _call(index, fn, args) runs one node body and shapes its result.
func callBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cy, err := cycleOf(thread)
	if err != nil {
		return nil, err
	}
	var (
		idx  int
		fn   starlark.Value
		argv starlark.Tuple
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &idx, &fn, &argv); err != nil {
		return nil, err
	}
	return cy.call(thread, idx, fn, argv)
}

func (cy *cycle) call(thread *starlark.Thread, idx int, fn starlark.Value, argv starlark.Tuple) (starlark.Value, error) {
	vx, err := cy.vertex(idx)
	if err != nil {
		return nil, err
	}
	if err := cy.ctx.Err(); err != nil {
		return nil, &CancellationError{Path: vx.Path, Cause: err, Started: cy.steps > 0}
	}

	path := vx.Path.String()
	nodeCtx := cy.ctx
	var span trace.Span
	if cy.cfg.tracingEnabled {
		nodeCtx, span = cy.cfg.spans.StartNodeSpan(cy.ctx, path)
	}
	observability.LogNodeStart(cy.logger, path)
	start := time.Now()

	thread.SetLocal(nodeKey, &nodeCall{index: idx, ctx: nodeCtx})
	res, err := starlark.Call(thread, fn, argv, nil)
	thread.SetLocal(nodeKey, nil)

	var out starlark.Value
	if err == nil {
		out, err = shapeResult(vx, res)
	}

	dur := time.Since(start)
	cy.cfg.metrics.RecordNodeCall(nodeCtx, path, dur, err)
	if span != nil {
		cy.cfg.spans.EndSpanWithError(span, err)
	}
	if err != nil {
		observability.LogNodeError(cy.logger, path, err)
		return nil, cy.fail(vx, err)
	}
	observability.LogNodeComplete(cy.logger, path, float64(dur.Microseconds())/1000)

	cy.steps++
	cy.executed = append(cy.executed, idx)
	cy.ran[idx] = true
	return out, nil
}

// _host(args...) calls the Go body of the vertex _call is running.
func hostBuiltin(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
	cy, err := cycleOf(thread)
	if err != nil {
		return nil, err
	}
	nc, ok := thread.Local(nodeKey).(*nodeCall)
	if !ok {
		return nil, fmt.Errorf("_host called outside a node call")
	}
	host := cy.unit.hosts[nc.index]
	if host == nil {
		return nil, fmt.Errorf("%w: vertex %d has no host body", ErrUnsupportedBody, nc.index)
	}

	vx := cy.unit.vertices[nc.index]
	goArgs := make([]any, len(args))
	for i, a := range args {
		goArgs[i] = runtime.ToGo(a)
	}
	hctx := &nodeContext{
		Context: nc.ctx,
		logger:  observability.EnrichLogger(cy.cfg.logger, cy.unit.GraphID(), cy.id, vx.Path.String()),
		graphID: cy.unit.GraphID(),
		cycleID: cy.id,
		path:    vx.Path,
	}

	out, err := callHost(host.Fn, hctx, goArgs)
	if err != nil {
		return nil, err
	}
	return runtime.ToValue(out)
}

// callHost runs fn, turning a panic into *PanicError.
func callHost(fn HostFunc, ctx *nodeContext, args []any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &PanicError{Path: ctx.path, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return fn(ctx, args)
}

// _state_get(index) returns the slot value, running the initializer the
// first time.
func stateGetBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cy, err := cycleOf(thread)
	if err != nil {
		return nil, err
	}
	var idx int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &idx); err != nil {
		return nil, err
	}
	vx, err := cy.vertex(idx)
	if err != nil {
		return nil, err
	}

	created := false
	v, err := cy.store.GetOrInit(cy.unit.GraphID(), vx.Path.String(), func() (any, error) {
		created = true
		return runtime.EvalExpr(cy.unit.inits[idx])
	})
	if err != nil {
		return nil, cy.fail(vx, fmt.Errorf("init state: %w", err))
	}
	if created {
		cy.cfg.metrics.RecordSlots(cy.ctx, cy.unit.GraphID(), 1)
	}
	return runtime.ToValue(v)
}

// _state_set(index, value) writes the slot.
func stateSetBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cy, err := cycleOf(thread)
	if err != nil {
		return nil, err
	}
	var (
		idx int
		v   starlark.Value
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &idx, &v); err != nil {
		return nil, err
	}
	vx, err := cy.vertex(idx)
	if err != nil {
		return nil, err
	}
	if err := cy.store.Set(cy.unit.GraphID(), vx.Path.String(), runtime.ToGo(v)); err != nil {
		return nil, cy.fail(vx, fmt.Errorf("write state: %w", err))
	}
	return starlark.None, nil
}

// _outs(index, state) spreads a delay's state over its outputs.
func outsBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	cy, err := cycleOf(thread)
	if err != nil {
		return nil, err
	}
	var (
		idx int
		v   starlark.Value
	)
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &idx, &v); err != nil {
		return nil, err
	}
	vx, err := cy.vertex(idx)
	if err != nil {
		return nil, err
	}
	outs, err := spread(v, vx.Outputs)
	if err != nil {
		return nil, cy.fail(vx, err)
	}
	cy.ran[idx] = true
	return outs, nil
}

// result converts the (values, liveness) pair returned by _cycle.
func (cy *cycle) result(out starlark.Value) (*Result, error) {
	pair, ok := out.(starlark.Tuple)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("%w: cycle returned %s", ErrBadResult, out.Type())
	}
	values, _ := pair[0].(starlark.Tuple)
	lives, _ := pair[1].(starlark.Tuple)

	res := &Result{
		CycleID: cy.id,
		Outputs: make(map[string]any),
		values:  make(map[string][]any),
		fired:   make(map[string][]bool),
	}
	for _, idx := range cy.executed {
		res.Executed = append(res.Executed, cy.unit.vertices[idx].Path)
	}

	for idx, vx := range cy.unit.vertices {
		if !cy.ran[idx] || vx.Role == RoleWrite || idx >= len(values) || idx >= len(lives) {
			continue
		}
		vals, _ := values[idx].(starlark.Tuple)
		live, _ := lives[idx].(starlark.Tuple)
		goVals := make([]any, len(vals))
		for i, v := range vals {
			goVals[i] = runtime.ToGo(v)
		}
		mask := make([]bool, len(live))
		for i, l := range live {
			mask[i] = bool(l.Truth())
		}
		key := vx.Path.String()
		res.values[key] = goVals
		res.fired[key] = mask
	}

	for name, o := range cy.unit.outputs {
		if o.Vertex < 0 || !cy.ran[o.Vertex] {
			continue
		}
		key := cy.unit.vertices[o.Vertex].Path.String()
		if mask := res.fired[key]; o.Port < len(mask) && mask[o.Port] {
			res.Outputs[name] = res.values[key][o.Port]
		}
	}
	return res, nil
}

// Result reports what one cycle did.
type Result struct {
	// CycleID identifies the cycle in logs and spans.
	CycleID string
	// Executed lists the nodes whose bodies ran, in execution order.
	Executed []Path
	// Outputs holds the root exposed outputs that fired this cycle.
	Outputs map[string]any

	values map[string][]any
	fired  map[string][]bool
}

// Output returns the named exposed output if it fired.
func (r *Result) Output(name string) (any, bool) {
	v, ok := r.Outputs[name]
	return v, ok
}

// NodeOutputs returns the output values of the node at path, if it ran.
func (r *Result) NodeOutputs(path Path) ([]any, bool) {
	v, ok := r.values[path.String()]
	return v, ok
}

// Fired returns the per-output firing mask of the node at path; nil if the
// node did not run.
func (r *Result) Fired(path Path) []bool {
	return r.fired[path.String()]
}

// Ran reports whether the node at path executed in the cycle.
func (r *Result) Ran(path Path) bool {
	for _, p := range r.Executed {
		if p.Compare(path) == 0 {
			return true
		}
	}
	return false
}
