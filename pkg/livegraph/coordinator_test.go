package livegraph

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/randalmurphal/livegraph/pkg/livegraph/config"
	"github.com/randalmurphal/livegraph/pkg/livegraph/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bangSrc = "def bang():\n    return True\n"

// counterGraph builds tick -> counter with the count exposed as "count".
func counterGraph(t *testing.T) (*Graph, NodeID) {
	t.Helper()
	g := NewGraph(WithStateStore(state.NewMemoryStore()))
	tick := add(t, g, pureNode(t, nil, []string{"bang"}, bangSrc, WithEntry("tick")))
	ctr := add(t, g, statefulNode(t, []string{"bang"}, []string{"count"}, "0", counterSrc))
	connect(t, g, tick, "bang", ctr, "bang")
	exposeOut(t, g, "count", ctr, 0)
	return g, ctr
}

// TestCoordinator_Status tests the lifecycle transitions.
func TestCoordinator_Status(t *testing.T) {
	ctx := context.Background()
	g, _, _ := scenarioA(t)
	c := NewCoordinator(g.Store())
	assert.Equal(t, StatusUnloaded, c.Status())
	assert.Nil(t, c.Unit())

	_, err := c.Push(ctx, "in", 1, 2)
	assert.ErrorIs(t, err, ErrNotLoaded)

	u := reload(t, c, g)
	assert.Equal(t, StatusLoaded, c.Status())
	assert.Same(t, u, c.Unit())

	_, err = c.Push(ctx, "in", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, c.Status())

	reload(t, c, g)
	assert.Equal(t, StatusRunning, c.Status())

	c.Stop()
	assert.Equal(t, StatusStopped, c.Status())
	assert.Nil(t, c.Unit())
	_, err = c.Push(ctx, "in", 1, 2)
	assert.ErrorIs(t, err, ErrStopped)
	u, cerr := Compile(g)
	require.NoError(t, cerr)
	assert.ErrorIs(t, c.Load(ctx, u), ErrStopped)
	assert.Equal(t, "stopped", c.Status().String())
}

// TestCoordinator_RequestErrors tests rejected requests.
func TestCoordinator_RequestErrors(t *testing.T) {
	ctx := context.Background()
	g, _, _ := scenarioA(t)
	c := loaded(t, g)

	var nilCtx context.Context
	_, err := c.Push(nilCtx, "in", 1, 2)
	assert.ErrorIs(t, err, ErrNilContext)
	assert.ErrorIs(t, c.Load(nilCtx, c.Unit()), ErrNilContext)
	assert.Error(t, c.Load(ctx, nil))

	_, err = c.Push(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownEntry)
	_, err = c.Push(ctx, "in", 1)
	assert.ErrorIs(t, err, ErrArity)
	_, err = c.Pull(ctx, "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownOutput)
	_, err = c.PullNode(ctx, Path{7}, nil)
	assert.ErrorIs(t, err, ErrUnknownOutput)

	_, err = c.Eval(ctx, Request{Pushes: []PushRequest{
		{Entry: "in", Args: []any{1, 2}},
		{Entry: "in", Args: []any{3, 4}},
		{Entry: "gone"},
	}})
	assert.ErrorIs(t, err, ErrUnknownEntry)
	assert.Contains(t, err.Error(), "pushed twice")

}

// TestCoordinator_EvalError tests that a failing body aborts the cycle with
// its node path while earlier state writes stick.
func TestCoordinator_EvalError(t *testing.T) {
	ctx := context.Background()
	g := NewGraph(WithStateStore(state.NewMemoryStore()))
	in := add(t, g, single(t, "in"))
	acc := add(t, g, statefulNode(t, []string{"x"}, []string{"n"}, "0", countSrc))
	bad := add(t, g, pureNode(t, []string{"x"}, []string{"y"}, failSrc))
	connect(t, g, in, "x", acc, "x")
	connect(t, g, acc, "n", bad, "x")
	c := loaded(t, g)

	_, err := c.Push(ctx, "in", 1)
	require.ErrorIs(t, err, ErrRuntimeEvaluation)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, Path{bad}, ee.Path)
	assert.Equal(t, 2, ee.Position)
	assert.Equal(t, 2, ee.Step)
	assert.NotEmpty(t, ee.CycleID)
	assert.Contains(t, err.Error(), "node 3 at position 2")

	v, ok := g.Store().Get(g.ID(), "2")
	require.True(t, ok)
	assert.Equal(t, int64(1), v)
}

// TestCoordinator_BadResult tests that results not matching the outputs fail.
func TestCoordinator_BadResult(t *testing.T) {
	g := NewGraph()
	in := add(t, g, single(t, "in"))
	two := add(t, g, pureNode(t, []string{"x"}, []string{"a", "b"}, identSrc))
	connect(t, g, in, "x", two, "x")
	c := loaded(t, g)

	_, err := c.Push(context.Background(), "in", 1)
	assert.ErrorIs(t, err, ErrBadResult)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, Path{two}, ee.Path)
}

// TestCoordinator_HostPanic tests that a panicking host body becomes a PanicError.
func TestCoordinator_HostPanic(t *testing.T) {
	g := NewGraph()
	in := add(t, g, single(t, "in"))
	boom := add(t, g, must(t)(NewHost(Ports("x"), Ports("y"), "boom", func(Context, []any) (any, error) {
		panic("kaboom")
	})))
	connect(t, g, in, "x", boom, "x")
	c := loaded(t, g)

	_, err := c.Push(context.Background(), "in", 1)
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "kaboom", pe.Value)
	assert.Equal(t, Path{boom}, pe.Path)
	assert.NotEmpty(t, pe.Stack)
	assert.ErrorIs(t, err, ErrRuntimeEvaluation)
}

// TestCoordinator_HostError tests that host errors keep their identity.
func TestCoordinator_HostError(t *testing.T) {
	errBackend := errors.New("backend unavailable")
	g := NewGraph()
	in := add(t, g, single(t, "in"))
	h := add(t, g, must(t)(NewHost(Ports("x"), Ports("y"), "fetch", func(Context, []any) (any, error) {
		return nil, errBackend
	})))
	connect(t, g, in, "x", h, "x")
	c := loaded(t, g)

	_, err := c.Push(context.Background(), "in", 1)
	assert.ErrorIs(t, err, errBackend)
	assert.ErrorIs(t, err, ErrRuntimeEvaluation)
}

// TestCoordinator_Cancel tests cancellation before and during a cycle.
func TestCoordinator_Cancel(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		g, _, _ := scenarioA(t)
		c := loaded(t, g)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Push(ctx, "in", 1, 2)
		var ce *CancellationError
		require.ErrorAs(t, err, &ce)
		assert.False(t, ce.Started)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("between nodes", func(t *testing.T) {
		var calls callLog
		var c *Coordinator
		g := NewGraph()
		in := add(t, g, single(t, "in"))
		stop := add(t, g, must(t)(NewHost(Ports("x"), Ports("x"), "stop", func(_ Context, args []any) (any, error) {
			c.Cancel()
			return args[0], nil
		})))
		next := add(t, g, trackingNode(t, "next", &calls))
		connect(t, g, in, "x", stop, "x")
		connect(t, g, stop, "x", next, "x")
		c = loaded(t, g)

		_, err := c.Push(context.Background(), "in", 1)
		var ce *CancellationError
		require.ErrorAs(t, err, &ce)
		assert.True(t, ce.Started)
		assert.Equal(t, Path{next}, ce.Path)
		assert.Empty(t, calls.get())

		// The coordinator stays usable.
		c.Cancel()
		_, err = c.Pull(context.Background(), "missing", nil)
		assert.ErrorIs(t, err, ErrUnknownOutput)
	})
}

// TestCoordinator_MaxSteps tests that runaway bodies are stopped.
func TestCoordinator_MaxSteps(t *testing.T) {
	g := NewGraph()
	in := add(t, g, single(t, "in"))
	spin := add(t, g, pureNode(t, []string{"x"}, []string{"x"}, spinSrc))
	connect(t, g, in, "x", spin, "x")
	c := loaded(t, g, WithMaxSteps(10_000))

	_, err := c.Push(context.Background(), "in", 0)
	var ee *EvalError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, Path{spin}, ee.Path)
}

// TestCoordinator_Reload tests slot carry-over and orphan release on reload.
func TestCoordinator_Reload(t *testing.T) {
	ctx := context.Background()
	g, ctr := counterGraph(t)
	c := loaded(t, g)

	for range 2 {
		_, err := c.Push(ctx, "tick")
		require.NoError(t, err)
	}

	// Adding a node keeps the counter's slot.
	dbl := add(t, g, pureNode(t, []string{"x"}, []string{"y"}, doubleSrc))
	connect(t, g, ctr, "count", dbl, "x")
	exposeOut(t, g, "doubled", dbl, 0)
	reload(t, c, g)

	res, err := c.Push(ctx, "tick")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Outputs["count"])
	assert.Equal(t, int64(6), res.Outputs["doubled"])

	// A unit of the same graph without the counter releases its slot.
	bare := NewGraph(WithGraphID(g.ID()))
	add(t, bare, pureNode(t, nil, []string{"bang"}, bangSrc, WithEntry("tick")))
	reload(t, c, bare)
	assert.False(t, c.Store().Has(g.ID(), ctr.String()))
}

// TestCoordinator_FailedLoad tests that a rejected unit leaves the previous one active.
func TestCoordinator_FailedLoad(t *testing.T) {
	ctx := context.Background()
	g, _, _ := scenarioA(t)
	c := loaded(t, g)
	prev := c.Unit()

	broken := &Unit{graphID: g.ID(), source: "def broken(:\n", digest: "deadbeef"}
	err := c.Load(ctx, broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadbeef")
	assert.Same(t, prev, c.Unit())
	assert.Equal(t, StatusLoaded, c.Status())

	res, err := c.Push(ctx, "in", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Outputs["c"])
}

// TestCoordinator_Serialized tests that concurrent requests run one cycle at a time.
func TestCoordinator_Serialized(t *testing.T) {
	g, ctr := counterGraph(t)
	c := loaded(t, g)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Push(context.Background(), "tick")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, ok := c.Store().Get(g.ID(), ctr.String())
	require.True(t, ok)
	assert.Equal(t, int64(20), v)
}

// TestCoordinator_NilStore tests the default store.
func TestCoordinator_NilStore(t *testing.T) {
	c := NewCoordinator(nil)
	require.NotNil(t, c.Store())
	assert.Empty(t, c.Store().Paths("any"))
}

// TestOptionsFromConfig tests the config key mapping.
func TestOptionsFromConfig(t *testing.T) {
	p := config.New(map[string]any{"max_steps": 50, "metrics": false, "log_level": "debug"})
	cfg := defaultCoordinatorConfig()
	for _, opt := range OptionsFromConfig(p) {
		opt(&cfg)
	}
	assert.Equal(t, uint64(50), cfg.maxSteps)
	assert.False(t, cfg.metricsEnabled)
	assert.False(t, cfg.tracingEnabled)
	assert.True(t, cfg.logger.Enabled(context.Background(), -4))

	assert.Empty(t, OptionsFromConfig(config.New(nil)))
}
