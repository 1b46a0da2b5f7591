package livegraph

import (
	"fmt"

	"go.starlark.net/starlark"
)

// shapeResult checks a body's return value against the vertex conventions
// and returns what the lowered code unpacks:
//
//	write vertex:    new_state
//	stateful node:   (outputs, liveness, new_state)
//	other nodes:     (outputs, liveness)
func shapeResult(vx VertexInfo, res starlark.Value) (starlark.Value, error) {
	if vx.Role == RoleWrite {
		return res, nil
	}

	if vx.Kind == KindStateful {
		pair, ok := items(res)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("%w: stateful body must return (result, state), got %s", ErrBadResult, res.Type())
		}
		outs, live, err := shapeOutputs(vx, pair[0])
		if err != nil {
			return nil, err
		}
		return starlark.Tuple{outs, live, pair[1]}, nil
	}

	outs, live, err := shapeOutputs(vx, res)
	if err != nil {
		return nil, err
	}
	return starlark.Tuple{outs, live}, nil
}

func shapeOutputs(vx VertexInfo, res starlark.Value) (starlark.Tuple, starlark.Tuple, error) {
	if !vx.Branching {
		outs, err := spread(res, vx.Outputs)
		if err != nil {
			return nil, nil, err
		}
		return outs, allLive(vx.Outputs, true), nil
	}

	pair, ok := items(res)
	if !ok || len(pair) != 2 {
		return nil, nil, fmt.Errorf("%w: branching body must return (fired, result), got %s", ErrBadResult, res.Type())
	}
	live, err := firedMask(pair[0], vx.Outputs)
	if err != nil {
		return nil, nil, err
	}
	outs, err := spread(pair[1], vx.Outputs)
	if err != nil {
		return nil, nil, err
	}
	return outs, live, nil
}

// spread maps a body result onto n output values.
func spread(v starlark.Value, n int) (starlark.Tuple, error) {
	switch n {
	case 0:
		return starlark.Tuple{}, nil
	case 1:
		return starlark.Tuple{v}, nil
	}
	elems, ok := items(v)
	if !ok || len(elems) != n {
		return nil, fmt.Errorf("%w: want %d outputs, got %s", ErrBadResult, n, describe(v))
	}
	return starlark.Tuple(elems), nil
}

// firedMask reads a fired selector: None, an output index, a list of
// indices, or a list of one bool per output.
func firedMask(v starlark.Value, n int) (starlark.Tuple, error) {
	mask := allLive(n, false)
	if v == starlark.None {
		return mask, nil
	}
	if _, ok := v.(starlark.Int); ok {
		if err := setFired(mask, v); err != nil {
			return nil, err
		}
		return mask, nil
	}

	elems, ok := items(v)
	if !ok {
		return nil, fmt.Errorf("%w: fired must be an index or a list, got %s", ErrBadResult, v.Type())
	}
	if len(elems) == n && allBools(elems) {
		for i, e := range elems {
			mask[i] = e.(starlark.Bool)
		}
		return mask, nil
	}
	for _, e := range elems {
		if err := setFired(mask, e); err != nil {
			return nil, err
		}
	}
	return mask, nil
}

func setFired(mask starlark.Tuple, v starlark.Value) error {
	var i int
	if err := starlark.AsInt(v, &i); err != nil {
		return fmt.Errorf("%w: fired index: %v", ErrBadResult, err)
	}
	if i < 0 || i >= len(mask) {
		return fmt.Errorf("%w: fired index %d out of range [0, %d)", ErrBadResult, i, len(mask))
	}
	mask[i] = starlark.True
	return nil
}

func allBools(vs []starlark.Value) bool {
	for _, v := range vs {
		if _, ok := v.(starlark.Bool); !ok {
			return false
		}
	}
	return true
}

func allLive(n int, on bool) starlark.Tuple {
	t := make(starlark.Tuple, n)
	for i := range t {
		t[i] = starlark.Bool(on)
	}
	return t
}

func items(v starlark.Value) ([]starlark.Value, bool) {
	switch v := v.(type) {
	case starlark.Tuple:
		return v, true
	case *starlark.List:
		out := make([]starlark.Value, v.Len())
		for i := range out {
			out[i] = v.Index(i)
		}
		return out, true
	}
	return nil, false
}

func describe(v starlark.Value) string {
	if elems, ok := items(v); ok {
		return fmt.Sprintf("%s of %d", v.Type(), len(elems))
	}
	return v.Type()
}
