package livegraph

import (
	"fmt"
	"strconv"
	"strings"
)

// emit writes the unit source: one renamed def per Func body, the _cycle
// walker over every vertex, and push/pull wrappers with constant required sets.
func emit(fg *flatGraph, u *Unit, order []int) string {
	pos := make(map[int]int, len(order))
	for i, old := range order {
		pos[old] = i
	}

	var b strings.Builder
	b.WriteString("# Code generated by livegraph. DO NOT EDIT.\n")
	fmt.Fprintf(&b, "# vertices: %d\n", len(order))

	for _, old := range order {
		v := fg.vertices[old]
		if v.fn == nil {
			continue
		}
		b.WriteString("\n")
		b.WriteString(v.fn.Renamed(defName(v.path)))
	}

	b.WriteString("\ndef _cycle(req, ext):\n")
	for i, old := range order {
		v := fg.vertices[old]
		n := outputsOf(v)
		fmt.Fprintf(&b, "    v%d = %s\n", i, tuple(repeat("None", n)))
		fmt.Fprintf(&b, "    l%d = %s\n", i, tuple(repeat("True", n)))
	}

	for i, old := range order {
		v := fg.vertices[old]
		emitVertex(&b, i, v, pos)
	}

	vs := make([]string, len(order))
	ls := make([]string, len(order))
	for i := range order {
		vs[i] = "v" + itoa(i)
		ls[i] = "l" + itoa(i)
	}
	fmt.Fprintf(&b, "    return %s, %s\n", tuple(vs), tuple(ls))

	for _, e := range u.Entries() {
		req, _ := u.Required([]string{e.Name}, nil, nil)
		name := strings.ToUpper(strings.TrimSuffix(e.Symbol, "_"+sanitize(e.Name)))
		fmt.Fprintf(&b, "\n_%s = %s\n", name, boolTuple(req))
		fmt.Fprintf(&b, "\ndef %s(ext):\n    return _cycle(_%s, ext)\n", e.Symbol, name)
	}

	for _, x := range fg.outputs {
		o := u.outputs[x.name]
		req, _ := u.Required(nil, []string{o.Name}, nil)
		name := strings.ToUpper(strings.TrimSuffix(o.Symbol, "_"+sanitize(o.Name)))
		fmt.Fprintf(&b, "\n_%s = %s\n", name, boolTuple(req))
		fmt.Fprintf(&b, "\ndef %s(ext):\n    return _cycle(_%s, ext)\n", o.Symbol, name)
	}

	return b.String()
}

func emitVertex(b *strings.Builder, i int, v *vertex, pos map[int]int) {
	fmt.Fprintf(b, "    # %d: %s %s", i, v.role, v.path)
	if v.entry != "" {
		fmt.Fprintf(b, " entry %s", strconv.Quote(v.entry))
	}
	b.WriteString("\n")
	fmt.Fprintf(b, "    if req[%d]:\n", i)

	if v.role == RoleRead {
		fmt.Fprintf(b, "        v%d = _outs(%d, _state_get(%d))\n", i, i, i)
		return
	}

	args := make([]string, 0, len(v.args)+1)
	var gates []string
	seen := make(map[string]bool)
	for _, a := range v.args {
		switch {
		case a.vertex >= 0:
			p, ok := pos[a.vertex]
			if !ok {
				args = append(args, "None")
				continue
			}
			args = append(args, fmt.Sprintf("v%d[%d]", p, a.port))
			gate := fmt.Sprintf("l%d[%d]", p, a.port)
			if !seen[gate] {
				seen[gate] = true
				gates = append(gates, gate)
			}
		case a.ext != "":
			args = append(args, "ext.get("+strconv.Quote(a.ext)+")")
		default:
			args = append(args, "None")
		}
	}
	if v.node.stateful() {
		args = append(args, fmt.Sprintf("_state_get(%d)", i))
	}

	indent := "        "
	if len(gates) > 0 {
		fmt.Fprintf(b, "        if %s:\n", strings.Join(gates, " and "))
		indent += "    "
	}

	call := fmt.Sprintf("_call(%d, %s, %s)", i, symbolFor(v), tuple(args))
	switch {
	case v.role == RoleWrite:
		fmt.Fprintf(b, "%s_state_set(%d, %s)\n", indent, i, call)
	case v.node.stateful():
		fmt.Fprintf(b, "%sv%d, l%d, s%d = %s\n", indent, i, i, i, call)
		fmt.Fprintf(b, "%s_state_set(%d, s%d)\n", indent, i, i)
	default:
		fmt.Fprintf(b, "%sv%d, l%d = %s\n", indent, i, i, call)
	}

	if len(gates) > 0 && v.role != RoleWrite {
		b.WriteString("        else:\n")
		fmt.Fprintf(b, "            l%d = %s\n", i, tuple(repeat("False", outputsOf(v))))
	}
}

// outputsOf is the number of output values a vertex binds.
func outputsOf(v *vertex) int {
	if v.role == RoleWrite {
		return 0
	}
	return v.node.NumOutputs()
}

// symbolFor names the callable a vertex passes to _call.
func symbolFor(v *vertex) string {
	switch {
	case v.role == RoleRead:
		return ""
	case v.fn != nil:
		return defName(v.path)
	default:
		return "_host"
	}
}

func defName(p Path) string {
	return "n_" + strings.ReplaceAll(p.String(), "/", "_")
}

func tuple(items []string) string {
	switch len(items) {
	case 0:
		return "()"
	case 1:
		return "(" + items[0] + ",)"
	default:
		return "(" + strings.Join(items, ", ") + ")"
	}
}

func boolTuple(bs []bool) string {
	items := make([]string, len(bs))
	for i, ok := range bs {
		if ok {
			items[i] = "True"
		} else {
			items[i] = "False"
		}
	}
	return tuple(items)
}

func repeat(s string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = s
	}
	return out
}

// sanitize maps a name onto identifier characters.
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
