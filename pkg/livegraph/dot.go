package livegraph

import (
	"fmt"
	"strings"
)

// Dot renders the graph in Graphviz DOT format for debugging.
// Nested graphs are drawn as single nodes; delay edges are dashed.
func (g *Graph) Dot() string {
	v := g.view()

	var b strings.Builder
	fmt.Fprintf(&b, "digraph %s {\n", dotQuote(v.id))
	b.WriteString("\trankdir=LR;\n")
	b.WriteString("\tnode [shape=record];\n")

	for _, id := range v.ids {
		n := v.nodes[id]
		fmt.Fprintf(&b, "\tn%d [label=%s];\n", id, dotQuote(dotLabel(id, n)))
	}

	for _, id := range v.ids {
		for k := range v.nodes[id].inputs {
			e, ok := v.inbound[PortRef{Node: id, Port: k}]
			if !ok {
				continue
			}
			src := v.nodes[e.From]
			style := ""
			if src.delay {
				style = ", style=dashed"
			}
			fmt.Fprintf(&b, "\tn%d:o%d -> n%d:i%d [label=%s%s];\n",
				e.From, e.Output, e.To, e.Input,
				dotQuote(src.outputs[e.Output].Name+" -> "+v.nodes[e.To].inputs[e.Input].Name), style)
		}
	}

	for _, x := range v.exposedIn {
		fmt.Fprintf(&b, "\t%s [shape=plaintext];\n", dotQuote("in:"+x.Name))
		fmt.Fprintf(&b, "\t%s -> n%d:i%d;\n", dotQuote("in:"+x.Name), x.Ref.Node, x.Ref.Port)
	}
	for _, x := range v.exposedOut {
		fmt.Fprintf(&b, "\t%s [shape=plaintext];\n", dotQuote("out:"+x.Name))
		fmt.Fprintf(&b, "\tn%d:o%d -> %s;\n", x.Ref.Node, x.Ref.Port, dotQuote("out:"+x.Name))
	}

	b.WriteString("}\n")
	return b.String()
}

// dotLabel builds a record label: {inputs}|title|{outputs}.
func dotLabel(id NodeID, n *Node) string {
	title := fmt.Sprintf("%d %s", id, n.kind)
	if n.tag != "" {
		title = fmt.Sprintf("%d %s", id, n.tag)
	}
	switch {
	case n.IsEntry():
		title += " entry:" + n.entry
	case n.delay:
		title += " delay"
	}
	if n.branching {
		title += " branching"
	}

	ports := func(prefix string, ps []Port) string {
		parts := make([]string, len(ps))
		for i, p := range ps {
			parts[i] = fmt.Sprintf("<%s%d> %s", prefix, i, dotEscape(p.Name))
		}
		return "{" + strings.Join(parts, "|") + "}"
	}
	return ports("i", n.inputs) + "|" + dotEscape(title) + "|" + ports("o", n.outputs)
}

func dotEscape(s string) string {
	r := strings.NewReplacer("{", `\{`, "}", `\}`, "|", `\|`, "<", `\<`, ">", `\>`)
	return r.Replace(s)
}

// dotQuote wraps s in a DOT string. Only quotes need escaping; backslashes
// are left for record label escapes.
func dotQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
