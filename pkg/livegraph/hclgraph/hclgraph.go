// Package hclgraph reads graphs written as HCL patch files.
//
//	graph_id = "synth"
//
//	node "std.inlet" "in" {
//	  entry = "in"
//	  ports = ["a", "b"]
//	}
//
//	node "std.add" "sum" {}
//
//	node "graph" "fx" {
//	  file = "fx.hcl"
//	}
//
//	edge {
//	  from = "in.a"
//	  to   = "sum.a"
//	}
//
//	expose_output "total" {
//	  port = "sum.sum"
//	}
//
// Node block labels are the registry type tag and a local name used by
// edge and expose references. Every attribute besides id and file becomes a
// node param. A "graph" node loads its nested graph from file, relative to
// the including file. Nodes get ids in block order unless id is set.
package hclgraph

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/randalmurphal/livegraph/pkg/livegraph"
	"github.com/randalmurphal/livegraph/pkg/livegraph/serde"
)

// ErrInclude is returned when nested graph files include each other.
var ErrInclude = errors.New("recursive graph include")

// ParseFile reads the patch file at path into a document.
func ParseFile(path string) (*serde.Document, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patch file: %w", err)
	}
	return Parse(src, path)
}

// Parse reads patch source. filename names the source in diagnostics and
// anchors nested graph files.
func Parse(src []byte, filename string) (*serde.Document, error) {
	l := &loader{parser: hclparse.NewParser(), active: make(map[string]bool)}
	return l.parse(src, filename)
}

// LoadGraph parses the patch file at path and builds the graph through reg.
func LoadGraph(path string, reg *serde.Registry, opts ...serde.DecodeOption) (*livegraph.Graph, error) {
	doc, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return serde.DecodeGraph(doc, reg, opts...)
}

type loader struct {
	parser *hclparse.Parser
	active map[string]bool
}

func (l *loader) parse(src []byte, filename string) (*serde.Document, error) {
	key, err := filepath.Abs(filename)
	if err != nil {
		key = filename
	}
	if l.active[key] {
		return nil, fmt.Errorf("%w: %s", ErrInclude, filename)
	}
	l.active[key] = true
	defer delete(l.active, key)

	file, diags := l.parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %s", filename, diags.Error())
	}

	var pf patchFile
	if diags := gohcl.DecodeBody(file.Body, nil, &pf); diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %s", filename, diags.Error())
	}
	return l.document(&pf, filename)
}

func (l *loader) document(pf *patchFile, filename string) (*serde.Document, error) {
	doc := &serde.Document{Version: serde.Version, GraphID: pf.GraphID, Nodes: []serde.NodeDoc{}}

	ids, err := assignIDs(pf.Nodes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}

	for _, nb := range pf.Nodes {
		nd, err := l.node(nb, ids[nb.Name], filename)
		if err != nil {
			return nil, fmt.Errorf("%s: node %q: %w", filename, nb.Name, err)
		}
		doc.Nodes = append(doc.Nodes, nd)
	}

	for _, eb := range pf.Edges {
		from, out, err := ref(ids, eb.From)
		if err != nil {
			return nil, fmt.Errorf("%s: edge from: %w", filename, err)
		}
		to, in, err := ref(ids, eb.To)
		if err != nil {
			return nil, fmt.Errorf("%s: edge to: %w", filename, err)
		}
		doc.Edges = append(doc.Edges, serde.EdgeDoc{From: from, Output: out, To: to, Input: in})
	}

	for _, xb := range pf.Inputs {
		id, port, err := ref(ids, xb.Port)
		if err != nil {
			return nil, fmt.Errorf("%s: expose_input %q: %w", filename, xb.Name, err)
		}
		doc.ExposedInputs = append(doc.ExposedInputs, serde.PortDoc{Name: xb.Name, Node: id, Port: port})
	}
	for _, xb := range pf.Outputs {
		id, port, err := ref(ids, xb.Port)
		if err != nil {
			return nil, fmt.Errorf("%s: expose_output %q: %w", filename, xb.Name, err)
		}
		doc.ExposedOutputs = append(doc.ExposedOutputs, serde.PortDoc{Name: xb.Name, Node: id, Port: port})
	}
	return doc, nil
}

func (l *loader) node(nb *nodeBlock, id uint32, filename string) (serde.NodeDoc, error) {
	nd := serde.NodeDoc{ID: id, Type: nb.Type}

	params, err := attributes(nb.Body)
	if err != nil {
		return nd, err
	}
	if len(params) > 0 {
		nd.Params = params
	}

	if nb.Type != serde.KindGraph {
		if nb.File != "" {
			return nd, fmt.Errorf("file is only valid on graph nodes")
		}
		return nd, nil
	}
	if nb.File == "" {
		return nd, fmt.Errorf("graph node needs file")
	}
	path := nb.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(filename), path)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nd, fmt.Errorf("read nested graph: %w", err)
	}
	sub, err := l.parse(src, path)
	if err != nil {
		return nd, err
	}
	nd.Graph = sub
	return nd, nil
}

// attributes evaluates every attribute left in body as a constant.
func attributes(body hcl.Body) (map[string]any, error) {
	attrs, diags := body.JustAttributes()
	if diags.HasErrors() {
		return nil, errors.New(diags.Error())
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make(map[string]any, len(attrs))
	for _, name := range names {
		v, diags := attrs[name].Expr.Value(nil)
		if diags.HasErrors() {
			return nil, errors.New(diags.Error())
		}
		nv, err := toNative(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", name, err)
		}
		params[name] = nv
	}
	return params, nil
}

// assignIDs gives each node its explicit id or the next free one in block
// order.
func assignIDs(nodes []*nodeBlock) (map[string]uint32, error) {
	ids := make(map[string]uint32, len(nodes))
	taken := make(map[uint32]string)
	for _, nb := range nodes {
		if _, dup := ids[nb.Name]; dup {
			return nil, fmt.Errorf("duplicate node name %q", nb.Name)
		}
		ids[nb.Name] = 0
		if nb.ID < 0 {
			return nil, fmt.Errorf("node %q: negative id", nb.Name)
		}
		if nb.ID > 0 {
			if other, ok := taken[uint32(nb.ID)]; ok {
				return nil, fmt.Errorf("nodes %q and %q share id %d", other, nb.Name, nb.ID)
			}
			taken[uint32(nb.ID)] = nb.Name
			ids[nb.Name] = uint32(nb.ID)
		}
	}

	next := uint32(1)
	for _, nb := range nodes {
		if ids[nb.Name] != 0 {
			continue
		}
		for taken[next] != "" {
			next++
		}
		ids[nb.Name] = next
		taken[next] = nb.Name
	}
	return ids, nil
}

// ref resolves "node.port".
func ref(ids map[string]uint32, s string) (uint32, string, error) {
	name, port, ok := strings.Cut(s, ".")
	if !ok || name == "" || port == "" {
		return 0, "", fmt.Errorf("reference %q is not node.port", s)
	}
	id, ok := ids[name]
	if !ok {
		return 0, "", fmt.Errorf("reference %q: no node named %q", s, name)
	}
	return id, port, nil
}
