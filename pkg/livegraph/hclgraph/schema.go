package hclgraph

import "github.com/hashicorp/hcl/v2"

// patchFile is the top level of a patch file.
type patchFile struct {
	GraphID string         `hcl:"graph_id,optional"`
	Nodes   []*nodeBlock   `hcl:"node,block"`
	Edges   []*edgeBlock   `hcl:"edge,block"`
	Inputs  []*exposeBlock `hcl:"expose_input,block"`
	Outputs []*exposeBlock `hcl:"expose_output,block"`
}

// nodeBlock is `node "<type>" "<name>" { ... }`. Attributes other than id
// and file become the node's params.
type nodeBlock struct {
	Type string   `hcl:"type,label"`
	Name string   `hcl:"name,label"`
	ID   int      `hcl:"id,optional"`
	File string   `hcl:"file,optional"`
	Body hcl.Body `hcl:",remain"`
}

// edgeBlock connects "node.port" references.
type edgeBlock struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

// exposeBlock is `expose_input "<name>" { port = "node.port" }` or the
// output equivalent.
type exposeBlock struct {
	Name string `hcl:"name,label"`
	Port string `hcl:"port"`
}
