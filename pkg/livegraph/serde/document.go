package serde

// Version is the current document format version.
const Version = 1

// Document is the persisted form of a graph.
type Document struct {
	Version        int       `json:"version" yaml:"version"`
	GraphID        string    `json:"graph_id,omitempty" yaml:"graph_id,omitempty"`
	Nodes          []NodeDoc `json:"nodes" yaml:"nodes"`
	Edges          []EdgeDoc `json:"edges,omitempty" yaml:"edges,omitempty"`
	ExposedInputs  []PortDoc `json:"exposed_inputs,omitempty" yaml:"exposed_inputs,omitempty"`
	ExposedOutputs []PortDoc `json:"exposed_outputs,omitempty" yaml:"exposed_outputs,omitempty"`
}

// NodeDoc is one persisted node. Inputs and Outputs record the port names
// the node had when written; decoding checks the rebuilt node against them.
type NodeDoc struct {
	ID      uint32         `json:"id" yaml:"id"`
	Type    string         `json:"type" yaml:"type"`
	Params  map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Inputs  []string       `json:"inputs" yaml:"inputs"`
	Outputs []string       `json:"outputs" yaml:"outputs"`
	Init    string         `json:"init,omitempty" yaml:"init,omitempty"`
	Graph   *Document      `json:"graph,omitempty" yaml:"graph,omitempty"`
}

// EdgeDoc connects an output to an input, both named.
type EdgeDoc struct {
	From   uint32 `json:"from" yaml:"from"`
	Output string `json:"output" yaml:"output"`
	To     uint32 `json:"to" yaml:"to"`
	Input  string `json:"input" yaml:"input"`
}

// PortDoc is an exposed port: the external name and the node port behind it.
type PortDoc struct {
	Name string `json:"name" yaml:"name"`
	Node uint32 `json:"node" yaml:"node"`
	Port string `json:"port" yaml:"port"`
}

// StateDoc is the persisted form of a graph's State Slots, keyed by node
// path ("3" or "3/1").
type StateDoc struct {
	Version int            `json:"version" yaml:"version"`
	GraphID string         `json:"graph_id" yaml:"graph_id"`
	Slots   map[string]any `json:"slots" yaml:"slots"`
}
