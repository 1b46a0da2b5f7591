// Package serde persists livegraph graphs and their state.
//
// Graphs are written as a Document: nodes with a registry type tag and
// params, edges naming ports by name, and the exposed ports. Decoding
// rebuilds every node through a Registry, so a document only loads where
// its node kinds are registered. State is written separately as a
// StateDoc mapping node paths to values.
//
// Both documents marshal to JSON and YAML:
//
//	doc, err := serde.EncodeGraph(g)
//	data, err := serde.Marshal(doc, serde.FormatYAML)
//
//	var back serde.Document
//	err = serde.Unmarshal(data, serde.FormatYAML, &back)
//	g2, err := serde.DecodeGraph(&back, reg)
package serde
