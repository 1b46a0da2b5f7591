// Package config provides typed access to node parameters and runtime
// settings held in map[string]any form, plus YAML and JSON loading.
//
// Node constructors registered with serde receive their persisted params as
// a Params value; coordinators read their settings the same way:
//
//	p, err := config.FromFile("livegraph.yaml")
//	steps := p.Int("max_steps", 0)
//	tracing := p.Bool("tracing", false)
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// FromFile loads Params from a .yaml, .yml or .json file.
func FromFile(path string) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Params{}, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Params{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses a YAML mapping.
func FromYAML(data []byte) (Params, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Params{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses a JSON object. Numbers are kept exact as json.Number.
func FromJSON(data []byte) (Params, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return Params{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
