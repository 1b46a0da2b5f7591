package serde

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format selects a document encoding.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// FormatFor picks a format from a file extension.
func FormatFor(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return 0, fmt.Errorf("no document format for extension %q", ext)
	}
}

// Marshal encodes a Document or StateDoc.
func Marshal(v any, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(v, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("marshal: unknown %v", f)
	}
}

// Unmarshal decodes data into a Document or StateDoc. JSON numbers are kept
// as json.Number so integer params survive exactly.
func Unmarshal(data []byte, f Format, v any) error {
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		return nil
	case FormatYAML:
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode yaml: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unmarshal: unknown %v", f)
	}
}
