// Package migrate moves board items in and out of export files.
//
// An export file is a versioned envelope:
//
//	{ "version": 1, "items": [ ... ] }
//
// JSON is the canonical format. YAML carries the same envelope for people
// who prefer editing by hand. Reading is tolerant: a document that is not
// an object, or an object without an items array, decodes to "nothing to
// import" rather than an error.
package migrate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tilesticker/sticky/internal/schema"
)

// Version is the envelope version written by Marshal.
const Version = 1

// Format is an export file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or yaml)", s)
}

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	}
	return FormatJSON
}

// Envelope is the export document.
type Envelope struct {
	Version int           `json:"version" yaml:"version"`
	Items   []schema.Item `json:"items" yaml:"items"`
}

// Marshal encodes items in an envelope. JSON output is indented with two
// spaces.
func Marshal(format Format, items []schema.Item) ([]byte, error) {
	if items == nil {
		items = []schema.Item{}
	}
	env := Envelope{Version: Version, Items: items}

	switch format {
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(env); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("failed to encode yaml: %w", err)
		}
		return buf.Bytes(), nil
	default:
		data, err := json.MarshalIndent(env, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}
		return data, nil
	}
}

// Unmarshal decodes an envelope. ok is false when the document has no
// items array; that is not an error.
func Unmarshal(format Format, data []byte) (items []schema.Item, ok bool, err error) {
	switch format {
	case FormatYAML:
		return unmarshalWith(data, yaml.Unmarshal)
	default:
		return unmarshalWith(data, json.Unmarshal)
	}
}

func unmarshalWith(data []byte, decode func([]byte, any) error) ([]schema.Item, bool, error) {
	var probe any
	if err := decode(data, &probe); err != nil {
		return nil, false, fmt.Errorf("failed to parse export: %w", err)
	}
	obj, isObject := probe.(map[string]any)
	if !isObject {
		return nil, false, nil
	}
	if _, isList := obj["items"].([]any); !isList {
		return nil, false, nil
	}

	var env Envelope
	if err := decode(data, &env); err != nil {
		return nil, false, fmt.Errorf("failed to decode items: %w", err)
	}
	if env.Items == nil {
		env.Items = []schema.Item{}
	}
	return env.Items, true, nil
}
