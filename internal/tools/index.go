// Package tools assembles the native tools. Descriptions and input schemas
// live in tool_index.json, compiled into the binary; the subpackages only
// provide behavior.
package tools

import (
	_ "embed"
	"encoding/json"
	"fmt"
)

//go:embed tool_index.json
var indexJSON []byte

// IndexEntry is the model-facing definition of one native tool.
type IndexEntry struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Index decodes the embedded tool table.
func Index() (map[string]IndexEntry, error) {
	var idx map[string]IndexEntry
	if err := json.Unmarshal(indexJSON, &idx); err != nil {
		return nil, fmt.Errorf("failed to decode tool index: %w", err)
	}
	for name, e := range idx {
		if e.Name != name {
			return nil, fmt.Errorf("tool index entry %q is named %q", name, e.Name)
		}
	}
	return idx, nil
}
