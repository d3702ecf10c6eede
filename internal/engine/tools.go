package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// ToolFunc runs a native tool with decoded arguments and returns its textual output.
type ToolFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is a natively implemented tool. Its schema is the JSON schema the model
// sees, kept as a raw string so it can be handed to providers untouched.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
	Retryable   bool // Safe to re-run after a transient failure
	Category    string
}

// ValidateArgs validates the provided arguments against the tool's JSON schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	if t.SchemaJSON == "" {
		return nil
	}
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errorMsgs []string
		for _, err := range result.Errors() {
			errorMsgs = append(errorMsgs, err.String())
		}
		return &ToolValidationError{
			ToolName: t.Name,
			Errors:   errorMsgs,
		}
	}

	return nil
}

// DecodeArgs turns raw tool-use arguments into the map form ToolFunc expects.
// Empty or null input decodes to an empty map.
func DecodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

// Run validates args and executes the tool, wrapping the outcome as a ToolResult.
func (t Tool) Run(ctx context.Context, useID string, args map[string]any) ToolResult {
	if err := t.ValidateArgs(args); err != nil {
		return ErrorResult(useID, fmt.Sprintf("Failed to validate tool parameters: %v", err))
	}
	out, err := t.Fn(ctx, args)
	if err != nil {
		return ErrorResult(useID, err.Error())
	}
	return TextResult(useID, out)
}

// ToolRegistry indexes native tools by name.
type ToolRegistry map[string]Tool

// Names returns the registered tool names in lexical order.
func (r ToolRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FilterByCategory returns a new registry containing only tools of the given category.
func (r ToolRegistry) FilterByCategory(category string) ToolRegistry {
	filtered := make(ToolRegistry)
	for name, tool := range r {
		if tool.Category == category {
			filtered[name] = tool
		}
	}
	return filtered
}
