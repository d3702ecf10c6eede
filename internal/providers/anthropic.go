package providers

import (
	"encoding/json"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

// AnthropicTools renders specs as Anthropic tool definitions.
func AnthropicTools(specs []toolmgr.ToolSpec) ([]anthropic.ToolDefinition, error) {
	defs := make([]anthropic.ToolDefinition, 0, len(specs))
	for _, s := range specs {
		schema, err := schemaObject(s)
		if err != nil {
			return nil, err
		}
		defs = append(defs, anthropic.ToolDefinition{
			Name:        s.Name,
			Description: s.Description,
			InputSchema: schema,
		})
	}
	return defs, nil
}

// ToolUsesFromAnthropic extracts the tool_use blocks of a response.
func ToolUsesFromAnthropic(content []anthropic.MessageContent) []engine.ToolUse {
	var uses []engine.ToolUse
	for _, block := range content {
		if block.Type != anthropic.MessagesContentTypeToolUse || block.MessageContentToolUse == nil {
			continue
		}
		use := engine.ToolUse{ID: block.ID, Name: block.Name}
		if len(block.Input) > 0 {
			use.Args = json.RawMessage(block.Input)
		}
		uses = append(uses, use)
	}
	return uses
}

// AnthropicToolResult wraps a tool result as a tool_result block.
func AnthropicToolResult(res engine.ToolResult) anthropic.MessageContent {
	content := res.Text()
	if content == "" {
		content = "{}"
	}
	return anthropic.NewToolResultMessageContent(res.ToolUseID, content, res.IsError())
}
