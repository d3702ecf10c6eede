// Package providers converts the tool catalog and tool calls between
// toolhub's types and the wire types of model provider SDKs.
package providers

import (
	"encoding/json"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

// OpenAITools renders specs as OpenAI function tools.
func OpenAITools(specs []toolmgr.ToolSpec) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(specs))
	for _, s := range specs {
		params, err := schemaObject(s)
		if err != nil {
			return nil, err
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

// ToolUseFromOpenAI converts a tool call of an assistant message.
func ToolUseFromOpenAI(call openai.ToolCall) engine.ToolUse {
	use := engine.ToolUse{ID: call.ID, Name: call.Function.Name}
	if call.Function.Arguments != "" {
		use.Args = json.RawMessage(call.Function.Arguments)
	}
	return use
}

// OpenAIToolMessage wraps a tool result as the message answering its call.
func OpenAIToolMessage(res engine.ToolResult) openai.ChatCompletionMessage {
	content := res.Text()
	if content == "" {
		content = "{}"
	}
	return openai.ChatCompletionMessage{
		Role:       openai.ChatMessageRoleTool,
		Content:    content,
		ToolCallID: res.ToolUseID,
	}
}

// schemaObject decodes a spec's input schema for SDKs that want a map.
func schemaObject(s toolmgr.ToolSpec) (map[string]any, error) {
	obj := map[string]any{"type": "object"}
	if len(s.InputSchema) == 0 {
		return obj, nil
	}
	if err := json.Unmarshal(s.InputSchema, &obj); err != nil {
		return nil, fmt.Errorf("invalid tool schema JSON for %s: %w", s.Name, err)
	}
	if _, ok := obj["type"]; !ok {
		obj["type"] = "object"
	}
	return obj, nil
}
