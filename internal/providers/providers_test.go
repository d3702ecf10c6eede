package providers

import (
	"encoding/json"
	"testing"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/meguminnnnnnnnn/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/toolmgr"
)

func catalog() []toolmgr.ToolSpec {
	return []toolmgr.ToolSpec{
		{
			Name:        "fs_read",
			Description: "Read files.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`),
		},
		{Name: "github_search", Description: "Search.", Origin: toolmgr.McpServerOrigin("github")},
		{Name: "typeless", Description: "No type.", InputSchema: json.RawMessage(`{"properties":{}}`)},
	}
}

func TestOpenAITools(t *testing.T) {
	tools, err := OpenAITools(catalog())
	require.NoError(t, err)
	require.Len(t, tools, 3)

	assert.Equal(t, openai.ToolTypeFunction, tools[0].Type)
	assert.Equal(t, "fs_read", tools[0].Function.Name)
	params := tools[0].Function.Parameters.(map[string]any)
	assert.Equal(t, []any{"path"}, params["required"])

	assert.Equal(t, map[string]any{"type": "object"}, tools[1].Function.Parameters)
	assert.Equal(t, "object", tools[2].Function.Parameters.(map[string]any)["type"])
}

func TestInvalidSchema(t *testing.T) {
	bad := []toolmgr.ToolSpec{{Name: "broken", InputSchema: json.RawMessage(`{`)}}

	_, err := OpenAITools(bad)
	assert.ErrorContains(t, err, "broken")
	_, err = AnthropicTools(bad)
	assert.ErrorContains(t, err, "broken")
}

func TestOpenAIRoundTrip(t *testing.T) {
	use := ToolUseFromOpenAI(openai.ToolCall{
		ID:       "call_1",
		Type:     openai.ToolTypeFunction,
		Function: openai.FunctionCall{Name: "fs_read", Arguments: `{"path":"a"}`},
	})
	assert.Equal(t, engine.ToolUse{ID: "call_1", Name: "fs_read", Args: json.RawMessage(`{"path":"a"}`)}, use)

	msg := OpenAIToolMessage(engine.TextResult("call_1", "contents"))
	assert.Equal(t, openai.ChatMessageRoleTool, msg.Role)
	assert.Equal(t, "call_1", msg.ToolCallID)
	assert.Equal(t, "contents", msg.Content)

	empty := ToolUseFromOpenAI(openai.ToolCall{ID: "call_2", Function: openai.FunctionCall{Name: "dummy"}})
	assert.Nil(t, empty.Args)
}

func TestAnthropicTools(t *testing.T) {
	defs, err := AnthropicTools(catalog())
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "github_search", defs[1].Name)
	assert.Equal(t, map[string]any{"type": "object"}, defs[1].InputSchema)
}

func TestAnthropicToolUses(t *testing.T) {
	content := []anthropic.MessageContent{
		anthropic.NewTextMessageContent("let me look"),
		anthropic.NewToolUseMessageContent("toolu_1", "fs_read", json.RawMessage(`{"path":"a"}`)),
	}
	uses := ToolUsesFromAnthropic(content)
	require.Len(t, uses, 1)
	assert.Equal(t, "toolu_1", uses[0].ID)
	assert.Equal(t, "fs_read", uses[0].Name)
	assert.JSONEq(t, `{"path":"a"}`, string(uses[0].Args))

	block := AnthropicToolResult(engine.ErrorResult("toolu_1", "boom"))
	assert.Equal(t, anthropic.MessagesContentTypeToolResult, block.Type)
}
