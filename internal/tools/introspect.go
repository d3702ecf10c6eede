package tools

import (
	"context"
	"encoding/json"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/settings"
)

const mcpHelp = "MCP servers are declared per agent in the mcpServers object of an agent file " +
	"(~/.config/toolhub/agents/<name>.json or .toolhub/agents/<name>.json). " +
	"Each entry has either command/args/env for a stdio server or type (sse or http) and url for a remote one. " +
	"Agents with useLegacyMcpJson also load mcp.json. " +
	"Tools are referenced as @server, @server/tool or @builtin/tool in the agent's tools list."

type introspection struct {
	Query       string                       `json:"query,omitempty"`
	NativeTools map[string]map[string]string `json:"native_tools"` // category -> name -> description
	Settings    []string                     `json:"settings"`
	MCP         string                       `json:"mcp"`
}

// introspect answers questions about toolhub from the registry it is part
// of.
func introspect(reg engine.ToolRegistry) engine.Tool {
	return engine.Tool{
		Name: "introspect",
		Fn: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			out := introspection{
				Query:       query,
				NativeTools: make(map[string]map[string]string),
				Settings:    settings.Known(),
				MCP:         mcpHelp,
			}
			for _, t := range reg {
				if t.Name == dummyName || out.NativeTools[t.Category] != nil {
					continue
				}
				group := make(map[string]string)
				for name, member := range reg.FilterByCategory(t.Category) {
					if name != dummyName {
						group[name] = member.Description
					}
				}
				out.NativeTools[t.Category] = group
			}
			data, err := json.Marshal(out)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
		Retryable: true,
		Category:  "meta",
	}
}
