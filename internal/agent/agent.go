// Package agent loads agent definitions: which tool servers an agent talks to,
// which tools it may use and how tool names are aliased for the model.
package agent

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// DefaultName is the agent used when nothing else is configured.
const DefaultName = "default"

// DefaultServerTimeout bounds every request made to a tool server unless the
// server config says otherwise.
const DefaultServerTimeout = 120 * time.Second

// Transport kinds understood by ServerConfig.Type.
const (
	TransportStdio = "stdio"
	TransportSSE   = "sse"
	TransportHTTP  = "http"
)

// ServerConfig describes how to reach one tool server.
type ServerConfig struct {
	Type     string            `json:"type,omitempty"` // stdio, sse or http; inferred when empty
	Command  string            `json:"command,omitempty"`
	Args     []string          `json:"args,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
	URL      string            `json:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Timeout  int64             `json:"timeout,omitempty"` // Request timeout in milliseconds
	Disabled bool              `json:"disabled,omitempty"`
}

// Transport returns the effective transport kind.
func (c ServerConfig) Transport() string {
	if c.Type != "" {
		return c.Type
	}
	if c.Command == "" && c.URL != "" {
		return TransportHTTP
	}
	return TransportStdio
}

// RequestTimeout returns the per-request timeout for the server.
func (c ServerConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultServerTimeout
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// Validate checks that the config carries what its transport needs.
func (c ServerConfig) Validate() error {
	switch c.Transport() {
	case TransportStdio:
		if c.Command == "" {
			return fmt.Errorf("stdio transport requires command")
		}
	case TransportSSE, TransportHTTP:
		if c.URL == "" {
			return fmt.Errorf("%s transport requires url", c.Transport())
		}
	default:
		return fmt.Errorf("unsupported transport %q", c.Type)
	}
	return nil
}

// Agent is one named configuration of tool servers and tool permissions.
//
// Tools entries are "*" (everything), "@server" (every tool of a server),
// "@server/tool" (one tool) or a bare built-in tool name. ToolAliases map
// "@server/hostName" to the name the model should see.
type Agent struct {
	Name             string                  `json:"name"`
	Description      string                  `json:"description,omitempty"`
	Tools            []string                `json:"tools,omitempty"`
	ToolAliases      map[string]string       `json:"toolAliases,omitempty"`
	AllowedTools     []string                `json:"allowedTools,omitempty"`
	McpServers       map[string]ServerConfig `json:"mcpServers,omitempty"`
	UseLegacyMcpJSON bool                    `json:"useLegacyMcpJson,omitempty"`

	// Path is the file the agent was loaded from; empty for the built-in default.
	Path string `json:"-"`
}

// Default returns the agent used when no agent file exists.
func Default() *Agent {
	return &Agent{
		Name:             DefaultName,
		Description:      "Default agent",
		Tools:            []string{"*"},
		UseLegacyMcpJSON: true,
	}
}

// AllowsAll reports whether the tool list is exactly ["*"].
func (a *Agent) AllowsAll() bool {
	return len(a.Tools) == 1 && a.Tools[0] == "*"
}

// Clone returns a deep copy so callers can hand the agent to other goroutines.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	c.Tools = slices.Clone(a.Tools)
	c.AllowedTools = slices.Clone(a.AllowedTools)
	c.ToolAliases = maps.Clone(a.ToolAliases)
	if a.McpServers != nil {
		c.McpServers = make(map[string]ServerConfig, len(a.McpServers))
		for name, cfg := range a.McpServers {
			cfg.Args = slices.Clone(cfg.Args)
			cfg.Env = maps.Clone(cfg.Env)
			cfg.Headers = maps.Clone(cfg.Headers)
			c.McpServers[name] = cfg
		}
	}
	return &c
}

// ServerNames returns the configured server names in lexical order.
func (a *Agent) ServerNames() []string {
	return slices.Sorted(maps.Keys(a.McpServers))
}
