package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/config"
)

// LegacyConfig is the shape of mcp.json.
type LegacyConfig struct {
	McpServers map[string]ServerConfig `json:"mcpServers"`
}

// Loader reads agents from the global and workspace agent directories.
// Workspace agents override global agents with the same name.
type Loader struct {
	GlobalDir    string
	WorkspaceDir string
	GlobalMcp    string
	WorkspaceMcp string
}

// NewLoader returns a loader using the standard locations for cfg and the
// workspace rooted at workspaceRoot.
func NewLoader(cfg *config.Manager, workspaceRoot string) *Loader {
	return &Loader{
		GlobalDir:    cfg.GlobalAgentsDir(),
		WorkspaceDir: config.WorkspaceAgentsDir(workspaceRoot),
		GlobalMcp:    cfg.GlobalMcpPath(),
		WorkspaceMcp: config.WorkspaceMcpPath(workspaceRoot),
	}
}

// Agents is the set of loaded agents.
type Agents struct {
	agents map[string]*Agent
}

// Get returns a copy of the named agent.
func (a *Agents) Get(name string) (*Agent, bool) {
	ag, ok := a.agents[name]
	if !ok {
		return nil, false
	}
	return ag.Clone(), true
}

// Names returns the agent names in lexical order.
func (a *Agents) Names() []string {
	return slices.Sorted(maps.Keys(a.agents))
}

// Load reads every agent file. A malformed file is logged and skipped so one
// bad agent does not take the others down. The default agent is always present.
func (l *Loader) Load(ctx context.Context) (*Agents, error) {
	agents := make(map[string]*Agent)

	for _, dir := range []string{l.GlobalDir, l.WorkspaceDir} {
		if dir == "" {
			continue
		}
		loaded, err := loadDir(ctx, dir)
		if err != nil {
			return nil, err
		}
		for name, ag := range loaded {
			agents[name] = ag
		}
	}

	if _, ok := agents[DefaultName]; !ok {
		agents[DefaultName] = Default()
	}

	legacy, err := l.loadLegacy(ctx)
	if err != nil {
		return nil, err
	}
	for _, ag := range agents {
		if !ag.UseLegacyMcpJSON {
			continue
		}
		if ag.McpServers == nil {
			ag.McpServers = make(map[string]ServerConfig)
		}
		for name, cfg := range legacy {
			if _, exists := ag.McpServers[name]; !exists {
				ag.McpServers[name] = cfg
			}
		}
	}

	return &Agents{agents: agents}, nil
}

func loadDir(ctx context.Context, dir string) (map[string]*Agent, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read agent dir %s: %w", dir, err)
	}

	agents := make(map[string]*Agent)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		ag, err := LoadFile(path)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "skipping agent file"}, log.KV{K: "path", V: path}, log.KV{K: "err", V: err.Error()})
			continue
		}
		agents[ag.Name] = ag
	}
	return agents, nil
}

// LoadFile reads one agent file. The agent name defaults to the file name.
func LoadFile(path string) (*Agent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent file: %w", err)
	}
	var ag Agent
	if err := json.Unmarshal(data, &ag); err != nil {
		return nil, fmt.Errorf("failed to parse agent file: %w", err)
	}
	if ag.Name == "" {
		ag.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	ag.Path = path
	return &ag, nil
}

// loadLegacy merges the global and workspace mcp.json; workspace entries win.
func (l *Loader) loadLegacy(ctx context.Context) (map[string]ServerConfig, error) {
	merged := make(map[string]ServerConfig)
	for _, path := range []string{l.GlobalMcp, l.WorkspaceMcp} {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		var cfg LegacyConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "ignoring malformed mcp.json"}, log.KV{K: "path", V: path}, log.KV{K: "err", V: err.Error()})
			continue
		}
		for name, server := range cfg.McpServers {
			merged[name] = server
		}
	}
	return merged, nil
}
