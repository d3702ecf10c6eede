package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	// WorkspaceDir is the per-workspace configuration directory.
	WorkspaceDir = ".toolhub"
	// AgentsDir holds one JSON file per agent, both globally and per workspace.
	AgentsDir = "agents"
	// McpFile is the legacy server list shared by every agent that opts in.
	McpFile = "mcp.json"
)

// Config holds the user's persistent configuration preferences.
type Config struct {
	DefaultAgent string `json:"default_agent,omitempty"` // Agent used when none is requested
	LogFormat    string `json:"log_format,omitempty"`    // json, text or terminal
}

// Manager handles loading and saving the configuration and resolves the
// locations of everything stored under the user config directory.
type Manager struct {
	configDir string
}

// NewManager creates a new configuration manager. TOOLHUB_CONFIG_DIR overrides
// the platform config directory.
func NewManager() (*Manager, error) {
	if dir := os.Getenv("TOOLHUB_CONFIG_DIR"); dir != "" {
		return NewManagerAt(dir), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user config dir: %w", err)
	}
	return NewManagerAt(filepath.Join(configDir, "toolhub")), nil
}

// NewManagerAt creates a manager rooted at dir.
func NewManagerAt(dir string) *Manager {
	return &Manager{configDir: dir}
}

// Dir returns the root configuration directory.
func (m *Manager) Dir() string {
	return m.configDir
}

// GetConfigPath returns the absolute path to the config.json file.
func (m *Manager) GetConfigPath() string {
	return filepath.Join(m.configDir, "config.json")
}

// GlobalAgentsDir is where user-wide agent files live.
func (m *Manager) GlobalAgentsDir() string {
	return filepath.Join(m.configDir, AgentsDir)
}

// GlobalMcpPath is the user-wide legacy mcp.json.
func (m *Manager) GlobalMcpPath() string {
	return filepath.Join(m.configDir, McpFile)
}

// DatabasePath is the sqlite file backing settings, telemetry and todo lists.
func (m *Manager) DatabasePath() string {
	return filepath.Join(m.configDir, "toolhub.db")
}

// LogPath is where the CLI writes its structured log.
func (m *Manager) LogPath() string {
	return filepath.Join(m.configDir, "logs", "toolhub.log")
}

// WorkspaceAgentsDir returns the agent directory of the workspace rooted at root.
func WorkspaceAgentsDir(root string) string {
	return filepath.Join(root, WorkspaceDir, AgentsDir)
}

// WorkspaceMcpPath returns the legacy mcp.json of the workspace rooted at root.
func WorkspaceMcpPath(root string) string {
	return filepath.Join(root, WorkspaceDir, McpFile)
}

// Load reads the configuration from disk.
// If the file does not exist, it returns an empty Config and no error.
func (m *Manager) Load() (*Config, error) {
	path := m.GetConfigPath()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return &Config{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config json: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to disk with restricted permissions (0600).
func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(m.configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.GetConfigPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Exists checks if the configuration file has been created.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.GetConfigPath())
	return !os.IsNotExist(err)
}
