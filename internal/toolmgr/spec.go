package toolmgr

import (
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// The three name domains. They are all strings but must never be mixed up:
// a ServerName identifies a configured server, a HostToolName is what that
// server calls a tool, a ModelToolName is the unique name the model sees.
type (
	ServerName    = string
	HostToolName  = string
	ModelToolName = string
)

// BuiltinServer is reserved for native tools in agent tool lists ("@builtin").
const BuiltinServer = "builtin"

const originPrefix = "mcp:"

// ToolOrigin says where a tool comes from. The zero value is native.
type ToolOrigin struct {
	server ServerName
}

// McpServerOrigin returns the origin of tools served by server.
func McpServerOrigin(server ServerName) ToolOrigin {
	return ToolOrigin{server: server}
}

// IsNative reports whether the tool is implemented in-process.
func (o ToolOrigin) IsNative() bool { return o.server == "" }

// Server returns the serving server name, empty for native tools.
func (o ToolOrigin) Server() ServerName { return o.server }

func (o ToolOrigin) String() string {
	if o.IsNative() {
		return "native"
	}
	return o.server
}

func (o ToolOrigin) MarshalText() ([]byte, error) {
	if o.IsNative() {
		return []byte("native"), nil
	}
	return []byte(originPrefix + o.server), nil
}

func (o *ToolOrigin) UnmarshalText(b []byte) error {
	o.server = strings.TrimPrefix(string(b), originPrefix)
	if string(b) == "native" {
		o.server = ""
	}
	return nil
}

// ToolSpec is the model-facing contract of one tool.
type ToolSpec struct {
	Name        ModelToolName   `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Origin      ToolOrigin      `json:"origin"`
}

// ToolInfo maps a model-facing name back to the server tool it stands for.
type ToolInfo struct {
	ServerName   ServerName
	HostToolName HostToolName
}

// PromptBundle is one server's declaration of a prompt.
type PromptBundle struct {
	ServerName ServerName
	Prompt     *mcp.Prompt
}

var emptyObjectSchema = json.RawMessage(`{"type":"object"}`)
