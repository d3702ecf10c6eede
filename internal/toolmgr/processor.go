package toolmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/telemetry"
)

// Telemetry receives one record per server load. Implementations must not block.
type Telemetry interface {
	SendMcpServerInit(ctx context.Context, ev telemetry.McpServerInit)
}

type nopTelemetry struct{}

func (nopTelemetry) SendMcpServerInit(context.Context, telemetry.McpServerInit) {}

type outOfSpecReason int

const (
	reasonTooLong outOfSpecReason = iota
	reasonEmptyDescription
)

func (r outOfSpecReason) String() string {
	switch r {
	case reasonTooLong:
		return fmt.Sprintf("tool name exceeds max length of %d when combined with server name", maxToolNameLen)
	case reasonEmptyDescription:
		return "tool schema contains empty description"
	}
	return "unknown"
}

type outOfSpec struct {
	host   HostToolName
	reason outOfSpecReason
}

// stagedBatch is one server's processed tool list, waiting to be merged.
type stagedBatch struct {
	names map[ModelToolName]ToolInfo
	specs []ToolSpec
	seq   uint64
	gen   uint64
}

type processor struct {
	telemetry Telemetry
	convID    string
}

// process validates one server's complete tool list. The returned warning is
// non-empty when some tools were excluded; the rest are still usable.
func (p processor) process(ctx context.Context, server ServerName, tools []*mcp.Tool, filter toolFilter, aliases map[HostToolName]ModelToolName) (stagedBatch, string) {
	allNames := make([]string, 0, len(tools))
	for _, t := range tools {
		allNames = append(allNames, t.Name)
	}

	batch := stagedBatch{names: make(map[ModelToolName]ToolInfo)}
	var rejected []outOfSpec
	taken := func(name string) bool {
		_, ok := batch.names[name]
		return ok
	}

	for _, t := range tools {
		if !filter.includes(t.Name) {
			continue
		}

		model, aliased := aliases[t.Name]
		if !aliased {
			model = SanitizeName(t.Name)
		}
		model = dedupeName(model, taken)

		switch {
		case len(model) > maxToolNameLen:
			rejected = append(rejected, outOfSpec{host: t.Name, reason: reasonTooLong})
			continue
		case t.Description == "":
			rejected = append(rejected, outOfSpec{host: t.Name, reason: reasonEmptyDescription})
			continue
		}

		batch.names[model] = ToolInfo{ServerName: server, HostToolName: t.Name}
		batch.specs = append(batch.specs, ToolSpec{
			Name:        model,
			Description: t.Description,
			InputSchema: inputSchema(ctx, t),
			Origin:      McpServerOrigin(server),
		})
	}

	loaded := make([]string, 0, len(batch.specs))
	for _, s := range batch.specs {
		loaded = append(loaded, s.Name)
	}
	p.telemetry.SendMcpServerInit(ctx, telemetry.McpServerInit{
		ConversationID:  p.convID,
		ServerName:      server,
		NumberOfTools:   len(batch.specs),
		AllToolNames:    strings.Join(allNames, ","),
		LoadedToolNames: strings.Join(loaded, ","),
		ToolsInServer:   len(tools),
	})

	if len(rejected) == 0 {
		return batch, ""
	}
	var b strings.Builder
	b.WriteString("The following tools are out of spec. They will be excluded from the list of available tools:\n")
	for _, r := range rejected {
		fmt.Fprintf(&b, " - %s (%s)\n", r.host, r.reason)
	}
	return batch, b.String()
}

func inputSchema(ctx context.Context, t *mcp.Tool) json.RawMessage {
	if t.InputSchema == nil {
		return emptyObjectSchema
	}
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "unreadable input schema"}, log.KV{K: "tool", V: t.Name}, log.KV{K: "err", V: err.Error()})
		return emptyObjectSchema
	}
	return raw
}
