package toolmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/engine"
)

// Tool is a resolved tool use, ready to run.
type Tool interface {
	Name() string
	Invoke(ctx context.Context) engine.ToolResult
}

// NativeTool runs in-process.
type NativeTool struct {
	Use  engine.ToolUse
	Tool engine.Tool
	Args map[string]any
}

func (t *NativeTool) Name() string { return t.Use.Name }

// Invoke runs the tool. Retryable tools get one more attempt after a
// transient failure.
func (t *NativeTool) Invoke(ctx context.Context) engine.ToolResult {
	if !t.Tool.Retryable {
		out, err := t.Tool.Fn(ctx, t.Args)
		if err != nil {
			return engine.ErrorResult(t.Use.ID, err.Error())
		}
		return engine.TextResult(t.Use.ID, out)
	}
	out, err := engine.RetryWithPolicy(ctx, engine.NativeToolPolicy,
		func(ctx context.Context) (string, error) { return t.Tool.Fn(ctx, t.Args) },
		engine.ClassifyTransportError,
		func(attempt int, delay time.Duration, err error) {
			log.Debug(ctx, log.KV{K: "msg", V: "retrying native tool"}, log.KV{K: "tool", V: t.Use.Name}, log.KV{K: "err", V: err.Error()})
		},
	)
	if err != nil {
		return engine.ErrorResult(t.Use.ID, err.Error())
	}
	return engine.TextResult(t.Use.ID, out)
}

// RoutedTool is served by a tool server.
type RoutedTool struct {
	Use          engine.ToolUse
	ServerName   ServerName
	HostToolName HostToolName
	Args         json.RawMessage

	conn Connection
}

func (t *RoutedTool) Name() string { return t.Use.Name }

func (t *RoutedTool) Invoke(ctx context.Context) engine.ToolResult {
	res, err := t.conn.CallTool(ctx, t.HostToolName, t.Args)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "tool call failed"}, log.KV{K: "server", V: t.ServerName}, log.KV{K: "tool", V: t.HostToolName}, log.KV{K: "err", V: err.Error()})
		return engine.ErrorResult(t.Use.ID, err.Error())
	}
	return convertResult(t.Use.ID, res)
}

func convertResult(useID string, res *mcp.CallToolResult) engine.ToolResult {
	out := engine.ToolResult{ToolUseID: useID, Status: engine.StatusSuccess}
	if res.IsError {
		out.Status = engine.StatusError
	}
	for _, c := range res.Content {
		if text, ok := c.(*mcp.TextContent); ok {
			out.Content = append(out.Content, engine.ContentBlock{Text: text.Text})
			continue
		}
		raw, err := json.Marshal(c)
		if err != nil {
			out.Content = append(out.Content, engine.ContentBlock{Text: fmt.Sprintf("unreadable content: %v", err)})
			continue
		}
		out.Content = append(out.Content, engine.ContentBlock{JSON: raw})
	}
	if res.StructuredContent != nil {
		if raw, err := json.Marshal(res.StructuredContent); err == nil {
			out.Content = append(out.Content, engine.ContentBlock{JSON: raw})
		}
	}
	return out
}

// ToolFromToolUse resolves a tool use requested by the model. When it
// cannot be resolved the returned result explains why, ready to be sent
// back to the model.
func (m *Manager) ToolFromToolUse(ctx context.Context, use engine.ToolUse) (Tool, *engine.ToolResult) {
	m.schemaMu.RLock()
	spec, inSchema := m.schema[use.Name]
	info, routed := m.tnMap[use.Name]
	m.schemaMu.RUnlock()

	fail := func(format string, args ...any) (Tool, *engine.ToolResult) {
		res := engine.ErrorResult(use.ID, fmt.Sprintf(format, args...))
		log.Debug(ctx, log.KV{K: "msg", V: "tool use rejected"}, log.KV{K: "tool", V: use.Name}, log.KV{K: "reason", V: res.Text()})
		return nil, &res
	}

	if inSchema && spec.Origin.IsNative() {
		native, ok := m.natives[use.Name]
		if !ok {
			return fail("No tool with %q is found", use.Name)
		}
		args, err := engine.DecodeArgs(use.Args)
		if err == nil {
			err = native.ValidateArgs(args)
		}
		if err != nil {
			return fail("Failed to validate tool parameters: %v. The model has either suggested tool parameters which are incompatible with the existing tools, or has suggested one or more tool that does not exist in the list of known tools.", err)
		}
		return &NativeTool{Use: use, Tool: native, Args: args}, nil
	}

	if !routed {
		return fail("No tool with %q is found", use.Name)
	}
	conn, ok := m.sess.registry.Get(info.ServerName)
	if !ok {
		return fail("The tool, %q is not supported by the client", info.ServerName)
	}
	if err := conn.Ready(); err != nil {
		return fail("Mcp tool client not ready: %v", err)
	}
	return &RoutedTool{
		Use:          use,
		ServerName:   info.ServerName,
		HostToolName: info.HostToolName,
		Args:         use.Args,
		conn:         conn,
	}, nil
}
