package toolmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/engine"
	"github.com/ChamsBouzaiene/toolhub/internal/mcpclient"
	"github.com/ChamsBouzaiene/toolhub/internal/settings"
)

// testConnector serves in-memory servers by name. Names listed in stuck
// never finish their handshake.
type testConnector struct {
	servers map[string]*mcp.Server
	stuck   map[string]bool
}

func (c testConnector) Connect(ctx context.Context, name ServerName, cfg agent.ServerConfig, m mcpclient.Messenger) (Connection, error) {
	if c.stuck[name] {
		_ = m.SendInitMsg(ctx)
		return &stuckConn{}, nil
	}
	srv, ok := c.servers[name]
	if !ok {
		return nil, fmt.Errorf("no test server named %s", name)
	}
	serverT, clientT := mcp.NewInMemoryTransports()
	if _, err := srv.Connect(ctx, serverT, nil); err != nil {
		return nil, err
	}
	h, err := mcpclient.NewService(name, cfg, m).WithTransport(clientT).Init(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

type stuckConn struct{}

func (*stuckConn) IsTransportClosed() bool { return false }

func (*stuckConn) Ready() error { return mcpclient.ErrPending }

func (*stuckConn) Wait(context.Context) error { return mcpclient.ErrPending }

func (*stuckConn) Cancel(context.Context) error { return nil }

func (*stuckConn) CallTool(context.Context, string, json.RawMessage) (*mcp.CallToolResult, error) {
	return nil, mcpclient.ErrPending
}

func (*stuckConn) GetPrompt(context.Context, string, map[string]string) (*mcp.GetPromptResult, error) {
	return nil, mcpclient.ErrPending
}

type fakeSettings struct {
	ints  map[string]int64
	bools map[string]bool
}

func (f fakeSettings) GetInt(_ context.Context, key string) (int64, bool, error) {
	v, ok := f.ints[key]
	return v, ok, nil
}

func (f fakeSettings) GetBool(_ context.Context, key string) (bool, bool, error) {
	v, ok := f.bools[key]
	return v, ok, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// toolServer serves the named tools. Each tool answers "<server>:<tool> <args>".
func toolServer(server string, tools ...string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: server, Version: "v0.0.1"}, nil)
	for _, name := range tools {
		srv.AddTool(&mcp.Tool{
			Name:        name,
			Description: "Tool " + name,
			InputSchema: map[string]any{"type": "object"},
		}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: server + ":" + name + " " + string(req.Params.Arguments)}},
			}, nil
		})
	}
	return srv
}

func withPrompt(srv *mcp.Server, name string) *mcp.Server {
	srv.AddPrompt(&mcp.Prompt{
		Name:        name,
		Description: "Prompt " + name,
		Arguments:   []*mcp.PromptArgument{{Name: "who"}},
	}, func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: "hello " + req.Params.Arguments["who"]},
			}},
		}, nil
	})
	return srv
}

func testAgent(name string, servers ...string) *agent.Agent {
	a := &agent.Agent{Name: name, Tools: []string{"*"}, McpServers: map[string]agent.ServerConfig{}}
	for _, s := range servers {
		a.McpServers[s] = agent.ServerConfig{Command: "unused"}
	}
	return a
}

func testNatives() engine.ToolRegistry {
	echo := func(name string) engine.ToolFunc {
		return func(_ context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("%s %v", name, args["path"]), nil
		}
	}
	return engine.ToolRegistry{
		DummyTool:    {Name: DummyTool, Description: "Placeholder", Fn: echo(DummyTool)},
		ThinkingTool: {Name: ThinkingTool, Description: "Think", Fn: echo(ThinkingTool)},
		"fs_read": {
			Name:        "fs_read",
			Description: "Read a file",
			SchemaJSON:  `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`,
			Fn:          echo("fs_read"),
		},
	}
}

func build(t *testing.T, b Builder) *Manager {
	t.Helper()
	if b.Natives == nil {
		b.Natives = testNatives()
	}
	m, err := b.Build(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func TestManager_LoadToolsConverges(t *testing.T) {
	ctx := context.Background()
	m := build(t, Builder{
		Agent: testAgent("dev", "git", "fs"),
		Connector: testConnector{servers: map[string]*mcp.Server{
			"git": toolServer("git", "status", "log"),
			"fs":  toolServer("fs", "list-dir"),
		}},
	})

	schema, err := m.LoadTools(ctx)
	require.NoError(t, err)

	for _, name := range []string{"status", "log", "listdir", DummyTool, ThinkingTool, "fs_read"} {
		assert.Contains(t, schema, name)
	}
	assert.Equal(t, McpServerOrigin("git"), schema["status"].Origin)
	assert.True(t, schema["fs_read"].Origin.IsNative())

	info, ok := m.Lookup("listdir")
	require.True(t, ok)
	assert.Equal(t, ToolInfo{ServerName: "fs", HostToolName: "list-dir"}, info)

	assert.Empty(t, m.PendingClients())
	records := m.LoadRecords()
	require.Len(t, records["git"], 1)
	assert.Equal(t, RecordSuccess, records["git"][0].Kind)
	assert.Contains(t, records["git"][0].Message, "git loaded in")
}

func TestManager_CrossServerCollision(t *testing.T) {
	ctx := context.Background()
	m := build(t, Builder{
		Agent: testAgent("dev", "alpha", "beta"),
		Connector: testConnector{servers: map[string]*mcp.Server{
			"alpha": toolServer("alpha", "search", "only_alpha"),
			"beta":  toolServer("beta", "search", "only_beta"),
		}},
	})

	schema, err := m.LoadTools(ctx)
	require.NoError(t, err)

	assert.Contains(t, schema, "only_alpha")
	assert.Contains(t, schema, "only_beta")
	require.Contains(t, schema, "search")

	winner, ok := m.Lookup("search")
	require.True(t, ok)
	loser := "alpha"
	if winner.ServerName == "alpha" {
		loser = "beta"
	}
	assert.Equal(t, McpServerOrigin(winner.ServerName), schema["search"].Origin)

	var conflict string
	for _, rec := range m.LoadRecords()[loser] {
		if rec.Kind == RecordErr {
			conflict = rec.Message
		}
	}
	assert.True(t, strings.HasPrefix(conflict, "The following tools are rejected because they conflict with existing tools in names."))
	assert.Contains(t, conflict, fmt.Sprintf(" - search from %s (already provided by %s)\n", loser, winner.ServerName))

	out, res := m.ToolFromToolUse(ctx, engine.ToolUse{ID: "1", Name: "search"})
	require.Nil(t, res)
	got := out.Invoke(ctx)
	assert.False(t, got.IsError())
	assert.True(t, strings.HasPrefix(got.Text(), winner.ServerName+":search"))
}

func TestManager_BuiltinNameWins(t *testing.T) {
	m := build(t, Builder{
		Agent:     testAgent("dev", "fs"),
		Connector: testConnector{servers: map[string]*mcp.Server{"fs": toolServer("fs", "fs_read")}},
	})

	schema, err := m.LoadTools(context.Background())
	require.NoError(t, err)
	assert.True(t, schema["fs_read"].Origin.IsNative())

	rec := m.LoadRecords()["fs"]
	require.NotEmpty(t, rec)
	assert.Contains(t, rec[len(rec)-1].Message, "fs_read from fs (already provided by builtin)")
}

func TestManager_TimeoutInteractive(t *testing.T) {
	ctx := context.Background()
	out := &syncBuffer{}
	m := build(t, Builder{
		Agent:       testAgent("dev", "git", "slow"),
		Interactive: true,
		Output:      out,
		Settings:    fakeSettings{ints: map[string]int64{settings.McpInitTimeout: 300}},
		Connector: testConnector{
			servers: map[string]*mcp.Server{"git": toolServer("git", "status")},
			stuck:   map[string]bool{"slow": true},
		},
	})

	start := time.Now()
	_, err := m.LoadTools(ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, []string{"slow"}, m.PendingClients())
	assert.Contains(t, out.String(), "Servers still loading:\n - slow")

	require.Eventually(t, func() bool {
		m.Update(ctx)
		_, ok := m.Schema()["status"]
		return ok
	}, 5*time.Second, 20*time.Millisecond)
}

func TestManager_TimeoutNonInteractive(t *testing.T) {
	out := &syncBuffer{}
	m := build(t, Builder{
		Agent:     testAgent("dev", "slow"),
		Output:    out,
		Settings:  fakeSettings{ints: map[string]int64{settings.McpNoInteractiveTimeout: 50}},
		Connector: testConnector{stuck: map[string]bool{"slow": true}},
	})

	schema, err := m.LoadTools(context.Background())
	require.NoError(t, err)
	assert.Contains(t, schema, DummyTool)
	assert.Contains(t, out.String(), "Not all mcp servers loaded. Configure non-interactive timeout with toolhub settings mcp.noInteractiveTimeout")
}

func TestManager_Interrupt(t *testing.T) {
	tests := []struct {
		name        string
		interactive bool
		wantErr     error
	}{
		{"interactive continues", true, nil},
		{"non-interactive fails", false, ErrInterruptedLoading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := build(t, Builder{
				Agent:       testAgent("dev", "slow"),
				Interactive: tt.interactive,
				Output:      &syncBuffer{},
				Connector:   testConnector{stuck: map[string]bool{"slow": true}},
			})

			ctx, cancel := context.WithCancel(context.Background())
			time.AfterFunc(30*time.Millisecond, cancel)

			schema, err := m.LoadTools(ctx)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, schema, DummyTool)
			assert.Equal(t, []string{"slow"}, m.PendingClients())
		})
	}
}

func TestManager_FailedServerStillConverges(t *testing.T) {
	out := &syncBuffer{}
	m := build(t, Builder{
		Agent:     testAgent("dev", "git", "missing"),
		Output:    out,
		Connector: testConnector{servers: map[string]*mcp.Server{"git": toolServer("git", "status")}},
	})

	schema, err := m.LoadTools(context.Background())
	require.NoError(t, err)
	assert.Contains(t, schema, "status")
	assert.Empty(t, m.PendingClients())

	recs := m.LoadRecords()["missing"]
	require.Len(t, recs, 1)
	assert.Equal(t, RecordErr, recs[0].Kind)
	assert.Contains(t, out.String(), "One or more mcp server did not load correctly.")
	assert.Contains(t, out.String(), "no test server named missing")
}

func TestManager_ReservedServerName(t *testing.T) {
	out := &syncBuffer{}
	m := build(t, Builder{
		Agent:     testAgent("dev", BuiltinServer),
		Output:    out,
		Connector: testConnector{},
	})
	_, err := m.LoadTools(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Invalid server name builtin. Server name cannot contain reserved word builtin (it is used to denote native tools)")
}

func TestManager_DisabledServers(t *testing.T) {
	out := &syncBuffer{}
	a := testAgent("dev")
	a.McpServers["off"] = agent.ServerConfig{Command: "unused", Disabled: true}
	m := build(t, Builder{Agent: a, Interactive: true, Output: out, Connector: testConnector{}})

	_, err := m.LoadTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"off"}, m.DisabledServers())
	assert.Contains(t, out.String(), "○ off is disabled")
}

func TestManager_NativeFilter(t *testing.T) {
	tests := []struct {
		name     string
		tools    []string
		settings fakeSettings
		want     []string
	}{
		{"all", []string{"*"}, fakeSettings{}, []string{DummyTool, "fs_read", ThinkingTool}},
		{"builtin server", []string{"@builtin"}, fakeSettings{}, []string{DummyTool, "fs_read", ThinkingTool}},
		{"qualified", []string{"@builtin/fs_read"}, fakeSettings{}, []string{DummyTool, "fs_read"}},
		{"bare", []string{"thinking"}, fakeSettings{}, []string{DummyTool, ThinkingTool}},
		{"toggle off", []string{"*"}, fakeSettings{bools: map[string]bool{settings.ChatEnableThinking: false}}, []string{DummyTool, "fs_read"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAgent("dev")
			a.Tools = tt.tools
			m := build(t, Builder{Agent: a, Settings: tt.settings, Connector: testConnector{}})
			schema, err := m.LoadTools(context.Background())
			require.NoError(t, err)
			var got []string
			for _, s := range SortedSpecs(schema) {
				got = append(got, s.Name)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_ToolFromToolUse(t *testing.T) {
	ctx := context.Background()
	m := build(t, Builder{
		Agent: testAgent("dev", "git", "slow"),
		Connector: testConnector{
			servers: map[string]*mcp.Server{"git": toolServer("git", "status")},
			stuck:   map[string]bool{"slow": true},
		},
		Settings: fakeSettings{ints: map[string]int64{settings.McpNoInteractiveTimeout: 200}},
	})
	_, err := m.LoadTools(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		m.Update(ctx)
		_, ok := m.Lookup("status")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	t.Run("unknown tool", func(t *testing.T) {
		tool, res := m.ToolFromToolUse(ctx, engine.ToolUse{ID: "u1", Name: "nope"})
		assert.Nil(t, tool)
		require.NotNil(t, res)
		assert.True(t, res.IsError())
		assert.Equal(t, "u1", res.ToolUseID)
		assert.Equal(t, `No tool with "nope" is found`, res.Text())
	})

	t.Run("routed", func(t *testing.T) {
		tool, res := m.ToolFromToolUse(ctx, engine.ToolUse{ID: "u2", Name: "status", Args: json.RawMessage(`{"short":true}`)})
		require.Nil(t, res)
		assert.Equal(t, "status", tool.Name())
		out := tool.Invoke(ctx)
		assert.False(t, out.IsError())
		assert.True(t, strings.HasPrefix(out.Text(), "git:status "))
		assert.Contains(t, out.Text(), `"short":true`)
	})

	t.Run("native", func(t *testing.T) {
		tool, res := m.ToolFromToolUse(ctx, engine.ToolUse{ID: "u3", Name: "fs_read", Args: json.RawMessage(`{"path":"a.txt"}`)})
		require.Nil(t, res)
		assert.IsType(t, &NativeTool{}, tool)
		assert.Equal(t, "fs_read a.txt", tool.Invoke(ctx).Text())
	})

	t.Run("native validation", func(t *testing.T) {
		_, res := m.ToolFromToolUse(ctx, engine.ToolUse{ID: "u4", Name: "fs_read", Args: json.RawMessage(`{}`)})
		require.NotNil(t, res)
		assert.True(t, strings.HasPrefix(res.Text(), "Failed to validate tool parameters:"))
	})

	t.Run("client not ready", func(t *testing.T) {
		m.schemaMu.Lock()
		m.tnMap["later"] = ToolInfo{ServerName: "slow", HostToolName: "later"}
		m.schemaMu.Unlock()
		_, res := m.ToolFromToolUse(ctx, engine.ToolUse{ID: "u5", Name: "later"})
		require.NotNil(t, res)
		assert.Equal(t, "Mcp tool client not ready: "+mcpclient.ErrPending.Error(), res.Text())
	})

	t.Run("client gone", func(t *testing.T) {
		m.schemaMu.Lock()
		m.tnMap["orphan"] = ToolInfo{ServerName: "gone", HostToolName: "orphan"}
		m.schemaMu.Unlock()
		_, res := m.ToolFromToolUse(ctx, engine.ToolUse{ID: "u6", Name: "orphan"})
		require.NotNil(t, res)
		assert.Equal(t, `The tool, "gone" is not supported by the client`, res.Text())
	})
}

func TestManager_SwapAgent(t *testing.T) {
	ctx := context.Background()
	m := build(t, Builder{
		Agent: testAgent("first", "git"),
		Connector: testConnector{servers: map[string]*mcp.Server{
			"git": toolServer("git", "status"),
			"fs":  toolServer("fs", "read_dir"),
		}},
	})
	schema, err := m.LoadTools(ctx)
	require.NoError(t, err)
	require.Contains(t, schema, "status")

	schema, err = m.SwapAgent(ctx, testAgent("second", "fs"))
	require.NoError(t, err)
	assert.NotContains(t, schema, "status")
	assert.Equal(t, "second", m.Agent().Name)

	require.Eventually(t, func() bool {
		m.Update(ctx)
		_, ok := m.Schema()["read_dir"]
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotContains(t, m.Schema(), "status")
	_, ok := m.Lookup("status")
	assert.False(t, ok)
}

func TestManager_SwapAgentBeforeMerge(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		m := build(t, Builder{
			Agent:     testAgent("first", "git"),
			Connector: testConnector{servers: map[string]*mcp.Server{"git": toolServer("git", "status")}},
		})
		require.Eventually(t, func() bool {
			return len(m.LoadRecords()["git"]) > 0
		}, 5*time.Second, 5*time.Millisecond)

		schema, err := m.SwapAgent(ctx, testAgent("second"))
		require.NoError(t, err)
		assert.NotContains(t, schema, "status")
		m.Update(ctx)
		assert.NotContains(t, m.Schema(), "status")
		_, ok := m.Lookup("status")
		assert.False(t, ok)
	}
}

func TestManager_UpdateDropsEarlierGeneration(t *testing.T) {
	ctx := context.Background()
	m := build(t, Builder{Agent: testAgent("dev"), Connector: testConnector{}})
	_, err := m.LoadTools(ctx)
	require.NoError(t, err)

	gen := m.sess.gen.Load()
	m.sess.staging.put("old", stagedBatch{
		names: map[ModelToolName]ToolInfo{"stale": {ServerName: "old", HostToolName: "stale"}},
		specs: []ToolSpec{{Name: "stale", Description: "Stale", Origin: McpServerOrigin("old")}},
		gen:   gen - 1,
	})
	m.sess.staging.put("new", stagedBatch{
		names: map[ModelToolName]ToolInfo{"fresh": {ServerName: "new", HostToolName: "fresh"}},
		specs: []ToolSpec{{Name: "fresh", Description: "Fresh", Origin: McpServerOrigin("new")}},
		gen:   gen,
	})
	m.Update(ctx)

	assert.NotContains(t, m.Schema(), "stale")
	assert.Contains(t, m.Schema(), "fresh")
	_, ok := m.Lookup("stale")
	assert.False(t, ok)
}

func TestManager_Prompts(t *testing.T) {
	ctx := context.Background()
	m := build(t, Builder{
		Agent: testAgent("dev", "a", "b", "c"),
		Connector: testConnector{servers: map[string]*mcp.Server{
			"a": withPrompt(toolServer("a", "t1"), "greet"),
			"b": withPrompt(toolServer("b", "t2"), "greet"),
			"c": withPrompt(toolServer("c", "t3"), "solo"),
		}},
	})
	_, err := m.LoadTools(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		names, err := m.SearchPrompts(ctx, "")
		return err == nil && len(names) == 3
	}, 5*time.Second, 20*time.Millisecond)

	names, err := m.SearchPrompts(ctx, "gree")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/greet", "b/greet"}, names)

	prompts, err := m.ListPrompts(ctx)
	require.NoError(t, err)
	assert.Len(t, prompts["greet"], 2)

	_, err = m.GetPrompt(ctx, "greet", nil)
	var ambiguous *AmbiguousPromptError
	require.ErrorAs(t, err, &ambiguous)
	assert.Contains(t, err.Error(), "- @a/greet")
	assert.Contains(t, err.Error(), "- @b/greet")

	res, err := m.GetPrompt(ctx, "b/greet", []string{"bob"})
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, "hello bob", res.Messages[0].Content.(*mcp.TextContent).Text)

	res, err = m.GetPrompt(ctx, "solo", nil)
	require.NoError(t, err)
	assert.Len(t, res.Messages, 1)

	_, err = m.GetPrompt(ctx, "a/", nil)
	assert.ErrorIs(t, err, ErrMissingPromptName)

	var notFound *PromptNotFoundError
	_, err = m.GetPrompt(ctx, "absent", nil)
	assert.ErrorAs(t, err, &notFound)
	_, err = m.GetPrompt(ctx, "a/solo", nil)
	assert.ErrorAs(t, err, &notFound)
}

func TestManager_ClosedManagerRejectsQueries(t *testing.T) {
	m := build(t, Builder{Agent: testAgent("dev"), Connector: testConnector{}})
	require.NoError(t, m.Close(context.Background()))
	require.Eventually(t, func() bool {
		_, err := m.ListPrompts(context.Background())
		return errors.Is(err, ErrMissingChannel)
	}, time.Second, 10*time.Millisecond)
}

func TestManager_Race(t *testing.T) {
	m := &Manager{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name      string
		ctx       context.Context
		timeout   time.Duration
		converged bool
		want      loadOutcome
	}{
		{"converged wins over zero timeout", context.Background(), 0, true, outcomeConverged},
		{"timeout", context.Background(), time.Millisecond, false, outcomeTimeout},
		{"interrupted", ctx, time.Hour, false, outcomeInterrupted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := make(chan struct{})
			if tt.converged {
				close(ch)
			}
			assert.Equal(t, tt.want, m.race(tt.ctx, tt.timeout, ch))
		})
	}
}
