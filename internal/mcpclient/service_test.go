package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
)

type event struct {
	kind    string
	tools   []*mcp.Tool
	prompts []*mcp.Prompt
	err     error
	peer    Peer
	link    string
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
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

type recordingMessenger struct {
	ch chan event
}

func newRecorder() *recordingMessenger {
	return &recordingMessenger{ch: make(chan event, 64)}
}

func (r *recordingMessenger) SendToolsListResult(_ context.Context, tools []*mcp.Tool, err error, peer Peer) error {
	r.ch <- event{kind: "tools", tools: tools, err: err, peer: peer}
	return nil
}

func (r *recordingMessenger) SendPromptsListResult(_ context.Context, prompts []*mcp.Prompt, err error, peer Peer) error {
	r.ch <- event{kind: "prompts", prompts: prompts, err: err, peer: peer}
	return nil
}

func (r *recordingMessenger) SendResourcesListResult(context.Context, []*mcp.Resource, error, Peer) error {
	r.ch <- event{kind: "resources"}
	return nil
}

func (r *recordingMessenger) SendResourceTemplatesListResult(context.Context, []*mcp.ResourceTemplate, error, Peer) error {
	r.ch <- event{kind: "templates"}
	return nil
}

func (r *recordingMessenger) SendOauthLink(_ context.Context, link string) error {
	r.ch <- event{kind: "oauth", link: link}
	return nil
}

func (r *recordingMessenger) SendInitMsg(context.Context) error {
	r.ch <- event{kind: "init"}
	return nil
}

func (r *recordingMessenger) SendDeinitMsg() {
	r.ch <- event{kind: "deinit"}
}

func (r *recordingMessenger) Duplicate() Messenger { return r }

// next returns the next event of the given kind, skipping others.
func (r *recordingMessenger) next(t *testing.T, kind string) event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-r.ch:
			if ev.kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %q event received", kind)
		}
	}
}

func echoServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "echo", Version: "v0.0.1"}, nil)
	server.AddTool(&mcp.Tool{
		Name:        "echo",
		Description: "Echo the arguments back",
		InputSchema: map[string]any{"type": "object"},
	}, func(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(req.Params.Arguments)}},
		}, nil
	})
	server.AddPrompt(&mcp.Prompt{
		Name:        "greet",
		Description: "Say hello",
		Arguments:   []*mcp.PromptArgument{{Name: "who", Required: true}},
	}, func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: "hello " + req.Params.Arguments["who"]},
			}},
		}, nil
	})
	return server
}

func connectInMemory(t *testing.T, server *mcp.Server, m Messenger) *Handle {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, serverT, nil)
	require.NoError(t, err)

	h, err := NewService("echo", agent.ServerConfig{Command: "unused"}, m).WithTransport(clientT).Init(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Cancel(context.Background()) })
	return h
}

func TestService_InitReportsToolsAndPrompts(t *testing.T) {
	rec := newRecorder()
	h := connectInMemory(t, echoServer(), rec)

	rec.next(t, "init")
	tools := rec.next(t, "tools")
	require.NoError(t, tools.err)
	require.Len(t, tools.tools, 1)
	assert.Equal(t, "echo", tools.tools[0].Name)
	assert.Same(t, h, tools.peer)

	prompts := rec.next(t, "prompts")
	require.NoError(t, prompts.err)
	require.Len(t, prompts.prompts, 1)
	assert.Equal(t, "greet", prompts.prompts[0].Name)

	require.NoError(t, h.Ready())
	assert.False(t, h.IsTransportClosed())
}

func TestHandle_CallToolAndGetPrompt(t *testing.T) {
	rec := newRecorder()
	h := connectInMemory(t, echoServer(), rec)
	require.NoError(t, h.Wait(context.Background()))

	res, err := h.CallTool(context.Background(), "echo", json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.JSONEq(t, `{"msg":"hi"}`, res.Content[0].(*mcp.TextContent).Text)

	prompt, err := h.GetPrompt(context.Background(), "greet", map[string]string{"who": "gopher"})
	require.NoError(t, err)
	require.Len(t, prompt.Messages, 1)
	assert.Equal(t, "hello gopher", prompt.Messages[0].Content.(*mcp.TextContent).Text)
}

func TestHandle_CancelClosesTransport(t *testing.T) {
	rec := newRecorder()
	h := connectInMemory(t, echoServer(), rec)
	rec.next(t, "tools")

	require.NoError(t, h.Cancel(context.Background()))
	rec.next(t, "deinit")
	assert.True(t, h.IsTransportClosed())
	assert.ErrorIs(t, h.Ready(), ErrTransportClosed)
}

func TestService_NoToolsCapabilityStillConverges(t *testing.T) {
	rec := newRecorder()
	server := mcp.NewServer(&mcp.Implementation{Name: "empty", Version: "v0.0.1"}, nil)
	connectInMemory(t, server, rec)

	ev := rec.next(t, "tools")
	assert.NoError(t, ev.err)
	assert.Empty(t, ev.tools)
}

func TestService_ToolListChangedIsReported(t *testing.T) {
	rec := newRecorder()
	server := echoServer()
	connectInMemory(t, server, rec)
	first := rec.next(t, "tools")
	require.Len(t, first.tools, 1)

	server.AddTool(&mcp.Tool{
		Name:        "second",
		Description: "Another tool",
		InputSchema: map[string]any{"type": "object"},
	}, func(context.Context, *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{}, nil
	})

	second := rec.next(t, "tools")
	assert.Len(t, second.tools, 2)
}

// closedResourceMessenger refuses resource results.
type closedResourceMessenger struct {
	*recordingMessenger
}

func (m closedResourceMessenger) SendResourcesListResult(context.Context, []*mcp.Resource, error, Peer) error {
	m.ch <- event{kind: "resources"}
	return ErrMessengerClosed
}

func (m closedResourceMessenger) SendResourceTemplatesListResult(context.Context, []*mcp.ResourceTemplate, error, Peer) error {
	m.ch <- event{kind: "templates"}
	return ErrMessengerClosed
}

func TestService_ResourceSendFailureIsLogged(t *testing.T) {
	var buf syncBuffer
	ctx := log.Context(context.Background(), log.WithOutput(&buf), log.WithDebug())

	server := echoServer()
	server.AddResource(&mcp.Resource{URI: "file:///readme", Name: "readme"}, func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return &mcp.ReadResourceResult{}, nil
	})
	rec := closedResourceMessenger{newRecorder()}
	serverT, clientT := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, serverT, nil)
	require.NoError(t, err)
	h, err := NewService("echo", agent.ServerConfig{Command: "unused"}, rec).WithTransport(clientT).Init(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Cancel(context.Background()) })

	rec.next(t, "templates")
	assert.Eventually(t, func() bool {
		out := buf.String()
		return strings.Contains(out, "resource list result dropped") && strings.Contains(out, "resource template list result dropped")
	}, 5*time.Second, 10*time.Millisecond)
}

func TestService_InitRejectsInvalidConfig(t *testing.T) {
	_, err := NewService("bad", agent.ServerConfig{Type: "sse"}, nil).Init(context.Background())
	assert.ErrorContains(t, err, "invalid config for bad")
}

func TestHandle_ReadyIsNonBlockingWhilePending(t *testing.T) {
	h := &Handle{done: make(chan struct{}), cancel: func() {}}
	assert.ErrorIs(t, h.Ready(), ErrPending)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)
}

func TestAuthTransport_ReportsSignInOnce(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Api-Key")
		w.Header().Set("WWW-Authenticate", `Bearer resource_metadata="https://auth.example.com/.well-known/oauth-protected-resource"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	rec := newRecorder()
	cfg := agent.ServerConfig{URL: srv.URL, Headers: map[string]string{"X-Api-Key": "secret"}}
	client := remoteClient(context.Background(), cfg, nil, rec)

	for range 2 {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}

	ev := rec.next(t, "oauth")
	assert.Equal(t, "https://auth.example.com/.well-known/oauth-protected-resource", ev.link)
	assert.Equal(t, "secret", gotHeader)
	select {
	case extra := <-rec.ch:
		t.Fatalf("unexpected second event %q", extra.kind)
	default:
	}
}

func TestSignInLink_FallsBackToEndpoint(t *testing.T) {
	assert.Equal(t, "https://mcp.example.com", signInLink(`Bearer realm="x"`, "https://mcp.example.com"))
}
