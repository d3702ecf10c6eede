// Package mcpclient manages one connection to a tool server over the Model
// Context Protocol. A connection starts in the background; every protocol
// event it observes is reported through a Messenger.
package mcpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/engine"
)

var (
	// ErrPending is returned by Handle.Ready while the handshake is in flight.
	ErrPending = errors.New("client is still initializing")
	// ErrTransportClosed is returned once the server connection has ended.
	ErrTransportClosed = errors.New("transport closed")
)

// Implementation identifies this client during the handshake.
var Implementation = &mcp.Implementation{Name: "toolhub", Version: "v0.1.0"}

// Service knows how to connect to one configured server.
type Service struct {
	Name       string
	Config     agent.ServerConfig
	Messenger  Messenger
	HTTPClient *http.Client

	transport mcp.Transport
}

// NewService creates a service for the named server.
func NewService(name string, cfg agent.ServerConfig, m Messenger) *Service {
	if m == nil {
		m = NullMessenger{}
	}
	return &Service{Name: name, Config: cfg, Messenger: m}
}

// WithTransport makes the service use t instead of building one from Config.
func (s *Service) WithTransport(t mcp.Transport) *Service {
	s.transport = t
	return s
}

// Init validates the configuration and returns a pending handle at once. The
// handshake and the first listings run in the background; their outcome is
// reported through the messenger. A terminal tool-list result (success or
// error) is always posted exactly once per Init.
func (s *Service) Init(ctx context.Context) (*Handle, error) {
	transport := s.transport
	if transport == nil {
		t, err := newTransport(ctx, s.Config, s.HTTPClient, s.Messenger)
		if err != nil {
			return nil, fmt.Errorf("invalid config for %s: %w", s.Name, err)
		}
		transport = t
	}

	// The connection outlives the caller's context but keeps its values.
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &Handle{
		name:    s.Name,
		timeout: s.Config.RequestTimeout(),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go s.run(hctx, h, transport)
	return h, nil
}

func (s *Service) run(ctx context.Context, h *Handle, transport mcp.Transport) {
	if err := s.Messenger.SendInitMsg(ctx); err != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "init message dropped"}, log.KV{K: "server", V: s.Name}, log.KV{K: "err", V: err.Error()})
	}

	client := mcp.NewClient(Implementation, &mcp.ClientOptions{
		ToolListChangedHandler: func(context.Context, *mcp.ToolListChangedRequest) {
			go s.refreshTools(ctx, h)
		},
		PromptListChangedHandler: func(context.Context, *mcp.PromptListChangedRequest) {
			go s.refreshPrompts(ctx, h)
		},
	})

	session, err := s.connect(ctx, client, transport)
	if err != nil {
		h.finish(nil, err)
		log.Error(ctx, err, log.KV{K: "msg", V: "server failed to initialize"}, log.KV{K: "server", V: s.Name})
		if sendErr := s.Messenger.SendToolsListResult(ctx, nil, err, h); sendErr != nil {
			log.Debug(ctx, log.KV{K: "msg", V: "tool list result dropped"}, log.KV{K: "server", V: s.Name})
		}
		return
	}
	h.finish(session, nil)
	log.Info(ctx, log.KV{K: "msg", V: "server connected"}, log.KV{K: "server", V: s.Name})

	go func() {
		err := session.Wait()
		h.closed.Store(true)
		if err != nil && ctx.Err() == nil {
			log.Warn(ctx, log.KV{K: "msg", V: "server connection ended"}, log.KV{K: "server", V: s.Name}, log.KV{K: "err", V: err.Error()})
		}
		s.Messenger.SendDeinitMsg()
	}()

	s.refreshTools(ctx, h)
	s.refreshPrompts(ctx, h)
	s.refreshResources(ctx, h)
}

// connect performs the handshake. Remote transports are retried on network
// errors; a stdio command can only be started once.
func (s *Service) connect(ctx context.Context, client *mcp.Client, transport mcp.Transport) (*mcp.ClientSession, error) {
	if _, ok := transport.(*mcp.CommandTransport); ok {
		return client.Connect(ctx, transport, nil)
	}
	return engine.RetryWithPolicy(ctx, engine.ConnectPolicy,
		func(ctx context.Context) (*mcp.ClientSession, error) {
			return client.Connect(ctx, transport, nil)
		},
		engine.ClassifyTransportError,
		func(attempt int, delay time.Duration, err error) {
			log.Warn(ctx, log.KV{K: "msg", V: "retrying handshake"}, log.KV{K: "server", V: s.Name},
				log.KV{K: "attempt", V: attempt}, log.KV{K: "delay", V: delay.String()}, log.KV{K: "err", V: err.Error()})
		},
	)
}

func (s *Service) capabilities(h *Handle) *mcp.ServerCapabilities {
	session := h.session()
	if session == nil {
		return nil
	}
	if res := session.InitializeResult(); res != nil && res.Capabilities != nil {
		return res.Capabilities
	}
	return &mcp.ServerCapabilities{}
}

// refreshTools lists every page of tools and reports them. A server without
// the tools capability reports an empty list so loading still converges.
func (s *Service) refreshTools(ctx context.Context, h *Handle) {
	var (
		tools []*mcp.Tool
		err   error
	)
	if caps := s.capabilities(h); caps != nil && caps.Tools != nil {
		rctx, cancel := context.WithTimeout(ctx, h.timeout)
		tools, err = listTools(rctx, h.session())
		cancel()
	}
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "tool list failed"}, log.KV{K: "server", V: s.Name})
	}
	if sendErr := s.Messenger.SendToolsListResult(ctx, tools, err, h); sendErr != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "tool list result dropped"}, log.KV{K: "server", V: s.Name})
	}
}

func (s *Service) refreshPrompts(ctx context.Context, h *Handle) {
	caps := s.capabilities(h)
	if caps == nil || caps.Prompts == nil {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	prompts, err := listPrompts(rctx, h.session())
	if sendErr := s.Messenger.SendPromptsListResult(ctx, prompts, err, h); sendErr != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "prompt list result dropped"}, log.KV{K: "server", V: s.Name})
	}
}

func (s *Service) refreshResources(ctx context.Context, h *Handle) {
	caps := s.capabilities(h)
	if caps == nil || caps.Resources == nil {
		return
	}
	session := h.session()
	rctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var resources []*mcp.Resource
	res, err := session.ListResources(rctx, &mcp.ListResourcesParams{})
	if err == nil {
		resources = res.Resources
	}
	if sendErr := s.Messenger.SendResourcesListResult(ctx, resources, err, h); sendErr != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "resource list result dropped"}, log.KV{K: "server", V: s.Name}, log.KV{K: "err", V: sendErr.Error()})
	}

	var templates []*mcp.ResourceTemplate
	tres, err := session.ListResourceTemplates(rctx, &mcp.ListResourceTemplatesParams{})
	if err == nil {
		templates = tres.ResourceTemplates
	}
	if sendErr := s.Messenger.SendResourceTemplatesListResult(ctx, templates, err, h); sendErr != nil {
		log.Debug(ctx, log.KV{K: "msg", V: "resource template list result dropped"}, log.KV{K: "server", V: s.Name}, log.KV{K: "err", V: sendErr.Error()})
	}
}

func listTools(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Tool, error) {
	var (
		tools  []*mcp.Tool
		cursor string
	)
	for {
		res, err := session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list tools: %w", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

func listPrompts(ctx context.Context, session *mcp.ClientSession) ([]*mcp.Prompt, error) {
	var (
		prompts []*mcp.Prompt
		cursor  string
	)
	for {
		res, err := session.ListPrompts(ctx, &mcp.ListPromptsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("list prompts: %w", err)
		}
		prompts = append(prompts, res.Prompts...)
		if res.NextCursor == "" {
			return prompts, nil
		}
		cursor = res.NextCursor
	}
}

// Handle is a connection that is either pending (handshake in flight) or
// ready. It is safe for concurrent use.
type Handle struct {
	name    string
	timeout time.Duration
	cancel  context.CancelFunc

	done   chan struct{}
	mu     sync.Mutex
	sess   *mcp.ClientSession
	err    error
	closed atomic.Bool
}

// Name returns the server name the handle was created for.
func (h *Handle) Name() string {
	return h.name
}

func (h *Handle) finish(session *mcp.ClientSession, err error) {
	h.mu.Lock()
	h.sess = session
	h.err = err
	h.mu.Unlock()
	if err != nil {
		h.closed.Store(true)
	}
	close(h.done)
}

func (h *Handle) session() *mcp.ClientSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sess
}

// Ready reports, without blocking, whether the handle can serve requests.
func (h *Handle) Ready() error {
	select {
	case <-h.done:
	default:
		return ErrPending
	}
	h.mu.Lock()
	err := h.err
	h.mu.Unlock()
	if err != nil {
		return err
	}
	if h.closed.Load() {
		return ErrTransportClosed
	}
	return nil
}

// Wait blocks until the handshake has finished or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Ready()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsTransportClosed reports whether the connection has ended.
func (h *Handle) IsTransportClosed() bool {
	return h.closed.Load()
}

// Cancel aborts a pending handshake or closes the session.
func (h *Handle) Cancel(ctx context.Context) error {
	h.cancel()
	session := h.session()
	if session == nil {
		return nil
	}
	h.closed.Store(true)
	if err := session.Close(); err != nil {
		return fmt.Errorf("close %s: %w", h.name, err)
	}
	return nil
}

// CallTool invokes a tool by the name the server gave it.
func (h *Handle) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error) {
	if err := h.Ready(); err != nil {
		return nil, err
	}
	var arguments any = map[string]any{}
	if len(args) > 0 && string(args) != "null" {
		arguments = args
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.session().CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: arguments})
}

// GetPrompt fetches a prompt by the name the server gave it.
func (h *Handle) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error) {
	if err := h.Ready(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.session().GetPrompt(ctx, &mcp.GetPromptParams{Name: name, Arguments: args})
}
