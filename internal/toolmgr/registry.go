package toolmgr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/mcpclient"
)

// evictTimeout bounds how long eviction waits for a pending handshake.
const evictTimeout = 5 * time.Second

// Connection is a live or pending link to one tool server.
type Connection interface {
	mcpclient.Peer
	// Ready returns nil when the connection can serve requests. It never blocks.
	Ready() error
	// Wait blocks until the handshake has finished.
	Wait(ctx context.Context) error
	Cancel(ctx context.Context) error
	CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.CallToolResult, error)
	GetPrompt(ctx context.Context, name string, args map[string]string) (*mcp.GetPromptResult, error)
}

// Connector opens connections. Connect must return promptly; the handshake
// itself is reported through m.
type Connector interface {
	Connect(ctx context.Context, name ServerName, cfg agent.ServerConfig, m mcpclient.Messenger) (Connection, error)
}

// MCPConnector connects over the Model Context Protocol.
type MCPConnector struct {
	HTTPClient *http.Client
}

func (c MCPConnector) Connect(ctx context.Context, name ServerName, cfg agent.ServerConfig, m mcpclient.Messenger) (Connection, error) {
	svc := mcpclient.NewService(name, cfg, m)
	svc.HTTPClient = c.HTTPClient
	h, err := svc.Init(ctx)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// clientRegistry owns every connection and the set of servers still loading.
type clientRegistry struct {
	mu      sync.Mutex
	clients map[ServerName]Connection

	pendingMu sync.RWMutex
	pending   map[ServerName]struct{}
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{
		clients: make(map[ServerName]Connection),
		pending: make(map[ServerName]struct{}),
	}
}

// BeginInit marks server as loading.
func (r *clientRegistry) BeginInit(server ServerName) {
	r.pendingMu.Lock()
	r.pending[server] = struct{}{}
	r.pendingMu.Unlock()
}

// Complete marks server as done loading, successfully or not.
func (r *clientRegistry) Complete(server ServerName) {
	r.pendingMu.Lock()
	delete(r.pending, server)
	r.pendingMu.Unlock()
}

func (r *clientRegistry) resetPending(servers []ServerName) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending = make(map[ServerName]struct{}, len(servers))
	for _, s := range servers {
		r.pending[s] = struct{}{}
	}
}

// Pending returns the servers still loading, sorted.
func (r *clientRegistry) Pending() []ServerName {
	r.pendingMu.RLock()
	defer r.pendingMu.RUnlock()
	out := make([]ServerName, 0, len(r.pending))
	for s := range r.pending {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// InsertReady stores c under name, appending "1" until the name is free.
// It returns the name actually used.
func (r *clientRegistry) InsertReady(name ServerName, c Connection) ServerName {
	r.mu.Lock()
	defer r.mu.Unlock()
	for {
		if _, taken := r.clients[name]; !taken {
			break
		}
		name += "1"
	}
	r.clients[name] = c
	return name
}

func (r *clientRegistry) Get(name ServerName) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[name]
	return c, ok
}

func (r *clientRegistry) Names() []ServerName {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ServerName, 0, len(r.clients))
	for name := range r.clients {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *clientRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Evict empties the registry and shuts every connection down in the
// background. Pending handshakes get up to evictTimeout to finish before they
// are cancelled. Failures are only logged. The returned channel closes once
// every connection has been dealt with.
func (r *clientRegistry) Evict(ctx context.Context) <-chan struct{} {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[ServerName]Connection)
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	for name, c := range clients {
		wg.Add(1)
		go func(name ServerName, c Connection) {
			defer wg.Done()
			if errors.Is(c.Ready(), mcpclient.ErrPending) {
				wctx, cancel := context.WithTimeout(ctx, evictTimeout)
				_ = c.Wait(wctx)
				cancel()
			}
			if err := c.Cancel(ctx); err != nil {
				log.Warn(ctx, log.KV{K: "msg", V: "failed to close server"}, log.KV{K: "server", V: name}, log.KV{K: "err", V: err.Error()})
				return
			}
			log.Info(ctx, log.KV{K: "msg", V: "evicted due to agent swap"}, log.KV{K: "server", V: name})
		}(name, c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}
