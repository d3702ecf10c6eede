package toolmgr

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
	"github.com/ChamsBouzaiene/toolhub/internal/mcpclient"
	"github.com/ChamsBouzaiene/toolhub/internal/progress"
)

// eventQueueSize is the capacity of the channel connections post into.
const eventQueueSize = 20

// event is something the orchestrator reacts to. Every event belongs to a
// build generation; events from an earlier generation are dropped.
type event interface {
	generation() uint64
}

type eventHeader struct {
	gen    uint64
	server ServerName
}

func (h eventHeader) generation() uint64 { return h.gen }

type initStartEvent struct {
	eventHeader
}

type listToolsEvent struct {
	eventHeader
	tools []*mcp.Tool
	err   error
	peer  mcpclient.Peer
}

type listPromptsEvent struct {
	eventHeader
	prompts []*mcp.Prompt
	err     error
	peer    mcpclient.Peer
}

type listResourcesEvent struct {
	eventHeader
	count int
	err   error
}

type listResourceTemplatesEvent struct {
	eventHeader
	count int
	err   error
}

type oauthLinkEvent struct {
	eventHeader
	link string
}

type deinitEvent struct {
	eventHeader
}

// generationStart opens a new build generation. The orchestrator resets its
// per-generation state and closes converged once total servers have reported.
type generationStart struct {
	gen       uint64
	total     int
	agent     *agent.Agent
	reporter  *progress.Reporter
	converged chan struct{}
}

func (g generationStart) generation() uint64 { return g.gen }

// serverMessenger is the Messenger handed to one connection. It tags every
// event with the server name and the generation it was built in.
type serverMessenger struct {
	header eventHeader
	events chan<- event
	done   <-chan struct{}
}

var _ mcpclient.Messenger = (*serverMessenger)(nil)

func (m *serverMessenger) send(ctx context.Context, ev event) error {
	select {
	case m.events <- ev:
		return nil
	case <-m.done:
		return mcpclient.ErrMessengerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *serverMessenger) SendToolsListResult(ctx context.Context, tools []*mcp.Tool, err error, peer mcpclient.Peer) error {
	return m.send(ctx, listToolsEvent{eventHeader: m.header, tools: tools, err: err, peer: peer})
}

func (m *serverMessenger) SendPromptsListResult(ctx context.Context, prompts []*mcp.Prompt, err error, peer mcpclient.Peer) error {
	return m.send(ctx, listPromptsEvent{eventHeader: m.header, prompts: prompts, err: err, peer: peer})
}

func (m *serverMessenger) SendResourcesListResult(ctx context.Context, resources []*mcp.Resource, err error, _ mcpclient.Peer) error {
	return m.send(ctx, listResourcesEvent{eventHeader: m.header, count: len(resources), err: err})
}

func (m *serverMessenger) SendResourceTemplatesListResult(ctx context.Context, templates []*mcp.ResourceTemplate, err error, _ mcpclient.Peer) error {
	return m.send(ctx, listResourceTemplatesEvent{eventHeader: m.header, count: len(templates), err: err})
}

func (m *serverMessenger) SendOauthLink(ctx context.Context, link string) error {
	return m.send(ctx, oauthLinkEvent{eventHeader: m.header, link: link})
}

func (m *serverMessenger) SendInitMsg(ctx context.Context) error {
	return m.send(ctx, initStartEvent{eventHeader: m.header})
}

func (m *serverMessenger) SendDeinitMsg() {
	_ = m.send(context.Background(), deinitEvent{eventHeader: m.header})
}

func (m *serverMessenger) Duplicate() mcpclient.Messenger {
	dup := *m
	return &dup
}

// promptQuery asks the orchestrator for its prompt cache. With search set,
// the reply carries sorted names; otherwise a deep copy of the cache.
type promptQuery struct {
	search bool
	substr string
	reply  chan promptReply
}

type promptReply struct {
	prompts map[string][]PromptBundle
	names   []string
}
