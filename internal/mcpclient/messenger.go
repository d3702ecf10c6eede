package mcpclient

import (
	"context"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrMessengerClosed is returned when the receiving side of a Messenger has gone away.
var ErrMessengerClosed = errors.New("messenger receiver closed")

// Peer reports on the liveness of the connection a result came from.
type Peer interface {
	IsTransportClosed() bool
}

// Messenger is how a connection reports protocol events to whoever owns the
// catalog. Every list result carries the peer it came from so the receiver
// can discard results from dead transports.
type Messenger interface {
	SendToolsListResult(ctx context.Context, tools []*mcp.Tool, err error, peer Peer) error
	SendPromptsListResult(ctx context.Context, prompts []*mcp.Prompt, err error, peer Peer) error
	SendResourcesListResult(ctx context.Context, resources []*mcp.Resource, err error, peer Peer) error
	SendResourceTemplatesListResult(ctx context.Context, templates []*mcp.ResourceTemplate, err error, peer Peer) error
	SendOauthLink(ctx context.Context, link string) error
	SendInitMsg(ctx context.Context) error
	// SendDeinitMsg is fire-and-forget; it is called while the connection is torn down.
	SendDeinitMsg()
	Duplicate() Messenger
}

// NullMessenger drops everything.
type NullMessenger struct{}

func (NullMessenger) SendToolsListResult(context.Context, []*mcp.Tool, error, Peer) error {
	return nil
}

func (NullMessenger) SendPromptsListResult(context.Context, []*mcp.Prompt, error, Peer) error {
	return nil
}

func (NullMessenger) SendResourcesListResult(context.Context, []*mcp.Resource, error, Peer) error {
	return nil
}

func (NullMessenger) SendResourceTemplatesListResult(context.Context, []*mcp.ResourceTemplate, error, Peer) error {
	return nil
}

func (NullMessenger) SendOauthLink(context.Context, string) error { return nil }
func (NullMessenger) SendInitMsg(context.Context) error           { return nil }
func (NullMessenger) SendDeinitMsg()                              {}
func (m NullMessenger) Duplicate() Messenger                      { return m }
