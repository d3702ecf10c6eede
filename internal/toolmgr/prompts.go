package toolmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	// ErrMissingPromptName is returned when a prompt reference has no name.
	ErrMissingPromptName = errors.New("prompt name is missing")
	// ErrMissingClient is returned when the server of a prompt is gone.
	ErrMissingClient = errors.New("no client found for the prompt's server")
	// ErrMissingChannel is returned once the manager has been closed.
	ErrMissingChannel = errors.New("prompt query channel is closed")
)

// AmbiguousPromptError is returned when several servers offer a prompt and
// the reference did not say which one.
type AmbiguousPromptError struct {
	Name    string
	Servers []ServerName
}

func (e *AmbiguousPromptError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "prompt %s is offered by more than one server. Use one of the following:", e.Name)
	for _, s := range e.Servers {
		fmt.Fprintf(&b, "\n- @%s/%s", s, e.Name)
	}
	return b.String()
}

// PromptNotFoundError is returned when no server offers the prompt.
type PromptNotFoundError struct {
	Name string
}

func (e *PromptNotFoundError) Error() string {
	return fmt.Sprintf("prompt %s is not found", e.Name)
}

// ListPrompts returns every known prompt with the servers offering it.
func (m *Manager) ListPrompts(ctx context.Context) (map[string][]PromptBundle, error) {
	reply, err := m.sess.orch.query(ctx, promptQuery{})
	if err != nil {
		return nil, err
	}
	return reply.prompts, nil
}

// SearchPrompts returns the sorted prompt names containing substr. Names
// offered by several servers are listed once per server as server/name.
func (m *Manager) SearchPrompts(ctx context.Context, substr string) ([]string, error) {
	reply, err := m.sess.orch.query(ctx, promptQuery{search: true, substr: substr})
	if err != nil {
		return nil, err
	}
	return reply.names, nil
}

// GetPrompt fetches a prompt by "name" or "server/name". Positional args are
// matched to the prompt's declared arguments in order.
func (m *Manager) GetPrompt(ctx context.Context, ref string, args []string) (*mcp.GetPromptResult, error) {
	server, name, qualified := strings.Cut(ref, serverToolDelimiter)
	if !qualified {
		server, name = "", ref
	}
	if name == "" {
		return nil, ErrMissingPromptName
	}

	prompts, err := m.ListPrompts(ctx)
	if err != nil {
		return nil, err
	}
	bundles := prompts[name]
	if len(bundles) == 0 {
		return nil, &PromptNotFoundError{Name: ref}
	}

	bundle, err := choosePrompt(name, server, bundles)
	if err != nil {
		return nil, err
	}
	conn, ok := m.sess.registry.Get(bundle.ServerName)
	if !ok {
		return nil, ErrMissingClient
	}

	var arguments map[string]string
	if len(args) > 0 {
		arguments = make(map[string]string, len(args))
		for i, a := range bundle.Prompt.Arguments {
			if i >= len(args) {
				break
			}
			arguments[a.Name] = args[i]
		}
	}
	res, err := conn.GetPrompt(ctx, name, arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to get prompt %s from %s: %w", name, bundle.ServerName, err)
	}
	return res, nil
}

func choosePrompt(name string, server ServerName, bundles []PromptBundle) (PromptBundle, error) {
	if server != "" {
		for _, b := range bundles {
			if b.ServerName == server {
				return b, nil
			}
		}
	}
	if len(bundles) > 1 {
		servers := make([]ServerName, 0, len(bundles))
		for _, b := range bundles {
			servers = append(servers, b.ServerName)
		}
		return PromptBundle{}, &AmbiguousPromptError{Name: name, Servers: servers}
	}
	if server != "" {
		return PromptBundle{}, &PromptNotFoundError{Name: server + serverToolDelimiter + name}
	}
	return bundles[0], nil
}
