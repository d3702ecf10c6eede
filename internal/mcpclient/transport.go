package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"goa.design/clue/log"

	"github.com/ChamsBouzaiene/toolhub/internal/agent"
)

var resourceMetadataRe = regexp.MustCompile(`resource_metadata="([^"]+)"`)

// newTransport builds the go-sdk transport for cfg. Remote transports get an
// HTTP client that adds the configured headers and reports sign-in requests.
func newTransport(ctx context.Context, cfg agent.ServerConfig, base *http.Client, m Messenger) (mcp.Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Transport() {
	case agent.TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = os.Environ()
		for k, v := range cfg.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcp.CommandTransport{Command: cmd}, nil

	case agent.TransportSSE:
		return &mcp.SSEClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: remoteClient(ctx, cfg, base, m),
		}, nil

	case agent.TransportHTTP:
		return &mcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: remoteClient(ctx, cfg, base, m),
		}, nil
	}
	return nil, fmt.Errorf("unsupported transport %q", cfg.Type)
}

func remoteClient(ctx context.Context, cfg agent.ServerConfig, base *http.Client, m Messenger) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	next := base.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	c := *base
	c.Transport = &authTransport{
		ctx:       ctx,
		next:      next,
		headers:   cfg.Headers,
		endpoint:  cfg.URL,
		messenger: m,
	}
	return &c
}

// authTransport injects static headers and turns the first 401 challenge
// into an OAuth sign-in link for the user.
type authTransport struct {
	ctx       context.Context
	next      http.RoundTripper
	headers   map[string]string
	endpoint  string
	messenger Messenger
	once      sync.Once
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		if challenge := resp.Header.Get("WWW-Authenticate"); challenge != "" {
			t.once.Do(func() {
				link := signInLink(challenge, t.endpoint)
				if err := t.messenger.SendOauthLink(t.ctx, link); err != nil {
					log.Debug(t.ctx, log.KV{K: "msg", V: "dropped oauth link"}, log.KV{K: "err", V: err.Error()})
				}
			})
		}
	}
	return resp, nil
}

// signInLink prefers the protected resource metadata URL from the challenge.
func signInLink(challenge, endpoint string) string {
	if m := resourceMetadataRe.FindStringSubmatch(challenge); m != nil {
		return m[1]
	}
	return endpoint
}
