// Package discovery implements tool discovery (C4): opening a transient
// session against a downstream MCP server, listing its tools, and closing
// the session again. Discovery shares the router's transport and timeout
// rules but never calls a tool — it only lists them.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rupinder2/mcp-gateway/internal/gwerrors"
	"github.com/rupinder2/mcp-gateway/internal/model"
)

const defaultTimeout = 30 * time.Second

// Discoverer lists the tools exposed by a downstream MCP server.
type Discoverer struct {
	timeout time.Duration
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithTimeout overrides the default 30s discovery timeout.
func WithTimeout(d time.Duration) Option {
	return func(dc *Discoverer) { dc.timeout = d }
}

// New creates a Discoverer.
func New(opts ...Option) *Discoverer {
	d := &Discoverer{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ListTools connects to server, runs initialize + list_tools, and closes the
// session. An empty tool list is a successful, non-error result. Connection
// or protocol failures are wrapped as [gwerrors.ErrTransport];
// deadline-exceeded failures are wrapped distinctly as [gwerrors.ErrTimeout]
// so bootstrap callers can tell the two apart.
func (d *Discoverer) ListTools(ctx context.Context, server model.ServerRecord, headers map[string]string) ([]model.ToolDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	transport, err := buildTransport(ctx, server, headers)
	if err != nil {
		return nil, err
	}

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcp-gateway-discovery", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gwerrors.Wrap(gwerrors.ErrTimeout, fmt.Sprintf("connecting to server %q", server.Name), err)
		}
		return nil, gwerrors.Wrap(gwerrors.ErrTransport, fmt.Sprintf("connecting to server %q", server.Name), err)
	}
	defer session.Close()

	var tools []model.ToolDescriptor
	for tool, err := range session.Tools(ctx, nil) {
		if err != nil {
			if ctx.Err() != nil {
				return nil, gwerrors.Wrap(gwerrors.ErrTimeout, fmt.Sprintf("listing tools for server %q", server.Name), err)
			}
			return nil, gwerrors.Wrap(gwerrors.ErrTransport, fmt.Sprintf("listing tools for server %q", server.Name), err)
		}
		tools = append(tools, toDescriptor(tool))
	}
	if tools == nil {
		tools = []model.ToolDescriptor{}
	}
	return tools, nil
}

func toDescriptor(tool *mcpsdk.Tool) model.ToolDescriptor {
	desc := model.ToolDescriptor{
		Name:        tool.Name,
		Description: tool.Description,
	}
	if tool.InputSchema != nil {
		if raw, err := json.Marshal(tool.InputSchema); err == nil {
			desc.InputSchema = raw
		}
	}
	return desc
}

// buildTransport mirrors router.buildTransport's transport-selection rules:
// http/sse require an http(s) URL, stdio falls back to URL as the command
// when Command is unset, and any other transport value is rejected.
func buildTransport(ctx context.Context, server model.ServerRecord, headers map[string]string) (mcpsdk.Transport, error) {
	switch server.Transport {
	case model.TransportHTTP:
		if !strings.HasPrefix(server.URL, "http://") && !strings.HasPrefix(server.URL, "https://") {
			return nil, gwerrors.Newf(gwerrors.ErrInvalidInput, "invalid HTTP URL for server %q: %q", server.Name, server.URL)
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: server.URL, HTTPClient: headerClient(headers)}, nil

	case model.TransportSSE:
		if !strings.HasPrefix(server.URL, "http://") && !strings.HasPrefix(server.URL, "https://") {
			return nil, gwerrors.Newf(gwerrors.ErrInvalidInput, "invalid SSE URL for server %q: %q", server.Name, server.URL)
		}
		return &mcpsdk.SSEClientTransport{Endpoint: server.URL, HTTPClient: headerClient(headers)}, nil

	case model.TransportStdio:
		command := server.Command
		if command == "" {
			command = server.URL
		}
		if command == "" {
			return nil, gwerrors.Newf(gwerrors.ErrInvalidInput, "stdio server %q requires a command", server.Name)
		}
		cmd := exec.CommandContext(ctx, command, server.Args...)
		for k, v := range server.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, nil

	default:
		return nil, gwerrors.Newf(gwerrors.ErrInvalidInput, "unsupported transport %q for server %q", server.Transport, server.Name)
	}
}

func headerClient(headers map[string]string) *http.Client {
	if len(headers) == 0 {
		return http.DefaultClient
	}
	return &http.Client{Transport: &headerRoundTripper{base: http.DefaultTransport, headers: headers}}
}

type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}
