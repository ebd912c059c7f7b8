// Package router implements the tool router (C3): forwarding a single tool
// call to a downstream MCP server over its configured transport, resolving
// effective auth headers from the gateway's auth mode, and caching tool
// schemas advisorily across calls.
package router

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rupinder2/mcp-gateway/internal/gwerrors"
	"github.com/rupinder2/mcp-gateway/internal/model"
	"github.com/rupinder2/mcp-gateway/internal/observe"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultCacheTTL = 5 * time.Minute
	maxCacheEntries = 1000
)

// AuthMode selects how the router decides whether to forward a client's auth
// header to a downstream server, or use the server's registered static
// headers instead.
type AuthMode string

const (
	AuthModeAuto   AuthMode = "auto"
	AuthModeStatic AuthMode = "static"
	AuthModeForward AuthMode = "forward"
)

// Router forwards tool calls to downstream MCP servers.
//
// A Router opens exactly one client session per call, under a single hard
// timeout that tears the session down (closing the subprocess, HTTP
// connection, or SSE stream) if exceeded. Sessions are never pooled or kept
// alive across calls: downstream servers are treated as unreliable and
// started fresh on every [Router.CallTool].
type Router struct {
	timeout          time.Duration
	gatewayAuthMode  AuthMode
	gatewayTransport model.Transport

	cacheMu   sync.Mutex
	cacheTTL  time.Duration
	cache     map[string]cacheEntry
}

type cacheEntry struct {
	schema    any
	expiresAt time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithTimeout overrides the default 30s per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) { r.timeout = d }
}

// WithCacheTTL overrides the default 5 minute schema cache TTL.
func WithCacheTTL(d time.Duration) Option {
	return func(r *Router) { r.cacheTTL = d }
}

// New creates a Router. gatewayAuthMode and gatewayTransport describe how
// *this* gateway process is configured, and drive auth-forwarding decisions
// in "auto" mode.
func New(gatewayAuthMode AuthMode, gatewayTransport model.Transport, opts ...Option) *Router {
	r := &Router{
		timeout:          defaultTimeout,
		gatewayAuthMode:  gatewayAuthMode,
		gatewayTransport: gatewayTransport,
		cacheTTL:         defaultCacheTTL,
		cache:            make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// shouldForwardAuth decides, for a call against a server reached over
// serverTransport, whether the client's own auth header should be forwarded
// rather than the server's registered static headers used.
func (r *Router) shouldForwardAuth(serverTransport model.Transport) bool {
	switch r.gatewayAuthMode {
	case AuthModeStatic:
		return false
	case AuthModeForward:
		return true
	default: // auto
		// A gateway reachable over HTTP is assumed to sit behind the same
		// auth boundary as its clients, so the client's header is safe to
		// forward. A stdio/SSE gateway has no such boundary and falls back
		// to the server's own static credentials.
		return r.gatewayTransport == model.TransportHTTP
	}
}

// effectiveAuthHeaders resolves the header map to attach to the downstream
// request, given the server's registered static auth (may be nil) and the
// header the client supplied on its own incoming request (may be empty).
func (r *Router) effectiveAuthHeaders(serverAuth *model.AuthConfig, clientAuthHeader string, serverTransport model.Transport) map[string]string {
	if r.shouldForwardAuth(serverTransport) && clientAuthHeader != "" {
		return map[string]string{"Authorization": clientAuthHeader}
	}
	if serverAuth != nil && len(serverAuth.Headers) > 0 {
		return serverAuth.Headers
	}
	return nil
}

// CallTool forwards a single call of toolName to server, resolving the
// effective auth headers from clientAuthHeader and auth (the server's
// registered auth config, or nil), and returns the downstream tool result
// (content joined as text plus the result's error flag).
//
// CallTool opens and tears down one client session per invocation, bounded
// by the Router's configured timeout; on timeout the session is closed and
// [gwerrors.ErrTimeout] is returned.
func (r *Router) CallTool(ctx context.Context, clientAuthHeader string, server model.ServerRecord, auth *model.AuthConfig, toolName string, arguments map[string]any) (*ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	status := "error"
	defer func() {
		observe.DefaultMetrics().RecordToolCall(context.Background(), server.Name, status, time.Since(start).Seconds())
	}()

	headers := r.effectiveAuthHeaders(auth, clientAuthHeader, server.Transport)

	transport, cleanup, err := r.buildTransport(ctx, server, headers)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "mcp-gateway-router", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, gwerrors.Wrap(gwerrors.ErrTimeout, fmt.Sprintf("connecting to server %q", server.Name), err)
		}
		return nil, gwerrors.Wrap(gwerrors.ErrTransport, fmt.Sprintf("connecting to server %q", server.Name), err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{Name: toolName, Arguments: arguments})
	if err != nil {
		if ctx.Err() != nil {
			return nil, gwerrors.Wrap(gwerrors.ErrTimeout, fmt.Sprintf("calling tool %q on server %q", toolName, server.Name), err)
		}
		return nil, gwerrors.Wrap(gwerrors.ErrTransport, fmt.Sprintf("calling tool %q on server %q", toolName, server.Name), err)
	}

	status = "success"
	return toToolResult(result), nil
}

// ToolResult is the router's normalized view of a downstream call_tool
// response: concatenated text content plus the application-level error
// flag. A non-nil ToolResult with IsError true is a normal return, not a Go
// error — callers translate the application error themselves.
type ToolResult struct {
	Text    string
	IsError bool
}

func toToolResult(res *mcpsdk.CallToolResult) *ToolResult {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return &ToolResult{Text: sb.String(), IsError: res.IsError}
}

// buildTransport constructs the SDK transport for server, returning a
// cleanup func that releases any resources the transport itself doesn't
// close (currently a no-op for all three transports; kept for symmetry and
// future use, e.g. a stdio transport that needs to kill a stuck process).
func (r *Router) buildTransport(ctx context.Context, server model.ServerRecord, headers map[string]string) (mcpsdk.Transport, func(), error) {
	noop := func() {}

	switch server.Transport {
	case model.TransportHTTP:
		if !strings.HasPrefix(server.URL, "http://") && !strings.HasPrefix(server.URL, "https://") {
			return nil, noop, gwerrors.Newf(gwerrors.ErrInvalidInput, "invalid HTTP URL for server %q: %q", server.Name, server.URL)
		}
		return &mcpsdk.StreamableClientTransport{
			Endpoint:   server.URL,
			HTTPClient: headerInjectingClient(headers),
		}, noop, nil

	case model.TransportSSE:
		if !strings.HasPrefix(server.URL, "http://") && !strings.HasPrefix(server.URL, "https://") {
			return nil, noop, gwerrors.Newf(gwerrors.ErrInvalidInput, "invalid SSE URL for server %q: %q", server.Name, server.URL)
		}
		return &mcpsdk.SSEClientTransport{
			Endpoint:   server.URL,
			HTTPClient: headerInjectingClient(headers),
		}, noop, nil

	case model.TransportStdio:
		command := server.Command
		if command == "" {
			command = server.URL
		}
		if command == "" {
			return nil, noop, gwerrors.Newf(gwerrors.ErrInvalidInput, "stdio server %q requires a command", server.Name)
		}
		cmd := exec.CommandContext(ctx, command, server.Args...)
		for k, v := range server.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
		return &mcpsdk.CommandTransport{Command: cmd}, noop, nil

	default:
		return nil, noop, gwerrors.Newf(gwerrors.ErrInvalidInput, "unsupported transport %q for server %q", server.Transport, server.Name)
	}
}

// headerInjectingClient returns an *http.Client that sets headers on every
// outgoing request, or http.DefaultClient when there are no headers to add.
func headerInjectingClient(headers map[string]string) *http.Client {
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

// CacheSchema stores schema under the namespaced (serverName, toolName) key,
// advisory only: nothing in the router consults the cache on its own, a
// caller must explicitly read it back via [Router.GetCachedSchema].
func (r *Router) CacheSchema(serverName, toolName string, schema any) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if len(r.cache) >= maxCacheEntries {
		r.evictExpiredLocked()
	}
	key := model.NamespacedName(serverName, toolName)
	r.cache[key] = cacheEntry{schema: schema, expiresAt: time.Now().Add(r.cacheTTL)}
}

// GetCachedSchema returns the cached schema for (serverName, toolName), or
// nil if absent or expired.
func (r *Router) GetCachedSchema(serverName, toolName string) any {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	key := model.NamespacedName(serverName, toolName)
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(r.cache, key)
		return nil
	}
	return entry.schema
}

// ClearCache empties the schema cache.
func (r *Router) ClearCache() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()
	r.cache = make(map[string]cacheEntry)
}

// evictExpiredLocked drops every expired entry and, if the cache is still
// full, the live entry closest to expiry. Called with cacheMu held, only when
// the cache has hit its size bound, to make room for new entries without
// growing past maxCacheEntries.
func (r *Router) evictExpiredLocked() {
	now := time.Now()
	var oldestKey string
	var oldest time.Time
	for k, e := range r.cache {
		if now.After(e.expiresAt) {
			delete(r.cache, k)
			continue
		}
		if oldestKey == "" || e.expiresAt.Before(oldest) {
			oldestKey, oldest = k, e.expiresAt
		}
	}
	if len(r.cache) >= maxCacheEntries && oldestKey != "" {
		delete(r.cache, oldestKey)
	}
}
