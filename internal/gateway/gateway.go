// Package gateway implements the gateway core (C6): the two gateway-owned
// MCP tools, tool_search and call_remote_tool, plus deferred activation of
// downstream tools into the outer MCP server on first appearance in a search
// result.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rupinder2/mcp-gateway/internal/gwerrors"
	"github.com/rupinder2/mcp-gateway/internal/model"
	"github.com/rupinder2/mcp-gateway/internal/observe"
	"github.com/rupinder2/mcp-gateway/internal/registry"
	"github.com/rupinder2/mcp-gateway/internal/router"
	"github.com/rupinder2/mcp-gateway/internal/search"
)

const (
	defaultMaxResults = 3
	minMaxResults      = 1
	maxMaxResults      = 10
	maxQueryLength     = 200
)

// Gateway owns tool_search, call_remote_tool, and the deferred activation of
// downstream tools onto the outer MCP server.
type Gateway struct {
	server   *mcpsdk.Server
	registry *registry.Registry
	router   *router.Router
	index    *search.Index

	activeMu sync.Mutex
	active   map[string]struct{}
}

// New creates a Gateway. server is the outer MCP server that tool_search,
// call_remote_tool, and every deferred-activated downstream tool are
// registered against.
func New(server *mcpsdk.Server, reg *registry.Registry, rt *router.Router, idx *search.Index) *Gateway {
	return &Gateway{
		server:   server,
		registry: reg,
		router:   rt,
		index:    idx,
		active:   make(map[string]struct{}),
	}
}

// RegisterCoreTools exposes tool_search and call_remote_tool on the outer
// server. Call once during startup, before serving any requests.
func (g *Gateway) RegisterCoreTools() {
	g.server.AddTool(&mcpsdk.Tool{
		Name: "tool_search",
		Description: "Search the catalog of downstream tools by keyword relevance " +
			"or, with use_regex, by regular expression. Matching tools are " +
			"activated and become directly callable under their namespaced names.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "Search text: keywords for ranked search, or a regular expression when use_regex is true.",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of results to return. Clamped to [1, 10]; default 3.",
				},
				"use_regex": {
					Type:        "boolean",
					Description: "Treat query as a case-insensitive regular expression instead of ranking keywords.",
				},
			},
			Required: []string{"query"},
		},
	}, g.handleToolSearch)

	g.server.AddTool(&mcpsdk.Tool{
		Name:        "call_remote_tool",
		Description: "Invoke a namespaced downstream tool (server__tool) directly, forwarding arguments and an optional auth header to its owning server.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"tool_name": {
					Type:        "string",
					Description: "Namespaced tool name, e.g. weatherco__get_weather.",
				},
				"arguments": {
					Type:        "object",
					Description: "Arguments to pass to the downstream tool.",
				},
				"auth_header": {
					Type:        "string",
					Description: "Explicit Authorization header value to forward for this call, overriding the server's registered static headers.",
				},
			},
			Required: []string{"tool_name"},
		},
	}, g.handleCallRemoteTool)
}

// handleToolSearch implements tool_search: clamp max_results, reject
// oversized queries, delegate to the search index, activate every match, and
// report the match set.
func (g *Gateway) handleToolSearch(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args := req.Params.Arguments

	query, _ := args["query"].(string)
	useRegex, _ := args["use_regex"].(bool)

	searchType := "bm25"
	if useRegex {
		searchType = "regex"
	}

	start := time.Now()
	status := "error"
	defer func() {
		observe.DefaultMetrics().RecordSearch(ctx, searchType, status, time.Since(start).Seconds())
	}()

	maxResults := defaultMaxResults
	if raw, ok := args["max_results"]; ok {
		if n, ok := toInt(raw); ok {
			maxResults = n
		}
	}
	if maxResults < minMaxResults {
		maxResults = minMaxResults
	}
	if maxResults > maxMaxResults {
		maxResults = maxMaxResults
	}

	if len(query) > maxQueryLength {
		return jsonResult(map[string]any{"success": false, "error_code": "query_too_long"}), nil
	}

	matches, err := g.index.Search(query, maxResults, useRegex)
	if err != nil {
		code := "unavailable"
		if errors.Is(err, search.ErrInvalidPattern) {
			code = "invalid_pattern"
		}
		return jsonResult(map[string]any{"success": false, "error_code": code}), nil
	}

	status = "success"
	toolRefs := make([]map[string]any, 0, len(matches))
	tools := make([]map[string]any, 0, len(matches))
	for _, t := range matches {
		g.activate(ctx, t.NamespacedName)
		toolRefs = append(toolRefs, map[string]any{"type": "tool_reference", "tool_name": t.NamespacedName})
		tools = append(tools, map[string]any{
			"type":         "tool_reference",
			"tool_name":    t.NamespacedName,
			"description":  t.Description,
			"input_schema": rawOrNil(t.InputSchema),
		})
	}

	return jsonResult(map[string]any{
		"success":         true,
		"tool_references": toolRefs,
		"tools":           tools,
		"total_matches":   len(matches),
		"query":           query,
		"search_type":     searchType,
	}), nil
}

// handleCallRemoteTool implements call_remote_tool: validate the namespaced
// name, look up the owning server, resolve effective auth, and forward
// through the router.
func (g *Gateway) handleCallRemoteTool(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
	args := req.Params.Arguments

	toolName, _ := args["tool_name"].(string)
	authHeader, _ := args["auth_header"].(string)
	arguments, _ := args["arguments"].(map[string]any)

	serverName, actualTool, ok := model.SplitNamespacedName(toolName)
	if !ok || serverName == "" || actualTool == "" {
		return jsonResult(map[string]any{
			"success":    false,
			"error_code": "invalid_input",
			"error":      fmt.Sprintf("tool_name %q is missing the \"__\" server separator", toolName),
		}), nil
	}

	return g.callRemote(ctx, serverName, actualTool, arguments, authHeader)
}

// callRemote looks up serverName's record and auth config, and forwards the
// call through the router. Shared by handleCallRemoteTool and the handlers
// deferred activation builds for downstream tools (which have no explicit
// client auth header).
func (g *Gateway) callRemote(ctx context.Context, serverName, toolName string, arguments map[string]any, clientAuthHeader string) (*mcpsdk.CallToolResult, error) {
	server, err := g.registry.Get(ctx, serverName)
	if err != nil {
		return jsonResult(errorPayload(err)), nil
	}
	if server == nil {
		return jsonResult(map[string]any{
			"success":    false,
			"error_code": "not_found",
			"error":      fmt.Sprintf("unknown server %q", serverName),
		}), nil
	}

	auth, err := g.registry.GetAuthConfig(ctx, serverName)
	if err != nil {
		return jsonResult(errorPayload(err)), nil
	}

	result, err := g.router.CallTool(ctx, clientAuthHeader, *server, auth, toolName, arguments)
	if err != nil {
		return jsonResult(errorPayload(err)), nil
	}

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: result.Text}},
		IsError: result.IsError,
	}, nil
}

// Activate promotes namespacedName to a live, invocable tool on the outer
// server, exactly like the deferred activation search triggers. Exported for
// the bootstrap loader's eager expose_tools path.
func (g *Gateway) Activate(ctx context.Context, namespacedName string) {
	g.activate(ctx, namespacedName)
}

// activate promotes namespacedName to a live, invocable tool on the outer
// server, if it isn't already active. Idempotent and safe for concurrent
// callers: the active_tools set is reserved under lock before the
// (potentially slow) metadata fetch, so two concurrent activations of the
// same tool never both register it.
func (g *Gateway) activate(ctx context.Context, namespacedName string) {
	g.activeMu.Lock()
	if _, already := g.active[namespacedName]; already {
		g.activeMu.Unlock()
		return
	}
	g.active[namespacedName] = struct{}{}
	g.activeMu.Unlock()

	if !g.tryActivate(ctx, namespacedName) {
		g.activeMu.Lock()
		delete(g.active, namespacedName)
		g.activeMu.Unlock()
	}
}

// tryActivate does the actual work of building and registering a dynamic
// tool. Returns false (leaving namespacedName unreserved) on any failure, so
// a later search can retry once the underlying condition clears.
func (g *Gateway) tryActivate(ctx context.Context, namespacedName string) bool {
	serverName, toolName, ok := model.SplitNamespacedName(namespacedName)
	if !ok || serverName == "" || toolName == "" {
		slog.Warn("deferred activation: malformed namespaced tool name", "name", namespacedName)
		return false
	}

	meta, err := g.registry.GetToolMetadata(ctx, namespacedName)
	if err != nil {
		slog.Warn("deferred activation: metadata lookup failed", "tool", namespacedName, "error", err)
		return false
	}
	if meta == nil {
		slog.Warn("deferred activation: no stored metadata, skipping", "tool", namespacedName)
		return false
	}

	tool, handler, err := g.buildDynamicTool(*meta)
	if err != nil {
		slog.Warn("deferred activation: could not build tool", "tool", namespacedName, "error", err)
		return false
	}

	g.server.AddTool(tool, handler)

	metrics := observe.DefaultMetrics()
	metrics.RecordToolActivation(ctx, namespacedName)
	metrics.ActiveTools.Add(ctx, 1)

	return true
}

// inputSchemaProperty is the subset of a JSON Schema property this package
// reads when building a dynamic tool's signature.
type inputSchemaProperty struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// buildDynamicTool builds the mcp.Tool and handler for a stored tool's
// metadata: one keyword parameter per input_schema property, typed per the
// JSON-schema-to-parameter-kind mapping. The handler rejects a call that
// lacks any of the schema's required properties with invalid_input, and
// otherwise forwards the arguments it receives verbatim to the router.
func (g *Gateway) buildDynamicTool(meta model.ToolMetadata) (*mcpsdk.Tool, mcpsdk.ToolHandler, error) {
	schema := &jsonschema.Schema{Type: "object"}

	if len(meta.InputSchema) > 0 {
		var parsed struct {
			Properties map[string]inputSchemaProperty `json:"properties"`
			Required   []string                        `json:"required"`
		}
		if err := json.Unmarshal(meta.InputSchema, &parsed); err != nil {
			return nil, nil, fmt.Errorf("parsing input schema for %q: %w", meta.NamespacedName, err)
		}

		props := make(map[string]*jsonschema.Schema, len(parsed.Properties))
		for name, p := range parsed.Properties {
			kind := parameterKind(p.Type)
			desc := p.Description
			if desc == "" {
				desc = fmt.Sprintf("%s parameter (%s)", name, kind)
			}
			props[name] = &jsonschema.Schema{Type: p.Type, Description: desc}
		}
		schema.Properties = props
		schema.Required = parsed.Required
	}

	tool := &mcpsdk.Tool{
		Name:        meta.NamespacedName,
		Description: meta.Description,
		InputSchema: schema,
	}

	serverName, toolName, _ := model.SplitNamespacedName(meta.NamespacedName)
	required := schema.Required
	handler := func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		for _, name := range required {
			if _, ok := req.Params.Arguments[name]; !ok {
				return jsonResult(map[string]any{
					"success":    false,
					"error_code": "invalid_input",
					"error":      fmt.Sprintf("missing required argument %q for %s", name, meta.NamespacedName),
				}), nil
			}
		}
		return g.callRemote(ctx, serverName, toolName, req.Params.Arguments, "")
	}

	return tool, handler, nil
}

// parameterKind maps a JSON Schema property type to the gateway's own
// parameter-kind vocabulary: string→text, number→real, integer→integer,
// boolean→bool, array→sequence, object→mapping. Unknown or absent types map
// to text, the permissive default.
func parameterKind(jsonType string) string {
	switch jsonType {
	case "string":
		return "text"
	case "number":
		return "real"
	case "integer":
		return "integer"
	case "boolean":
		return "bool"
	case "array":
		return "sequence"
	case "object":
		return "mapping"
	default:
		return "text"
	}
}

// toInt coerces a decoded JSON argument value to an int. JSON numbers decode
// to float64 through map[string]any, so that is the expected common case.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}

// rawOrNil returns raw decoded into an any for JSON re-encoding, or nil for
// an empty/absent schema.
func rawOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// errorPayload translates any internal error into the wire-level
// {success, error_code, error} shape shared by every gateway-core failure.
func errorPayload(err error) map[string]any {
	return map[string]any{
		"success":    false,
		"error_code": gwerrors.CodeOf(err),
		"error":      err.Error(),
	}
}

// jsonResult wraps a structured payload into a single text content block,
// the gateway's normal (non-error) response shape: success/failure is
// conveyed through the payload's own "success" field, not an MCP protocol
// error.
func jsonResult(payload map[string]any) *mcpsdk.CallToolResult {
	body, err := json.Marshal(payload)
	if err != nil {
		body = []byte(`{"success":false,"error_code":"unavailable"}`)
	}
	return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: string(body)}}}
}
