// Package model defines the gateway's persisted data shapes: server
// records, auth configuration, and discovered tool metadata. These are the
// values written to and read from [github.com/rupinder2/mcp-gateway/internal/storage].
package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Transport selects how the gateway reaches a downstream MCP server.
type Transport string

const (
	TransportHTTP  Transport = "http"
	TransportStdio Transport = "stdio"
	TransportSSE   Transport = "sse"
)

// ConnectionMode is advisory metadata about how a downstream server expects
// to be driven; the router always opens one session per call regardless.
type ConnectionMode string

const (
	ConnectionStateless ConnectionMode = "stateless"
	ConnectionStateful  ConnectionMode = "stateful"
)

// AuthType selects how a downstream server's auth headers are determined.
type AuthType string

const (
	AuthNone    AuthType = "none"
	AuthStatic  AuthType = "static"
	AuthForward AuthType = "forward"
)

// Status is a server's last-observed health state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusError    Status = "error"
	StatusUnknown  Status = "unknown"
)

// AuthConfig carries the static auth headers to use for a downstream server,
// and the forwarding header name/prefix convention. Stored only when
// Type != AuthNone.
type AuthConfig struct {
	Type         AuthType          `json:"type"`
	Headers      map[string]string `json:"headers,omitempty"`
	HeaderName   string            `json:"header_name,omitempty"`
	HeaderPrefix string            `json:"header_prefix,omitempty"`
}

// ResolvedHeaderName returns HeaderName, defaulting to "Authorization".
func (a AuthConfig) ResolvedHeaderName() string {
	if a.HeaderName == "" {
		return "Authorization"
	}
	return a.HeaderName
}

// ResolvedHeaderPrefix returns HeaderPrefix, defaulting to "Bearer".
func (a AuthConfig) ResolvedHeaderPrefix() string {
	if a.HeaderPrefix == "" {
		return "Bearer"
	}
	return a.HeaderPrefix
}

// Registration is the input to registering a new downstream server.
type Registration struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Transport      Transport         `json:"transport"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	ConnectionMode ConnectionMode    `json:"connection_mode"`
	Auth           AuthConfig        `json:"auth"`
}

// ServerRecord is the persisted, observable state of a registered server.
type ServerRecord struct {
	Name             string         `json:"name"`
	URL              string         `json:"url"`
	Transport        Transport      `json:"transport"`
	Command          string         `json:"command,omitempty"`
	Args             []string       `json:"args,omitempty"`
	Env              map[string]string `json:"env,omitempty"`
	ConnectionMode   ConnectionMode `json:"connection_mode"`
	AuthType         AuthType       `json:"auth_type"`
	Status           Status         `json:"status"`
	RegisteredAt     time.Time      `json:"registered_at"`
	LastHealthCheck  *time.Time     `json:"last_health_check,omitempty"`
	ToolCount        int            `json:"tool_count"`
	ErrorMessage     string         `json:"error_message,omitempty"`
}

// ToolDescriptor is a single tool as reported by a downstream server's
// tool-list, prior to namespacing.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ToolMetadata is a namespaced, individually addressable tool entry, mirrored
// from a server's ToolDescriptor bundle for direct lookup and for search
// indexing.
type ToolMetadata struct {
	NamespacedName string          `json:"namespaced_name"`
	ServerName     string          `json:"server_name"`
	ToolName       string          `json:"tool_name"`
	Description    string          `json:"description"`
	InputSchema    json.RawMessage `json:"input_schema,omitempty"`
}

// NamespacedName joins serverName and toolName with the gateway's namespace
// separator.
func NamespacedName(serverName, toolName string) string {
	return serverName + "__" + toolName
}

// SplitNamespacedName recovers (serverName, toolName) from a namespaced tool
// name, splitting on the first "__". ok is false if the separator is absent.
func SplitNamespacedName(namespaced string) (serverName, toolName string, ok bool) {
	return strings.Cut(namespaced, "__")
}
