// Package config provides the process-level configuration schema and loader
// for the MCP gateway.
//
// Configuration is assembled primarily from environment variables (the
// external, process-entry-point surface named in the gateway specification);
// [Load] additionally merges an optional YAML file for local development so
// operators are not forced to export a long list of variables by hand.
package config

import "time"

// StorageBackend selects the [storage.Backend] implementation.
type StorageBackend string

const (
	StorageMemory StorageBackend = "memory"
	StorageRedis  StorageBackend = "redis"
)

// IsValid reports whether b is a recognised storage backend.
func (b StorageBackend) IsValid() bool {
	return b == StorageMemory || b == StorageRedis
}

// GatewayTransport selects how the gateway's own MCP endpoint is served.
type GatewayTransport string

const (
	TransportStdio GatewayTransport = "stdio"
	TransportHTTP  GatewayTransport = "http"
)

// IsValid reports whether t is a recognised gateway transport.
func (t GatewayTransport) IsValid() bool {
	return t == TransportStdio || t == TransportHTTP
}

// AuthMode selects the router's auth-forwarding policy.
type AuthMode string

const (
	AuthAuto   AuthMode = "auto"
	AuthStatic AuthMode = "static"
	AuthForward AuthMode = "forward"
)

// IsValid reports whether m is a recognised auth mode.
func (m AuthMode) IsValid() bool {
	return m == AuthAuto || m == AuthStatic || m == AuthForward
}

// LogLevel controls slog verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root process configuration for the gateway.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Router  RouterConfig  `yaml:"router"`
	Gateway GatewayConfig `yaml:"gateway"`
	HTTP    HTTPConfig    `yaml:"http"`
	LogLevel LogLevel     `yaml:"log_level"`
}

// StorageConfig configures the C1 storage backend.
type StorageConfig struct {
	// Backend selects "memory" or "redis". Default: "memory".
	Backend StorageBackend `yaml:"backend"`

	// RedisURL is the connection string used when Backend is "redis".
	RedisURL string `yaml:"redis_url"`

	// ToolCacheTTL is the default TTL applied to router schema-cache entries.
	ToolCacheTTL time.Duration `yaml:"tool_cache_ttl"`
}

// RouterConfig configures the C3 tool router.
type RouterConfig struct {
	// DefaultConnectionMode is advisory metadata stored on ServerRecord;
	// it does not change router behavior.
	DefaultConnectionMode string `yaml:"default_connection_mode"`

	// ConnectionTimeout bounds every downstream session (connect, initialize,
	// call, close). Default: 30s.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// MaxRetries is accepted for compatibility with the environment variable
	// surface in the specification but is not consulted by the router: the
	// core performs no retries (see error handling policy).
	MaxRetries int `yaml:"max_retries"`
}

// GatewayConfig configures the C6 gateway core and C7 bootstrap loader.
type GatewayConfig struct {
	// Transport selects how the gateway's own MCP endpoint is served.
	Transport GatewayTransport `yaml:"transport"`

	// AuthMode selects the router's default auth-forwarding policy.
	AuthMode AuthMode `yaml:"auth_mode"`

	// ServerConfigPath is the path to the bootstrap JSON document (spec §6).
	ServerConfigPath string `yaml:"server_config_path"`
}

// HTTPConfig configures the gateway's HTTP listener, used both when
// Gateway.Transport is "http" and for the health/metrics endpoints.
type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}
