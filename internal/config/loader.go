package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when neither an environment variable nor a YAML overlay
// supplies a value.
const (
	defaultToolCacheTTL      = 300 * time.Second
	defaultConnectionTimeout = 30 * time.Second
	defaultConnectionMode    = "stateless"
	defaultHTTPHost          = "0.0.0.0"
	defaultHTTPPort          = 8080
)

// FromEnv builds a [Config] from the environment variables named in the
// gateway specification, applying defaults for anything unset.
func FromEnv() *Config {
	cfg := &Config{
		Storage: StorageConfig{
			Backend:      StorageBackend(envOr("STORAGE_BACKEND", string(StorageMemory))),
			RedisURL:     os.Getenv("REDIS_URL"),
			ToolCacheTTL: envSeconds("MCP_GATEWAY_TOOL_CACHE_TTL", defaultToolCacheTTL),
		},
		Router: RouterConfig{
			DefaultConnectionMode: envOr("MCP_GATEWAY_DEFAULT_CONNECTION_MODE", defaultConnectionMode),
			ConnectionTimeout:     envFloatSeconds("MCP_GATEWAY_CONNECTION_TIMEOUT", defaultConnectionTimeout),
			MaxRetries:            envInt("MCP_GATEWAY_MAX_RETRIES", 0),
		},
		Gateway: GatewayConfig{
			Transport:        GatewayTransport(envOr("GATEWAY_TRANSPORT", string(TransportStdio))),
			AuthMode:         AuthMode(envOr("GATEWAY_AUTH_MODE", string(AuthAuto))),
			ServerConfigPath: os.Getenv("SERVER_CONFIG_PATH"),
		},
		HTTP: HTTPConfig{
			Host: envOr("GATEWAY_HTTP_HOST", defaultHTTPHost),
			Port: envInt("GATEWAY_PORT", defaultHTTPPort),
		},
		LogLevel: LogLevel(envOr("GATEWAY_LOG_LEVEL", string(LogInfo))),
	}
	return cfg
}

// Load reads an optional YAML overlay file at path and merges non-zero
// fields over a [FromEnv] base. A missing file is not an error: the
// environment-derived defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := FromEnv()
	if path == "" {
		return cfg, Validate(cfg)
	}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	if err := mergeFromReader(cfg, f); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, Validate(cfg)
}

// mergeFromReader decodes a YAML overlay and merges its non-zero fields into
// cfg in place.
func mergeFromReader(cfg *Config, r io.Reader) error {
	var overlay Config
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(&overlay); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode yaml: %w", err)
	}
	mergeConfig(cfg, &overlay)
	return nil
}

// mergeConfig overwrites each field of dst with the corresponding field of
// src whenever that src field is non-zero; zero-valued src fields leave dst
// unchanged.
func mergeConfig(dst, src *Config) {
	if src.Storage.Backend != "" {
		dst.Storage.Backend = src.Storage.Backend
	}
	if src.Storage.RedisURL != "" {
		dst.Storage.RedisURL = src.Storage.RedisURL
	}
	if src.Storage.ToolCacheTTL != 0 {
		dst.Storage.ToolCacheTTL = src.Storage.ToolCacheTTL
	}
	if src.Router.DefaultConnectionMode != "" {
		dst.Router.DefaultConnectionMode = src.Router.DefaultConnectionMode
	}
	if src.Router.ConnectionTimeout != 0 {
		dst.Router.ConnectionTimeout = src.Router.ConnectionTimeout
	}
	if src.Router.MaxRetries != 0 {
		dst.Router.MaxRetries = src.Router.MaxRetries
	}
	if src.Gateway.Transport != "" {
		dst.Gateway.Transport = src.Gateway.Transport
	}
	if src.Gateway.AuthMode != "" {
		dst.Gateway.AuthMode = src.Gateway.AuthMode
	}
	if src.Gateway.ServerConfigPath != "" {
		dst.Gateway.ServerConfigPath = src.Gateway.ServerConfigPath
	}
	if src.HTTP.Host != "" {
		dst.HTTP.Host = src.HTTP.Host
	}
	if src.HTTP.Port != 0 {
		dst.HTTP.Port = src.HTTP.Port
	}
	if src.LogLevel != "" {
		dst.LogLevel = src.LogLevel
	}
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Storage.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("storage.backend %q is invalid; valid values: memory, redis", cfg.Storage.Backend))
	}
	if cfg.Storage.Backend == StorageRedis && cfg.Storage.RedisURL == "" {
		errs = append(errs, errors.New("storage.backend is redis but redis_url is empty"))
	}
	if !cfg.Gateway.Transport.IsValid() {
		errs = append(errs, fmt.Errorf("gateway.transport %q is invalid; valid values: stdio, http", cfg.Gateway.Transport))
	}
	if !cfg.Gateway.AuthMode.IsValid() {
		errs = append(errs, fmt.Errorf("gateway.auth_mode %q is invalid; valid values: auto, static, forward", cfg.Gateway.AuthMode))
	}
	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Router.ConnectionTimeout <= 0 {
		errs = append(errs, errors.New("router.connection_timeout must be positive"))
	}

	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(n) * time.Second
}

func envFloatSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(f * float64(time.Second))
}
