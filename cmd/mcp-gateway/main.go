// Command mcp-gateway is the main entry point for the MCP gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rupinder2/mcp-gateway/internal/bootstrap"
	"github.com/rupinder2/mcp-gateway/internal/config"
	"github.com/rupinder2/mcp-gateway/internal/discovery"
	"github.com/rupinder2/mcp-gateway/internal/gateway"
	"github.com/rupinder2/mcp-gateway/internal/health"
	"github.com/rupinder2/mcp-gateway/internal/model"
	"github.com/rupinder2/mcp-gateway/internal/observe"
	"github.com/rupinder2/mcp-gateway/internal/registry"
	"github.com/rupinder2/mcp-gateway/internal/resilience"
	"github.com/rupinder2/mcp-gateway/internal/router"
	"github.com/rupinder2/mcp-gateway/internal/search"
	"github.com/rupinder2/mcp-gateway/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to an optional YAML configuration overlay")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mcp-gateway: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	slog.Info("mcp-gateway starting",
		"storage_backend", cfg.Storage.Backend,
		"gateway_transport", cfg.Gateway.Transport,
		"auth_mode", cfg.Gateway.AuthMode,
		"http_addr", fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
	)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "mcp-gateway",
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}

	// ── Storage backend ────────────────────────────────────────────────────────
	backend, err := buildBackend(cfg.Storage)
	if err != nil {
		slog.Error("failed to build storage backend", "err", err)
		return 1
	}
	defer backend.Close()

	// ── Component wiring ──────────────────────────────────────────────────────
	reg := registry.New(backend)
	rt := router.New(
		router.AuthMode(cfg.Gateway.AuthMode),
		gatewayModelTransport(cfg.Gateway.Transport),
		router.WithTimeout(cfg.Router.ConnectionTimeout),
		router.WithCacheTTL(cfg.Storage.ToolCacheTTL),
	)
	disc := discovery.New(discovery.WithTimeout(cfg.Router.ConnectionTimeout))
	idx := search.New()

	mcpServer := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "mcp-gateway",
		Version: "1.0.0",
	}, &mcpsdk.ServerOptions{HasTools: true})

	gw := gateway.New(mcpServer, reg, rt, idx)
	gw.RegisterCoreTools()

	// ── Bootstrap declared servers ────────────────────────────────────────────
	if path := cfg.Gateway.ServerConfigPath; path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			slog.Error("failed to read server config", "path", path, "err", err)
			return 1
		}
		loader := bootstrap.New(reg, disc, idx, gw)
		summary := loader.Run(context.Background(), raw)
		slog.Info("bootstrap complete",
			"servers_loaded", summary.ServersLoaded,
			"servers_failed", summary.ServersFailed,
			"servers_skipped", summary.ServersSkipped,
			"total_tools", summary.TotalTools,
		)
	}

	// ── Health and metrics HTTP listener ──────────────────────────────────────
	healthHandler := health.New(
		health.Checker{
			Name: "storage",
			Check: func(ctx context.Context) error {
				_, err := backend.Exists(ctx, "mcp-gateway:healthcheck")
				return err
			},
		},
		health.Checker{
			Name: "registry",
			Check: func(ctx context.Context) error {
				_, err := reg.ListAll(ctx)
				return err
			},
		},
	)

	mux := http.NewServeMux()
	healthHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	adminServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: observe.Middleware(observe.DefaultMetrics())(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("admin listener starting", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("admin listener error", "err", err)
		}
	}()

	// ── Serve the gateway's own MCP endpoint ──────────────────────────────────
	slog.Info("gateway ready", "transport", cfg.Gateway.Transport)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- serve(ctx, cfg.Gateway.Transport, mcpServer, cfg.HTTP)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("admin listener shutdown error", "err", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("telemetry shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("gateway run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// serve runs the gateway's MCP endpoint on the configured transport until ctx
// is cancelled.
func serve(ctx context.Context, transport config.GatewayTransport, mcpServer *mcpsdk.Server, httpCfg config.HTTPConfig) error {
	switch transport {
	case config.TransportStdio:
		return mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
	case config.TransportHTTP:
		handler := mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
			return mcpServer
		}, nil)
		addr := fmt.Sprintf("%s:%d", httpCfg.Host, httpCfg.Port+1)
		srv := &http.Server{Addr: addr, Handler: handler}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("mcp endpoint listening", "addr", addr, "path", "/mcp")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unknown gateway transport %q", transport)
	}
}

// buildBackend constructs the storage backend named by cfg.Backend. Redis is
// wrapped in a [storage.ResilientBackend] falling back to an in-process
// backend so a Redis outage degrades the gateway to single-instance
// behavior instead of failing every request.
func buildBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.StorageRedis:
		redis, err := storage.NewRedisBackend(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return storage.NewResilientBackend(redis, "redis", storage.NewMemoryBackend(), "memory-fallback",
			resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  3,
				ResetTimeout: 30 * time.Second,
			}},
		), nil
	default:
		return storage.NewMemoryBackend(), nil
	}
}

// gatewayModelTransport maps the gateway's own transport config to the model
// transport vocabulary the router uses to decide auth forwarding in "auto"
// mode.
func gatewayModelTransport(t config.GatewayTransport) model.Transport {
	if t == config.TransportHTTP {
		return model.TransportHTTP
	}
	return model.TransportStdio
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
