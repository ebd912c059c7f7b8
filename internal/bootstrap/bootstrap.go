// Package bootstrap implements the bootstrap loader (C7): reading a
// declarative JSON document of downstream servers, registering each enabled
// entry, optionally discovering and indexing its tools, and optionally
// exposing them eagerly — with per-server failure isolation so one bad
// entry never aborts the run.
package bootstrap

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rupinder2/mcp-gateway/internal/gateway"
	"github.com/rupinder2/mcp-gateway/internal/gwerrors"
	"github.com/rupinder2/mcp-gateway/internal/model"
	"github.com/rupinder2/mcp-gateway/internal/observe"
	"github.com/rupinder2/mcp-gateway/internal/registry"
	"github.com/rupinder2/mcp-gateway/internal/search"
)

// toolDiscoverer is the subset of [discovery.Discoverer] the loader depends
// on, lifted to an interface so tests can substitute a fake that never opens
// a real downstream connection.
type toolDiscoverer interface {
	ListTools(ctx context.Context, server model.ServerRecord, headers map[string]string) ([]model.ToolDescriptor, error)
}

// document is the top-level shape of the bootstrap configuration file.
type document struct {
	Version string  `json:"version"`
	Servers []entry `json:"servers"`
}

// entry is a single server's bootstrap configuration. Pointer fields
// distinguish "absent" (use the documented default) from an explicit false.
type entry struct {
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Transport      model.Transport   `json:"transport"`
	Command        string            `json:"command"`
	Args           []string          `json:"args"`
	Env            map[string]string `json:"env"`
	ConnectionMode model.ConnectionMode `json:"connection_mode"`
	AuthType       model.AuthType    `json:"auth_type"`
	AuthHeaders    map[string]string `json:"auth_headers"`
	AuthHeaderName string            `json:"auth_header_name"`
	AutoDiscover   *bool             `json:"auto_discover"`
	Enabled        *bool             `json:"enabled"`
	ExposeTools    bool              `json:"expose_tools"`
}

func (e entry) enabled() bool      { return e.Enabled == nil || *e.Enabled }
func (e entry) autoDiscover() bool { return e.AutoDiscover == nil || *e.AutoDiscover }

// ServerSummary describes one successfully loaded server in a [Summary].
type ServerSummary struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Transport string `json:"transport"`
	ToolCount int    `json:"tool_count"`
}

// Summary is the outcome of a single [Loader.Run].
type Summary struct {
	ServersLoaded  int             `json:"servers_loaded"`
	ServersFailed  int             `json:"servers_failed"`
	ServersSkipped int             `json:"servers_skipped"`
	TotalTools     int             `json:"total_tools"`
	Servers        []ServerSummary `json:"servers"`
}

// Loader registers and discovers servers declared in a bootstrap document.
type Loader struct {
	registry   *registry.Registry
	discoverer toolDiscoverer
	index      *search.Index
	gateway    *gateway.Gateway
}

// New creates a Loader. gw may be nil if no eager expose_tools activation is
// needed (e.g. in tests that only exercise registration and discovery).
func New(reg *registry.Registry, disc toolDiscoverer, idx *search.Index, gw *gateway.Gateway) *Loader {
	return &Loader{registry: reg, discoverer: disc, index: idx, gateway: gw}
}

// Run parses raw as a bootstrap document and loads every enabled entry.
// Malformed JSON is logged and reported as a zero-loaded summary rather than
// returned as a Go error, matching the rest of the gateway's policy of
// isolating configuration faults instead of aborting startup.
func (l *Loader) Run(ctx context.Context, raw []byte) Summary {
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		slog.Error("bootstrap: invalid server config", "error", err)
		return Summary{Servers: []ServerSummary{}}
	}

	type outcome struct {
		success   bool
		toolCount int
	}

	outcomes := make([]outcome, len(doc.Servers))
	skipped := 0

	g, _ := errgroup.WithContext(ctx)
	for i, e := range doc.Servers {
		if !e.enabled() {
			skipped++
			slog.Debug("bootstrap: skipping disabled server", "name", e.Name)
			continue
		}

		i, e := i, e
		g.Go(func() error {
			ok, toolCount := l.registerOne(ctx, e)
			outcomes[i] = outcome{success: ok, toolCount: toolCount}
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{ServersSkipped: skipped, Servers: []ServerSummary{}}
	for i, e := range doc.Servers {
		if !e.enabled() {
			continue
		}
		o := outcomes[i]
		if o.success {
			summary.ServersLoaded++
			summary.TotalTools += o.toolCount
			summary.Servers = append(summary.Servers, ServerSummary{
				Name:      e.Name,
				URL:       e.URL,
				Transport: string(e.Transport),
				ToolCount: o.toolCount,
			})
		} else {
			summary.ServersFailed++
		}
	}

	slog.Info("bootstrap: server config loaded",
		"loaded", summary.ServersLoaded, "failed", summary.ServersFailed,
		"skipped", summary.ServersSkipped, "total_tools", summary.TotalTools)

	return summary
}

// registerOne registers a single entry, and when auto_discover is set, runs
// discovery, stores and indexes the resulting tools, and (when expose_tools
// is set) eagerly activates each one. A discovery failure counts the whole
// entry as failed, even though registration itself already succeeded —
// registry state for a failed entry is left in place rather than rolled
// back, matching the registry's own no-transaction model (spec §5).
func (l *Loader) registerOne(ctx context.Context, e entry) (success bool, toolCount int) {
	if e.Name == "" {
		slog.Warn("bootstrap: skipping entry with empty name")
		return false, 0
	}

	auth := model.AuthConfig{
		Type:       e.AuthType,
		Headers:    e.AuthHeaders,
		HeaderName: e.AuthHeaderName,
	}

	_, err := l.registry.Register(ctx, model.Registration{
		Name:           e.Name,
		URL:            e.URL,
		Transport:      e.Transport,
		Command:        e.Command,
		Args:           e.Args,
		Env:            e.Env,
		ConnectionMode: e.ConnectionMode,
		Auth:           auth,
	})
	if err != nil {
		slog.Warn("bootstrap: failed to register server", "name", e.Name, "error", err)
		return false, 0
	}
	slog.Info("bootstrap: registered server", "name", e.Name)

	if !e.autoDiscover() {
		return true, 0
	}

	server := model.ServerRecord{
		Name:      e.Name,
		URL:       e.URL,
		Transport: e.Transport,
		Command:   e.Command,
		Args:      e.Args,
		Env:       e.Env,
	}
	tools, err := l.discoverer.ListTools(ctx, server, e.AuthHeaders)
	if err != nil {
		slog.Warn("bootstrap: tool discovery failed", "name", e.Name, "error", err)
		observe.DefaultMetrics().RecordDiscoveryError(ctx, e.Name, discoveryErrorKind(err))
		return false, 0
	}

	if err := l.registry.StoreTools(ctx, e.Name, tools); err != nil {
		slog.Warn("bootstrap: failed to store tools", "name", e.Name, "error", err)
		return false, 0
	}
	l.index.IndexTools(e.Name, tools)

	namedCount := 0
	for _, tool := range tools {
		if tool.Name != "" {
			namedCount++
		}
	}
	if _, err := l.registry.UpdateToolCount(ctx, e.Name, namedCount); err != nil {
		slog.Warn("bootstrap: failed to update tool count", "name", e.Name, "error", err)
	}

	if e.ExposeTools && l.gateway != nil {
		for _, tool := range tools {
			if tool.Name == "" {
				continue
			}
			l.gateway.Activate(ctx, model.NamespacedName(e.Name, tool.Name))
		}
		slog.Info("bootstrap: exposed tools eagerly", "name", e.Name, "count", namedCount)
	}

	return true, namedCount
}

// discoveryErrorKind classifies a discovery failure into the coarse
// "timeout"/"transport"/"other" vocabulary recorded on the discovery_errors
// metric, mirroring the kinds [discovery.Discoverer.ListTools] itself
// distinguishes.
func discoveryErrorKind(err error) string {
	switch {
	case gwerrors.Is(err, gwerrors.ErrTimeout):
		return "timeout"
	case gwerrors.Is(err, gwerrors.ErrTransport):
		return "transport"
	default:
		return "other"
	}
}
