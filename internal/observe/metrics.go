// Package observe provides application-wide observability primitives for
// the gateway: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/rupinder2/mcp-gateway"

// Metrics holds all OpenTelemetry metric instruments for the gateway.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToolCallDuration tracks call_remote_tool round-trip latency, from
	// session open to session close, per downstream server.
	ToolCallDuration metric.Float64Histogram

	// DiscoveryDuration tracks how long a single server's tool discovery
	// session takes.
	DiscoveryDuration metric.Float64Histogram

	// SearchDuration tracks tool_search latency, split by search_type
	// ("regex" or "bm25").
	SearchDuration metric.Float64Histogram

	// --- Counters ---

	// ToolCalls counts call_remote_tool invocations. Use with attributes:
	//   attribute.String("server", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// SearchRequests counts tool_search invocations. Use with attributes:
	//   attribute.String("search_type", ...), attribute.String("status", ...)
	SearchRequests metric.Int64Counter

	// ToolActivations counts deferred→active tool promotions.
	ToolActivations metric.Int64Counter

	// DiscoveryErrors counts failed discovery attempts by server and error
	// kind (e.g. "timeout", "transport").
	DiscoveryErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTools tracks the number of tools currently promoted to live,
	// invocable status in the outer MCP server.
	ActiveTools metric.Int64UpDownCounter

	// RegisteredServers tracks the number of servers currently present in
	// the registry.
	RegisteredServers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time (health and
	// metrics endpoints). Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suitable
// for downstream tool-call and discovery latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ToolCallDuration, err = m.Float64Histogram("mcp_gateway.tool_call.duration",
		metric.WithDescription("Latency of call_remote_tool, from session open to close."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DiscoveryDuration, err = m.Float64Histogram("mcp_gateway.discovery.duration",
		metric.WithDescription("Latency of a single server's tool discovery session."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SearchDuration, err = m.Float64Histogram("mcp_gateway.search.duration",
		metric.WithDescription("Latency of tool_search, by search_type."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("mcp_gateway.tool_calls",
		metric.WithDescription("Total call_remote_tool invocations by server and status."),
	); err != nil {
		return nil, err
	}
	if met.SearchRequests, err = m.Int64Counter("mcp_gateway.search_requests",
		metric.WithDescription("Total tool_search invocations by search_type and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolActivations, err = m.Int64Counter("mcp_gateway.tool_activations",
		metric.WithDescription("Total deferred-to-active tool promotions."),
	); err != nil {
		return nil, err
	}
	if met.DiscoveryErrors, err = m.Int64Counter("mcp_gateway.discovery_errors",
		metric.WithDescription("Total failed discovery attempts by server and error kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveTools, err = m.Int64UpDownCounter("mcp_gateway.active_tools",
		metric.WithDescription("Number of tools currently promoted to live, invocable status."),
	); err != nil {
		return nil, err
	}
	if met.RegisteredServers, err = m.Int64UpDownCounter("mcp_gateway.registered_servers",
		metric.WithDescription("Number of servers currently present in the registry."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("mcp_gateway.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolCall records a call_remote_tool invocation and its duration.
func (m *Metrics) RecordToolCall(ctx context.Context, server, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("server", server),
		attribute.String("status", status),
	)
	m.ToolCalls.Add(ctx, 1, attrs)
	m.ToolCallDuration.Record(ctx, seconds, attrs)
}

// RecordSearch records a tool_search invocation and its duration.
func (m *Metrics) RecordSearch(ctx context.Context, searchType, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("search_type", searchType),
		attribute.String("status", status),
	)
	m.SearchRequests.Add(ctx, 1, attrs)
	m.SearchDuration.Record(ctx, seconds, attrs)
}

// RecordDiscoveryError records a failed discovery attempt.
func (m *Metrics) RecordDiscoveryError(ctx context.Context, server, kind string) {
	m.DiscoveryErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("server", server),
			attribute.String("kind", kind),
		),
	)
}

// RecordToolActivation records a deferred→active tool promotion.
func (m *Metrics) RecordToolActivation(ctx context.Context, namespacedName string) {
	m.ToolActivations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tool", namespacedName)),
	)
}
