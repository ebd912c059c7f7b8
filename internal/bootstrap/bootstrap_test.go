package bootstrap

import (
	"context"
	"testing"

	"github.com/rupinder2/mcp-gateway/internal/gwerrors"
	"github.com/rupinder2/mcp-gateway/internal/model"
	"github.com/rupinder2/mcp-gateway/internal/registry"
	"github.com/rupinder2/mcp-gateway/internal/search"
	"github.com/rupinder2/mcp-gateway/internal/storage"
)

// fakeDiscoverer lets tests control discovery outcomes per server name
// without opening a real downstream connection.
type fakeDiscoverer struct {
	toolsByServer map[string][]model.ToolDescriptor
	failFor       map[string]bool
}

func (f *fakeDiscoverer) ListTools(_ context.Context, server model.ServerRecord, _ map[string]string) ([]model.ToolDescriptor, error) {
	if f.failFor[server.Name] {
		return nil, gwerrors.New(gwerrors.ErrTimeout, "discovery timed out")
	}
	return f.toolsByServer[server.Name], nil
}

func newTestLoader(t *testing.T, disc toolDiscoverer) *Loader {
	t.Helper()
	reg := registry.New(storage.NewMemoryBackend())
	return New(reg, disc, search.New(), nil)
}

func TestRun_MalformedJSONReturnsZeroSummary(t *testing.T) {
	l := newTestLoader(t, &fakeDiscoverer{})
	summary := l.Run(context.Background(), []byte(`{not json`))

	if summary.ServersLoaded != 0 || summary.ServersFailed != 0 || summary.ServersSkipped != 0 || summary.TotalTools != 0 {
		t.Errorf("summary = %+v, want all zero", summary)
	}
}

func TestRun_SkipsDisabledEntries(t *testing.T) {
	l := newTestLoader(t, &fakeDiscoverer{})
	doc := `{"version":"1.0","servers":[
		{"name":"s1","url":"https://a/mcp","transport":"http","auto_discover":false,"enabled":false}
	]}`
	summary := l.Run(context.Background(), []byte(doc))

	if summary.ServersSkipped != 1 || summary.ServersLoaded != 0 || summary.ServersFailed != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRun_RejectsEmptyName(t *testing.T) {
	l := newTestLoader(t, &fakeDiscoverer{})
	doc := `{"version":"1.0","servers":[
		{"name":"","url":"https://a/mcp","transport":"http","auto_discover":false}
	]}`
	summary := l.Run(context.Background(), []byte(doc))

	if summary.ServersFailed != 1 || summary.ServersLoaded != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRun_AutoDiscoverFalseSkipsDiscoveryButLoads(t *testing.T) {
	l := newTestLoader(t, &fakeDiscoverer{})
	doc := `{"version":"1.0","servers":[
		{"name":"s1","url":"https://a/mcp","transport":"http","auto_discover":false}
	]}`
	summary := l.Run(context.Background(), []byte(doc))

	if summary.ServersLoaded != 1 || summary.TotalTools != 0 {
		t.Errorf("summary = %+v", summary)
	}
	if len(summary.Servers) != 1 || summary.Servers[0].Name != "s1" {
		t.Errorf("Servers = %+v", summary.Servers)
	}
}

func TestRun_DiscoverySuccessStoresAndIndexesTools(t *testing.T) {
	disc := &fakeDiscoverer{toolsByServer: map[string][]model.ToolDescriptor{
		"s1": {{Name: "get_weather", Description: "Get current weather conditions"}},
	}}
	l := newTestLoader(t, disc)
	doc := `{"version":"1.0","servers":[
		{"name":"s1","url":"https://a/mcp","transport":"http","auto_discover":true}
	]}`
	summary := l.Run(context.Background(), []byte(doc))

	if summary.ServersLoaded != 1 || summary.TotalTools != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Servers[0].ToolCount != 1 {
		t.Errorf("ToolCount = %d, want 1", summary.Servers[0].ToolCount)
	}

	tools, err := l.registry.GetTools(context.Background(), "s1")
	if err != nil || len(tools) != 1 {
		t.Errorf("GetTools = %+v, %v", tools, err)
	}
	if _, ok := l.index.GetTool("s1__get_weather"); !ok {
		t.Error("expected get_weather to be indexed")
	}
}

// TestRun_IsolatesDiscoveryFailures mirrors the bootstrap-isolation scenario:
// three enabled servers, the second's discovery fails; the first and third
// still load, and the failure is counted without aborting the run.
func TestRun_IsolatesDiscoveryFailures(t *testing.T) {
	disc := &fakeDiscoverer{
		toolsByServer: map[string][]model.ToolDescriptor{
			"s1": {{Name: "a"}, {Name: "b"}},
			"s3": {{Name: "c"}, {Name: "d"}, {Name: "e"}},
		},
		failFor: map[string]bool{"s2": true},
	}
	l := newTestLoader(t, disc)
	doc := `{"version":"1.0","servers":[
		{"name":"s1","url":"https://a/mcp","transport":"http","auto_discover":true},
		{"name":"s2","url":"https://b/mcp","transport":"http","auto_discover":true},
		{"name":"s3","url":"https://c/mcp","transport":"http","auto_discover":true}
	]}`
	summary := l.Run(context.Background(), []byte(doc))

	if summary.ServersLoaded != 2 {
		t.Errorf("ServersLoaded = %d, want 2", summary.ServersLoaded)
	}
	if summary.ServersFailed != 1 {
		t.Errorf("ServersFailed = %d, want 1", summary.ServersFailed)
	}
	if summary.ServersSkipped != 0 {
		t.Errorf("ServersSkipped = %d, want 0", summary.ServersSkipped)
	}
	if summary.TotalTools != 5 {
		t.Errorf("TotalTools = %d, want 5", summary.TotalTools)
	}

	// s2 was registered (registry.register happens before discovery) but
	// never got its tools stored.
	if tools, _ := l.registry.GetTools(context.Background(), "s2"); len(tools) != 0 {
		t.Errorf("s2 tools = %+v, want empty", tools)
	}
}

func TestRun_ExposeToolsSkipsEmptyNamedTools(t *testing.T) {
	disc := &fakeDiscoverer{toolsByServer: map[string][]model.ToolDescriptor{
		"s1": {{Name: "get_weather"}, {Name: ""}},
	}}
	l := newTestLoader(t, disc)
	doc := `{"version":"1.0","servers":[
		{"name":"s1","url":"https://a/mcp","transport":"http","auto_discover":true,"expose_tools":true}
	]}`
	summary := l.Run(context.Background(), []byte(doc))

	if summary.ServersLoaded != 1 || summary.TotalTools != 1 {
		t.Fatalf("summary = %+v, want total_tools to exclude the empty-named entry", summary)
	}
	// No gateway wired (nil): expose_tools is a no-op rather than a panic.
}
