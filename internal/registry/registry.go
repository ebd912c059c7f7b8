// Package registry implements the server registry (C2): CRUD over
// [model.ServerRecord], [model.AuthConfig], tool bundles, and per-tool
// [model.ToolMetadata], backed by an [storage.Backend].
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rupinder2/mcp-gateway/internal/gwerrors"
	"github.com/rupinder2/mcp-gateway/internal/model"
	"github.com/rupinder2/mcp-gateway/internal/storage"
)

const serversKey = "gateway:servers"

func authKey(name string) string  { return fmt.Sprintf("gateway:server:%s:auth", name) }
func toolsKey(name string) string { return fmt.Sprintf("gateway:server:%s:tools", name) }
func toolMetaKey(namespacedName string) string {
	return fmt.Sprintf("gateway:tool_meta:%s", namespacedName)
}
func toolMetaPrefixPattern(serverName string) string {
	return fmt.Sprintf("gateway:tool_meta:%s__*", serverName)
}

// nowFunc is overridable in tests.
var nowFunc = time.Now

// Registry is the server registry, backed by a [storage.Backend].
type Registry struct {
	storage storage.Backend
}

// New creates a Registry over the given backend.
func New(backend storage.Backend) *Registry {
	return &Registry{storage: backend}
}

// Register creates a new server record. Returns [gwerrors.ErrConflict] if
// reg.Name is already registered.
func (r *Registry) Register(ctx context.Context, reg model.Registration) (model.ServerRecord, error) {
	existing, err := r.Get(ctx, reg.Name)
	if err != nil && !gwerrors.Is(err, gwerrors.ErrNotFound) {
		return model.ServerRecord{}, err
	}
	if existing != nil {
		return model.ServerRecord{}, gwerrors.Newf(gwerrors.ErrConflict, "server %q already registered", reg.Name)
	}

	record := model.ServerRecord{
		Name:           reg.Name,
		URL:            reg.URL,
		Transport:      reg.Transport,
		Command:        reg.Command,
		Args:           reg.Args,
		Env:            reg.Env,
		ConnectionMode: reg.ConnectionMode,
		AuthType:       reg.Auth.Type,
		Status:         model.StatusUnknown,
		RegisteredAt:   nowFunc().UTC(),
		ToolCount:      0,
	}

	if err := r.storage.HSet(ctx, serversKey, reg.Name, record); err != nil {
		return model.ServerRecord{}, gwerrors.Wrap(gwerrors.ErrBackend, "registering server", err)
	}

	if reg.Auth.Type != model.AuthNone {
		if err := r.storage.HSet(ctx, authKey(reg.Name), "config", reg.Auth); err != nil {
			return model.ServerRecord{}, gwerrors.Wrap(gwerrors.ErrBackend, "storing auth config", err)
		}
	}

	return record, nil
}

// Unregister deletes name's record, auth config, tool bundle, and every
// tool metadata entry it owns. Returns false if name was not registered.
func (r *Registry) Unregister(ctx context.Context, name string) (bool, error) {
	existing, err := r.Get(ctx, name)
	if err != nil && !gwerrors.Is(err, gwerrors.ErrNotFound) {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	if _, err := r.storage.HDel(ctx, serversKey, name); err != nil {
		return false, gwerrors.Wrap(gwerrors.ErrBackend, "unregistering server", err)
	}
	if _, err := r.storage.Delete(ctx, authKey(name)); err != nil {
		return false, gwerrors.Wrap(gwerrors.ErrBackend, "removing auth config", err)
	}
	if _, err := r.storage.Delete(ctx, toolsKey(name)); err != nil {
		return false, gwerrors.Wrap(gwerrors.ErrBackend, "removing tool bundle", err)
	}
	if err := r.RemoveToolMetadata(ctx, name); err != nil {
		return false, err
	}

	return true, nil
}

// Get returns name's server record, or nil if absent.
func (r *Registry) Get(ctx context.Context, name string) (*model.ServerRecord, error) {
	var record model.ServerRecord
	err := r.storage.HGet(ctx, serversKey, name, &record)
	if gwerrors.Is(err, gwerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrBackend, "reading server record", err)
	}
	return &record, nil
}

// ListAll returns every registered server, in unspecified order.
func (r *Registry) ListAll(ctx context.Context) ([]model.ServerRecord, error) {
	raw, err := r.storage.HGetAll(ctx, serversKey)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrBackend, "listing servers", err)
	}
	out := make([]model.ServerRecord, 0, len(raw))
	for _, v := range raw {
		var record model.ServerRecord
		if err := storage.DecodeInto(v, &record); err != nil {
			return nil, gwerrors.Wrap(gwerrors.ErrBackend, "decoding server record", err)
		}
		out = append(out, record)
	}
	return out, nil
}

// UpdateStatus sets name's status, last_health_check, and optionally
// error_message. Returns false if name is not registered.
func (r *Registry) UpdateStatus(ctx context.Context, name string, status model.Status, errMsg string) (bool, error) {
	record, err := r.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	record.Status = status
	now := nowFunc().UTC()
	record.LastHealthCheck = &now
	if errMsg != "" {
		record.ErrorMessage = errMsg
	}

	if err := r.storage.HSet(ctx, serversKey, name, record); err != nil {
		return false, gwerrors.Wrap(gwerrors.ErrBackend, "updating server status", err)
	}
	return true, nil
}

// UpdateToolCount sets name's tool_count. Returns false if name is not
// registered.
func (r *Registry) UpdateToolCount(ctx context.Context, name string, count int) (bool, error) {
	record, err := r.Get(ctx, name)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}

	record.ToolCount = count
	if err := r.storage.HSet(ctx, serversKey, name, record); err != nil {
		return false, gwerrors.Wrap(gwerrors.ErrBackend, "updating tool count", err)
	}
	return true, nil
}

// GetAuthConfig returns name's auth config, or nil if none is stored (i.e.
// the server was registered with AuthNone).
func (r *Registry) GetAuthConfig(ctx context.Context, name string) (*model.AuthConfig, error) {
	var cfg model.AuthConfig
	err := r.storage.HGet(ctx, authKey(name), "config", &cfg)
	if gwerrors.Is(err, gwerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrBackend, "reading auth config", err)
	}
	return &cfg, nil
}

// StoreTools writes name's full tool bundle and, for every tool with a
// non-empty name, its individually addressable [model.ToolMetadata]. Tools
// with an empty name are kept in the bundle but excluded from metadata.
func (r *Registry) StoreTools(ctx context.Context, name string, tools []model.ToolDescriptor) error {
	if err := r.storage.Set(ctx, toolsKey(name), tools, 0); err != nil {
		return gwerrors.Wrap(gwerrors.ErrBackend, "storing tool bundle", err)
	}

	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}
		if err := r.storeToolMetadata(ctx, name, tool); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) storeToolMetadata(ctx context.Context, serverName string, tool model.ToolDescriptor) error {
	namespaced := model.NamespacedName(serverName, tool.Name)
	meta := model.ToolMetadata{
		NamespacedName: namespaced,
		ServerName:     serverName,
		ToolName:       tool.Name,
		Description:    tool.Description,
		InputSchema:    tool.InputSchema,
	}
	if err := r.storage.Set(ctx, toolMetaKey(namespaced), meta, 0); err != nil {
		return gwerrors.Wrap(gwerrors.ErrBackend, "storing tool metadata", err)
	}
	return nil
}

// GetTools returns name's stored tool bundle, or an empty slice if absent.
func (r *Registry) GetTools(ctx context.Context, name string) ([]model.ToolDescriptor, error) {
	var tools []model.ToolDescriptor
	err := r.storage.Get(ctx, toolsKey(name), &tools)
	if gwerrors.Is(err, gwerrors.ErrNotFound) {
		return []model.ToolDescriptor{}, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrBackend, "reading tool bundle", err)
	}
	return tools, nil
}

// GetToolMetadata returns the stored metadata for a namespaced tool name, or
// nil if absent.
func (r *Registry) GetToolMetadata(ctx context.Context, namespacedName string) (*model.ToolMetadata, error) {
	var meta model.ToolMetadata
	err := r.storage.Get(ctx, toolMetaKey(namespacedName), &meta)
	if gwerrors.Is(err, gwerrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrBackend, "reading tool metadata", err)
	}
	return &meta, nil
}

// GetAllToolMetadata scans every stored tool metadata entry across all
// servers, in the shape [search.Index.IndexAllMetadata] takes for rebuilding
// its index. No caller in this module rebuilds the index from it.
func (r *Registry) GetAllToolMetadata(ctx context.Context) ([]model.ToolMetadata, error) {
	keys, err := r.storage.Keys(ctx, "gateway:tool_meta:*")
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.ErrBackend, "scanning tool metadata keys", err)
	}

	out := make([]model.ToolMetadata, 0, len(keys))
	for _, key := range keys {
		var meta model.ToolMetadata
		if err := r.storage.Get(ctx, key, &meta); err != nil {
			if gwerrors.Is(err, gwerrors.ErrNotFound) {
				continue
			}
			return nil, gwerrors.Wrap(gwerrors.ErrBackend, "reading tool metadata", err)
		}
		out = append(out, meta)
	}
	return out, nil
}

// RemoveToolMetadata deletes every tool metadata entry namespaced under
// serverName.
func (r *Registry) RemoveToolMetadata(ctx context.Context, serverName string) error {
	keys, err := r.storage.Keys(ctx, toolMetaPrefixPattern(serverName))
	if err != nil {
		return gwerrors.Wrap(gwerrors.ErrBackend, "scanning tool metadata keys", err)
	}
	for _, key := range keys {
		if _, err := r.storage.Delete(ctx, key); err != nil {
			return gwerrors.Wrap(gwerrors.ErrBackend, "removing tool metadata", err)
		}
	}
	return nil
}
