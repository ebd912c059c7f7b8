package storage

import (
	"context"
	"errors"
	"time"

	"github.com/rupinder2/mcp-gateway/internal/resilience"
)

// ResilientBackend wraps a primary [Backend] with one or more fallbacks,
// using a [resilience.FallbackGroup] and a per-entry circuit breaker per
// entry so a primary outage degrades availability instead of taking the
// whole gateway down. Typical use: a Redis primary (for multi-instance
// deployments) backed by an in-process [MemoryBackend] fallback.
//
// Data written while the primary is unreachable lands in the fallback and
// is not reconciled back once the primary recovers — this trades
// consistency for availability during an outage, which is the right
// default for the gateway's own registry/index/cache state (all of it is
// rebuildable from [bootstrap.Loader] re-runs), but would be the wrong
// choice for data that must not be lost.
type ResilientBackend struct {
	fg *resilience.FallbackGroup[Backend]
}

// NewResilientBackend creates a [ResilientBackend] trying primary first and
// falling back to fallback when primary's circuit breaker is open or a call
// fails.
func NewResilientBackend(primary Backend, primaryName string, fallback Backend, fallbackName string, cfg resilience.FallbackConfig) *ResilientBackend {
	fg := resilience.NewFallbackGroup(primary, primaryName, cfg)
	fg.AddFallback(fallbackName, fallback)
	return &ResilientBackend{fg: fg}
}

func (b *ResilientBackend) Get(ctx context.Context, key string, out any) error {
	var notFound bool
	err := b.fg.Execute(func(backend Backend) error {
		notFound = false
		e := backend.Get(ctx, key, out)
		if errors.Is(e, ErrNotFound) {
			notFound = true
			return nil
		}
		return e
	})
	if err != nil {
		return err
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

func (b *ResilientBackend) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return b.fg.Execute(func(backend Backend) error {
		return backend.Set(ctx, key, value, ttl)
	})
}

func (b *ResilientBackend) Delete(ctx context.Context, key string) (bool, error) {
	return resilience.ExecuteWithResult(b.fg, func(backend Backend) (bool, error) {
		return backend.Delete(ctx, key)
	})
}

func (b *ResilientBackend) Exists(ctx context.Context, key string) (bool, error) {
	return resilience.ExecuteWithResult(b.fg, func(backend Backend) (bool, error) {
		return backend.Exists(ctx, key)
	})
}

func (b *ResilientBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	return resilience.ExecuteWithResult(b.fg, func(backend Backend) ([]string, error) {
		return backend.Keys(ctx, pattern)
	})
}

func (b *ResilientBackend) HGet(ctx context.Context, key, field string, out any) error {
	var notFound bool
	err := b.fg.Execute(func(backend Backend) error {
		notFound = false
		e := backend.HGet(ctx, key, field, out)
		if errors.Is(e, ErrNotFound) {
			notFound = true
			return nil
		}
		return e
	})
	if err != nil {
		return err
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}

func (b *ResilientBackend) HSet(ctx context.Context, key, field string, value any) error {
	return b.fg.Execute(func(backend Backend) error {
		return backend.HSet(ctx, key, field, value)
	})
}

func (b *ResilientBackend) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	return resilience.ExecuteWithResult(b.fg, func(backend Backend) (map[string][]byte, error) {
		return backend.HGetAll(ctx, key)
	})
}

func (b *ResilientBackend) HDel(ctx context.Context, key, field string) (bool, error) {
	return resilience.ExecuteWithResult(b.fg, func(backend Backend) (bool, error) {
		return backend.HDel(ctx, key, field)
	})
}

// Close closes every entry in the group, returning the first error
// encountered (if any) after attempting all of them.
func (b *ResilientBackend) Close() error {
	var firstErr error
	for _, backend := range b.fg.Values() {
		if err := backend.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
