// Package storage provides a capability-oriented keyed store abstraction for
// the gateway, with pluggable backends: an in-process map for single-instance
// deployments ([NewMemoryBackend]) and Redis for multi-instance deployments
// ([NewRedisBackend]).
//
// Values are opaque structured data, marshalled to JSON at the backend
// boundary so callers can store any JSON-serialisable Go value without the
// backend needing to know its shape.
package storage

import (
	"context"
	"time"
)

// Backend is a typed KV store with hash fields, glob key lookup, and
// per-key TTL. Implementations must be safe for concurrent use.
//
// TTL is measured from the most recent Set call with a non-zero ttl; an
// expired key is reported absent by Get and Exists and is excluded from
// Keys. Set with ttl == 0 clears any previously set expiry on that key.
type Backend interface {
	// Get returns the value stored at key, decoded into out. Returns
	// [ErrNotFound] if the key is absent or expired.
	Get(ctx context.Context, key string, out any) error

	// Set stores value at key. A non-zero ttl expires the key after that
	// duration; ttl == 0 means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes key. Returns whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Keys returns every key matching the glob pattern ("*" and "?"
	// wildcards). Pattern "*" matches all keys.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// HGet returns the value of field in the hash at key, decoded into
	// out. Returns [ErrNotFound] if the key or field is absent.
	HGet(ctx context.Context, key, field string, out any) error

	// HSet sets field to value within the hash at key.
	HSet(ctx context.Context, key, field string, value any) error

	// HGetAll returns every field in the hash at key, as raw JSON values
	// keyed by field name. Callers unmarshal individual fields with
	// [DecodeInto]. Returns an empty map if key does not exist.
	HGetAll(ctx context.Context, key string) (map[string][]byte, error)

	// HDel removes field from the hash at key. Returns whether the field
	// existed.
	HDel(ctx context.Context, key, field string) (bool, error)

	// Close releases any connections held by the backend. Idempotent.
	Close() error
}
