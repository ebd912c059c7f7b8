package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"
)

// MemoryBackend is an in-process [Backend] backed by a guarded map. Values
// are marshalled to JSON on Set so its behaviour (including what round-trips
// through Get) matches the Redis backend exactly.
//
// Expired keys are evicted lazily: on Get/Exists for that specific key, and
// swept in bulk on Keys. There is no background eviction goroutine.
type MemoryBackend struct {
	mu      sync.Mutex
	data    map[string]json.RawMessage
	expires map[string]time.Time
	hashes  map[string]map[string][]byte
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:    make(map[string]json.RawMessage),
		expires: make(map[string]time.Time),
		hashes:  make(map[string]map[string][]byte),
	}
}

// isExpiredLocked evicts key if its TTL has passed. Caller must hold mu.
func (b *MemoryBackend) isExpiredLocked(key string) bool {
	exp, ok := b.expires[key]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(b.data, key)
		delete(b.expires, key)
		return true
	}
	return false
}

func (b *MemoryBackend) Get(_ context.Context, key string, out any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isExpiredLocked(key) {
		return ErrNotFound
	}
	raw, ok := b.data[key]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (b *MemoryBackend) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal value for key %q: %w", key, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data[key] = raw
	if ttl > 0 {
		b.expires[key] = time.Now().Add(ttl)
	} else {
		delete(b.expires, key)
	}
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, existed := b.data[key]
	delete(b.data, key)
	delete(b.expires, key)
	return existed, nil
}

func (b *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isExpiredLocked(key) {
		return false, nil
	}
	_, ok := b.data[key]
	return ok, nil
}

func (b *MemoryBackend) Keys(_ context.Context, pattern string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for key, exp := range b.expires {
		if now.After(exp) {
			delete(b.data, key)
			delete(b.expires, key)
		}
	}

	if pattern == "" || pattern == "*" {
		out := make([]string, 0, len(b.data))
		for k := range b.data {
			out = append(out, k)
		}
		return out, nil
	}

	var out []string
	for k := range b.data {
		matched, err := path.Match(pattern, k)
		if err != nil {
			return nil, fmt.Errorf("storage: bad glob pattern %q: %w", pattern, err)
		}
		if matched {
			out = append(out, k)
		}
	}
	return out, nil
}

func (b *MemoryBackend) HGet(_ context.Context, key, field string, out any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.hashes[key]
	if !ok {
		return ErrNotFound
	}
	raw, ok := fields[field]
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func (b *MemoryBackend) HSet(_ context.Context, key, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("storage: marshal hash field %q/%q: %w", key, field, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.hashes[key]
	if !ok {
		fields = make(map[string][]byte)
		b.hashes[key] = fields
	}
	fields[field] = raw
	return nil
}

func (b *MemoryBackend) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.hashes[key]
	if !ok {
		return map[string][]byte{}, nil
	}
	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		cp := make([]byte, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out, nil
}

func (b *MemoryBackend) HDel(_ context.Context, key, field string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	fields, ok := b.hashes[key]
	if !ok {
		return false, nil
	}
	_, existed := fields[field]
	delete(fields, field)
	return existed, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = make(map[string]json.RawMessage)
	b.expires = make(map[string]time.Time)
	b.hashes = make(map[string]map[string][]byte)
	return nil
}
