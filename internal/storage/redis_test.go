package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("NewRedisBackend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBackend_SetGet(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	type payload struct {
		Name string `json:"name"`
	}

	if err := b.Set(ctx, "k1", payload{Name: "weatherco"}, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got payload
	if err := b.Get(ctx, "k1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "weatherco" {
		t.Errorf("Name = %q, want weatherco", got.Name)
	}
}

func TestRedisBackend_GetMissingIsNotFound(t *testing.T) {
	b := newTestRedisBackend(t)
	var out string
	err := b.Get(context.Background(), "missing", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisBackend_TTLExpiry(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	if err := b.Set(ctx, "k1", "v1", 50*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, err := b.Exists(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v, want true, nil", ok, err)
	}

	time.Sleep(100 * time.Millisecond)

	ok, err = b.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists after TTL expiry = true, want false")
	}
}

func TestRedisBackend_Delete(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()
	_ = b.Set(ctx, "k1", "v1", 0)

	existed, err := b.Delete(ctx, "k1")
	if err != nil || !existed {
		t.Fatalf("Delete = %v, %v, want true, nil", existed, err)
	}

	existed, err = b.Delete(ctx, "k1")
	if err != nil || existed {
		t.Fatalf("second Delete = %v, %v, want false, nil", existed, err)
	}
}

func TestRedisBackend_KeysGlob(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	_ = b.Set(ctx, "gateway:tool_meta:weatherco__get_forecast", "v", 0)
	_ = b.Set(ctx, "gateway:tool_meta:newsco__headlines", "v", 0)

	got, err := b.Keys(ctx, "gateway:tool_meta:weatherco__*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(got) != 1 || got[0] != "gateway:tool_meta:weatherco__get_forecast" {
		t.Errorf("Keys = %v", got)
	}
}

func TestRedisBackend_HashOperations(t *testing.T) {
	b := newTestRedisBackend(t)
	ctx := context.Background()

	if err := b.HSet(ctx, "gateway:servers", "weatherco", "record-v1"); err != nil {
		t.Fatalf("HSet: %v", err)
	}

	var val string
	if err := b.HGet(ctx, "gateway:servers", "weatherco", &val); err != nil {
		t.Fatalf("HGet: %v", err)
	}
	if val != "record-v1" {
		t.Errorf("HGet = %q, want record-v1", val)
	}

	all, err := b.HGetAll(ctx, "gateway:servers")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("HGetAll returned %d fields, want 1", len(all))
	}

	existed, err := b.HDel(ctx, "gateway:servers", "weatherco")
	if err != nil || !existed {
		t.Fatalf("HDel = %v, %v, want true, nil", existed, err)
	}
}
