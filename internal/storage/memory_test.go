package storage

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

func TestMemoryBackend_SetGet(t *testing.T) {
	b := NewMemoryBackend()
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

func TestMemoryBackend_GetMissingIsNotFound(t *testing.T) {
	b := NewMemoryBackend()
	var out string
	err := b.Get(context.Background(), "missing", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryBackend_TTLExpiry(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.Set(ctx, "k1", "v1", 10*time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ok, err := b.Exists(ctx, "k1")
	if err != nil || !ok {
		t.Fatalf("Exists immediately after Set = %v, %v, want true, nil", ok, err)
	}

	time.Sleep(20 * time.Millisecond)

	ok, err = b.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Error("Exists after TTL expiry = true, want false")
	}

	var out string
	if err := b.Get(ctx, "k1", &out); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryBackend_SetWithoutTTLClearsPriorExpiry(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.Set(ctx, "k1", "v1", time.Millisecond); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := b.Set(ctx, "k1", "v2", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	time.Sleep(10 * time.Millisecond)

	var out string
	if err := b.Get(ctx, "k1", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out != "v2" {
		t.Errorf("value = %q, want v2", out)
	}
}

func TestMemoryBackend_Delete(t *testing.T) {
	b := NewMemoryBackend()
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

func TestMemoryBackend_KeysGlob(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	keys := []string{
		"gateway:tool_meta:weatherco__get_forecast",
		"gateway:tool_meta:weatherco__get_alerts",
		"gateway:tool_meta:newsco__headlines",
		"gateway:servers",
	}
	for _, k := range keys {
		_ = b.Set(ctx, k, "v", 0)
	}

	got, err := b.Keys(ctx, "gateway:tool_meta:weatherco__*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	sort.Strings(got)

	want := []string{
		"gateway:tool_meta:weatherco__get_alerts",
		"gateway:tool_meta:weatherco__get_forecast",
	}
	if len(got) != len(want) {
		t.Fatalf("Keys = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Keys[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMemoryBackend_KeysSweepsExpired(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	_ = b.Set(ctx, "k1", "v1", time.Millisecond)
	_ = b.Set(ctx, "k2", "v2", 0)
	time.Sleep(10 * time.Millisecond)

	got, err := b.Keys(ctx, "*")
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(got) != 1 || got[0] != "k2" {
		t.Errorf("Keys = %v, want [k2]", got)
	}
}

func TestMemoryBackend_HashOperations(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if err := b.HSet(ctx, "gateway:servers", "weatherco", "record-v1"); err != nil {
		t.Fatalf("HSet: %v", err)
	}
	if err := b.HSet(ctx, "gateway:servers", "newsco", "record-v2"); err != nil {
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
	if len(all) != 2 {
		t.Fatalf("HGetAll returned %d fields, want 2", len(all))
	}

	existed, err := b.HDel(ctx, "gateway:servers", "weatherco")
	if err != nil || !existed {
		t.Fatalf("HDel = %v, %v, want true, nil", existed, err)
	}

	if err := b.HGet(ctx, "gateway:servers", "weatherco", &val); !errors.Is(err, ErrNotFound) {
		t.Errorf("HGet after HDel = %v, want ErrNotFound", err)
	}
}

func TestMemoryBackend_HGetAllMissingKeyIsEmpty(t *testing.T) {
	b := NewMemoryBackend()
	all, err := b.HGetAll(context.Background(), "missing")
	if err != nil {
		t.Fatalf("HGetAll: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("HGetAll = %v, want empty", all)
	}
}

func TestMemoryBackend_CloseClearsState(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	_ = b.Set(ctx, "k1", "v1", 0)
	_ = b.HSet(ctx, "h1", "f1", "v1")

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	ok, _ := b.Exists(ctx, "k1")
	if ok {
		t.Error("key still present after Close")
	}
	all, _ := b.HGetAll(ctx, "h1")
	if len(all) != 0 {
		t.Error("hash still present after Close")
	}
}

func TestMemoryBackend_ConcurrentAccess(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()
	done := make(chan struct{})

	for i := 0; i < 20; i++ {
		go func(i int) {
			_ = b.Set(ctx, "shared", i, 0)
			_, _ = b.Exists(ctx, "shared")
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 20; i++ {
		<-done
	}
}
