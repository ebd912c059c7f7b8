package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rupinder2/mcp-gateway/internal/resilience"
)

// alwaysFailBackend is a [Backend] that fails every call, standing in for an
// unreachable Redis primary.
type alwaysFailBackend struct{}

var errSimulatedOutage = errors.New("simulated outage")

func (alwaysFailBackend) Get(context.Context, string, any) error              { return errSimulatedOutage }
func (alwaysFailBackend) Set(context.Context, string, any, time.Duration) error { return errSimulatedOutage }
func (alwaysFailBackend) Delete(context.Context, string) (bool, error)        { return false, errSimulatedOutage }
func (alwaysFailBackend) Exists(context.Context, string) (bool, error)        { return false, errSimulatedOutage }
func (alwaysFailBackend) Keys(context.Context, string) ([]string, error)      { return nil, errSimulatedOutage }
func (alwaysFailBackend) HGet(context.Context, string, string, any) error     { return errSimulatedOutage }
func (alwaysFailBackend) HSet(context.Context, string, string, any) error     { return errSimulatedOutage }
func (alwaysFailBackend) HGetAll(context.Context, string) (map[string][]byte, error) {
	return nil, errSimulatedOutage
}
func (alwaysFailBackend) HDel(context.Context, string, string) (bool, error) { return false, errSimulatedOutage }
func (alwaysFailBackend) Close() error                                      { return nil }

func newTestResilientBackend() *ResilientBackend {
	return NewResilientBackend(alwaysFailBackend{}, "primary", NewMemoryBackend(), "fallback",
		resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1}})
}

func TestResilientBackend_FallsBackOnPrimaryFailure(t *testing.T) {
	b := newTestResilientBackend()
	ctx := context.Background()

	if err := b.Set(ctx, "k1", "value", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	var got string
	if err := b.Get(ctx, "k1", &got); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "value" {
		t.Errorf("got = %q, want value", got)
	}
}

func TestResilientBackend_GetMissingIsNotFoundNotFailure(t *testing.T) {
	b := newTestResilientBackend()
	var out string
	err := b.Get(context.Background(), "missing", &out)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestResilientBackend_AllEntriesFailReturnsErrAllFailed(t *testing.T) {
	b := NewResilientBackend(alwaysFailBackend{}, "primary", alwaysFailBackend{}, "fallback",
		resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 1}})

	err := b.Set(context.Background(), "k1", "value", 0)
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}

func TestResilientBackend_Close(t *testing.T) {
	b := newTestResilientBackend()
	if err := b.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
