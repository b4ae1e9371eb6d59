package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(64, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()
	m := newTestCache(t)
	ctx := context.Background()

	if _, ok := m.Get(ctx, "missing"); ok {
		t.Error("empty cache should miss")
	}

	m.Set(ctx, "k", []byte("value"), time.Minute)
	got, ok := m.Get(ctx, "k")
	if !ok || !bytes.Equal(got, []byte("value")) {
		t.Errorf("get = %q, %v", got, ok)
	}

	m.Delete(ctx, "k")
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("deleted key should miss")
	}
}

func TestMemoryPerEntryTTL(t *testing.T) {
	t.Parallel()
	m := newTestCache(t)
	ctx := context.Background()

	m.Set(ctx, "short", []byte("a"), 10*time.Millisecond)
	m.Set(ctx, "long", []byte("b"), time.Minute)

	time.Sleep(30 * time.Millisecond)
	if _, ok := m.Get(ctx, "short"); ok {
		t.Error("expired entry should miss")
	}
	if _, ok := m.Get(ctx, "long"); !ok {
		t.Error("live entry should hit")
	}
}

func TestMemoryPurge(t *testing.T) {
	t.Parallel()
	m := newTestCache(t)
	ctx := context.Background()

	m.Set(ctx, "a", []byte("1"), time.Minute)
	m.Set(ctx, "b", []byte("2"), time.Minute)
	m.Purge(ctx)

	for _, key := range []string{"a", "b"} {
		if _, ok := m.Get(ctx, key); ok {
			t.Errorf("key %q should be gone after purge", key)
		}
	}
}
