package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStoreRoundTrip(t *testing.T) {
	s := New(NewMemoryBackend())
	ctx := context.Background()
	if err := s.SetItem(ctx, "evolutionInstances", []record{{Name: "a", Count: 2}}, nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	var out []record
	found, err := s.GetItem(ctx, "evolutionInstances", &out)
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if len(out) != 1 || out[0].Name != "a" || out[0].Count != 2 {
		t.Fatalf("unexpected value: %+v", out)
	}
	if err := s.RemoveItem(ctx, "evolutionInstances"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	found, _ = s.GetItem(ctx, "evolutionInstances", &out)
	if found {
		t.Fatalf("expected entry to be removed")
	}
}

func TestStoreExpiredItemIsDropped(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	ctx := context.Background()
	exp := base.Add(time.Minute)
	if err := s.SetItem(ctx, "k", "v", &exp); err != nil {
		t.Fatalf("set: %v", err)
	}
	var v string
	if found, _ := s.GetItem(ctx, "k", &v); !found || v != "v" {
		t.Fatalf("expected live entry, got %q found=%v", v, found)
	}
	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	if found, _ := s.GetItem(ctx, "k", &v); found {
		t.Fatalf("expired entry should not be returned")
	}
	if _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Fatalf("expired entry should be deleted from the backend")
	}
}

func TestStoreRejectsEmptyKey(t *testing.T) {
	s := New(NewMemoryBackend())
	if err := s.SetItem(context.Background(), "", 1, nil); err != ErrEmptyKey {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	s := New(NewRedisBackend(client, "test"))
	ctx := context.Background()

	exp := time.Now().Add(time.Hour)
	if err := s.SetItem(ctx, "revoked:abc", true, &exp); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !mr.Exists("test:revoked:abc") {
		t.Fatalf("expected prefixed key in redis")
	}
	if ttl := mr.TTL("test:revoked:abc"); ttl <= 0 {
		t.Fatalf("expected redis ttl, got %v", ttl)
	}
	var v bool
	found, err := s.GetItem(ctx, "revoked:abc", &v)
	if err != nil || !found || !v {
		t.Fatalf("get: v=%v found=%v err=%v", v, found, err)
	}
	if found, _ := s.GetItem(ctx, "missing", &v); found {
		t.Fatalf("missing key should not be found")
	}
	mr.FastForward(2 * time.Hour)
	if found, _ := s.GetItem(ctx, "revoked:abc", &v); found {
		t.Fatalf("key should expire in redis")
	}
}

func TestSetItemUsesInjectedClock(t *testing.T) {
	base := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	s := New(NewMemoryBackend(), WithNow(func() time.Time { return base }))
	ctx := context.Background()
	exp := base.Add(time.Hour)
	if err := s.SetItem(ctx, "revoked:sess_1", true, &exp); err != nil {
		t.Fatalf("set: %v", err)
	}
	if found, err := s.GetItem(ctx, "revoked:sess_1", nil); err != nil || !found {
		t.Fatalf("expected entry under injected clock, found=%v err=%v", found, err)
	}
}

func TestSetItemPastExpirationFails(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend)
	ctx := context.Background()
	if err := s.SetItem(ctx, "k", "old", nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	past := time.Now().Add(-time.Minute)
	if err := s.SetItem(ctx, "k", "new", &past); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Fatalf("previous value should be removed")
	}
}
