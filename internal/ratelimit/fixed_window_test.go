package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, limit int) (*FixedWindowLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l, err := NewFixedWindowLimiter(client, "test:login", limit, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	return l, mr
}

func TestFixedWindowLimiterBlocksOverQuota(t *testing.T) {
	l, _ := newLimiter(t, 2)
	ctx := context.Background()
	if !l.Allow(ctx, "1.2.3.4") || !l.Allow(ctx, "1.2.3.4") {
		t.Fatalf("first two attempts should pass")
	}
	if l.Allow(ctx, "1.2.3.4") {
		t.Fatalf("third attempt should be blocked")
	}
	if !l.Allow(ctx, "5.6.7.8") {
		t.Fatalf("other keys keep their own quota")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	l, mr := newLimiter(t, 5)
	mr.Close()
	if l.Allow(context.Background(), "1.2.3.4") {
		t.Fatalf("limiter should deny when redis is down")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var l *FixedWindowLimiter
	if !l.Allow(context.Background(), "x") {
		t.Fatalf("nil limiter means throttling is disabled")
	}
}

func TestNewFixedWindowLimiterValidates(t *testing.T) {
	if _, err := NewFixedWindowLimiter(nil, "", 1, time.Second); err == nil {
		t.Fatalf("expected error without client")
	}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()
	if _, err := NewFixedWindowLimiter(client, "", 0, time.Second); err == nil {
		t.Fatalf("expected error for zero limit")
	}
}
