package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiter(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 2, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if !limiter.Allow("user-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow("user-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow("user-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow("user-2") {
		t.Fatalf("other keys should have their own quota")
	}
}

func TestFixedWindowLimiterFailsClosed(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	redis.Close()
	if limiter.Allow("user-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresAddr(t *testing.T) {
	if _, err := NewFixedWindowLimiter("", "", "", 1, time.Second); err == nil {
		t.Fatal("expected error for missing redis addr")
	}
}

func TestFixedWindowLimiterEmptyKeyStillCounted(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := NewFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	if !limiter.Allow("") {
		t.Fatalf("first anonymous request should pass")
	}
	if limiter.Allow("  ") {
		t.Fatalf("blank keys should share the unknown bucket")
	}
}
