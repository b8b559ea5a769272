package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/koios/signage-sync/internal/config"
)

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(config.RateLimitConfig{Window: time.Minute, MaxRequests: 3}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "dev-a")
		if err != nil {
			t.Fatal(err)
		}
		if !d.Allowed || d.Remaining != 2-i {
			t.Fatalf("request %d: %+v", i, d)
		}
	}

	now = now.Add(20 * time.Second)
	d, _ := l.Allow(ctx, "dev-a")
	if d.Allowed {
		t.Fatal("fourth request allowed")
	}
	if d.RetryAfter != 40*time.Second {
		t.Errorf("retry after = %v, want 40s", d.RetryAfter)
	}

	t.Run("keys are independent", func(t *testing.T) {
		if d, _ := l.Allow(ctx, "dev-b"); !d.Allowed {
			t.Error("other key limited")
		}
	})

	t.Run("window resets", func(t *testing.T) {
		now = now.Add(40 * time.Second)
		if d, _ := l.Allow(ctx, "dev-a"); !d.Allowed || d.Remaining != 2 {
			t.Errorf("after window: %+v", d)
		}
	})
}

func TestMemoryLimiterSweep(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(config.RateLimitConfig{Window: time.Second, MaxRequests: 10}).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	l.Allow(ctx, "stale")
	now = now.Add(2 * time.Second)
	for i := 0; i < sweepEvery; i++ {
		l.Allow(ctx, "fresh")
	}
	if _, ok := l.windows["stale"]; ok {
		t.Error("expired window not swept")
	}
}

func TestRedisLimiter(t *testing.T) {
	// This test requires a running Redis instance
	l := NewRedisLimiter(config.RedisConfig{Addr: "localhost:6379", DB: 1},
		config.RateLimitConfig{Window: 5 * time.Second, MaxRequests: 2})
	defer l.Close()

	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	key := "test/device"
	l.Reset(ctx, key)
	defer l.Reset(ctx, key)

	for i := 0; i < 2; i++ {
		d, err := l.Allow(ctx, key)
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d limited", i)
		}
	}
	d, err := l.Allow(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > 5*time.Second {
		t.Errorf("third request: %+v", d)
	}
}

func TestRedisLimiterWindowStaysFixed(t *testing.T) {
	// This test requires a running Redis instance
	l := NewRedisLimiter(config.RedisConfig{Addr: "localhost:6379", DB: 1},
		config.RateLimitConfig{Window: 5 * time.Second, MaxRequests: 10})
	defer l.Close()

	ctx := context.Background()
	if err := l.Ping(ctx); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	key := "test/window"
	l.Reset(ctx, key)
	defer l.Reset(ctx, key)

	first, err := l.Allow(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if first.Remaining != 9 {
		t.Errorf("first request remaining = %d, want 9", first.Remaining)
	}
	ttl := l.client.PTTL(ctx, buildKey(key)).Val()
	if ttl <= 0 || ttl > 5*time.Second {
		t.Fatalf("window TTL = %v", ttl)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := l.Allow(ctx, key); err != nil {
		t.Fatal(err)
	}
	if after := l.client.PTTL(ctx, buildKey(key)).Val(); after <= 0 || after >= ttl {
		t.Errorf("TTL after second request = %v, want below %v", after, ttl)
	}
	if n := l.client.Get(ctx, buildKey(key)).Val(); n != "2" {
		t.Errorf("count = %q, want 2", n)
	}
}
