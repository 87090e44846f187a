package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docarchive/pkg/config"
)

func skipIfNoRedis(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := NewClient(config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("skipping: redis unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSetNXAndCompareAndDelete(t *testing.T) {
	c := skipIfNoRedis(t)
	ctx := context.Background()
	key := "docarchive:test:" + time.Now().Format(time.RFC3339Nano)
	t.Cleanup(func() { c.Del(ctx, key) })

	ok, err := c.SetNX(ctx, key, "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	ok, err = c.SetNX(ctx, key, "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v; want false", ok, err)
	}

	removed, err := c.CompareAndDelete(ctx, key, "owner-b")
	if err != nil || removed {
		t.Fatalf("CompareAndDelete by non-owner = %v, %v", removed, err)
	}
	removed, err = c.CompareAndDelete(ctx, key, "owner-a")
	if err != nil || !removed {
		t.Fatalf("CompareAndDelete by owner = %v, %v", removed, err)
	}
	if _, err := c.Get(ctx, key); !IsNilError(err) {
		t.Errorf("expected key to be gone, got %v", err)
	}
}
