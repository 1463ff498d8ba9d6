package cache_test

import (
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-homework/internal/platform/cache"
)

// newRedis returns a cache backed by a fresh Redis container. The test is
// skipped in short mode or when no container runtime is available.
func newRedis(t *testing.T) *cache.Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	ctr, err := testcontainers.Run(ctx, "redis:7-alpine",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(wait.ForLog("Ready to accept connections")),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}

	url, err := ctr.PortEndpoint(ctx, "6379/tcp", "redis")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	c, err := cache.New(ctx, url)
	if err != nil {
		t.Fatalf("cache.New() error = %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"host and port", "redis://localhost:6379", false},
		{"with database", "redis://localhost:6379/2", false},
		{"tls scheme", "rediss://cache.internal:6380", false},
		{"empty", "", true},
		{"wrong scheme", "http://localhost:6379", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cache.ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestNew_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping unreachable host test in short mode")
	}
	if _, err := cache.New(t.Context(), "redis://localhost:59999"); err == nil {
		t.Fatal("New() should fail for an unreachable host")
	}
}

func TestCache_GetSet(t *testing.T) {
	c := newRedis(t)
	ctx := t.Context()

	if _, err := c.Get(ctx, "kp:missing"); !errors.Is(err, cache.ErrMiss) {
		t.Errorf("Get(missing) error = %v, want ErrMiss", err)
	}

	if err := c.Set(ctx, "kp:list", []byte(`[{"id":1}]`), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := c.Get(ctx, "kp:list")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `[{"id":1}]` {
		t.Errorf("Get() = %s, want the stored value", got)
	}

	raw, err := c.Client.Get(ctx, "tutor:kp:list").Result()
	if err != nil || raw != `[{"id":1}]` {
		t.Errorf("raw key tutor:kp:list = %q (%v), want the stored value", raw, err)
	}
	ttl, err := c.Client.TTL(ctx, "tutor:kp:list").Result()
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v (%v), want within a minute", ttl, err)
	}
	if n, _ := c.Client.Exists(ctx, "kp:list").Result(); n != 0 {
		t.Error("value stored without the tutor: prefix")
	}
}

func TestCache_Counter(t *testing.T) {
	c := newRedis(t)
	ctx := t.Context()

	n, err := c.Counter(ctx, "taxonomy:version")
	if err != nil || n != 0 {
		t.Errorf("Counter(missing) = %d (%v), want 0", n, err)
	}
	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, "taxonomy:version")
		if err != nil {
			t.Fatalf("Incr() error = %v", err)
		}
		if n != want {
			t.Errorf("Incr() = %d, want %d", n, want)
		}
	}
	if n, err := c.Counter(ctx, "taxonomy:version"); err != nil || n != 3 {
		t.Errorf("Counter() = %d (%v), want 3", n, err)
	}

	if err := c.Set(ctx, "taxonomy:bad", []byte("not-a-number"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := c.Counter(ctx, "taxonomy:bad"); err == nil || errors.Is(err, cache.ErrMiss) {
		t.Errorf("Counter(non-numeric) error = %v, want a parse error", err)
	}

	if err := c.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
