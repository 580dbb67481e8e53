package credcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeClock is a manually advanced clock for expiry tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, cfg CacheConfig) (*Cache[string], *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	c := New[string](cfg, zap.NewNop())
	c.now = clock.Now
	return c, clock
}

func TestCache_SetGet(t *testing.T) {
	c, _ := newTestCache(t, CacheConfig{})

	c.Set("k", "v", 0)
	got, ok := c.Get("k")
	if !ok {
		t.Fatal("Get() miss, want hit")
	}
	if got != "v" {
		t.Errorf("Get() = %q, want %q", got, "v")
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) hit, want miss")
	}
}

func TestCache_ExpiryBeforeSweep(t *testing.T) {
	c, clock := newTestCache(t, CacheConfig{})

	c.Set("k", "v", 100*time.Millisecond, WithoutWarm())
	if _, ok := c.Get("k"); !ok {
		t.Fatal("immediate Get() miss, want hit")
	}

	clock.Advance(150 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() after expiry hit, want miss")
	}
}

func TestCache_ExpiryRealClock(t *testing.T) {
	c := New[string](CacheConfig{}, zap.NewNop())

	c.Set("k", "v", 100*time.Millisecond, WithWarmTTL(100*time.Millisecond))
	if got, ok := c.Get("k"); !ok || got != "v" {
		t.Fatalf("Get() = %q, %v; want v, true", got, ok)
	}

	time.Sleep(150 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Error("Get() after 150ms hit, want miss")
	}
}

func TestCache_WarmPromotion(t *testing.T) {
	c, clock := newTestCache(t, CacheConfig{DefaultTTL: time.Minute, WarmTTL: time.Hour})

	c.Set("k", "v", time.Minute)
	clock.Advance(2 * time.Minute)

	got, ok := c.Get("k")
	if !ok || got != "v" {
		t.Fatalf("Get() = %q, %v; want warm hit", got, ok)
	}

	s := c.Stats()
	if s.WarmHits != 1 {
		t.Errorf("WarmHits = %d, want 1", s.WarmHits)
	}

	// The promoted value is now served from the hot tier.
	if _, ok := c.Get("k"); !ok {
		t.Fatal("second Get() miss, want hot hit")
	}
	if s := c.Stats(); s.HotHits != 1 {
		t.Errorf("HotHits = %d, want 1", s.HotHits)
	}
}

func TestCache_WithoutWarm(t *testing.T) {
	c, clock := newTestCache(t, CacheConfig{})

	c.Set("k", "v", time.Second, WithoutWarm())
	clock.Advance(2 * time.Second)

	if _, ok := c.Get("k"); ok {
		t.Error("Get() hit after hot expiry with no warm copy")
	}
	if s := c.Stats(); s.WarmLen != 0 {
		t.Errorf("WarmLen = %d, want 0", s.WarmLen)
	}
}

func TestCache_HotLRUEviction(t *testing.T) {
	c, _ := newTestCache(t, CacheConfig{HotCapacity: 3})

	for i := range 3 {
		c.Set(fmt.Sprintf("k%d", i), "v", 0, WithoutWarm())
	}
	// Touch k0 so k1 becomes least recently accessed.
	if _, ok := c.Get("k0"); !ok {
		t.Fatal("Get(k0) miss")
	}

	c.Set("k3", "v", 0, WithoutWarm())

	if _, ok := c.Get("k1"); ok {
		t.Error("k1 still cached, want evicted as least recently accessed")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("Get(%s) miss, want hit", k)
		}
	}
	if s := c.Stats(); s.Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", s.Evictions)
	}
}

func TestCache_WarmFIFOEviction(t *testing.T) {
	c, clock := newTestCache(t, CacheConfig{HotCapacity: 1, WarmCapacity: 2, DefaultTTL: time.Second})

	c.Set("a", "1", time.Second)
	c.Set("b", "2", time.Second)
	c.Set("c", "3", time.Second)

	// Expire the hot tier so lookups must go to warm.
	clock.Advance(2 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Error("a found, want evicted as oldest warm insert")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b missing from warm tier")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, CacheConfig{})

	c.Set("access:acct-1", "t1", 0)
	c.Set("access:acct-2", "t2", 0)
	c.Set("other:acct-1", "x", 0)

	n, err := c.Invalidate("access:*")
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if n != 2 {
		t.Errorf("Invalidate() removed %d keys, want 2", n)
	}
	if _, ok := c.Get("access:acct-1"); ok {
		t.Error("access:acct-1 survived invalidation")
	}
	if _, ok := c.Get("other:acct-1"); !ok {
		t.Error("other:acct-1 removed, want kept")
	}

	if _, err := c.Invalidate("[bad"); err == nil {
		t.Error("Invalidate with malformed pattern: want error")
	}
}

func TestCache_Sweep(t *testing.T) {
	c, clock := newTestCache(t, CacheConfig{WarmTTL: 10 * time.Second})

	c.Set("short", "v", time.Second)
	c.Set("long", "v", time.Minute, WithWarmTTL(time.Hour))
	clock.Advance(5 * time.Second)

	// short: hot expired; long: both alive.
	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	clock.Advance(10 * time.Second)
	// short: warm expired now.
	if n := c.Sweep(); n != 1 {
		t.Errorf("second Sweep() = %d, want 1", n)
	}
	s := c.Stats()
	if s.HotLen != 1 || s.WarmLen != 1 {
		t.Errorf("HotLen, WarmLen = %d, %d; want 1, 1", s.HotLen, s.WarmLen)
	}
}

func TestCache_StartStop(t *testing.T) {
	c := New[string](CacheConfig{SweepInterval: 10 * time.Millisecond}, zap.NewNop())
	c.Set("k", "v", 5*time.Millisecond, WithWarmTTL(5*time.Millisecond))

	c.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	if s := c.Stats(); s.HotLen != 0 || s.WarmLen != 0 {
		t.Errorf("HotLen, WarmLen = %d, %d after sweeps; want 0, 0", s.HotLen, s.WarmLen)
	}
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int](CacheConfig{HotCapacity: 50}, zap.NewNop())

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := fmt.Sprintf("k%d", (g*200+i)%100)
				c.Set(key, i, 0)
				c.Get(key)
			}
		}()
	}
	wg.Wait()

	if s := c.Stats(); s.HotLen > 50 {
		t.Errorf("HotLen = %d, want <= 50", s.HotLen)
	}
}
