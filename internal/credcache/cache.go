// Package credcache holds short-lived access credentials in a two-tier
// cache and refreshes them on demand through the authorization provider.
package credcache

import (
	"container/list"
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tier identifies which cache layer holds an entry.
type Tier string

const (
	TierHot  Tier = "hot"
	TierWarm Tier = "warm"
)

// Entry is a cached value with its bookkeeping timestamps.
type Entry[V any] struct {
	Key        string
	Value      V
	InsertedAt time.Time
	ExpiresAt  time.Time
	Tier       Tier
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Stats reports cache activity since construction.
type Stats struct {
	HotHits   int64 `json:"hot_hits"`
	WarmHits  int64 `json:"warm_hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
	HotLen    int   `json:"hot_len"`
	WarmLen   int   `json:"warm_len"`
}

// SetOption adjusts a single Set call.
type SetOption func(*setOptions)

type setOptions struct {
	warm    bool
	warmTTL time.Duration
}

// WithoutWarm stores the value in the hot tier only.
func WithoutWarm() SetOption {
	return func(o *setOptions) { o.warm = false }
}

// WithWarmTTL overrides the warm-tier lifetime for this entry.
func WithWarmTTL(ttl time.Duration) SetOption {
	return func(o *setOptions) {
		if ttl > 0 {
			o.warmTTL = ttl
		}
	}
}

// Cache is a two-tier TTL cache. The hot tier evicts the least recently
// accessed entry on overflow; the warm tier evicts the oldest inserted.
// Expired entries are never returned, whether or not a sweep has run.
type Cache[V any] struct {
	mu       sync.Mutex
	cfg      CacheConfig
	hot      map[string]*list.Element // front = most recently accessed
	hotList  *list.List
	warm     map[string]*list.Element // front = most recently inserted
	warmList *list.List
	stats    Stats
	now      func() time.Time
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a cache. Zero-valued config fields take their defaults.
func New[V any](cfg CacheConfig, logger *zap.Logger) *Cache[V] {
	def := DefaultConfig()
	if cfg.HotCapacity <= 0 {
		cfg.HotCapacity = def.HotCapacity
	}
	if cfg.WarmCapacity <= 0 {
		cfg.WarmCapacity = def.WarmCapacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.WarmTTL <= 0 {
		cfg.WarmTTL = def.WarmTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache[V]{
		cfg:      cfg,
		hot:      make(map[string]*list.Element),
		hotList:  list.New(),
		warm:     make(map[string]*list.Element),
		warmList: list.New(),
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the value for key. A warm-tier hit is promoted into the hot tier.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.hot[key]; ok {
		e := el.Value.(*Entry[V])
		if !e.expired(now) {
			c.hotList.MoveToFront(el)
			c.stats.HotHits++
			cacheLookups.WithLabelValues(string(TierHot), "hit").Inc()
			return e.Value, true
		}
		c.removeHot(key, "expired")
	}

	if el, ok := c.warm[key]; ok {
		e := el.Value.(*Entry[V])
		if !e.expired(now) {
			c.stats.WarmHits++
			cacheLookups.WithLabelValues(string(TierWarm), "hit").Inc()
			expires := e.ExpiresAt
			if capped := now.Add(c.cfg.DefaultTTL); capped.Before(expires) {
				expires = capped
			}
			c.putHot(key, e.Value, now, expires)
			return e.Value, true
		}
		c.removeWarm(key, "expired")
	}

	c.stats.Misses++
	cacheLookups.WithLabelValues("none", "miss").Inc()
	var zero V
	return zero, false
}

// Set stores value under key. A ttl of zero uses the configured default.
// Unless WithoutWarm is given, the value is also written to the warm tier
// with the (longer) warm TTL.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration, opts ...SetOption) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	o := setOptions{warm: true, warmTTL: c.cfg.WarmTTL}
	for _, opt := range opts {
		opt(&o)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.putHot(key, value, now, now.Add(ttl))
	if o.warm {
		c.putWarm(key, value, now, now.Add(o.warmTTL))
	}
}

// Delete removes key from both tiers.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	hot := c.removeHot(key, "invalidated")
	warm := c.removeWarm(key, "invalidated")
	return hot || warm
}

// Invalidate removes every key matching the glob pattern from both tiers and
// returns how many distinct keys were removed.
func (c *Cache[V]) Invalidate(pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := make(map[string]struct{})
	for key := range c.hot {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeHot(key, "invalidated")
			removed[key] = struct{}{}
		}
	}
	for key := range c.warm {
		if ok, _ := path.Match(pattern, key); ok {
			c.removeWarm(key, "invalidated")
			removed[key] = struct{}{}
		}
	}
	return len(removed), nil
}

// Sweep removes expired entries from both tiers and returns the count removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, el := range c.hot {
		if el.Value.(*Entry[V]).expired(now) {
			c.removeHot(key, "expired")
			n++
		}
	}
	for key, el := range c.warm {
		if el.Value.(*Entry[V]).expired(now) {
			c.removeWarm(key, "expired")
			n++
		}
	}
	return n
}

// Stats returns a snapshot of cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.HotLen = len(c.hot)
	s.WarmLen = len(c.warm)
	return s
}

// Start runs the periodic expiry sweep until Stop is called or ctx ends.
func (c *Cache[V]) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("credential cache sweep", zap.Int("removed", n))
				}
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (c *Cache[V]) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// putHot inserts or refreshes a hot entry. Must be called with c.mu held.
func (c *Cache[V]) putHot(key string, value V, now, expires time.Time) {
	if el, ok := c.hot[key]; ok {
		e := el.Value.(*Entry[V])
		e.Value = value
		e.InsertedAt = now
		e.ExpiresAt = expires
		c.hotList.MoveToFront(el)
		return
	}
	e := &Entry[V]{Key: key, Value: value, InsertedAt: now, ExpiresAt: expires, Tier: TierHot}
	c.hot[key] = c.hotList.PushFront(e)

	for len(c.hot) > c.cfg.HotCapacity {
		oldest := c.hotList.Back()
		c.removeHot(oldest.Value.(*Entry[V]).Key, "capacity")
	}
}

// putWarm inserts or re-inserts a warm entry. Must be called with c.mu held.
func (c *Cache[V]) putWarm(key string, value V, now, expires time.Time) {
	if el, ok := c.warm[key]; ok {
		e := el.Value.(*Entry[V])
		e.Value = value
		e.InsertedAt = now
		e.ExpiresAt = expires
		c.warmList.MoveToFront(el)
		return
	}
	e := &Entry[V]{Key: key, Value: value, InsertedAt: now, ExpiresAt: expires, Tier: TierWarm}
	c.warm[key] = c.warmList.PushFront(e)

	for len(c.warm) > c.cfg.WarmCapacity {
		oldest := c.warmList.Back()
		c.removeWarm(oldest.Value.(*Entry[V]).Key, "capacity")
	}
}

func (c *Cache[V]) removeHot(key, cause string) bool {
	el, ok := c.hot[key]
	if !ok {
		return false
	}
	c.hotList.Remove(el)
	delete(c.hot, key)
	c.countRemoval(TierHot, cause)
	return true
}

func (c *Cache[V]) removeWarm(key, cause string) bool {
	el, ok := c.warm[key]
	if !ok {
		return false
	}
	c.warmList.Remove(el)
	delete(c.warm, key)
	c.countRemoval(TierWarm, cause)
	return true
}

func (c *Cache[V]) countRemoval(tier Tier, cause string) {
	switch cause {
	case "capacity":
		c.stats.Evictions++
	case "expired":
		c.stats.Expired++
	}
	cacheEvictions.WithLabelValues(string(tier), cause).Inc()
}
