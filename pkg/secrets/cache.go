package secrets

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Clock reports the current time.
type Clock func() time.Time

// CacheOption configures a Cache.
type CacheOption func(*cacheOptions)

type cacheOptions struct {
	clock Clock
}

// WithClock replaces time.Now as the cache's time source.
func WithClock(clock Clock) CacheOption {
	return func(o *cacheOptions) { o.clock = clock }
}

type entry[T any] struct {
	value    T
	storedAt time.Time
}

// Cache holds resolved secret-backed settings for a fixed TTL. Concurrent
// misses for the same key share one backend fetch.
type Cache[T any] struct {
	ttl   time.Duration
	clock Clock
	fetch singleflight.Group

	mu      sync.Mutex
	entries map[string]entry[T]
}

func NewCache[T any](ttl time.Duration, opts ...CacheOption) *Cache[T] {
	o := cacheOptions{clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{ttl: ttl, clock: o.clock, entries: make(map[string]entry[T])}
}

func (c *Cache[T]) stale(e entry[T], now time.Time) bool {
	return now.Sub(e.storedAt) >= c.ttl
}

// Get returns the value for key unless it is missing or stale. Stale entries
// are dropped on read.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok && c.stale(e, c.clock()) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *Cache[T]) Put(key string, value T) {
	c.mu.Lock()
	c.entries[key] = entry[T]{value: value, storedAt: c.clock()}
	c.mu.Unlock()
}

// Bust drops key, e.g. after a secret rotation.
func (c *Cache[T]) Bust(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len counts entries, stale ones included.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Fetch returns the cached value for key or calls load. load reports whether
// its result may be cached; a value served as a fallback should not be. hit
// is true when no load ran for this call.
func (c *Cache[T]) Fetch(ctx context.Context, key string, load func(context.Context) (T, bool, error)) (value T, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	res, err, _ := c.fetch.Do(key, func() (interface{}, error) {
		v, keep, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if keep {
			c.Put(key, v)
		}
		return v, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return res.(T), false, nil
}

// Sweep drops stale entries and returns how many were removed.
func (c *Cache[T]) Sweep() int {
	now := c.clock()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if c.stale(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (c *Cache[T]) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
