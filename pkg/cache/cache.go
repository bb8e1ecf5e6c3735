// Package cache implements the engine's keyed, TTL'd, size-bounded result
// cache with single-flight collapsing of concurrent computations (C3).
// Eviction composes two policies: size-bounded LRU (hashicorp/golang-lru/v2)
// and lazy TTL expiry checked on Get, following the teacher's
// pkg/runbook/cache.go lazy-expire-under-lock idiom.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry is one stored value plus its expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// HitRecorder is called on every Get resolution with whether it was a hit.
// GetOrCompute reports only through its initial Get (a miss when it goes on
// to compute); the compute itself is not reported. Cache has no dependency on the trace
// package; callers that want a cache_hit StageEvent supply this hook.
type HitRecorder func(key string, hit bool)

// Cache is a generic, concurrency-safe, single-flight result cache.
type Cache[V any] struct {
	mu         sync.RWMutex
	lru        *lru.Cache[string, *entry[V]]
	defaultTTL time.Duration
	onResolve  HitRecorder

	callsMu sync.Mutex
	calls   map[string]*call[V]
}

// call coordinates concurrent GetOrCompute invocations for the same key.
type call[V any] struct {
	wg    sync.WaitGroup
	value V
	err   error
}

// New constructs a Cache bounded to maxEntries with the given default TTL.
// onResolve may be nil.
func New[V any](maxEntries int, defaultTTL time.Duration, onResolve HitRecorder) *Cache[V] {
	backing, err := lru.New[string, *entry[V]](maxEntries)
	if err != nil {
		// Only returns an error for a non-positive size; degrade to a
		// reasonable floor rather than panicking on bad config.
		backing, _ = lru.New[string, *entry[V]](1)
	}
	return &Cache[V]{
		lru:        backing,
		defaultTTL: defaultTTL,
		onResolve:  onResolve,
		calls:      make(map[string]*call[V]),
	}
}

// Get returns the cached value for key, reporting a miss if absent or
// expired. Expired entries are evicted lazily.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	c.mu.RLock()
	e, ok := c.lru.Peek(key)
	c.mu.RUnlock()
	if !ok {
		c.record(key, false)
		return zero, false
	}
	if !e.expired(time.Now()) {
		c.mu.Lock()
		c.lru.Get(key) // refresh recency
		c.mu.Unlock()
		c.record(key, true)
		return e.value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-check under the write lock: a concurrent Set may have refreshed
	// this key between the RUnlock above and acquiring the write lock.
	e, ok = c.lru.Peek(key)
	if !ok || e.expired(time.Now()) {
		c.lru.Remove(key)
		c.record(key, false)
		return zero, false
	}
	c.record(key, true)
	return e.value, true
}

// Set stores value under key with ttl (the Cache's default TTL if ttl<=0).
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, &entry[V]{value: value, expiresAt: time.Now().Add(ttl)})
}

// Delete removes key unconditionally.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// ComputeFunc produces the value for a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, time.Duration, error)

// GetOrCompute returns the cached value for key, or runs compute exactly
// once across all concurrent callers for that key (single-flight) and
// caches the result for the TTL compute returns. A compute error is
// surfaced to all current waiters but never cached ("negative caching" is
// explicitly excluded per spec.md §4.1).
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.callsMu.Lock()
	if inflight, ok := c.calls[key]; ok {
		c.callsMu.Unlock()
		inflight.wg.Wait()
		return inflight.value, inflight.err
	}
	// A call for key may have stored its value and finished between the Get
	// above and taking callsMu.
	c.mu.RLock()
	e, ok := c.lru.Peek(key)
	c.mu.RUnlock()
	if ok && !e.expired(time.Now()) {
		c.callsMu.Unlock()
		return e.value, nil
	}
	cl := &call[V]{}
	cl.wg.Add(1)
	c.calls[key] = cl
	c.callsMu.Unlock()

	value, ttl, err := compute(ctx)
	cl.value, cl.err = value, err
	if err == nil {
		c.Set(key, value, ttl)
	}

	c.callsMu.Lock()
	delete(c.calls, key)
	c.callsMu.Unlock()
	cl.wg.Done()
	return value, err
}

// Len reports the number of live (possibly expired-but-not-yet-evicted)
// entries.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

func (c *Cache[V]) record(key string, hit bool) {
	if c.onResolve != nil {
		c.onResolve(key, hit)
	}
}
