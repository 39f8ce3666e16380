// Package cache provides an in-memory TTL cache that coalesces concurrent
// fetches of the same key into a single upstream call.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// DefaultMaxEntries bounds a cache when no WithMaxEntries option is given.
const DefaultMaxEntries = 1000

// ErrFetchPanicked is returned to every waiter of a fetch that panicked.
var ErrFetchPanicked = errors.New("cache: fetch panicked")

// ErrInFlight is returned by TryFetch when the key is already being fetched.
var ErrInFlight = errors.New("cache: fetch in flight")

// FetchFunc loads the value for a key on a cache miss.
type FetchFunc[V any] func(ctx context.Context) (V, error)

type flight struct {
	stale bool
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// Stats are cumulative counters of a cache.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Fetches int64 `json:"fetches"`
	Errors  int64 `json:"errors"`
}

// Cache maps keys to values that expire ttl after insertion. Failed fetches
// are never stored, so a miss caused by an error is retried on the next read.
type Cache[K comparable, V any] struct {
	name string
	ttl  time.Duration
	now  func() time.Time

	entries *lru.Cache[K, entry[V]]
	group   singleflight.Group

	// flights holds the keys being fetched. An invalidation marks the
	// flight of its key stale so the result is not stored.
	mu      sync.Mutex
	flights map[K]*flight

	hits, misses, fetches, errs atomic.Int64
}

type options struct {
	maxEntries int
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*options)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithMaxEntries bounds the number of entries; the least recently used
// entry is evicted first.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxEntries = n
		}
	}
}

// New creates an empty cache. name only appears in logs.
func New[K comparable, V any](name string, ttl time.Duration, opts ...Option) *Cache[K, V] {
	o := options{maxEntries: DefaultMaxEntries, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	entries, err := lru.New[K, entry[V]](o.maxEntries)
	if err != nil {
		// only fails for a non-positive size, which WithMaxEntries rejects
		panic(err)
	}
	return &Cache[K, V]{
		name:    name,
		ttl:     ttl,
		now:     o.now,
		entries: entries,
		flights: make(map[K]*flight),
	}
}

// Name returns the name given to New.
func (c *Cache[K, V]) Name() string {
	return c.name
}

// TTL returns the lifetime of an entry.
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

func (c *Cache[K, V]) live(e entry[V]) bool {
	return c.now().Before(e.insertedAt.Add(c.ttl))
}

// Get returns the value for key if it is present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok || !c.live(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, replacing any previous entry.
func (c *Cache[K, V]) Set(key K, value V) {
	c.entries.Add(key, entry[V]{value: value, insertedAt: c.now()})
}

// GetOrFetch returns the cached value for key or runs fetch to load it.
// Concurrent callers for the same key share one fetch and its result. The
// fetch itself is detached from ctx so that a caller giving up does not
// abort it for the others; ctx only bounds how long this caller waits.
func (c *Cache[K, V]) GetOrFetch(ctx context.Context, key K, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)
	return c.wait(ctx, key, fetch)
}

// TryFetch is GetOrFetch for background callers. When a fetch for key is
// already running it returns ErrInFlight at once instead of joining it.
func (c *Cache[K, V]) TryFetch(ctx context.Context, key K, fetch FetchFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	if c.Fetching(key) {
		var zero V
		return zero, ErrInFlight
	}
	c.misses.Add(1)
	return c.wait(ctx, key, fetch)
}

// Fetching reports whether a fetch for key is running.
func (c *Cache[K, V]) Fetching(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.flights[key]
	return ok
}

func (c *Cache[K, V]) wait(ctx context.Context, key K, fetch FetchFunc[V]) (V, error) {
	var zero V
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(key), func() (any, error) {
		f := c.beginFlight(key)
		defer c.endFlight(key, f)
		// a concurrent flight may have stored the value since our miss
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := c.run(fetchCtx, key, fetch)
		if err != nil {
			c.errs.Add(1)
			return nil, err
		}
		c.store(key, v, f)
		return v, nil
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		v, _ := res.Val.(V)
		return v, nil
	}
}

func (c *Cache[K, V]) run(ctx context.Context, key K, fetch FetchFunc[V]) (v V, err error) {
	c.fetches.Add(1)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("cache fetch panicked", "cache", c.name, "key", key, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrFetchPanicked, r)
		}
	}()
	start := time.Now()
	v, err = fetch(ctx)
	slog.Debug("cache fetch", "cache", c.name, "key", key, "duration", time.Since(start), "error", err)
	return v, err
}

// beginFlight registers the running fetch for key. singleflight runs at
// most one fetch per key, so there is no record yet.
func (c *Cache[K, V]) beginFlight(key K) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := &flight{}
	c.flights[key] = f
	return f
}

func (c *Cache[K, V]) endFlight(key K, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

func (c *Cache[K, V]) store(key K, value V, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.stale {
		slog.Debug("dropping fetch result after invalidation", "cache", c.name, "key", key)
		return
	}
	c.Set(key, value)
}

// invalidate must be called with mu held.
func (c *Cache[K, V]) invalidate(key K) bool {
	if f, ok := c.flights[key]; ok {
		f.stale = true
	}
	return c.entries.Remove(key)
}

// Invalidate removes key. A fetch for key that is running still answers its
// waiters but does not store its result. Other keys are not affected.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidate(key)
}

// InvalidateFunc removes every entry and marks every running fetch whose
// key matches pred, and reports how many entries were removed.
func (c *Cache[K, V]) InvalidateFunc(pred func(K) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, f := range c.flights {
		if pred(key) {
			f.stale = true
		}
	}
	removed := 0
	for _, key := range c.entries.Keys() {
		if pred(key) && c.invalidate(key) {
			removed++
		}
	}
	return removed
}

// Purge removes all entries. No running fetch stores its result.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.flights {
		f.stale = true
	}
	c.entries.Purge()
}

// Len returns the number of unexpired entries.
func (c *Cache[K, V]) Len() int {
	n := 0
	for _, key := range c.entries.Keys() {
		if e, ok := c.entries.Peek(key); ok && c.live(e) {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Errors:  c.errs.Load(),
	}
}

// flightKey renders a key for the single-flight group. %#v quotes string
// fields, so composite keys cannot collide.
func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%#v", key)
}
