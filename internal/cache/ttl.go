// Package cache holds the expiring in-process cache that sits in front of read
// queries, and a read-through loader that collapses duplicate loads.
package cache

import (
	"context"
	"sync"
	"time"

	"domamart/internal/platform/metrics"
	"domamart/internal/scheduler"
)

const (
	// DefaultTTL matches the retention used for upstream read data.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval is how often expired entries are purged.
	DefaultSweepInterval = time.Minute
)

type options struct {
	name          string
	defaultTTL    time.Duration
	sweepInterval time.Duration
	clock         func() time.Time
	scheduler     scheduler.Scheduler
	metrics       *metrics.Metrics
}

// Option configures a TTLCache.
type Option func(*options)

// WithName labels the cache in metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithDefaultTTL sets the TTL used by Set.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.defaultTTL = ttl
		}
	}
}

// WithSweepInterval sets how often Start purges expired entries.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sweepInterval = d
		}
	}
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithScheduler replaces the wall-clock scheduler used for sweeps.
func WithScheduler(s scheduler.Scheduler) Option {
	return func(o *options) {
		if s != nil {
			o.scheduler = s
		}
	}
}

// WithMetrics records lookups and evictions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

// An entry is visible while now <= storedAt+ttl.
func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.storedAt.Add(e.ttl))
}

// TTLCache is a concurrency-safe map whose entries expire. Expired entries are
// invisible to reads immediately; they are removed either by the read that finds
// them or by the periodic sweep, whichever comes first.
type TTLCache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]entry[V]
	opts    options

	taskMu sync.Mutex
	task   scheduler.Task
}

// New creates an empty cache. Call Start to enable the background sweep.
func New[K comparable, V any](opts ...Option) *TTLCache[K, V] {
	o := options{
		name:          "default",
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		clock:         time.Now,
		scheduler:     scheduler.NewTicker(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return &TTLCache[K, V]{
		entries: make(map[K]entry[V]),
		opts:    o,
	}
}

// Set stores value under key with the default TTL, replacing any existing entry.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.opts.defaultTTL)
}

// SetWithTTL stores value under key with the given TTL, replacing any existing
// entry. A non-positive ttl falls back to the default.
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, storedAt: c.opts.clock(), ttl: ttl}
}

// Get returns the live value for key. An expired entry is evicted and reported
// as a miss.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	expired := ok && e.expired(c.opts.clock())
	if expired {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if expired {
		c.opts.metrics.CacheEvicted(c.opts.name, metrics.EvictExpiredRead, 1)
	}
	if !ok || expired {
		c.opts.metrics.CacheMiss(c.opts.name)
		var zero V
		return zero, false
	}
	c.opts.metrics.CacheHit(c.opts.name)
	return e.value, true
}

// Has reports whether key holds a live value.
func (c *TTLCache[K, V]) Has(key K) bool {
	_, ok := c.Get(key)
	return ok
}

// Delete removes key and reports whether an entry was present.
func (c *TTLCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// Clear removes every entry.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Len returns the number of stored entries, including expired entries that have
// not been swept yet.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *TTLCache[K, V]) Sweep() int {
	now := c.opts.clock()
	c.mu.Lock()
	removed := 0
	for k, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.opts.metrics.CacheEvicted(c.opts.name, metrics.EvictSweep, removed)
	}
	return removed
}

// Start schedules Sweep at the configured interval. Calling Start while a sweep
// is scheduled does nothing.
func (c *TTLCache[K, V]) Start(ctx context.Context) {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if c.task != nil {
		return
	}
	c.task = c.opts.scheduler.Every(ctx, c.opts.sweepInterval, func(context.Context) {
		c.Sweep()
	})
}

// Stop cancels the background sweep.
func (c *TTLCache[K, V]) Stop() {
	c.taskMu.Lock()
	defer c.taskMu.Unlock()
	if c.task != nil {
		c.task.Stop()
		c.task = nil
	}
}
