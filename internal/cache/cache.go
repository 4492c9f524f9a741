// Package cache provides an in-process key/value store with per-entry expiry.
package cache

import (
	"sync"
	"time"
)

const (
	DefaultTTL           = 5 * time.Minute
	DefaultSweepInterval = time.Minute
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache holds values until their TTL elapses. Expired entries are never
// returned: Get checks expiry lazily and a background sweeper reclaims them.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	defaultTTL time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	startOnce sync.Once
	closeOnce sync.Once
	running   bool
	stop      chan struct{}
	done      chan struct{}
}

// Option configures a Cache.
type Option func(*config)

type config struct {
	ttl   time.Duration
	sweep time.Duration
	now   func() time.Time
}

// WithDefaultTTL sets the TTL used by Set.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithSweepInterval sets how often the background sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.sweep = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache. Call Start to run the periodic sweeper.
func New[V any](opts ...Option) *Cache[V] {
	cfg := config{ttl: DefaultTTL, sweep: DefaultSweepInterval, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Cache[V]{
		entries:    make(map[string]entry[V]),
		defaultTTL: cfg.ttl,
		sweepEvery: cfg.sweep,
		now:        cfg.now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Set stores value under key with the default TTL, replacing any existing entry.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key for ttl. A non-positive ttl uses the default.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(ttl)}
}

// Get returns the value for key, or false if it is missing or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len reports the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Start launches the background sweeper. It is safe to call more than once.
func (c *Cache[V]) Start() {
	c.startOnce.Do(func() {
		c.running = true
		go c.sweepLoop()
	})
}

func (c *Cache[V]) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Close stops the sweeper, if running, and waits for it to exit.
// Entries remain readable; a Start after Close does nothing.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		c.startOnce.Do(func() {})
		close(c.stop)
		if c.running {
			<-c.done
		}
	})
}
