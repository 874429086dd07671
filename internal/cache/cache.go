package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Fetcher loads a missing value for GetOrFetch.
type Fetcher[V any] func(ctx context.Context) (V, error)

// Stats is a point-in-time copy of cache counters.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type entry[V any] struct {
	value        V
	lastActive   time.Time
	insertionSeq uint64
}

// BoundedCache is a fixed-capacity key/value cache with recency eviction and
// in-flight fetch de-duplication.
//
// Eviction removes the entries with the lowest lastActive first, ties broken by
// the lowest insertion sequence, until Len() <= capacity. It runs right after
// every insert that exceeds capacity and from the background sweep.
type BoundedCache[K comparable, V any] struct {
	cfg    config
	logger *slog.Logger
	flight singleflight.Group

	mu      sync.Mutex
	entries map[K]*entry[V]
	// fetching marks keys with a fetch in flight; true once a Delete or Purge
	// has invalidated the result.
	fetching  map[K]bool
	nextSeq   uint64
	hits      uint64
	misses    uint64
	evictions uint64

	lifecycleMu sync.Mutex
	stop        context.CancelFunc
	wg          sync.WaitGroup
}

// New creates an empty bounded cache.
func New[K comparable, V any](options ...Option) *BoundedCache[K, V] {
	cfg := config{
		name:          "default",
		capacity:      defaultCapacity,
		sweepInterval: defaultSweepInterval,
		clock:         time.Now,
		logger:        slog.Default(),
	}
	for _, option := range options {
		option(&cfg)
	}

	return &BoundedCache[K, V]{
		cfg:      cfg,
		logger:   cfg.logger.With("cache", cfg.name),
		entries:  make(map[K]*entry[V]),
		fetching: make(map[K]bool),
	}
}

// Name returns the cache label.
func (c *BoundedCache[K, V]) Name() string {
	return c.cfg.name
}

// Capacity returns the configured entry bound.
func (c *BoundedCache[K, V]) Capacity() int {
	return c.cfg.capacity
}

// Get returns a cached value and marks it as recently active.
func (c *BoundedCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	current, ok := c.entries[key]
	if !ok {
		c.misses++
		cacheMissesTotal.WithLabelValues(c.cfg.name).Inc()
		var zero V
		return zero, false
	}
	current.lastActive = c.cfg.clock()
	c.hits++
	cacheHitsTotal.WithLabelValues(c.cfg.name).Inc()

	return current.value, true
}

// Contains reports whether key is cached without touching its recency.
func (c *BoundedCache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[key]
	return ok
}

// Insert stores value under key and evicts when the cache overflows.
func (c *BoundedCache[K, V]) Insert(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.insertLocked(key, value)
}

func (c *BoundedCache[K, V]) insertLocked(key K, value V) {
	c.nextSeq++
	c.entries[key] = &entry[V]{
		value:        value,
		lastActive:   c.cfg.clock(),
		insertionSeq: c.nextSeq,
	}
	if len(c.entries) > c.cfg.capacity {
		c.evictOverCapacityLocked()
	}
	cacheEntries.WithLabelValues(c.cfg.name).Set(float64(len(c.entries)))
}

// GetOrFetch returns the cached value for key or loads it with fetcher.
//
// Concurrent calls for the same key share one fetch and observe the same value
// or error. A failed fetch caches nothing. Waiting callers return early when
// their own ctx ends; the shared fetch runs with the first caller's ctx. A
// Delete or Purge issued while the fetch runs keeps its result out of the
// cache, though callers still receive it.
func (c *BoundedCache[K, V]) GetOrFetch(ctx context.Context, key K, fetcher Fetcher[V]) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	if fetcher == nil {
		var zero V
		return zero, fmt.Errorf("cache %s get or fetch: nil fetcher", c.cfg.name)
	}

	resultCh := c.flight.DoChan(flightKey(key), func() (any, error) {
		c.mu.Lock()
		if current, ok := c.entries[key]; ok {
			current.lastActive = c.cfg.clock()
			value := current.value
			c.mu.Unlock()
			return value, nil
		}
		c.fetching[key] = false
		c.mu.Unlock()

		value, err := fetcher(ctx)

		c.mu.Lock()
		defer c.mu.Unlock()
		invalidated := c.fetching[key]
		delete(c.fetching, key)
		if err != nil {
			cacheFetchErrorsTotal.WithLabelValues(c.cfg.name).Inc()
			return nil, err
		}
		if !invalidated {
			c.insertLocked(key, value)
		}

		return value, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, fmt.Errorf("cache %s get or fetch: %w", c.cfg.name, ctx.Err())
	case result := <-resultCh:
		if result.Shared {
			cacheSharedFetchesTotal.WithLabelValues(c.cfg.name).Inc()
		}
		if result.Err != nil {
			var zero V
			return zero, fmt.Errorf("cache %s fetch: %w", c.cfg.name, result.Err)
		}
		value, _ := result.Val.(V)
		return value, nil
	}
}

// Delete removes key and reports whether it existed.
func (c *BoundedCache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.fetching[key]; ok {
		c.fetching[key] = true
	}
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	c.evictions++
	cacheEvictionsTotal.WithLabelValues(c.cfg.name, evictReasonDelete).Inc()
	cacheEntries.WithLabelValues(c.cfg.name).Set(float64(len(c.entries)))

	return true
}

// Purge removes every entry.
func (c *BoundedCache[K, V]) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.fetching {
		c.fetching[key] = true
	}
	removed := len(c.entries)
	c.entries = make(map[K]*entry[V])
	if removed > 0 {
		c.evictions += uint64(removed)
		cacheEvictionsTotal.WithLabelValues(c.cfg.name, evictReasonPurge).Add(float64(removed))
	}
	cacheEntries.WithLabelValues(c.cfg.name).Set(0)

	return removed
}

// Len returns the current number of entries.
func (c *BoundedCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *BoundedCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Len:       len(c.entries),
		Capacity:  c.cfg.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// EvictIfOverCapacity trims the cache to capacity and returns how many entries
// were removed.
func (c *BoundedCache[K, V]) EvictIfOverCapacity() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.evictOverCapacityLocked()
	cacheEntries.WithLabelValues(c.cfg.name).Set(float64(len(c.entries)))

	return removed
}

// Sweep expires idle entries when WithMaxIdle is set, then enforces capacity.
func (c *BoundedCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	if c.cfg.maxIdle > 0 {
		cutoff := c.cfg.clock().Add(-c.cfg.maxIdle)
		for key, current := range c.entries {
			if current.lastActive.Before(cutoff) {
				delete(c.entries, key)
				removed++
			}
		}
		if removed > 0 {
			c.evictions += uint64(removed)
			cacheEvictionsTotal.WithLabelValues(c.cfg.name, evictReasonIdle).Add(float64(removed))
		}
	}
	removed += c.evictOverCapacityLocked()
	cacheEntries.WithLabelValues(c.cfg.name).Set(float64(len(c.entries)))

	return removed
}

func (c *BoundedCache[K, V]) evictOverCapacityLocked() int {
	overflow := len(c.entries) - c.cfg.capacity
	if overflow <= 0 {
		return 0
	}

	type candidate struct {
		key          K
		lastActive   time.Time
		insertionSeq uint64
	}
	candidates := make([]candidate, 0, len(c.entries))
	for key, current := range c.entries {
		candidates = append(candidates, candidate{
			key:          key,
			lastActive:   current.lastActive,
			insertionSeq: current.insertionSeq,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].lastActive.Equal(candidates[j].lastActive) {
			return candidates[i].lastActive.Before(candidates[j].lastActive)
		}
		return candidates[i].insertionSeq < candidates[j].insertionSeq
	})

	for _, victim := range candidates[:overflow] {
		delete(c.entries, victim.key)
	}
	c.evictions += uint64(overflow)
	cacheEvictionsTotal.WithLabelValues(c.cfg.name, evictReasonCapacity).Add(float64(overflow))

	return overflow
}

// Start launches the periodic sweep. Calling Start twice is a no-op.
func (c *BoundedCache[K, V]) Start(ctx context.Context) {
	c.lifecycleMu.Lock()
	defer c.lifecycleMu.Unlock()

	if c.stop != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.wg.Add(1)
	go c.sweepLoop(loopCtx)
}

// Close stops the periodic sweep and waits for it to exit.
func (c *BoundedCache[K, V]) Close() {
	c.lifecycleMu.Lock()
	stop := c.stop
	c.stop = nil
	c.lifecycleMu.Unlock()

	if stop == nil {
		return
	}
	stop()
	c.wg.Wait()
}

func (c *BoundedCache[K, V]) sweepLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.DebugContext(ctx, "cache sweep evicted entries", "removed", removed)
			}
		}
	}
}

func flightKey[K comparable](key K) string {
	return fmt.Sprintf("%T:%v", key, key)
}
