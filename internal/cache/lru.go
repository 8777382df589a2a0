package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/vatstore/internal/resource"
)

// WriteBackFunc persists a dirty value.
type WriteBackFunc[K comparable, V any] func(ctx context.Context, key K, value V) error

// Option configures an LRU.
type Option[K comparable, V any] func(*LRU[K, V])

// WithResourceController accounts entry sizes against rc.
func WithResourceController[K comparable, V any](rc *resource.Controller, sizeOf func(V) int64) Option[K, V] {
	return func(c *LRU[K, V]) {
		c.rc = rc
		c.sizeOf = sizeOf
	}
}

// WithOnEvict registers a callback invoked after an entry leaves the cache
// through eviction.
func WithOnEvict[K comparable, V any](fn func(key K, dirty bool)) Option[K, V] {
	return func(c *LRU[K, V]) { c.onEvict = fn }
}

// LRU is a write-back LRU cache.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	capacity  int
	items     map[K]*list.Element
	evictList *list.List
	writeBack WriteBackFunc[K, V]

	rc         *resource.Controller
	sizeOf     func(V) int64
	size       int64
	overBudget int64
	onEvict    func(K, bool)

	hits       atomic.Int64
	misses     atomic.Int64
	evictions  atomic.Int64
	writeBacks atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	dirty bool
	size  int64
}

// Stats are cache counters.
type Stats struct {
	Hits       int64
	Misses     int64
	Evictions  int64
	WriteBacks int64
}

// New creates a cache holding at most capacity entries (minimum 1).
func New[K comparable, V any](capacity int, writeBack WriteBackFunc[K, V], opts ...Option[K, V]) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &LRU[K, V]{
		capacity:  capacity,
		items:     make(map[K]*list.Element),
		evictList: list.New(),
		writeBack: writeBack,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a cached value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Contains reports whether key is cached without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Set caches value under key. A dirty entry stays dirty until written back,
// even if later Set calls pass dirty=false. Set may evict least recently
// used entries, writing back the dirty ones.
func (c *LRU[K, V]) Set(ctx context.Context, key K, value V, dirty bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.entrySize(value)
	if el, ok := c.items[key]; ok {
		c.evictList.MoveToFront(el)
		ent := el.Value.(*entry[K, V])
		c.account(size - ent.size)
		ent.value = value
		ent.size = size
		ent.dirty = ent.dirty || dirty
	} else {
		c.account(size)
		ent := &entry[K, V]{key: key, value: value, dirty: dirty, size: size}
		c.items[key] = c.evictList.PushFront(ent)
	}
	return c.evict(ctx)
}

// Remove drops key without writing it back.
func (c *LRU[K, V]) Remove(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	c.removeElement(el)
	return ent.value, true
}

// Flush writes back every dirty entry, least recently used first. Entries
// stay cached and become clean.
func (c *LRU[K, V]) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.evictList.Back(); el != nil; el = el.Prev() {
		ent := el.Value.(*entry[K, V])
		if !ent.dirty {
			continue
		}
		if err := c.writeBack(ctx, ent.key, ent.value); err != nil {
			return err
		}
		c.writeBacks.Add(1)
		ent.dirty = false
	}
	return nil
}

// Purge drops every entry without writing back.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.evictList.Back(); el != nil; el = c.evictList.Back() {
		c.removeElement(el)
	}
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Size returns the accounted size of cached entries in bytes.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns the cache counters.
func (c *LRU[K, V]) Stats() Stats {
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Evictions:  c.evictions.Load(),
		WriteBacks: c.writeBacks.Load(),
	}
}

func (c *LRU[K, V]) entrySize(v V) int64 {
	if c.sizeOf == nil {
		return 0
	}
	return c.sizeOf(v)
}

// account adjusts the tracked size. Growth the controller refuses is
// recorded as over-budget so evict can shrink the cache back.
func (c *LRU[K, V]) account(delta int64) {
	c.size += delta
	if c.rc == nil {
		return
	}
	if delta < 0 {
		owed := min(c.overBudget, -delta)
		c.overBudget -= owed
		c.rc.ReleaseMemory(-delta - owed)
		return
	}
	if !c.rc.TryAcquireMemory(delta) {
		c.overBudget += delta
	}
}

func (c *LRU[K, V]) evict(ctx context.Context) error {
	for c.evictList.Len() > 1 && (c.evictList.Len() > c.capacity || c.overBudget > 0) {
		el := c.evictList.Back()
		ent := el.Value.(*entry[K, V])
		if ent.dirty {
			if err := c.writeBack(ctx, ent.key, ent.value); err != nil {
				return err
			}
			c.writeBacks.Add(1)
		}
		c.removeElement(el)
		c.evictions.Add(1)
		if c.onEvict != nil {
			c.onEvict(ent.key, ent.dirty)
		}
	}
	return nil
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.size -= ent.size
	if c.rc == nil || ent.size == 0 {
		return
	}
	// Over-budget bytes were never acquired from the controller.
	owed := min(c.overBudget, ent.size)
	c.overBudget -= owed
	c.rc.ReleaseMemory(ent.size - owed)
}
