package cache

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// Cache is a small keyed store with per-entry expiry.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu      sync.Mutex
	clock   quartz.Clock
	entries map[K]entry[V]
	maxSize int
}

// NewTTLCache returns a mutex-guarded in-memory cache. Expired entries are dropped lazily on
// read, and the whole map is swept when it grows past maxSize.
func NewTTLCache[K comparable, V any](clock quartz.Clock, maxSize int) Cache[K, V] {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &ttlCache[K, V]{
		clock:   clock,
		entries: make(map[K]entry[V]),
		maxSize: maxSize,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	item, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.clock.Now().Before(item.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return item.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if len(c.entries) >= c.maxSize {
		c.sweepLocked(now)
	}
	if len(c.entries) >= c.maxSize {
		// still full of live entries; start over rather than grow without bound
		c.entries = make(map[K]entry[V])
	}
	c.entries[key] = entry[V]{value: value, expiresAt: now.Add(ttl)}
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ttlCache[K, V]) sweepLocked(now time.Time) {
	for key, item := range c.entries {
		if !now.Before(item.expiresAt) {
			delete(c.entries, key)
		}
	}
}
