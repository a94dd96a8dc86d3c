// Package ttlcache is a bounded in-process map whose entries expire.
package ttlcache

import (
	"container/list"
	"sync"
	"time"

	"github.com/coder/quartz"
)

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// Cache holds at most Capacity live entries. When full, expired entries are
// swept first and then the oldest insertion is evicted.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	clock    quartz.Clock
	capacity int
	items    map[K]*list.Element
	order    *list.List
}

// New returns a cache bounded to capacity entries.
func New[K comparable, V any](clock quartz.Clock, capacity int) *Cache[K, V] {
	if capacity <= 0 {
		capacity = 10_000
	}
	return &Cache[K, V]{
		clock:    clock,
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// Set stores value under key for ttl, replacing any existing entry.
func (c *Cache[K, V]) Set(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
	if len(c.items) >= c.capacity {
		c.sweepLocked(now)
	}
	for len(c.items) >= c.capacity {
		c.removeLocked(c.order.Front())
	}

	el := c.order.PushBack(&entry[K, V]{key: key, value: value, expiresAt: now.Add(ttl)})
	c.items[key] = el
}

// SetNX stores value only when key is absent or expired and reports whether it did.
func (c *Cache[K, V]) SetNX(key K, value V, ttl time.Duration) bool {
	if _, ok := c.Get(key); ok {
		return false
	}
	c.Set(key, value, ttl)
	return true
}

// Get returns the live value for key.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, _, ok := c.GetWithExpiry(key)
	return v, ok
}

// GetWithExpiry returns the live value for key and when it expires.
func (c *Cache[K, V]) GetWithExpiry(key K) (V, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, time.Time{}, false
	}
	e := el.Value.(*entry[K, V])
	if !c.clock.Now().Before(e.expiresAt) {
		c.removeLocked(el)
		return zero, time.Time{}, false
	}
	return e.value, e.expiresAt, true
}

// Delete removes key.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// Len returns the number of stored entries, including ones not yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep drops every expired entry.
func (c *Cache[K, V]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(c.clock.Now())
}

func (c *Cache[K, V]) sweepLocked(now time.Time) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !now.Before(el.Value.(*entry[K, V]).expiresAt) {
			c.removeLocked(el)
		}
		el = next
	}
}

func (c *Cache[K, V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[K, V])
	c.order.Remove(el)
	delete(c.items, e.key)
}
