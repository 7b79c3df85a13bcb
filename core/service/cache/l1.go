package cache

import (
	"sync"
	"time"
)

// l1Cache is a small in-memory read-through layer in front of the entry
// store. Entries are raw stored bytes keyed by message ID.
type l1Cache struct {
	mu       sync.Mutex
	data     map[string]l1Entry
	maxItems int
	ttl      time.Duration

	hits   int64
	misses int64
}

type l1Entry struct {
	value     []byte
	expiresAt time.Time
}

func newL1Cache(maxItems int, ttl time.Duration) *l1Cache {
	if maxItems <= 0 {
		maxItems = 2000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &l1Cache{
		data:     make(map[string]l1Entry),
		maxItems: maxItems,
		ttl:      ttl,
	}
}

func (c *l1Cache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.data, key)
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value, true
}

func (c *l1Cache) set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.data) >= c.maxItems {
		c.evictLocked()
	}
	c.data[key] = l1Entry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

func (c *l1Cache) delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

func (c *l1Cache) clear() {
	c.mu.Lock()
	c.data = make(map[string]l1Entry)
	c.mu.Unlock()
}

// evictLocked drops expired entries first, then the soonest-to-expire ones
// until ~10% of capacity is free. Called with the lock held.
func (c *l1Cache) evictLocked() {
	now := time.Now()
	for key, entry := range c.data {
		if now.After(entry.expiresAt) {
			delete(c.data, key)
		}
	}

	target := c.maxItems - c.maxItems/10
	for len(c.data) > target {
		var oldestKey string
		var oldest time.Time
		for key, entry := range c.data {
			if oldestKey == "" || entry.expiresAt.Before(oldest) {
				oldestKey = key
				oldest = entry.expiresAt
			}
		}
		delete(c.data, oldestKey)
	}
}

func (c *l1Cache) stats() (hits, misses int64, items int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.data)
}
