package cache

import (
	"sync"
	"time"
)

// Cache provides a simple in-memory cache with expiration
type Cache struct {
	data map[string]entry
	ttl  time.Duration
	mu   sync.RWMutex
}

type entry struct {
	val     any
	expires time.Time
}

// NewCache creates a new cache with the specified default TTL
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		data: make(map[string]entry),
		ttl:  ttl,
	}
}

// Get retrieves a value from the cache
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.data[key]
	if !exists || time.Now().After(e.expires) {
		return nil, false
	}
	return e.val, true
}

// Set stores a value for the default TTL
func (c *Cache) Set(key string, val any) {
	c.SetWithTTL(key, val, c.ttl)
}

// SetWithTTL stores a value that expires after ttl
func (c *Cache) SetWithTTL(key string, val any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = entry{val: val, expires: time.Now().Add(ttl)}
}

// Delete removes a value
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
}
