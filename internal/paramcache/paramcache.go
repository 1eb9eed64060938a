// Package paramcache implements the small atomic key/value cache each
// interface uses to remember its last-applied traffic-shaping parameters,
// so that re-applying an unchanged value issues no host command.
package paramcache

import "sync"

// Cache is a concurrency-safe map from parameter name to value, with
// set-if-changed semantics.
type Cache struct {
	mu     sync.Mutex
	values map[string]interface{}
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{values: make(map[string]interface{})}
}

// Get returns the cached value for k, or nil if unset.
func (c *Cache) Get(k string) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[k]
}

// Set stores v under k and reports whether this changed the cached value.
// Equality is checked with ==, which is sufficient for the comparable
// scalar types (bool, int, float64, string) this cache is used for.
func (c *Cache) Set(k string, v interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	old, ok := c.values[k]
	if ok && old == v {
		return false
	}
	c.values[k] = v
	return true
}
