// Package synthcache caches synthesized audio keyed by text and
// locale, so repeated phrases in a session cost one TTS call.
package synthcache

import "sync"

// DefaultMaxEntries bounds the cache size.
const DefaultMaxEntries = 500

type key struct {
	text   string
	locale string
}

// Cache is a bounded audio cache. Reads are lock-free map snapshots;
// writes evict the oldest entry (FIFO) once the bound is reached.
// There is no TTL; teardown eviction is explicit via Purge.
type Cache struct {
	entries sync.Map // key -> []byte

	mu    sync.Mutex
	order []key
	max   int
}

// New creates a cache bounded to maxEntries (DefaultMaxEntries if <= 0).
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{max: maxEntries}
}

// Get returns the cached audio for (text, locale).
func (c *Cache) Get(text, locale string) ([]byte, bool) {
	v, ok := c.entries.Load(key{text, locale})
	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// Put stores audio for (text, locale), evicting the oldest entry when
// the cache is full. Re-putting an existing key refreshes nothing; the
// first write wins so repeated reads stay byte-identical.
func (c *Cache) Put(text, locale string, audio []byte) {
	k := key{text, locale}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, loaded := c.entries.Load(k); loaded {
		return
	}
	if len(c.order) >= c.max {
		oldest := c.order[0]
		c.order = c.order[1:]
		c.entries.Delete(oldest)
	}
	c.entries.Store(k, audio)
	c.order = append(c.order, k)
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Purge drops every entry. Called on session teardown.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.order {
		c.entries.Delete(k)
	}
	c.order = nil
}
