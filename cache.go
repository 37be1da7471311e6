package loom

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache is a read-through cache for backend fetch results, keyed by the
// rendered statement and its arguments. Implementations must be safe for
// concurrent use; sessions of one client share the cache. The engine
// clears the whole cache on every commit, trading hit rate for
// correctness.
type Cache interface {
	// Get returns the cached rows for the key, if present.
	Get(key string) ([][]any, bool)
	// Put stores the rows under the key. Implementations may drop
	// entries at any time.
	Put(key string, rows [][]any)
	// Clear drops every entry.
	Clear()
}

// MemCache is an in-memory Cache. Rows are stored encoded, so cached
// results are isolated from later mutation of the returned slices.
type MemCache struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemCache returns an empty in-memory cache.
func NewMemCache() *MemCache {
	return &MemCache{data: make(map[string][]byte)}
}

// Get implements Cache.
func (c *MemCache) Get(key string) ([][]any, bool) {
	c.mu.RLock()
	buf, ok := c.data[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	// Loose decoding keeps integer and float widths stable (int64,
	// float64), matching what driver scans produce.
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	dec.UseLooseInterfaceDecoding(true)
	var rows [][]any
	if err := dec.Decode(&rows); err != nil {
		return nil, false
	}
	return rows, true
}

// Put implements Cache. Rows that fail to encode are not cached.
func (c *MemCache) Put(key string, rows [][]any) {
	buf, err := msgpack.Marshal(rows)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.data[key] = buf
	c.mu.Unlock()
}

// Clear implements Cache.
func (c *MemCache) Clear() {
	c.mu.Lock()
	c.data = make(map[string][]byte)
	c.mu.Unlock()
}

// Len returns the number of cached result sets.
func (c *MemCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
