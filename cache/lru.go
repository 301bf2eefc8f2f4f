// Package cache provides the thread-safe primitives underneath the result
// and computational-data caches: a bounded LRU store keyed by query tuples
// and a time-expiring session store.
package cache

import (
	lru "github.com/hashicorp/golang-lru/v2/simplelru"
	"sync"
)

// TupleKey is a fixed-width composite cache key. Unused trailing components
// are left empty. Prefix deletion operates on the leading components, which
// lets a caller invalidate e.g. "this query for all datasets" by matching
// only (signature, qtype, engine).
type TupleKey [4]string

// Key builds a TupleKey from up to four components.
func Key(parts ...string) TupleKey {
	var k TupleKey
	copy(k[:], parts)
	return k
}

// HasPrefix reports whether the first n components of k equal those of
// prefix.
func (k TupleKey) HasPrefix(prefix TupleKey, n int) bool {
	if n > len(k) {
		n = len(k)
	}
	for i := 0; i < n; i++ {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// MaxSize is a bounded, thread-safe LRU cache.
//
// Eviction is strict LRU: once the entry limit is reached, every insert
// evicts the least-recently-touched entry. Get refreshes recency; Put of an
// existing key re-inserts it as most recent.
type MaxSize[V any] struct {
	mu  sync.Mutex
	lru *lru.LRU[TupleKey, V]
}

// NewMaxSize creates a bounded cache holding at most entryLimit entries.
func NewMaxSize[V any](entryLimit int) *MaxSize[V] {
	if entryLimit <= 0 {
		entryLimit = 100
	}
	// Size is positive, so construction cannot fail.
	l, _ := lru.NewLRU[TupleKey, V](entryLimit, nil)
	return &MaxSize[V]{lru: l}
}

// Get returns the value for key, refreshing its recency.
func (c *MaxSize[V]) Get(key TupleKey) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put inserts or replaces the value for key as the most recent entry,
// evicting the oldest entry if the cache is full.
func (c *MaxSize[V]) Put(key TupleKey, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

// Delete removes the entry for key, if present.
func (c *MaxSize[V]) Delete(key TupleKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// DeletePrefix removes every entry whose first n key components match
// prefix.
func (c *MaxSize[V]) DeletePrefix(prefix TupleKey, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		if key.HasPrefix(prefix, n) {
			c.lru.Remove(key)
		}
	}
}

// Clear removes all entries.
func (c *MaxSize[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of entries currently held.
func (c *MaxSize[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
