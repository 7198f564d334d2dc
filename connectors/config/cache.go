// Copyright 2025 CanvasFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"sync"
	"time"
)

// CacheEntry is a cached value with its expiry.
type CacheEntry[T any] struct {
	Value      T
	ExpiresAt  time.Time
	LastUpdate time.Time
}

// expired reports whether the entry is stale at now.
func (e *CacheEntry[T]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// CacheStats tracks cache effectiveness.
type CacheStats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	LastEviction time.Time
}

// TTLCache is a thread-safe keyed cache with a single TTL.
type TTLCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry[T]
	ttl     time.Duration
	now     func() time.Time

	statsMu sync.Mutex
	stats   CacheStats
}

// NewTTLCache creates a cache. A non-positive ttl defaults to 5 minutes.
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &TTLCache[T]{
		entries: make(map[string]*CacheEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the configured time to live.
func (c *TTLCache[T]) TTL() time.Duration {
	return c.ttl
}

// Get returns the live value for key.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.expired(c.now()) {
		c.record(func(s *CacheStats) { s.Misses++ })
		var zero T
		return zero, false
	}
	c.record(func(s *CacheStats) { s.Hits++ })
	return entry.Value, true
}

// Set stores value under key for one TTL.
func (c *TTLCache[T]) Set(key string, value T) {
	now := c.now()
	c.mu.Lock()
	c.entries[key] = &CacheEntry[T]{Value: value, ExpiresAt: now.Add(c.ttl), LastUpdate: now}
	c.mu.Unlock()
}

// Invalidate removes key.
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		c.evicted(1)
	}
}

// InvalidateAll clears the cache.
func (c *TTLCache[T]) InvalidateAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*CacheEntry[T])
	c.mu.Unlock()
	if n > 0 {
		c.evicted(int64(n))
	}
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *TTLCache[T]) Cleanup() int {
	now := c.now()
	c.mu.Lock()
	evicted := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			delete(c.entries, key)
			evicted++
		}
	}
	c.mu.Unlock()
	if evicted > 0 {
		c.evicted(int64(evicted))
	}
	return evicted
}

// Stats returns a copy of the counters.
func (c *TTLCache[T]) Stats() CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *TTLCache[T]) evicted(n int64) {
	now := c.now()
	c.record(func(s *CacheStats) {
		s.Evictions += n
		s.LastEviction = now
	})
}

func (c *TTLCache[T]) record(fn func(*CacheStats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}
