// Package cache holds decoded DJBF payloads so repeated asset fetches skip the
// backend round trip and the decode.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Key identifies a decoded asset. The profile is part of the key because the
// same object decodes differently under different key profiles.
type Key struct {
	Bucket  string
	Object  string
	Profile string
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s@%s", k.Bucket, k.Object, k.Profile)
}

// CacheEntry represents a cached item.
type CacheEntry struct {
	Data      []byte
	Metadata  map[string]string
	ExpiresAt time.Time
}

// IsExpired checks if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Cache is an interface for caching decoded assets.
type Cache interface {
	// Get retrieves a cached asset.
	Get(ctx context.Context, key Key) (*CacheEntry, bool)

	// Set stores an asset in the cache.
	Set(ctx context.Context, key Key, data []byte, metadata map[string]string, ttl time.Duration) error

	// Delete removes every profile variant of an object from the cache.
	Delete(ctx context.Context, bucket, object string) error

	// Clear clears all cached objects.
	Clear(ctx context.Context) error

	// Stats returns cache statistics.
	Stats() CacheStats
}

// CacheStats holds cache statistics.
type CacheStats struct {
	Size      int64
	Items     int
	Hits      int64
	Misses    int64
	Evictions int64
}

// ErrEntryTooLarge is returned when a single entry exceeds the cache size.
var ErrEntryTooLarge = errors.New("cache entry exceeds max size")

type lruItem struct {
	key   Key
	entry *CacheEntry
}

// memoryCache is an in-memory LRU implementation of Cache.
type memoryCache struct {
	mu       sync.Mutex
	entries  map[Key]*list.Element
	order    *list.List // front is most recently used
	size     int64
	maxSize  int64
	maxItems int
	stats    CacheStats
	ttl      time.Duration
}

// NewMemoryCache creates a new in-memory cache.
func NewMemoryCache(maxSize int64, maxItems int, defaultTTL time.Duration) Cache {
	return &memoryCache{
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
		maxSize:  maxSize,
		maxItems: maxItems,
		ttl:      defaultTTL,
	}
}

// Get retrieves a cached asset and marks it as recently used.
func (c *memoryCache) Get(ctx context.Context, key Key) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	item := elem.Value.(*lruItem)
	if item.entry.IsExpired() {
		c.removeLocked(elem)
		c.stats.Evictions++
		c.stats.Misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return item.entry, true
}

// Set stores an asset, evicting least recently used entries to make room.
func (c *memoryCache) Set(ctx context.Context, key Key, data []byte, metadata map[string]string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.ttl
	}

	entrySize := int64(len(data))
	if c.maxSize > 0 && entrySize > c.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrEntryTooLarge, entrySize, c.maxSize)
	}

	entry := &CacheEntry{
		Data:      data,
		Metadata:  metadata,
		ExpiresAt: time.Now().Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}

	c.evictExpiredLocked()
	for c.order.Len() > 0 && c.fullLocked(entrySize) {
		c.removeLocked(c.order.Back())
		c.stats.Evictions++
	}

	c.entries[key] = c.order.PushFront(&lruItem{key: key, entry: entry})
	c.size += entrySize

	return nil
}

// Delete removes every cached profile variant of bucket/object.
func (c *memoryCache) Delete(ctx context.Context, bucket, object string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, elem := range c.entries {
		if key.Bucket == bucket && key.Object == object {
			c.removeLocked(elem)
		}
	}

	return nil
}

// Clear clears all cached objects.
func (c *memoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[Key]*list.Element)
	c.order.Init()
	c.size = 0
	c.stats = CacheStats{}

	return nil
}

// Stats returns cache statistics.
func (c *memoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	stats.Items = len(c.entries)

	return stats
}

// fullLocked reports whether adding size bytes would break a limit (must be called with lock held).
func (c *memoryCache) fullLocked(size int64) bool {
	if c.maxItems > 0 && len(c.entries) >= c.maxItems {
		return true
	}
	return c.maxSize > 0 && c.size+size > c.maxSize
}

// evictExpiredLocked removes expired entries (must be called with lock held).
func (c *memoryCache) evictExpiredLocked() {
	for _, elem := range c.entries {
		if elem.Value.(*lruItem).entry.IsExpired() {
			c.removeLocked(elem)
			c.stats.Evictions++
		}
	}
}

// removeLocked unlinks an element (must be called with lock held).
func (c *memoryCache) removeLocked(elem *list.Element) {
	item := c.order.Remove(elem).(*lruItem)
	delete(c.entries, item.key)
	c.size -= int64(len(item.entry.Data))
}
