// Package cache provides a TTL-bounded read cache for document bytes, keyed
// by content hash. Content-addressed keys never go stale, so the TTL exists
// only to bound memory, not for correctness.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	content   []byte
	createdAt time.Time
	expiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

type BlobCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
}

func NewBlobCache(config Config) *BlobCache {
	if config.TTL <= 0 {
		config.TTL = 15 * time.Minute
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}
	return &BlobCache{
		entries:    make(map[string]entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
	}
}

func (c *BlobCache) Get(contentHash string) ([]byte, bool) {
	c.mu.RLock()
	item, exists := c.entries[contentHash]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().UTC().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.entries, contentHash)
		c.mu.Unlock()
		return nil, false
	}
	return append([]byte(nil), item.content...), true
}

func (c *BlobCache) Set(contentHash string, content []byte) {
	now := time.Now().UTC()
	item := entry{
		content:   append([]byte(nil), content...),
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[contentHash] = item
}

func (c *BlobCache) Delete(contentHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, contentHash)
}

func (c *BlobCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *BlobCache) evictOldestLocked() {
	var (
		oldestKey string
		oldestAt  time.Time
	)
	for key, item := range c.entries {
		if oldestKey == "" || item.createdAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = item.createdAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
