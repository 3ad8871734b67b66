package memcache

import (
	"context"
	"sync"
	"time"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

type entry struct {
	q       domain.NormalizedQuery
	expires time.Time
}

// Cache is an in-process normalization cache used when no Redis is
// configured. Once maxEntries is reached, expired entries are swept and, if
// still full, the entry closest to expiry is evicted.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	now        func() time.Time
}

func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{entries: make(map[string]entry), maxEntries: maxEntries, now: time.Now}
}

func (c *Cache) Get(_ context.Context, key string) (domain.NormalizedQuery, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return domain.NormalizedQuery{}, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return domain.NormalizedQuery{}, false, nil
	}
	return e.q, true, nil
}

func (c *Cache) Set(_ context.Context, key string, q domain.NormalizedQuery, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evict(now)
	}
	c.entries[key] = entry{q: q, expires: now.Add(ttl)}
	return nil
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evict(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.expires.Before(oldest) {
			oldestKey, oldest = k, e.expires
		}
	}
	delete(c.entries, oldestKey)
}
