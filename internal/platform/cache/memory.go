package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultMaxEntries = 1024

// MemoryCache is a bounded LRU with per-entry expiry.
type MemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	items      map[string]*list.Element
	now        func() time.Time
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryOption customises the memory cache.
type MemoryOption func(*MemoryCache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache constructs a cache holding at most maxEntries values.
func NewMemoryCache(maxEntries int, opts ...MemoryOption) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	c := &MemoryCache{
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	entry := el.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		c.removeElement(el)
		return nil, false, nil
	}
	c.ll.MoveToFront(el)
	return append([]byte(nil), entry.value...), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	stored := append([]byte(nil), value...)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.value = stored
		entry.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[key] = c.ll.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
	for c.ll.Len() > c.maxEntries {
		c.removeElement(c.ll.Back())
	}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *MemoryCache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*memoryEntry).key)
}
