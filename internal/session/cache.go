package session

import (
	"context"
	"sync"
	"time"
)

// Entry is the ephemeral mirror of a live session. It is a performance
// optimization only; the durable store remains authoritative.
type Entry struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// Cache is the fast-path session lookup. Implementations must treat a missing
// key as a miss, not an error; errors are reserved for backend failures.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCache is an in-process TTL cache. Entries expire lazily on access.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// MemoryCacheOption configures MemoryCache.
type MemoryCacheOption func(*MemoryCache)

// WithMemoryCacheClock overrides the time source (useful for tests).
func WithMemoryCacheClock(fn func() time.Time) MemoryCacheOption {
	return func(c *MemoryCache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewMemoryCache constructs an empty in-process cache.
func NewMemoryCache(opts ...MemoryCacheOption) *MemoryCache {
	c := &MemoryCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		delete(c.items, key)
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = memoryItem{entry: entry, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}
