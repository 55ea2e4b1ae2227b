package llmguard

import (
	"container/list"
	"sync"
	"time"
)

// InMemoryCache is the default Cache: a mutex-guarded map with TTL expiry
// and optional LRU eviction under a capacity bound. Expired entries are
// invalidated lazily on Get and may additionally be swept periodically via
// StartSweeper.
type InMemoryCache struct {
	mu         sync.Mutex
	maxEntries int
	ll         *list.List
	store      map[string]*list.Element

	sweepStop chan struct{}
	sweepOnce sync.Once
}

type lruItem struct {
	key   string
	entry *CacheEntry
}

// NewInMemoryCache creates a cache. maxEntries <= 0 means unbounded; when
// the bound is hit, the least-recently-used entry is evicted first.
func NewInMemoryCache(maxEntries int) *InMemoryCache {
	return &InMemoryCache{
		maxEntries: maxEntries,
		ll:         list.New(),
		store:      make(map[string]*list.Element),
		sweepStop:  make(chan struct{}),
	}
}

// Get retrieves an unexpired entry and marks it recently used.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, exists := c.store[key]
	if !exists {
		return nil, false
	}

	item := el.Value.(*lruItem)
	if time.Now().After(item.entry.ExpiresAt) {
		c.removeElement(el)
		return nil, false
	}

	c.ll.MoveToFront(el)
	return item.entry, true
}

// Set stores an entry under key with the given TTL.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	now := time.Now()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, exists := c.store[key]; exists {
		el.Value.(*lruItem).entry = entry
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruItem{key: key, entry: entry})
	c.store[key] = el

	if c.maxEntries > 0 && c.ll.Len() > c.maxEntries {
		if oldest := c.ll.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

// Delete removes a cache entry.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, exists := c.store[key]; exists {
		c.removeElement(el)
	}
}

// Clear removes all cache entries.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.store = make(map[string]*list.Element)
}

// Len returns the number of stored entries, expired ones included until
// they are swept or touched.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// StartSweeper launches a background goroutine that drops expired entries
// every interval. Call Stop to terminate it.
func (c *InMemoryCache) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.sweepStop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper goroutine, if one was started.
func (c *InMemoryCache) Stop() {
	c.sweepOnce.Do(func() { close(c.sweepStop) })
}

func (c *InMemoryCache) sweep() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var next *list.Element
	for el := c.ll.Front(); el != nil; el = next {
		next = el.Next()
		if now.After(el.Value.(*lruItem).entry.ExpiresAt) {
			c.removeElement(el)
		}
	}
}

// removeElement must be called with c.mu held.
func (c *InMemoryCache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.store, el.Value.(*lruItem).key)
}

func entryFromResponse(resp *Response) *CacheEntry {
	payload := make([]byte, len(resp.Payload))
	copy(payload, resp.Payload)

	return &CacheEntry{
		Payload:      payload,
		Model:        resp.Model,
		FinishReason: resp.FinishReason,
		Usage:        resp.Usage,
	}
}

func cloneResponse(resp *Response) *Response {
	payload := make([]byte, len(resp.Payload))
	copy(payload, resp.Payload)

	clone := *resp
	clone.Payload = payload
	return &clone
}

func responseFromCache(entry *CacheEntry) *Response {
	payload := make([]byte, len(entry.Payload))
	copy(payload, entry.Payload)

	return &Response{
		Payload:      payload,
		Model:        entry.Model,
		FinishReason: entry.FinishReason,
		Usage:        entry.Usage,
		FromCache:    true,
	}
}
