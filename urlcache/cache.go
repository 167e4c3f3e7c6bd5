// Package urlcache keeps presigned read URLs until shortly before they expire,
// loads whole collections in one request and shares in-flight fetches between
// concurrent readers.
package urlcache

import (
	"context"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// DefaultSafetyBuffer is how long before its expiry a URL stops being served.
const DefaultSafetyBuffer = 5 * time.Minute

// Key identifies a cached URL. An empty Collection addresses the resource without
// collection-gated access; the same resource may be cached under both forms.
type Key struct {
	Collection string
	Resource   string
}

func (k Key) String() string {
	if k.Collection == "" {
		return k.Resource
	}
	return k.Collection + "/" + k.Resource
}

// Entry ...
type Entry struct {
	URL       string
	ExpiresAt time.Time

	usableUntil time.Time
}

// Cache is a concurrency-safe map of presigned URLs. A URL is served only while
// now is before its expiry minus the safety buffer. The buffer is applied once,
// at read time: an entry keeps the server-reported expiry as is, so a URL is not
// shortened twice by a caller that already subtracted its own margin.
type Cache struct {
	mu           sync.RWMutex
	entries      map[Key]Entry
	safetyBuffer time.Duration
	now          func() time.Time
	logger       log.Logger
}

// NewCache ...
func NewCache(safetyBuffer time.Duration, logger log.Logger) *Cache {
	if safetyBuffer < 0 {
		safetyBuffer = 0
	}
	return &Cache{
		entries:      map[Key]Entry{},
		safetyBuffer: safetyBuffer,
		now:          time.Now,
		logger:       logger,
	}
}

// Get returns the URL for key if it is still usable.
func (c *Cache) Get(key Key) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || !c.now().Before(entry.usableUntil) {
		return "", false
	}
	return entry.URL, true
}

// Put stores url for key, replacing any previous entry. URLs that would already be
// inside the safety buffer are not stored.
func (c *Cache) Put(key Key, url string, ttl time.Duration) {
	if ttl <= c.safetyBuffer {
		c.logger.Debugf("Not caching URL of %s: lifetime %s is within the safety buffer", key, ttl)
		return
	}

	now := c.now()
	entry := Entry{
		URL:         url,
		ExpiresAt:   now.Add(ttl),
		usableUntil: now.Add(ttl - c.safetyBuffer),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
}

// Delete drops key, for example after the URL was refused by storage.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len ...
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes entries that can no longer be served and returns how many were
// removed. Lookups never depend on it; it only bounds memory.
func (c *Cache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.usableUntil) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.Debugf("Swept %d expired URLs", removed)
			}
		}
	}
}
