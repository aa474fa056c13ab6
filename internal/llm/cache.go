package llm

import (
	"sync"
	"time"
)

// cachedAnswer is a category the model already chose for a description.
type cachedAnswer struct {
	expiry       time.Time
	categoryName string
	reason       string
}

// answerCache remembers successful answers per owner and normalized
// description. Category IDs are not cached: names are resolved against the
// current snapshot on every hit so a deleted category never resurfaces.
type answerCache struct {
	entries map[string]cachedAnswer
	now     func() time.Time
	ttl     time.Duration
	mu      sync.RWMutex
}

func newAnswerCache(ttl time.Duration) *answerCache {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	return &answerCache{
		entries: make(map[string]cachedAnswer),
		now:     time.Now,
		ttl:     ttl,
	}
}

func cacheKey(ownerID, description string) string {
	return ownerID + "\x00" + description
}

func (c *answerCache) get(ownerID, description string) (cachedAnswer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[cacheKey(ownerID, description)]
	if !ok || c.now().After(entry.expiry) {
		return cachedAnswer{}, false
	}
	return entry, true
}

func (c *answerCache) set(ownerID, description, categoryName, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(ownerID, description)] = cachedAnswer{
		categoryName: categoryName,
		reason:       reason,
		expiry:       c.now().Add(c.ttl),
	}
}

// prune drops expired entries and returns how many were removed.
func (c *answerCache) prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

func (c *answerCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
