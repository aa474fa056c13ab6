package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAnswerCache(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache := newAnswerCache(time.Minute)
	cache.now = func() time.Time { return now }

	cache.set("owner-1", "netflix", "Entertainment", "streaming")

	got, ok := cache.get("owner-1", "netflix")
	assert.True(t, ok)
	assert.Equal(t, "Entertainment", got.categoryName)
	assert.Equal(t, "streaming", got.reason)

	_, ok = cache.get("owner-2", "netflix")
	assert.False(t, ok, "entries are scoped to their owner")

	now = now.Add(2 * time.Minute)
	_, ok = cache.get("owner-1", "netflix")
	assert.False(t, ok, "expired entries are not returned")

	assert.Equal(t, 1, cache.size())
	assert.Equal(t, 1, cache.prune())
	assert.Equal(t, 0, cache.size())
}

func TestAnswerCacheDefaultTTL(t *testing.T) {
	cache := newAnswerCache(0)
	assert.Equal(t, 15*time.Minute, cache.ttl)
}
