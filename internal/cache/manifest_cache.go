package cache

import (
	"time"

	"github.com/maypok86/otter"

	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/observability"
)

// ManifestCache is the in-memory layer in front of the persisted manifest.
// Entries are keyed by conversation id so a logout/login cycle never serves
// another person's targeting rules.
type ManifestCache struct {
	store otter.Cache[string, manifest.Manifest]
}

// NewManifestCache builds a bounded cache.
// capacity: max number of conversations kept in memory.
// ttl: upper bound on how long an entry lives regardless of manifest expiry.
func NewManifestCache(capacity int, ttl time.Duration) (*ManifestCache, error) {
	cache, err := otter.MustBuilder[string, manifest.Manifest](capacity).
		WithTTL(ttl).
		Build()
	if err != nil {
		return nil, err
	}

	return &ManifestCache{store: cache}, nil
}

// Get returns the cached manifest for a conversation.
func (c *ManifestCache) Get(conversationID string) (manifest.Manifest, bool) {
	m, ok := c.store.Get(conversationID)
	if !ok {
		observability.ManifestCacheMisses.Inc()
		return manifest.Manifest{}, false
	}
	observability.ManifestCacheHits.Inc()
	return m, true
}

// Set stores m, replacing any previous manifest for the conversation.
func (c *ManifestCache) Set(conversationID string, m manifest.Manifest) {
	c.store.Set(conversationID, m)
}

// Del drops the entry, e.g. after logout.
func (c *ManifestCache) Del(conversationID string) {
	c.store.Delete(conversationID)
}

// Len returns the number of cached manifests.
func (c *ManifestCache) Len() int {
	return c.store.Size()
}

// Close stops the cache's background goroutines.
func (c *ManifestCache) Close() {
	c.store.Close()
}
