// Package cache provides a hot read-through cache for expensive queries.
// It is strictly an accelerator: every value can be rebuilt from the
// durable store, and every operation degrades to a miss on failure.
package cache

import (
	"encoding/json"
	"path"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/cadcoin/cadcoind/internal/log"
)

const (
	defaultNumCounters = 100_000
	defaultMaxCost     = 32 << 20 // 32 MiB of serialized values
)

// Cache wraps ristretto with JSON serialization and glob invalidation.
// Ristretto cannot enumerate its keys, so a registry of live keys is kept
// alongside it to support pattern deletes.
type Cache struct {
	store *ristretto.Cache[string, []byte]

	mu   sync.Mutex
	keys map[string]struct{}
}

// New creates a cache. Construction failure is returned rather than
// tolerated: a nil ristretto config is a programming error, not a runtime
// degradation.
func New() (*Cache, error) {
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{
		store: store,
		keys:  make(map[string]struct{}),
	}, nil
}

// Get loads a cached value into out. Returns false on miss or decode
// failure; a corrupt entry is dropped.
func (c *Cache) Get(key string, out interface{}) bool {
	data, ok := c.store.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		log.Cache.Warn().Str("key", key).Err(err).Msg("dropping corrupt cache entry")
		c.Delete(key)
		return false
	}
	return true
}

// Set stores a value under key for ttl. Serialization or admission
// failures are logged and ignored; the caller cannot depend on presence.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Cache.Warn().Str("key", key).Err(err).Msg("cache serialize failed")
		return
	}
	if c.store.SetWithTTL(key, data, int64(len(data)), ttl) {
		// Flush ristretto's admission buffer so a read that follows the
		// write observes it.
		c.store.Wait()
		c.mu.Lock()
		c.keys[key] = struct{}{}
		c.mu.Unlock()
	}
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	c.store.Del(key)
	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
}

// InvalidatePattern removes every key matching the shell glob, e.g.
// "balance_alice*". Used after a block commit to evict stale reads.
func (c *Cache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	var matched []string
	for k := range c.keys {
		if ok, _ := path.Match(pattern, k); ok {
			matched = append(matched, k)
			delete(c.keys, k)
		}
	}
	c.mu.Unlock()

	for _, k := range matched {
		c.store.Del(k)
	}
	if len(matched) > 0 {
		log.Cache.Debug().Str("pattern", pattern).Int("count", len(matched)).Msg("cache invalidated")
	}
	return len(matched)
}

// Close releases the cache's internal goroutines.
func (c *Cache) Close() {
	c.store.Close()
}
