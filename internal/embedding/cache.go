package embedding

import (
	"sync"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
)

// Cache memoizes embeddings and remembers endpoints that failed, for the
// lifetime of the process. It has no eviction. One Cache is created at
// startup and shared by every Adapter; it is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	failed  map[string]struct{}
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		vectors: make(map[string][]float32),
		failed:  make(map[string]struct{}),
	}
}

// endpointKey identifies an endpoint configuration. Only a key prefix is
// kept so full secrets never sit in map keys.
func endpointKey(ep llm.Endpoint) string {
	key := ep.Key()
	if len(key) > 8 {
		key = key[:8]
	}
	return ep.Provider + "\x00" + ep.Model + "\x00" + key + "\x00" + ep.URL()
}

func (c *Cache) get(ep llm.Endpoint, text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vectors[endpointKey(ep)+"\x00"+text]
	return v, ok
}

func (c *Cache) put(ep llm.Endpoint, text string, v []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors[endpointKey(ep)+"\x00"+text] = v
}

func (c *Cache) hasFailed(ep llm.Endpoint) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.failed[endpointKey(ep)]
	return ok
}

func (c *Cache) markFailed(ep llm.Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failed[endpointKey(ep)] = struct{}{}
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vectors)
}
