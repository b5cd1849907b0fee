// Package modulecache caches compiled wasmtime modules keyed by their
// content digest, so repeated triggers of the same component skip
// recompilation. Uses a real LRU library rather than a hand-rolled
// map+list, `github.com/hashicorp/golang-lru/v2` (previously
// indirect-only, promoted for this use), plus
// `golang.org/x/sync/singleflight` so two triggers that race on the same
// uncached digest compile it once instead of twice.
package modulecache

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/wavs-network/operator/internal/types"
)

// Module is the minimal shape the cache stores; the engine package supplies
// the concrete *wasmtime.Module wrapped to satisfy this.
type Module interface{}

// Cache is a digest-keyed LRU of compiled modules.
type Cache struct {
	lru   *lru.Cache[types.ComponentDigest, Module]
	group singleflight.Group
}

// New creates a cache holding at most size compiled modules.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = 64
	}
	l, err := lru.New[types.ComponentDigest, Module](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached module for digest, if present.
func (c *Cache) Get(digest types.ComponentDigest) (Module, bool) {
	return c.lru.Get(digest)
}

// GetOrCompile returns the cached module for digest, compiling (at most
// once across concurrent callers) via compile if absent.
func (c *Cache) GetOrCompile(digest types.ComponentDigest, compile func() (Module, error)) (Module, error) {
	if m, ok := c.lru.Get(digest); ok {
		return m, nil
	}

	v, err, _ := c.group.Do(digest.String(), func() (interface{}, error) {
		if m, ok := c.lru.Get(digest); ok {
			return m, nil
		}
		m, err := compile()
		if err != nil {
			return nil, err
		}
		c.lru.Add(digest, m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Module), nil
}

// Remove evicts a cached module, used when a digest is replaced.
func (c *Cache) Remove(digest types.ComponentDigest) {
	c.lru.Remove(digest)
}

func (c *Cache) Len() int { return c.lru.Len() }
