package transform

import (
	"sync"

	"golang.org/x/sync/singleflight"

	"lax/internal/jaxpr"
)

// traceCache caches traced Jaxprs by signature. An entry stores only
// the shape/dtype-level IR, never a buffer handle: every replay allocates
// fresh buffers through the ordinary frontend/backend refcount path
// (internal/frontend's pendingExec, internal/backend's Malloc/DecRef), so
// evicting a cache entry never has to reach into live buffers. The
// lifetime contract is explicit: the cache never owns anything with a
// lifetime shorter than the process, so a use-after-free of a device
// buffer cannot arise from eviction.
//
// Entries are kept in a fixed-size LRU list;
// golang.org/x/sync/singleflight collapses concurrent misses for the same
// signature into one trace.
type traceCache struct {
	mu      sync.Mutex
	entries map[string]*jaxpr.Jaxpr
	order   []string // most-recently-used at the back
	limit   int

	group singleflight.Group
}

func newTraceCache(limit int) *traceCache {
	return &traceCache{entries: map[string]*jaxpr.Jaxpr{}, limit: limit}
}

func (c *traceCache) get(sig string) (*jaxpr.Jaxpr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.entries[sig]
	if ok {
		c.touchLocked(sig)
	}
	return j, ok
}

// getOrTrace returns the cached Jaxpr for sig, tracing it with build on a
// miss. Concurrent misses for the same sig share one trace via
// singleflight, matching jit's cache semantics without duplicated work.
func (c *traceCache) getOrTrace(sig string, build func() (*jaxpr.Jaxpr, error)) (*jaxpr.Jaxpr, error) {
	if j, ok := c.get(sig); ok {
		return j, nil
	}
	v, err, _ := c.group.Do(sig, func() (interface{}, error) {
		if j, ok := c.get(sig); ok {
			return j, nil
		}
		j, err := build()
		if err != nil {
			return nil, err
		}
		c.put(sig, j)
		return j, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*jaxpr.Jaxpr), nil
}

func (c *traceCache) put(sig string, j *jaxpr.Jaxpr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[sig]; !exists && c.limit > 0 && len(c.entries) >= c.limit {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, evict)
	}
	c.entries[sig] = j
	c.touchLocked(sig)
}

func (c *traceCache) touch(sig string) {
	c.mu.Lock()
	c.touchLocked(sig)
	c.mu.Unlock()
}

func (c *traceCache) touchLocked(sig string) {
	for i, s := range c.order {
		if s == sig {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, sig)
}
