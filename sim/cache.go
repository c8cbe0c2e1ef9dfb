package sim

import (
	"container/list"
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/inference-sim/kvrouter/router"
)

// PrefixCache is an LRU set of prefix ids held by one worker.
type PrefixCache struct {
	capacity int
	order    *list.List // front is most recent
	entries  map[string]*list.Element
}

// NewPrefixCache creates a cache holding up to capacity prefixes.
func NewPrefixCache(capacity int) *PrefixCache {
	if capacity < 1 {
		capacity = 1
	}
	return &PrefixCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// Contains reports whether prefix is cached, without touching recency.
func (c *PrefixCache) Contains(prefix string) bool {
	_, ok := c.entries[prefix]
	return ok
}

// Touch inserts or refreshes prefix, evicting the least recently used entry
// when full. Returns true on a hit.
func (c *PrefixCache) Touch(prefix string) bool {
	if el, ok := c.entries[prefix]; ok {
		c.order.MoveToFront(el)
		return true
	}
	if c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(string))
	}
	c.entries[prefix] = c.order.PushFront(prefix)
	return false
}

// Len returns the number of cached prefixes.
func (c *PrefixCache) Len() int { return c.order.Len() }

// errOracleFlake is the injected oracle failure.
var errOracleFlake = errors.New("simulated oracle failure")

// Cluster holds the simulated workers' caches and answers overlap queries
// against them. It implements router.OverlapOracle.
type Cluster struct {
	mu          sync.Mutex
	caches      map[string]*PrefixCache
	failureRate float64
	rng         *rand.Rand
}

var _ router.OverlapOracle = (*Cluster)(nil)

// NewCluster creates empty caches for ids. failureRate is the probability an
// overlap query fails.
func NewCluster(ids []string, capacity int, failureRate float64, rng *rand.Rand) *Cluster {
	c := &Cluster{
		caches:      make(map[string]*PrefixCache, len(ids)),
		failureRate: failureRate,
		rng:         rng,
	}
	for _, id := range ids {
		c.caches[id] = NewPrefixCache(capacity)
	}
	return c
}

// Overlap implements router.OverlapOracle: 1 for workers holding the prefix.
func (c *Cluster) Overlap(ctx context.Context, q router.OverlapQuery) (map[string]float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.failureRate > 0 && c.rng.Float64() < c.failureRate {
		return nil, errOracleFlake
	}
	out := make(map[string]float64, len(q.WorkerIDs))
	for _, id := range q.WorkerIDs {
		if cache, ok := c.caches[id]; ok && cache.Contains(q.PrefixID) {
			out[id] = 1
		}
	}
	return out, nil
}

// Admit records that worker started prefilling prefix. Returns true if the
// prefix was already cached there.
func (c *Cluster) Admit(worker, prefix string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cache, ok := c.caches[worker]
	if !ok {
		return false
	}
	return cache.Touch(prefix)
}
