package router

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// ErrLoadUnderflow reports a decrement with no matching increment. It is a
// bookkeeping bug, never a runtime condition to recover from.
var ErrLoadUnderflow = errors.New("outstanding request count would go negative")

// LoadTracker keeps the outstanding request count per worker.
// Increment/Decrement are atomic; Current may trail concurrent updates.
type LoadTracker struct {
	mu     sync.RWMutex
	counts map[string]*atomic.Int64
}

// NewLoadTracker creates an empty tracker.
func NewLoadTracker() *LoadTracker {
	return &LoadTracker{counts: make(map[string]*atomic.Int64)}
}

// Add starts tracking a worker at zero. Re-adding resets the count.
func (lt *LoadTracker) Add(id string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.counts[id] = &atomic.Int64{}
}

// Remove stops tracking a worker.
func (lt *LoadTracker) Remove(id string) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	delete(lt.counts, id)
}

func (lt *LoadTracker) counter(id string) *atomic.Int64 {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return lt.counts[id]
}

// Increment records a dispatch to id. Unknown ids are ignored.
func (lt *LoadTracker) Increment(id string) {
	if c := lt.counter(id); c != nil {
		c.Add(1)
	}
}

// Decrement records a completion on id. It refuses to go below zero and
// returns ErrLoadUnderflow instead.
func (lt *LoadTracker) Decrement(id string) error {
	c := lt.counter(id)
	if c == nil {
		return nil
	}
	for {
		cur := c.Load()
		if cur <= 0 {
			logrus.Errorf("LoadTracker: unmatched decrement for worker %q", id)
			return ErrLoadUnderflow
		}
		if c.CompareAndSwap(cur, cur-1) {
			return nil
		}
	}
}

// Current returns the outstanding count for id (0 if unknown).
func (lt *LoadTracker) Current(id string) int64 {
	if c := lt.counter(id); c != nil {
		return c.Load()
	}
	return 0
}

// Snapshot returns all counts keyed by worker id.
func (lt *LoadTracker) Snapshot() map[string]int64 {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	out := make(map[string]int64, len(lt.counts))
	for id, c := range lt.counts {
		out[id] = c.Load()
	}
	return out
}

// IDs returns tracked worker ids in sorted order.
func (lt *LoadTracker) IDs() []string {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	ids := make([]string, 0, len(lt.counts))
	for id := range lt.counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
