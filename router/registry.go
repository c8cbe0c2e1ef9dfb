package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Registry reports which workers are currently healthy. The router only
// routes to registered workers that the registry also reports as healthy.
type Registry interface {
	Healthy() []string
}

// StaticRegistry reports a fixed membership.
type StaticRegistry []string

// Healthy implements Registry.
func (s StaticRegistry) Healthy() []string { return append([]string(nil), s...) }

// MemoryRegistry is heartbeat-driven membership. A worker is healthy for
// HealthyTTL after its last heartbeat and is removed after ExpireTTL, at
// which point OnExpire fires.
type MemoryRegistry struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
	cfg      RegistryConfig
	now      func() time.Time

	// OnExpire is called (outside the lock) for each worker removed by Sweep.
	OnExpire func(id string)
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry(cfg RegistryConfig) *MemoryRegistry {
	return &MemoryRegistry{
		lastSeen: make(map[string]time.Time),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Heartbeat registers or refreshes id. Returns true when id is new.
func (r *MemoryRegistry) Heartbeat(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.lastSeen[id]
	r.lastSeen[id] = r.now()
	return !exists
}

// Remove drops id immediately. OnExpire is not called.
func (r *MemoryRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.lastSeen, id)
}

// Healthy implements Registry. Sorted by id.
func (r *MemoryRegistry) Healthy() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now()
	ids := make([]string, 0, len(r.lastSeen))
	for id, seen := range r.lastSeen {
		if now.Sub(seen) <= r.cfg.HealthyTTL {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Sweep removes workers silent for longer than ExpireTTL.
func (r *MemoryRegistry) Sweep() []string {
	r.mu.Lock()
	now := r.now()
	var expired []string
	for id, seen := range r.lastSeen {
		if now.Sub(seen) > r.cfg.ExpireTTL {
			delete(r.lastSeen, id)
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(expired)
	for _, id := range expired {
		logrus.Warnf("registry: worker %q expired after %v without heartbeat", id, r.cfg.ExpireTTL)
		if r.OnExpire != nil {
			r.OnExpire(id)
		}
	}
	return expired
}

// Run sweeps every SweepInterval until ctx is done.
func (r *MemoryRegistry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
