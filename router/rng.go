package router

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// SeedKey identifies a reproducible router run. Two routers built with the
// same SeedKey, the same configuration and the same call sequence produce
// identical decisions.
type SeedKey int64

const (
	// SubsystemWorkload is the RNG subsystem for synthetic workload generation.
	SubsystemWorkload = "workload"

	// SubsystemLatency is the RNG subsystem for simulated completion latency.
	SubsystemLatency = "latency"
)

// SubsystemWorker returns the subsystem name for a worker's posterior sampling.
func SubsystemWorker(id string) string {
	return fmt.Sprintf("worker_%s", id)
}

// PartitionedRNG provides deterministic, isolated random streams per subsystem.
//
// Derivation: PCG(masterSeed, fnv1a64(name)). Drawing from one subsystem
// never shifts the sequence of another.
//
// Thread-safety: NOT thread-safe. ForSubsystem and NewSource must be called
// from a single goroutine or under the caller's lock; the returned generators
// are likewise unsynchronized.
type PartitionedRNG struct {
	key        SeedKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SeedKey.
func NewPartitionedRNG(key SeedKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns the cached generator for the named subsystem,
// creating it on first use. Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := p.NewSource(name)
	p.subsystems[name] = rng
	return rng
}

// NewSource returns a fresh generator for the named subsystem, positioned at
// the start of its stream. Used where each owner needs a private generator
// (one per registered worker).
func (p *PartitionedRNG) NewSource(name string) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(p.key), fnv1a64(name)))
}

// Key returns the SeedKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SeedKey {
	return p.key
}

func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
