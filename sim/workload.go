package sim

import (
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/inference-sim/kvrouter/router"
)

// WorkloadConfig shapes the synthetic request stream.
type WorkloadConfig struct {
	Groups              int     // concurrent prefix groups (conversations)
	MaxGroupSize        int     // each group sends 1..MaxGroupSize requests, then is replaced
	IndependentFraction float64 // share of requests sent without a prefix id
	MinTokens           int
	MaxTokens           int
	ArrivalRate         float64 // requests per second
}

// DefaultWorkloadConfig returns a moderate mixed workload.
func DefaultWorkloadConfig() WorkloadConfig {
	return WorkloadConfig{
		Groups:              32,
		MaxGroupSize:        8,
		IndependentFraction: 0.1,
		MinTokens:           256,
		MaxTokens:           4096,
		ArrivalRate:         20,
	}
}

// Request is one synthetic inbound request, as the router's boundary sees it.
type Request struct {
	ID         string
	Headers    router.Headers
	TokenCount int
}

type group struct {
	id     string
	size   int
	osl    router.Level
	iat    router.Level
	tokens int
	sent   int
}

// PoissonSampler generates exponentially-distributed inter-arrival times (CV=1).
type PoissonSampler struct {
	rateMicros float64 // requests per microsecond
}

// SampleIAT returns the next inter-arrival time in microseconds, at least 1.
func (s PoissonSampler) SampleIAT(rng *rand.Rand) int64 {
	iat := int64(rng.ExpFloat64() / s.rateMicros)
	if iat < 1 {
		return 1
	}
	return iat
}

// Workload generates requests from a rotating set of prefix groups.
// Not safe for concurrent use.
type Workload struct {
	cfg     WorkloadConfig
	rng     *rand.Rand
	arrival PoissonSampler
	groups  []*group
	created int
	emitted int
}

// NewWorkload creates a generator drawing from rng.
func NewWorkload(cfg WorkloadConfig, rng *rand.Rand) *Workload {
	if cfg.Groups < 1 {
		cfg.Groups = 1
	}
	if cfg.MaxGroupSize < 1 {
		cfg.MaxGroupSize = 1
	}
	if cfg.MaxTokens < cfg.MinTokens {
		cfg.MaxTokens = cfg.MinTokens
	}
	if cfg.ArrivalRate <= 0 {
		cfg.ArrivalRate = DefaultWorkloadConfig().ArrivalRate
	}
	w := &Workload{
		cfg:     cfg,
		rng:     rng,
		arrival: PoissonSampler{rateMicros: cfg.ArrivalRate / 1e6},
		groups:  make([]*group, cfg.Groups),
	}
	for i := range w.groups {
		w.groups[i] = w.newGroup()
	}
	return w
}

func (w *Workload) newGroup() *group {
	w.created++
	return &group{
		id:     fmt.Sprintf("grp-%d", w.created),
		size:   1 + w.rng.IntN(w.cfg.MaxGroupSize),
		osl:    router.Level(w.rng.IntN(3)),
		iat:    router.Level(w.rng.IntN(3)),
		tokens: w.cfg.MinTokens + w.rng.IntN(w.cfg.MaxTokens-w.cfg.MinTokens+1),
	}
}

// NextIAT returns the gap before the next arrival, in ticks.
func (w *Workload) NextIAT() int64 {
	return w.arrival.SampleIAT(w.rng)
}

// Next returns the next request.
func (w *Workload) Next() Request {
	w.emitted++
	id := fmt.Sprintf("req-%d", w.emitted)

	if w.rng.Float64() < w.cfg.IndependentFraction {
		return Request{
			ID: id,
			Headers: router.Headers{
				router.HeaderOutputLength: router.Level(w.rng.IntN(3)).String(),
			},
			TokenCount: w.cfg.MinTokens + w.rng.IntN(w.cfg.MaxTokens-w.cfg.MinTokens+1),
		}
	}

	i := w.rng.IntN(len(w.groups))
	g := w.groups[i]
	g.sent++
	req := Request{
		ID: id,
		Headers: router.Headers{
			router.HeaderPrefixID:      g.id,
			router.HeaderTotalRequests: strconv.Itoa(g.size),
			router.HeaderOutputLength:  g.osl.String(),
			router.HeaderInterArrival:  g.iat.String(),
		},
		// follow-ups carry the shared prefix plus a growing suffix
		TokenCount: g.tokens + 64*(g.sent-1),
	}
	if g.sent >= g.size {
		w.groups[i] = w.newGroup()
	}
	return req
}
