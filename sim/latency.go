package sim

import (
	"math"
	"math/rand/v2"

	"github.com/inference-sim/kvrouter/router"
)

// LatencyConfig parameterizes the simulated completion latency:
//
//	latency = prefill + decode + queueing, with multiplicative jitter
//	prefill = PrefillMsPerToken * tokens * (1 - CacheHitDiscount if cached)
//	decode  = DecodeMs[output length class]
//	queue   = QueueMsPerRequest * requests already outstanding on the worker
//
// A request fails with probability FailureBase + FailurePerRequest *
// outstanding, capped at MaxFailure.
type LatencyConfig struct {
	PrefillMsPerToken float64
	CacheHitDiscount  float64
	DecodeMs          [3]float64 // LOW, MEDIUM, HIGH
	QueueMsPerRequest float64
	Jitter            float64 // relative standard deviation
	FailureBase       float64
	FailurePerRequest float64
	MaxFailure        float64
}

// DefaultLatencyConfig returns a single-GPU-ish latency profile.
func DefaultLatencyConfig() LatencyConfig {
	return LatencyConfig{
		PrefillMsPerToken: 0.05,
		CacheHitDiscount:  0.9,
		DecodeMs:          [3]float64{200, 800, 2400},
		QueueMsPerRequest: 120,
		Jitter:            0.1,
		FailureBase:       0.01,
		FailurePerRequest: 0.005,
		MaxFailure:        0.5,
	}
}

// LatencyModel samples completion latency and success.
type LatencyModel struct {
	cfg LatencyConfig
	rng *rand.Rand
}

// NewLatencyModel creates a model drawing from rng.
func NewLatencyModel(cfg LatencyConfig, rng *rand.Rand) *LatencyModel {
	return &LatencyModel{cfg: cfg, rng: rng}
}

// Mean returns the jitter-free latency in milliseconds.
func (m *LatencyModel) Mean(tokens int, osl router.Level, cached bool, outstanding int64) float64 {
	prefill := m.cfg.PrefillMsPerToken * float64(tokens)
	if cached {
		prefill *= 1 - m.cfg.CacheHitDiscount
	}
	if osl < router.LevelLow || osl > router.LevelHigh {
		osl = router.LevelMedium
	}
	queue := m.cfg.QueueMsPerRequest * float64(outstanding)
	return prefill + m.cfg.DecodeMs[osl] + queue
}

// Sample draws one completion. outstanding excludes the request itself.
func (m *LatencyModel) Sample(tokens int, osl router.Level, cached bool, outstanding int64) (latencyMs float64, success bool) {
	mean := m.Mean(tokens, osl, cached, outstanding)
	latencyMs = math.Max(1, mean*(1+m.cfg.Jitter*m.rng.NormFloat64()))

	pFail := math.Min(m.cfg.MaxFailure, m.cfg.FailureBase+m.cfg.FailurePerRequest*float64(outstanding))
	success = m.rng.Float64() >= pFail
	return latencyMs, success
}
