package router

import "math"

// Costs are the per-request estimates fed into every worker's feature vector.
// Units are relative; only their scale against the prior weights matters.
type Costs struct {
	Prefill    float64
	Decode     float64
	Stickiness float64
}

// CostEstimator turns a descriptor into prefill/decode cost and stickiness.
// Pure and safe for concurrent use.
type CostEstimator struct {
	tokenScale float64
	exponent   float64
	decode     [3]float64
	stickiness [3]float64
}

// NewCostEstimator builds an estimator from a defaulted CostConfig.
func NewCostEstimator(cfg CostConfig) *CostEstimator {
	ce := &CostEstimator{
		tokenScale: cfg.PrefillTokenScale,
		exponent:   cfg.PrefillExponent,
	}
	for _, lvl := range []Level{LevelLow, LevelMedium, LevelHigh} {
		ce.decode[lvl] = cfg.Decode.Value(lvl)
		ce.stickiness[lvl] = cfg.Stickiness.Value(lvl)
	}
	return ce
}

// Estimate returns the costs for d.
func (ce *CostEstimator) Estimate(d RequestDescriptor) Costs {
	return Costs{
		Prefill:    ce.Prefill(d.TokenCount),
		Decode:     ce.decode[clampLevel(d.OutputLength)],
		Stickiness: ce.stickiness[clampLevel(d.InterArrival)],
	}
}

// Prefill returns (t/(t+scale))^exponent for t tokens: strictly increasing
// and below 1, the same ceiling as overlap.
func (ce *CostEstimator) Prefill(tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	t := float64(tokens)
	return math.Pow(t/(t+ce.tokenScale), ce.exponent)
}

func clampLevel(l Level) Level {
	if l < LevelLow || l > LevelHigh {
		return LevelMedium
	}
	return l
}
