package router

import "math"

// Feature vector layout shared by the router and the linear reward model:
// [overlap, -prefill, -decode, stickiness, -load].
const (
	featOverlap = iota
	featPrefill
	featDecode
	featStickiness
	featLoad
	numFeatures
)

// Observation is one realized outcome fed back into a reward model.
type Observation struct {
	Features []float64 // the vector the decision was scored with
	Reward   float64   // regression target in [0, 1]
	Success  bool
}

// RewardModel is an online-learned per-worker model with a Thompson Sampling
// style contract: Sample draws a plausible score from the current posterior,
// Update folds in a realized outcome.
//
// Implementations are not safe for concurrent use; WorkerState serializes
// access.
type RewardModel interface {
	Sample(features []float64) float64
	// Update applies obs. It returns true when the posterior was found
	// numerically unusable and was reset to its prior instead.
	Update(obs Observation) (reset bool)
	// Updates returns the number of observations applied since creation.
	Updates() int
}

// OutcomeReward maps an outcome onto [0, 1]: failures earn 0, successes earn
// 0.5 plus up to 0.5 more the further they finish under the latency budget.
func OutcomeReward(success bool, latencyMs, budgetMs float64) float64 {
	if !success {
		return 0
	}
	if budgetMs <= 0 || math.IsNaN(latencyMs) {
		return 0.5
	}
	frac := latencyMs / budgetMs
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return 0.5 + 0.5*(1-frac)
}
