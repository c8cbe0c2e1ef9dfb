package router

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// BetaBernoulli tracks binary routing outcomes with a Beta posterior.
// Sample ignores the features and returns a draw of the success probability.
type BetaBernoulli struct {
	alpha, beta float64
	src         rand.Source
	updates     int
}

var _ RewardModel = (*BetaBernoulli)(nil)

// NewBetaBernoulli creates a model with the given prior pseudo-counts.
func NewBetaBernoulli(prior BetaPrior, src rand.Source) *BetaBernoulli {
	return &BetaBernoulli{alpha: prior.Alpha, beta: prior.Beta, src: src}
}

// Sample implements RewardModel.
func (m *BetaBernoulli) Sample(_ []float64) float64 {
	return distuv.Beta{Alpha: m.alpha, Beta: m.beta, Src: m.src}.Rand()
}

// Update implements RewardModel: alpha+1 on success, beta+1 on failure.
func (m *BetaBernoulli) Update(obs Observation) bool {
	m.updates++
	if obs.Success {
		m.alpha++
	} else {
		m.beta++
	}
	return false
}

// Updates implements RewardModel.
func (m *BetaBernoulli) Updates() int { return m.updates }

// Params returns the current (alpha, beta).
func (m *BetaBernoulli) Params() (alpha, beta float64) {
	return m.alpha, m.beta
}
