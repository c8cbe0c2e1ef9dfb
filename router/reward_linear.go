package router

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// LinearThompson is Bayesian linear regression with Thompson Sampling.
//
// State is the precision matrix A and vector b; the posterior over weights is
// N(A⁻¹b, s²·A⁻¹) where s is the exploration scale. The prior is
// A = λI, b = λμ₀, so the posterior mean starts at the configured prior weights.
type LinearThompson struct {
	priorMean      []float64
	priorPrecision float64
	scale          float64
	src            rand.Source

	precision *mat.SymDense
	b         *mat.VecDense
	mean      []float64
	sampler   *distmv.Normal // nil when scale is 0 (greedy on the mean)
	updates   int
}

var _ RewardModel = (*LinearThompson)(nil)

// NewLinearThompson creates a model at its prior. src must not be shared with
// anything sampled concurrently.
func NewLinearThompson(priorMean []float64, priorPrecision, scale float64, src rand.Source) *LinearThompson {
	m := &LinearThompson{
		priorMean:      append([]float64(nil), priorMean...),
		priorPrecision: priorPrecision,
		scale:          scale,
		src:            src,
	}
	m.reset()
	return m
}

// Sample implements RewardModel: draw θ from the posterior and return θ·x.
func (m *LinearThompson) Sample(features []float64) float64 {
	theta := m.mean
	if m.sampler != nil {
		theta = m.sampler.Rand(nil)
	}
	return floats.Dot(theta, features)
}

// Update implements RewardModel: A += xxᵀ, b += r·x.
func (m *LinearThompson) Update(obs Observation) bool {
	m.updates++
	x := mat.NewVecDense(len(obs.Features), append([]float64(nil), obs.Features...))
	m.precision.SymRankOne(m.precision, 1, x)
	m.b.AddScaledVec(m.b, obs.Reward, x)
	if !m.rebuild() {
		m.reset()
		return true
	}
	return false
}

// Updates implements RewardModel.
func (m *LinearThompson) Updates() int { return m.updates }

// Mean returns a copy of the current posterior mean weights.
func (m *LinearThompson) Mean() []float64 {
	return append([]float64(nil), m.mean...)
}

func (m *LinearThompson) reset() {
	d := len(m.priorMean)
	m.precision = mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		m.precision.SetSym(i, i, m.priorPrecision)
	}
	bData := make([]float64, d)
	floats.ScaleTo(bData, m.priorPrecision, m.priorMean)
	m.b = mat.NewVecDense(d, bData)
	if !m.rebuild() {
		// The prior is diagonal and positive; this only fails on a bad config.
		m.mean = append([]float64(nil), m.priorMean...)
		m.sampler = nil
	}
}

// rebuild recomputes the posterior mean and sampler from A and b. Returns
// false when A is not positive definite or anything is non-finite.
func (m *LinearThompson) rebuild() bool {
	d := len(m.priorMean)
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			if v := m.precision.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(m.precision); !ok {
		return false
	}
	mean := mat.NewVecDense(d, nil)
	if err := chol.SolveVecTo(mean, m.b); err != nil {
		return false
	}
	meanData := mean.RawVector().Data
	for _, v := range meanData {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}

	var sampler *distmv.Normal
	if m.scale > 0 {
		var cov mat.SymDense
		if err := chol.InverseTo(&cov); err != nil {
			return false
		}
		cov.ScaleSym(m.scale*m.scale, &cov)
		normal, ok := distmv.NewNormal(meanData, &cov, m.src)
		if !ok {
			return false
		}
		sampler = normal
	}

	m.mean = append([]float64(nil), meanData...)
	m.sampler = sampler
	return true
}
