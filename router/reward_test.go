package router

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func TestOutcomeReward(t *testing.T) {
	tests := []struct {
		name    string
		success bool
		latency float64
		want    float64
	}{
		{"failure earns nothing", false, 10, 0},
		{"instant success", true, 0, 1},
		{"half budget", true, 5000, 0.75},
		{"at budget", true, 10000, 0.5},
		{"over budget floors at 0.5", true, 50000, 0.5},
		{"negative latency treated as instant", true, -3, 1},
		{"NaN latency", true, math.NaN(), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, OutcomeReward(tt.success, tt.latency, 10000), 1e-12)
		})
	}
}

func newTestLinear(scale float64) *LinearThompson {
	return NewLinearThompson(DefaultConfig().Bandit.Weights().vector(), 1.0, scale, rand.NewPCG(1, 2))
}

func TestLinearThompson_StartsAtPrior(t *testing.T) {
	m := newTestLinear(0.35)
	assert.Equal(t, []float64{2.0, 0.5, 0.25, 1.0, 1.0}, m.Mean())
	assert.Equal(t, 0, m.Updates())
}

func TestLinearThompson_LearnsFromRewards(t *testing.T) {
	// GIVEN a model whose prior believes overlap matters
	m := newTestLinear(0.35)
	x := []float64{1, -0.5, -2, 0, 0}
	before := floats.Dot(m.Mean(), x)

	// WHEN that feature vector repeatedly earns zero reward
	for i := 0; i < 200; i++ {
		require.False(t, m.Update(Observation{Features: x, Reward: 0}))
	}

	// THEN its predicted reward moves toward zero
	after := floats.Dot(m.Mean(), x)
	assert.Less(t, math.Abs(after), math.Abs(before))
	assert.InDelta(t, 0, after, 0.05)
	assert.Equal(t, 200, m.Updates())
}

func TestLinearThompson_SamplesConcentrate(t *testing.T) {
	// Posterior spread shrinks as evidence accumulates.
	x := []float64{1, -1, -1, 1, -1}
	spread := func(m *LinearThompson) float64 {
		var sum, sq float64
		const n = 2000
		for i := 0; i < n; i++ {
			v := m.Sample(x)
			sum += v
			sq += v * v
		}
		mean := sum / n
		return sq/n - mean*mean
	}
	m := newTestLinear(0.35)
	prior := spread(m)
	for i := 0; i < 100; i++ {
		m.Update(Observation{Features: x, Reward: 0.7})
	}
	assert.Less(t, spread(m), prior/10)
}

func TestLinearThompson_ZeroScaleIsGreedy(t *testing.T) {
	m := newTestLinear(0)
	x := []float64{1, 0, 0, 0, 0}
	for i := 0; i < 5; i++ {
		assert.Equal(t, 2.0, m.Sample(x))
	}
}

func TestLinearThompson_NonFiniteUpdateResetsToPrior(t *testing.T) {
	// GIVEN a model with some learned state
	m := newTestLinear(0.35)
	m.Update(Observation{Features: []float64{1, 0, 0, 0, 0}, Reward: 1})

	// WHEN an update poisons the precision matrix
	reset := m.Update(Observation{Features: []float64{math.Inf(1), 0, 0, 0, 0}, Reward: 1})

	// THEN the model reports a reset and is back at its prior, still usable
	assert.True(t, reset)
	assert.Equal(t, []float64{2.0, 0.5, 0.25, 1.0, 1.0}, m.Mean())
	v := m.Sample([]float64{1, 1, 1, 1, 1})
	assert.False(t, math.IsNaN(v))
}

func TestBetaBernoulli_Update(t *testing.T) {
	m := NewBetaBernoulli(BetaPrior{Alpha: 1, Beta: 1}, rand.NewPCG(3, 4))
	outcomes := []bool{true, true, false, true, false, false, false}
	for _, ok := range outcomes {
		m.Update(Observation{Success: ok})
	}
	alpha, beta := m.Params()
	assert.Equal(t, 4.0, alpha)
	assert.Equal(t, 5.0, beta)
	assert.Equal(t, float64(len(outcomes)+2), alpha+beta)
	assert.Equal(t, len(outcomes), m.Updates())
}

func TestBetaBernoulli_SampleTracksSuccessRate(t *testing.T) {
	m := NewBetaBernoulli(BetaPrior{Alpha: 1, Beta: 1}, rand.NewPCG(5, 6))
	for i := 0; i < 90; i++ {
		m.Update(Observation{Success: true})
	}
	for i := 0; i < 10; i++ {
		m.Update(Observation{Success: false})
	}
	var sum float64
	const n = 1000
	for i := 0; i < n; i++ {
		v := m.Sample(nil)
		require.True(t, v >= 0 && v <= 1)
		sum += v
	}
	// posterior mean 91/102
	assert.InDelta(t, 91.0/102.0, sum/n, 0.02)
}
