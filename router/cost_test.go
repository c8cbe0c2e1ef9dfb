package router

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func defaultCostEstimator() *CostEstimator {
	return NewCostEstimator(DefaultConfig().Cost)
}

func TestCostEstimator_Estimate(t *testing.T) {
	ce := defaultCostEstimator()
	tests := []struct {
		name string
		d    RequestDescriptor
		want Costs
	}{
		{"short prompt, low osl, low iat", RequestDescriptor{TokenCount: 512, OutputLength: LevelLow, InterArrival: LevelLow}, Costs{1.0 / 3, 1, 1.5}},
		{"medium", RequestDescriptor{TokenCount: 1024, OutputLength: LevelMedium, InterArrival: LevelMedium}, Costs{0.5, 2, 1}},
		{"long prompt, high", RequestDescriptor{TokenCount: 4096, OutputLength: LevelHigh, InterArrival: LevelHigh}, Costs{0.8, 3, 2}},
		{"empty prompt", RequestDescriptor{TokenCount: 0, OutputLength: LevelMedium, InterArrival: LevelMedium}, Costs{0, 2, 1}},
		{"out-of-range level treated as medium", RequestDescriptor{TokenCount: 1024, OutputLength: Level(9), InterArrival: Level(-1)}, Costs{0.5, 2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ce.Estimate(tt.d)
			assert.InDelta(t, tt.want.Prefill, got.Prefill, 1e-12)
			assert.Equal(t, tt.want.Decode, got.Decode)
			assert.Equal(t, tt.want.Stickiness, got.Stickiness)
		})
	}
}

func TestCostEstimator_PrefillMonotone(t *testing.T) {
	for _, exp := range []float64{1.0, 0.5, 0.1} {
		cfg := DefaultConfig().Cost
		cfg.PrefillExponent = exp
		ce := NewCostEstimator(cfg)
		prev := -1.0
		for tokens := 0; tokens <= 65536; tokens += 257 {
			got := ce.Prefill(tokens)
			if got <= prev {
				t.Fatalf("exponent %v: Prefill(%d)=%v not above previous %v", exp, tokens, got, prev)
			}
			if math.IsNaN(got) || math.IsInf(got, 0) {
				t.Fatalf("exponent %v: Prefill(%d) not finite", exp, tokens)
			}
			prev = got
		}
	}
}

func TestCostEstimator_SublinearExponent(t *testing.T) {
	cfg := DefaultConfig().Cost
	cfg.PrefillExponent = 0.5
	ce := NewCostEstimator(cfg)
	assert.InDelta(t, math.Sqrt(0.8), ce.Prefill(4096), 1e-12)
	assert.Greater(t, ce.Prefill(512), NewCostEstimator(DefaultConfig().Cost).Prefill(512))
}

func TestCostEstimator_PrefillBelowOverlapCeiling(t *testing.T) {
	// GIVEN prompts far beyond the token scale
	ce := defaultCostEstimator()
	for _, tokens := range []int{8192, 32768, 1 << 20, math.MaxInt32} {
		// THEN the prefill cost stays below 1, the largest overlap score
		got := ce.Prefill(tokens)
		assert.Less(t, got, 1.0, "tokens=%d", tokens)
		assert.Greater(t, got, 0.85, "tokens=%d", tokens)
	}
}
