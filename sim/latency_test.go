package sim

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/inference-sim/kvrouter/router"
)

func TestLatencyModel_Mean(t *testing.T) {
	m := NewLatencyModel(DefaultLatencyConfig(), rand.New(rand.NewPCG(1, 1)))
	tests := []struct {
		name        string
		tokens      int
		osl         router.Level
		cached      bool
		outstanding int64
		want        float64
	}{
		{"cold prefill", 2000, router.LevelLow, false, 0, 100 + 200},
		{"cached prefill", 2000, router.LevelLow, true, 0, 10 + 200},
		{"queued", 0, router.LevelMedium, false, 3, 800 + 360},
		{"long output", 0, router.LevelHigh, false, 0, 2400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.Mean(tt.tokens, tt.osl, tt.cached, tt.outstanding), 1e-9)
		})
	}
}

func TestLatencyModel_FailuresGrowWithLoad(t *testing.T) {
	rate := func(outstanding int64) float64 {
		m := NewLatencyModel(DefaultLatencyConfig(), rand.New(rand.NewPCG(9, 9)))
		fails := 0
		const n = 4000
		for i := 0; i < n; i++ {
			lat, ok := m.Sample(1000, router.LevelMedium, false, outstanding)
			assert.GreaterOrEqual(t, lat, 1.0)
			if !ok {
				fails++
			}
		}
		return float64(fails) / n
	}
	idle, busy := rate(0), rate(60)
	assert.InDelta(t, 0.01, idle, 0.01)
	assert.InDelta(t, 0.31, busy, 0.04)
}
