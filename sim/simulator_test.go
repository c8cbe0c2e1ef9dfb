package sim

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/kvrouter/router"
	"github.com/inference-sim/kvrouter/router/trace"
)

func smallConfig() Config {
	cfg := DefaultConfig()
	cfg.Requests = 600
	return cfg
}

func runSim(t *testing.T, cfg Config, routerCfg router.Config, rec trace.Recorder) (*Simulator, *Report) {
	t.Helper()
	s, err := New(cfg, routerCfg, rec)
	require.NoError(t, err)
	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	return s, rep
}

func TestSimulator_EveryRequestCompletes(t *testing.T) {
	// GIVEN a default run
	rec := &trace.MemoryRecorder{}
	s, rep := runSim(t, smallConfig(), router.DefaultConfig(), rec)

	// THEN every request was routed and reported back
	assert.Equal(t, 600, rep.Requests)
	assert.Zero(t, rep.Rejected)
	assert.Equal(t, 600, rep.Successes+rep.Failures)
	assert.Equal(t, 0, s.Router.Pending())
	for id, n := range s.Router.Load().Snapshot() {
		assert.Zero(t, n, "outstanding on %s", id)
	}
	assert.Len(t, rec.Records(), 600, "external recorder sees every decision")
	assert.Equal(t, 600, rep.Decisions.TotalDecisions)
	assert.Equal(t, 4, rep.Decisions.UniqueTargets)
	assert.Greater(t, rep.SimulatedSeconds, 0.0)
	assert.LessOrEqual(t, rep.P50LatencyMs, rep.P95LatencyMs)
}

func TestSimulator_Deterministic(t *testing.T) {
	_, a := runSim(t, smallConfig(), router.DefaultConfig(), nil)
	_, b := runSim(t, smallConfig(), router.DefaultConfig(), nil)
	assert.Equal(t, a, b)
}

func TestSimulator_CacheAwareRoutingBeatsFeatureBlind(t *testing.T) {
	// GIVEN the same workload routed with and without the linear model
	aware := router.DefaultConfig()
	blind := router.DefaultConfig()
	one := 1.0
	blind.Bandit.Blend = &one

	_, awareRep := runSim(t, smallConfig(), aware, nil)
	_, blindRep := runSim(t, smallConfig(), blind, nil)

	// THEN cache-aware routing lands more grouped requests on their prefix holder
	assert.Greater(t, awareRep.CacheHitRate, blindRep.CacheHitRate)
	assert.Greater(t, awareRep.CacheHitRate, 0.4)
}

func TestSimulator_OracleFailuresDegrade(t *testing.T) {
	cfg := smallConfig()
	cfg.OracleFailureRate = 0.3
	_, rep := runSim(t, cfg, router.DefaultConfig(), nil)

	assert.Equal(t, 600, rep.Successes+rep.Failures)
	assert.Positive(t, rep.Decisions.OverlapUnavailable)
}

func TestNew_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"negative requests", func(c *Config) { c.Requests = -1 }},
		{"failure rate above one", func(c *Config) { c.OracleFailureRate = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg, router.DefaultConfig(), nil)
			assert.Error(t, err)
		})
	}
}

func TestReport_Print(t *testing.T) {
	_, rep := runSim(t, Config{Workers: 2, Requests: 20, Seed: 1, CacheCapacity: 4, Workload: DefaultWorkloadConfig(), Latency: DefaultLatencyConfig()}, router.DefaultConfig(), nil)
	var buf bytes.Buffer
	rep.Print(&buf)
	out := buf.String()
	assert.Contains(t, out, "=== Simulation Metrics ===")
	assert.Contains(t, out, "=== Decision Summary ===")
	assert.Contains(t, out, "worker-0")
}
