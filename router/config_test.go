package router

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Validates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.2, cfg.Bandit.BlendWeight())
	assert.Equal(t, 5*time.Millisecond, cfg.Oracle.Timeout)
}

func TestParseConfig_EmptyDocumentGetsDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("seed: 3\n"))
	require.NoError(t, err)

	want := DefaultConfig()
	want.Seed = 3
	assert.Equal(t, want, *cfg)
}

func TestParseConfig_Overrides(t *testing.T) {
	yaml := `
seed: 99
cost:
  prefill_token_scale: 512
  prefill_exponent: 0.5
  decode: {low: 0.5, medium: 1, high: 4}
  stickiness: {low: 0, medium: 1, high: 3}
bandit:
  prior_weights: {overlap: 3, prefill: 1, decode: 1, stickiness: 2, load: 0.5}
  exploration_scale: 0.1
  blend: 0
  latency_budget_ms: 2000
session:
  windows: {low: 5s, medium: 1m, high: 10m}
oracle:
  url: http://indexer:9000/overlap
  timeout: 20ms
recorder:
  path: /tmp/decisions.csv
`
	cfg, err := ParseConfig([]byte(yaml))
	require.NoError(t, err)

	assert.Equal(t, int64(99), cfg.Seed)
	assert.Equal(t, 512.0, cfg.Cost.PrefillTokenScale)
	assert.Equal(t, 4.0, cfg.Cost.Decode.Value(LevelHigh))
	assert.Equal(t, 0.0, cfg.Cost.Stickiness.Value(LevelLow), "explicit zero must survive defaulting")
	assert.Equal(t, 3.0, cfg.Bandit.PriorWeights.Overlap)
	assert.Equal(t, 0.0, cfg.Bandit.BlendWeight(), "explicit zero blend must survive defaulting")
	assert.Equal(t, 5*time.Second, cfg.Session.Windows.Low)
	assert.Equal(t, 20*time.Millisecond, cfg.Oracle.Timeout)
	assert.Equal(t, "http://indexer:9000/overlap", cfg.Oracle.URL)
	// untouched sections keep defaults
	assert.Equal(t, 1.0, cfg.Bandit.PriorPrecision)
	assert.Equal(t, 4096, cfg.Recorder.Buffer)
}

func TestParseConfig_PartialCostTableFilled(t *testing.T) {
	cfg, err := ParseConfig([]byte("cost:\n  decode: {high: 9}\n"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, cfg.Cost.Decode.Value(LevelLow))
	assert.Equal(t, 2.0, cfg.Cost.Decode.Value(LevelMedium))
	assert.Equal(t, 9.0, cfg.Cost.Decode.Value(LevelHigh))
}

func TestParseConfig_ExplicitZeroBanditSettingsSurvive(t *testing.T) {
	// GIVEN a file asking for greedy sampling and a flat prior
	yaml := `
bandit:
  exploration_scale: 0
  prior_weights: {overlap: 0, prefill: 0, decode: 0, stickiness: 0, load: 0}
`
	cfg, err := ParseConfig([]byte(yaml))
	require.NoError(t, err)

	// THEN defaulting leaves both alone
	assert.Equal(t, 0.0, cfg.Bandit.Exploration())
	assert.Equal(t, FeatureWeights{}, cfg.Bandit.Weights())

	// AND omitting them still yields the defaults
	cfg, err = ParseConfig([]byte("seed: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, 0.35, cfg.Bandit.Exploration())
	assert.Equal(t, 2.0, cfg.Bandit.Weights().Overlap)
}

func TestParseConfig_UnknownFieldRejected(t *testing.T) {
	_, err := ParseConfig([]byte("bandit:\n  exploraton_scale: 0.3\n"))
	assert.Error(t, err)
}

func TestConfig_Validate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"exponent above one", func(c *Config) { c.Cost.PrefillExponent = 1.5 }},
		{"negative exponent", func(c *Config) { c.Cost.PrefillExponent = -1 }},
		{"unordered decode", func(c *Config) { c.Cost.Decode.Low = floatPtr(5) }},
		{"negative stickiness", func(c *Config) { c.Cost.Stickiness.High = floatPtr(-1) }},
		{"blend above one", func(c *Config) { c.Bandit.Blend = floatPtr(1.1) }},
		{"blend negative", func(c *Config) { c.Bandit.Blend = floatPtr(-0.1) }},
		{"beta prior below one", func(c *Config) { c.Bandit.BetaPrior.Alpha = 0.5 }},
		{"negative precision", func(c *Config) { c.Bandit.PriorPrecision = -1 }},
		{"negative exploration", func(c *Config) { c.Bandit.ExplorationScale = floatPtr(-0.1) }},
		{"infinite prior weight", func(c *Config) { c.Bandit.PriorWeights.Load = math.Inf(1) }},
		{"expire before healthy", func(c *Config) { c.Registry.ExpireTTL = time.Second }},
		{"negative buffer", func(c *Config) { c.Recorder.Buffer = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "router.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9090\"\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
