package router

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the router configuration, loadable from a YAML file.
// Zero values mean "not set" and are filled by ApplyDefaults; fields where
// zero is a meaningful setting are pointers.
type Config struct {
	Seed     int64          `yaml:"seed"`
	Cost     CostConfig     `yaml:"cost"`
	Bandit   BanditConfig   `yaml:"bandit"`
	Session  SessionConfig  `yaml:"session"`
	Oracle   OracleConfig   `yaml:"oracle"`
	Registry RegistryConfig `yaml:"registry"`
	Recorder RecorderConfig `yaml:"recorder"`
	Server   ServerConfig   `yaml:"server"`
}

// LevelTable maps LOW/MEDIUM/HIGH to a number. Nil entries are "not set".
type LevelTable struct {
	Low    *float64 `yaml:"low"`
	Medium *float64 `yaml:"medium"`
	High   *float64 `yaml:"high"`
}

// Value returns the table entry for l. Call only after ApplyDefaults.
func (t LevelTable) Value(l Level) float64 {
	var p *float64
	switch l {
	case LevelLow:
		p = t.Low
	case LevelHigh:
		p = t.High
	default:
		p = t.Medium
	}
	if p == nil {
		return 0
	}
	return *p
}

// CostConfig shapes the Cost Estimator.
type CostConfig struct {
	// PrefillTokenScale is the token count at which t/(t+scale) reaches 0.5.
	PrefillTokenScale float64 `yaml:"prefill_token_scale"`
	// PrefillExponent bends the prefill curve; (0, 1], below 1 lifts short prompts.
	PrefillExponent float64 `yaml:"prefill_exponent"`
	// Decode is keyed by output length class and must be ordered LOW <= MEDIUM <= HIGH.
	Decode LevelTable `yaml:"decode"`
	// Stickiness is keyed by inter-arrival class. The default rewards HIGH
	// (slow follow-ups) most and MEDIUM least; invert it to favor rapid-fire groups.
	Stickiness LevelTable `yaml:"stickiness"`
}

// FeatureWeights are the prior mean weights of the linear reward model, one
// per feature of [overlap, -prefill, -decode, stickiness, -load].
type FeatureWeights struct {
	Overlap    float64 `yaml:"overlap"`
	Prefill    float64 `yaml:"prefill"`
	Decode     float64 `yaml:"decode"`
	Stickiness float64 `yaml:"stickiness"`
	Load       float64 `yaml:"load"`
}

func (w FeatureWeights) vector() []float64 {
	return []float64{w.Overlap, w.Prefill, w.Decode, w.Stickiness, w.Load}
}

// BetaPrior holds the pseudo-counts of the discrete outcome bandit.
type BetaPrior struct {
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
}

// BanditConfig configures the per-worker reward models and how they combine.
type BanditConfig struct {
	// PriorWeights left out of the file take the defaults; an explicit block
	// is used as written, zeros included.
	PriorWeights *FeatureWeights `yaml:"prior_weights"`
	// PriorPrecision is the diagonal of the initial precision matrix; larger
	// values make the prior weights harder to move.
	PriorPrecision float64 `yaml:"prior_precision"`
	// ExplorationScale multiplies the posterior standard deviation when
	// sampling. 0 samples the posterior mean (greedy).
	ExplorationScale *float64 `yaml:"exploration_scale"`
	// Blend is the weight of the Beta success sample in the combined score:
	// score = (1-Blend)*continuous + Blend*success. Range [0, 1].
	Blend *float64 `yaml:"blend"`
	BetaPrior BetaPrior `yaml:"beta_prior"`
	// LatencyBudgetMs is the latency at which a successful outcome earns the
	// minimum success reward.
	LatencyBudgetMs float64 `yaml:"latency_budget_ms"`
}

// Weights returns the prior weights. Call only after ApplyDefaults.
func (b BanditConfig) Weights() FeatureWeights {
	if b.PriorWeights == nil {
		return FeatureWeights{}
	}
	return *b.PriorWeights
}

// Exploration returns the exploration scale. Call only after ApplyDefaults.
func (b BanditConfig) Exploration() float64 {
	if b.ExplorationScale == nil {
		return 0
	}
	return *b.ExplorationScale
}

// BlendWeight returns the configured blend. Call only after ApplyDefaults.
func (b BanditConfig) BlendWeight() float64 {
	if b.Blend == nil {
		return 0
	}
	return *b.Blend
}

// LevelDurations maps LOW/MEDIUM/HIGH to a duration.
type LevelDurations struct {
	Low    time.Duration `yaml:"low"`
	Medium time.Duration `yaml:"medium"`
	High   time.Duration `yaml:"high"`
}

// Value returns the duration for l.
func (d LevelDurations) Value(l Level) time.Duration {
	switch l {
	case LevelLow:
		return d.Low
	case LevelHigh:
		return d.High
	default:
		return d.Medium
	}
}

// SessionConfig bounds how long a prefix stays affine to its last worker.
type SessionConfig struct {
	Windows       LevelDurations `yaml:"windows"`
	PruneInterval time.Duration  `yaml:"prune_interval"`
}

// OracleConfig configures the cache overlap oracle client. An empty URL
// disables the oracle.
type OracleConfig struct {
	URL              string        `yaml:"url"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold uint32        `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// RegistryConfig configures heartbeat-based worker membership.
type RegistryConfig struct {
	HealthyTTL    time.Duration `yaml:"healthy_ttl"`
	ExpireTTL     time.Duration `yaml:"expire_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// RecorderConfig configures the decision log. An empty Path disables it.
type RecorderConfig struct {
	Path   string `yaml:"path"`
	Buffer int    `yaml:"buffer"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

func floatPtr(v float64) *float64 { return &v }

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() Config {
	return Config{
		Seed: 42,
		Cost: CostConfig{
			PrefillTokenScale: 1024,
			PrefillExponent:   1.0,
			Decode:            LevelTable{Low: floatPtr(1.0), Medium: floatPtr(2.0), High: floatPtr(3.0)},
			Stickiness:        LevelTable{Low: floatPtr(1.5), Medium: floatPtr(1.0), High: floatPtr(2.0)},
		},
		Bandit: BanditConfig{
			PriorWeights: &FeatureWeights{
				Overlap:    2.0,
				Prefill:    0.5,
				Decode:     0.25,
				Stickiness: 1.0,
				Load:       1.0,
			},
			PriorPrecision:   1.0,
			ExplorationScale: floatPtr(0.35),
			Blend:            floatPtr(0.2),
			BetaPrior:        BetaPrior{Alpha: 1, Beta: 1},
			LatencyBudgetMs:  10000,
		},
		Session: SessionConfig{
			Windows:       LevelDurations{Low: 10 * time.Second, Medium: 60 * time.Second, High: 300 * time.Second},
			PruneInterval: 30 * time.Second,
		},
		Oracle: OracleConfig{
			Timeout:          5 * time.Millisecond,
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
		},
		Registry: RegistryConfig{
			HealthyTTL:    15 * time.Second,
			ExpireTTL:     60 * time.Second,
			SweepInterval: 5 * time.Second,
		},
		Recorder: RecorderConfig{Buffer: 4096},
		Server:   ServerConfig{Addr: ":8080"},
	}
}

// LoadConfig reads a YAML configuration file with strict field checking,
// fills unset fields from DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading router config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig for in-memory YAML.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing router config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields from DefaultConfig. Missing cost table
// entries are logged as warnings: the router keeps working on defaults.
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()

	if c.Cost.PrefillTokenScale == 0 {
		c.Cost.PrefillTokenScale = def.Cost.PrefillTokenScale
	}
	if c.Cost.PrefillExponent == 0 {
		c.Cost.PrefillExponent = def.Cost.PrefillExponent
	}
	fillLevelTable("cost.decode", &c.Cost.Decode, def.Cost.Decode)
	fillLevelTable("cost.stickiness", &c.Cost.Stickiness, def.Cost.Stickiness)

	if c.Bandit.PriorWeights == nil {
		c.Bandit.PriorWeights = def.Bandit.PriorWeights
	}
	if c.Bandit.PriorPrecision == 0 {
		c.Bandit.PriorPrecision = def.Bandit.PriorPrecision
	}
	if c.Bandit.ExplorationScale == nil {
		c.Bandit.ExplorationScale = def.Bandit.ExplorationScale
	}
	if c.Bandit.Blend == nil {
		c.Bandit.Blend = floatPtr(*def.Bandit.Blend)
	}
	if c.Bandit.BetaPrior.Alpha == 0 {
		c.Bandit.BetaPrior.Alpha = def.Bandit.BetaPrior.Alpha
	}
	if c.Bandit.BetaPrior.Beta == 0 {
		c.Bandit.BetaPrior.Beta = def.Bandit.BetaPrior.Beta
	}
	if c.Bandit.LatencyBudgetMs == 0 {
		c.Bandit.LatencyBudgetMs = def.Bandit.LatencyBudgetMs
	}

	if c.Session.Windows.Low == 0 {
		c.Session.Windows.Low = def.Session.Windows.Low
	}
	if c.Session.Windows.Medium == 0 {
		c.Session.Windows.Medium = def.Session.Windows.Medium
	}
	if c.Session.Windows.High == 0 {
		c.Session.Windows.High = def.Session.Windows.High
	}
	if c.Session.PruneInterval == 0 {
		c.Session.PruneInterval = def.Session.PruneInterval
	}

	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = def.Oracle.Timeout
	}
	if c.Oracle.FailureThreshold == 0 {
		c.Oracle.FailureThreshold = def.Oracle.FailureThreshold
	}
	if c.Oracle.Cooldown == 0 {
		c.Oracle.Cooldown = def.Oracle.Cooldown
	}

	if c.Registry.HealthyTTL == 0 {
		c.Registry.HealthyTTL = def.Registry.HealthyTTL
	}
	if c.Registry.ExpireTTL == 0 {
		c.Registry.ExpireTTL = def.Registry.ExpireTTL
	}
	if c.Registry.SweepInterval == 0 {
		c.Registry.SweepInterval = def.Registry.SweepInterval
	}

	if c.Recorder.Buffer == 0 {
		c.Recorder.Buffer = def.Recorder.Buffer
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
}

func fillLevelTable(name string, t *LevelTable, def LevelTable) {
	if t.Low == nil {
		logrus.Warnf("config: %s.low not set, using %v", name, *def.Low)
		t.Low = floatPtr(*def.Low)
	}
	if t.Medium == nil {
		logrus.Warnf("config: %s.medium not set, using %v", name, *def.Medium)
		t.Medium = floatPtr(*def.Medium)
	}
	if t.High == nil {
		logrus.Warnf("config: %s.high not set, using %v", name, *def.High)
		t.High = floatPtr(*def.High)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks parameter ranges. Call after ApplyDefaults.
func (c *Config) Validate() error {
	if c.Cost.PrefillTokenScale <= 0 || !finite(c.Cost.PrefillTokenScale) {
		return fmt.Errorf("cost.prefill_token_scale must be a finite positive number, got %v", c.Cost.PrefillTokenScale)
	}
	if c.Cost.PrefillExponent <= 0 || c.Cost.PrefillExponent > 1 || !finite(c.Cost.PrefillExponent) {
		return fmt.Errorf("cost.prefill_exponent must be in (0, 1], got %v", c.Cost.PrefillExponent)
	}
	for _, lvl := range []Level{LevelLow, LevelMedium, LevelHigh} {
		if v := c.Cost.Decode.Value(lvl); v < 0 || !finite(v) {
			return fmt.Errorf("cost.decode.%s must be a finite non-negative number, got %v", lvl, v)
		}
		if v := c.Cost.Stickiness.Value(lvl); v < 0 || !finite(v) {
			return fmt.Errorf("cost.stickiness.%s must be a finite non-negative number, got %v", lvl, v)
		}
	}
	if c.Cost.Decode.Value(LevelLow) > c.Cost.Decode.Value(LevelMedium) ||
		c.Cost.Decode.Value(LevelMedium) > c.Cost.Decode.Value(LevelHigh) {
		return fmt.Errorf("cost.decode must be ordered low <= medium <= high, got %v/%v/%v",
			c.Cost.Decode.Value(LevelLow), c.Cost.Decode.Value(LevelMedium), c.Cost.Decode.Value(LevelHigh))
	}
	for _, w := range c.Bandit.Weights().vector() {
		if !finite(w) {
			return fmt.Errorf("bandit.prior_weights must be finite, got %+v", c.Bandit.Weights())
		}
	}
	if c.Bandit.PriorPrecision <= 0 || !finite(c.Bandit.PriorPrecision) {
		return fmt.Errorf("bandit.prior_precision must be a finite positive number, got %v", c.Bandit.PriorPrecision)
	}
	if e := c.Bandit.Exploration(); e < 0 || !finite(e) {
		return fmt.Errorf("bandit.exploration_scale must be a finite non-negative number, got %v", e)
	}
	if b := c.Bandit.BlendWeight(); b < 0 || b > 1 || !finite(b) {
		return fmt.Errorf("bandit.blend must be in [0, 1], got %v", b)
	}
	if c.Bandit.BetaPrior.Alpha < 1 || c.Bandit.BetaPrior.Beta < 1 {
		return fmt.Errorf("bandit.beta_prior pseudo-counts must be >= 1, got alpha=%v beta=%v",
			c.Bandit.BetaPrior.Alpha, c.Bandit.BetaPrior.Beta)
	}
	if c.Bandit.LatencyBudgetMs <= 0 || !finite(c.Bandit.LatencyBudgetMs) {
		return fmt.Errorf("bandit.latency_budget_ms must be a finite positive number, got %v", c.Bandit.LatencyBudgetMs)
	}
	if c.Session.Windows.Low <= 0 || c.Session.Windows.Medium <= 0 || c.Session.Windows.High <= 0 {
		return fmt.Errorf("session.windows must be positive, got %+v", c.Session.Windows)
	}
	if c.Oracle.Timeout <= 0 {
		return fmt.Errorf("oracle.timeout must be positive, got %v", c.Oracle.Timeout)
	}
	if c.Registry.ExpireTTL < c.Registry.HealthyTTL {
		return fmt.Errorf("registry.expire_ttl (%v) must be >= registry.healthy_ttl (%v)",
			c.Registry.ExpireTTL, c.Registry.HealthyTTL)
	}
	if c.Recorder.Buffer < 0 {
		return fmt.Errorf("recorder.buffer must be non-negative, got %d", c.Recorder.Buffer)
	}
	return nil
}
