package router

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// stubOracle answers with fixed scores, an error, or after a delay.
type stubOracle struct {
	mu     sync.Mutex
	scores map[string]float64
	err    error
	delay  time.Duration
	calls  atomic.Int32
}

func (o *stubOracle) set(scores map[string]float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scores = scores
}

func (o *stubOracle) setDelay(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.delay = d
}

func (o *stubOracle) Overlap(ctx context.Context, _ OverlapQuery) (map[string]float64, error) {
	o.calls.Add(1)
	o.mu.Lock()
	delay := o.delay
	o.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	out := make(map[string]float64, len(o.scores))
	for k, v := range o.scores {
		out[k] = v
	}
	return out, nil
}

// newTestRouter builds a router on a fake clock with the given workers registered.
func newTestRouter(t *testing.T, cfg Config, opts Options, workers ...string) *Router {
	t.Helper()
	if opts.Now == nil {
		opts.Now = newFakeClock().Now
	}
	r, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, w := range workers {
		r.Register(w)
	}
	return r
}

func seededConfig(seed int64) Config {
	cfg := DefaultConfig()
	cfg.Seed = seed
	return cfg
}

func descriptor(prefix string, tokens int, iat Level) RequestDescriptor {
	return RequestDescriptor{
		PrefixID:          prefix,
		ExpectedGroupSize: 4,
		OutputLength:      LevelMedium,
		InterArrival:      iat,
		TokenCount:        tokens,
	}
}

func mustRoute(t *testing.T, r *Router, d RequestDescriptor) Decision {
	t.Helper()
	dec, err := r.Route(context.Background(), d)
	if err != nil {
		t.Fatalf("Route(%s): %v", d.PrefixID, err)
	}
	return dec
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("reading counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("reading gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

// labelValues returns the label values of every series vec currently exports.
func labelValues(t *testing.T, vec prometheus.Collector) []string {
	t.Helper()
	ch := make(chan prometheus.Metric, 16)
	go func() {
		vec.Collect(ch)
		close(ch)
	}()
	var out []string
	for metric := range ch {
		var m dto.Metric
		if err := metric.Write(&m); err != nil {
			t.Fatalf("reading series: %v", err)
		}
		for _, l := range m.GetLabel() {
			out = append(out, l.GetValue())
		}
	}
	sort.Strings(out)
	return out
}
