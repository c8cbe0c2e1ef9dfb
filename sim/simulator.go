package sim

import (
	"container/heap"
	"context"
	"fmt"
	"io"
	"sort"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/inference-sim/kvrouter/router"
	"github.com/inference-sim/kvrouter/router/trace"
)

// subsystemOracle is the RNG subsystem for injected oracle failures.
const subsystemOracle = "oracle"

// Config describes one simulation run.
type Config struct {
	Workers           int
	Requests          int
	Seed              int64 // workload, latency and oracle randomness; the router has its own seed
	CacheCapacity     int   // prefixes each worker keeps
	OracleFailureRate float64
	Workload          WorkloadConfig
	Latency           LatencyConfig
}

// DefaultConfig returns a small four-worker run.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		Requests:      1000,
		Seed:          42,
		CacheCapacity: 16,
		Workload:      DefaultWorkloadConfig(),
		Latency:       DefaultLatencyConfig(),
	}
}

// Simulator is the core object that holds simulation time, the simulated
// cluster, and the event loop.
type Simulator struct {
	cfg      Config
	Router   *router.Router
	cluster  *Cluster
	workload *Workload
	latency  *LatencyModel
	memory   *trace.MemoryRecorder
	start    time.Time

	queue    EventQueue
	seq      uint64
	clock    atomic.Int64 // ticks; read by the router's clock
	arrivals int
	err      error

	rejected  int
	grouped   int
	cacheHits int
	successes int
	failures  int
	latencies []float64
}

// New builds a simulator around a fresh router. Decision records go to
// recorder (may be nil) and are also kept for the Report.
func New(cfg Config, routerCfg router.Config, recorder trace.Recorder) (*Simulator, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("simulation needs at least one worker, got %d", cfg.Workers)
	}
	if cfg.Requests < 0 {
		return nil, fmt.Errorf("request count must be non-negative, got %d", cfg.Requests)
	}
	if cfg.OracleFailureRate < 0 || cfg.OracleFailureRate > 1 {
		return nil, fmt.Errorf("oracle failure rate must be in [0, 1], got %v", cfg.OracleFailureRate)
	}

	ids := make([]string, cfg.Workers)
	for i := range ids {
		ids[i] = fmt.Sprintf("worker-%02d", i)
	}
	rng := router.NewPartitionedRNG(router.SeedKey(cfg.Seed))

	s := &Simulator{
		cfg:      cfg,
		cluster:  NewCluster(ids, cfg.CacheCapacity, cfg.OracleFailureRate, rng.ForSubsystem(subsystemOracle)),
		workload: NewWorkload(cfg.Workload, rng.ForSubsystem(router.SubsystemWorkload)),
		latency:  NewLatencyModel(cfg.Latency, rng.ForSubsystem(router.SubsystemLatency)),
		memory:   &trace.MemoryRecorder{},
		start:    time.Unix(0, 0).UTC(),
	}

	// The oracle is in-process; a wall-clock timeout would only add noise.
	if routerCfg.Oracle.Timeout < time.Second {
		routerCfg.Oracle.Timeout = time.Second
	}
	r, err := router.New(routerCfg, router.Options{
		Oracle:   s.cluster,
		Recorder: trace.MultiRecorder{s.memory, recorder},
		Now:      s.now,
	})
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		r.Register(id)
	}
	s.Router = r
	return s, nil
}

func (s *Simulator) now() time.Time {
	return s.start.Add(time.Duration(s.clock.Load()) * time.Microsecond)
}

// Schedule adds an event to the queue.
func (s *Simulator) Schedule(ev Event) {
	s.seq++
	heap.Push(&s.queue, queuedEvent{Event: ev, seq: s.seq})
}

// Run processes events until the workload is exhausted and every request
// has completed, or ctx is done.
func (s *Simulator) Run(ctx context.Context) (*Report, error) {
	s.scheduleNextArrival(0)
	for s.queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ev := heap.Pop(&s.queue).(queuedEvent)
		s.clock.Store(ev.Timestamp())
		ev.Execute(s)
		if s.err != nil {
			return nil, s.err
		}
	}
	logrus.Infof("simulation complete at %d ticks", s.clock.Load())
	return s.report(), nil
}

func (s *Simulator) scheduleNextArrival(now int64) {
	if s.arrivals >= s.cfg.Requests {
		return
	}
	s.arrivals++
	s.Schedule(&ArrivalEvent{time: now + s.workload.NextIAT(), request: s.workload.Next()})
}

func (s *Simulator) dispatch(now int64, req Request) {
	d := router.ExtractDescriptor(req.Headers, req.TokenCount)
	dec, err := s.Router.Route(context.Background(), d)
	if err != nil {
		s.rejected++
		logrus.Warnf("simulation: %s not routed: %v", req.ID, err)
		return
	}

	outstanding := s.Router.Load().Current(dec.WorkerID) - 1
	cached := s.cluster.Admit(dec.WorkerID, d.PrefixID)
	if !d.GeneratedPrefix {
		s.grouped++
		if cached {
			s.cacheHits++
		}
	}

	latencyMs, ok := s.latency.Sample(d.TokenCount, d.OutputLength, cached, outstanding)
	s.Schedule(&CompletionEvent{
		time:      now + int64(latencyMs*1000),
		requestID: dec.RequestID,
		workerID:  dec.WorkerID,
		prefixID:  d.PrefixID,
		success:   ok,
		latencyMs: latencyMs,
	})
}

func (s *Simulator) complete(e *CompletionEvent) {
	err := s.Router.ReportOutcome(router.Outcome{
		RequestID: e.requestID,
		WorkerID:  e.workerID,
		PrefixID:  e.prefixID,
		Success:   e.success,
		LatencyMs: e.latencyMs,
	})
	if err != nil {
		s.err = fmt.Errorf("reporting %s: %w", e.requestID, err)
		return
	}
	if e.success {
		s.successes++
		s.latencies = append(s.latencies, e.latencyMs)
	} else {
		s.failures++
	}
}

// Report summarizes a simulation run.
type Report struct {
	Requests         int
	Rejected         int
	Successes        int
	Failures         int
	MeanLatencyMs    float64 // successful requests only
	P50LatencyMs     float64
	P95LatencyMs     float64
	GroupedRequests  int // requests that carried a prefix id
	CacheHits        int // grouped requests that landed on a worker holding their prefix
	CacheHitRate     float64
	SimulatedSeconds float64
	Decisions        *trace.Summary
}

func (s *Simulator) report() *Report {
	rep := &Report{
		Requests:         s.arrivals,
		Rejected:         s.rejected,
		Successes:        s.successes,
		Failures:         s.failures,
		GroupedRequests:  s.grouped,
		CacheHits:        s.cacheHits,
		SimulatedSeconds: float64(s.clock.Load()) / 1e6,
		Decisions:        trace.Summarize(s.memory.Records()),
	}
	if s.grouped > 0 {
		rep.CacheHitRate = float64(s.cacheHits) / float64(s.grouped)
	}
	if len(s.latencies) > 0 {
		sorted := append([]float64(nil), s.latencies...)
		sort.Float64s(sorted)
		rep.MeanLatencyMs = stat.Mean(sorted, nil)
		rep.P50LatencyMs = stat.Quantile(0.5, stat.Empirical, sorted, nil)
		rep.P95LatencyMs = stat.Quantile(0.95, stat.Empirical, sorted, nil)
	}
	return rep
}

// Print writes a human-readable report.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Requests:            %d (rejected %d)\n", r.Requests, r.Rejected)
	fmt.Fprintf(w, "Succeeded / failed:  %d / %d\n", r.Successes, r.Failures)
	fmt.Fprintf(w, "Latency mean/p50/p95 %.1f / %.1f / %.1f ms\n", r.MeanLatencyMs, r.P50LatencyMs, r.P95LatencyMs)
	fmt.Fprintf(w, "Cache hit rate:      %.3f (%d of %d grouped requests)\n", r.CacheHitRate, r.CacheHits, r.GroupedRequests)
	fmt.Fprintf(w, "Simulated time:      %.1f s\n", r.SimulatedSeconds)
	if r.Decisions != nil {
		r.Decisions.Print(w)
	}
}
