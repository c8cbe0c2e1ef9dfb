package router

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/inference-sim/kvrouter/router/trace"
)

// ErrNoAvailableWorkers matches every *NoAvailableWorkersError via errors.Is.
var ErrNoAvailableWorkers = errors.New("no available workers")

// ErrUnknownOutcome is returned when an outcome matches no pending dispatch,
// typically a duplicate report.
var ErrUnknownOutcome = errors.New("outcome matches no pending dispatch")

// NoAvailableWorkersError is returned by Route when no registered worker is
// healthy. The router does not queue or retry; that policy is the caller's.
type NoAvailableWorkersError struct {
	Registered int // registered workers, healthy or not
}

func (e *NoAvailableWorkersError) Error() string {
	return fmt.Sprintf("no available workers (%d registered, 0 healthy)", e.Registered)
}

// Is makes errors.Is(err, ErrNoAvailableWorkers) true.
func (e *NoAvailableWorkersError) Is(target error) bool {
	return target == ErrNoAvailableWorkers
}

// Decision is returned by Route.
type Decision struct {
	RequestID string // pass back in Outcome.RequestID
	WorkerID  string
	Record    trace.DecisionRecord
	Scores    map[string]float64 // worker id → blended score
	// OverlapReason is empty when the oracle answered.
	OverlapReason string
}

// Outcome reports the completion of a routed request. RequestID is optional;
// without it the oldest pending dispatch for (WorkerID, PrefixID) is matched.
// Cancelled requests must still be reported, as failures.
type Outcome struct {
	RequestID string  `json:"request_id,omitempty"`
	WorkerID  string  `json:"worker_id"`
	PrefixID  string  `json:"prefix_id"`
	Success   bool    `json:"success"`
	LatencyMs float64 `json:"latency_ms"`
}

// Options carries the router's collaborators. Every field is optional.
type Options struct {
	Oracle   OverlapOracle  // nil disables overlap lookups
	Registry Registry       // nil treats every registered worker as healthy
	Recorder trace.Recorder // nil discards decision records
	Metrics  *Metrics       // nil creates unregistered collectors
	Now      func() time.Time
}

type pendingDispatch struct {
	requestID string
	prefixID  string
	worker    *WorkerState
	features  []float64
	seq       uint64
}

// Router is the KV-cache-aware bandit router. Construct one per process and
// share the pointer; all methods are safe for concurrent use.
type Router struct {
	cfg      Config
	costs    *CostEstimator
	overlap  *OverlapClient
	registry Registry
	recorder trace.Recorder
	metrics  *Metrics
	now      func() time.Time
	load     *LoadTracker
	sessions *SessionTracker

	mu      sync.RWMutex // guards workers and rng; held shared across dispatch/settle
	workers map[string]*WorkerState
	rng     *PartitionedRNG

	pendingMu sync.Mutex
	pending   map[string]*pendingDispatch
	seq       uint64
}

// New builds a Router. cfg is defaulted and validated.
func New(cfg Config, opts Options) (*Router, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid router config: %w", err)
	}
	r := &Router{
		cfg:      cfg,
		costs:    NewCostEstimator(cfg.Cost),
		overlap:  NewOverlapClient(opts.Oracle, cfg.Oracle),
		registry: opts.Registry,
		recorder: opts.Recorder,
		metrics:  opts.Metrics,
		now:      opts.Now,
		load:     NewLoadTracker(),
		sessions: NewSessionTracker(cfg.Session.Windows),
		workers:  make(map[string]*WorkerState),
		rng:      NewPartitionedRNG(SeedKey(cfg.Seed)),
		pending:  make(map[string]*pendingDispatch),
	}
	if r.recorder == nil {
		r.recorder = trace.NopRecorder{}
	}
	if r.metrics == nil {
		r.metrics = NewMetrics(nil)
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// Register adds a worker with fresh priors. Returns false if already registered.
func (r *Router) Register(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[id]; ok {
		return false
	}
	r.workers[id] = newWorkerState(id, r.cfg.Bandit, r.rng.NewSource(SubsystemWorker(id)))
	r.load.Add(id)
	r.metrics.Outstanding.WithLabelValues(id).Set(0)
	logrus.Infof("router: registered worker %q", id)
	return true
}

// Deregister removes a worker and its learned state. In-flight requests are
// not reassigned; their outcomes are dropped when reported.
func (r *Router) Deregister(id string) bool {
	r.mu.Lock()
	ws, ok := r.workers[id]
	if ok {
		delete(r.workers, id)
		r.load.Remove(id)
		r.metrics.Outstanding.DeleteLabelValues(id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.sessions.Forget(id)

	inflight := 0
	r.pendingMu.Lock()
	for _, p := range r.pending {
		if p.worker == ws {
			inflight++
		}
	}
	r.pendingMu.Unlock()
	logrus.Infof("router: deregistered worker %q (%d in-flight outcomes will be dropped)", id, inflight)
	return true
}

// Workers returns registered worker ids, sorted.
func (r *Router) Workers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Worker returns the state of a registered worker, or nil.
func (r *Router) Worker(id string) *WorkerState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.workers[id]
}

// Load exposes the load tracker.
func (r *Router) Load() *LoadTracker { return r.load }

// Sessions exposes the session tracker.
func (r *Router) Sessions() *SessionTracker { return r.sessions }

// Config returns the effective configuration.
func (r *Router) Config() Config { return r.cfg }

// Pending returns the number of dispatches awaiting an outcome.
func (r *Router) Pending() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// candidates returns registered workers the registry reports healthy, by id.
func (r *Router) candidates() ([]*WorkerState, int) {
	var healthy []string
	if r.registry != nil {
		healthy = r.registry.Healthy()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*WorkerState, 0, len(r.workers))
	if r.registry == nil {
		for _, ws := range r.workers {
			out = append(out, ws)
		}
	} else {
		for _, id := range healthy {
			if ws, ok := r.workers[id]; ok {
				out = append(out, ws)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(r.workers)
}

// candidate is one worker's scoring input and draw for one decision.
type candidate struct {
	state       *WorkerState
	features    []float64
	sample      workerSample
	outstanding int64
	stickiness  float64
	loadMod     float64
}

// better is the arg-max order: higher score, then fewer outstanding
// requests, then lower worker id.
func better(a, b candidate) bool {
	if a.sample.score != b.sample.score {
		return a.sample.score > b.sample.score
	}
	if a.outstanding != b.outstanding {
		return a.outstanding < b.outstanding
	}
	return a.state.ID < b.state.ID
}

func selectBest(cands []candidate) int {
	best := 0
	for i := 1; i < len(cands); i++ {
		if better(cands[i], cands[best]) {
			best = i
		}
	}
	return best
}

// maxDispatchAttempts bounds re-scoring when the chosen worker deregisters
// between scoring and dispatch.
const maxDispatchAttempts = 3

// Route picks a worker for d. The only blocking step is the overlap lookup,
// bounded by the oracle timeout. On error nothing is dispatched.
func (r *Router) Route(ctx context.Context, d RequestDescriptor) (Decision, error) {
	start := time.Now()
	defer func() { r.metrics.DecisionSeconds.Observe(time.Since(start).Seconds()) }()

	for attempt := 0; attempt < maxDispatchAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		cands, registered := r.candidates()
		if len(cands) == 0 {
			r.metrics.NoWorkers.Inc()
			return Decision{}, &NoAvailableWorkersError{Registered: registered}
		}

		scored, costs, ov := r.score(ctx, d, cands)
		best := scored[selectBest(scored)]

		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		decision, ok := r.dispatch(d, best, scored, costs, ov)
		if ok {
			return decision, nil
		}
		logrus.Debugf("router: worker %q left during routing, re-scoring", best.state.ID)
	}
	r.metrics.NoWorkers.Inc()
	return Decision{}, &NoAvailableWorkersError{Registered: len(r.Workers())}
}

func (r *Router) score(ctx context.Context, d RequestDescriptor, cands []*WorkerState) ([]candidate, Costs, OverlapResult) {
	costs := r.costs.Estimate(d)

	ids := make([]string, len(cands))
	for i, ws := range cands {
		ids[i] = ws.ID
	}
	ov := r.overlap.Fetch(ctx, OverlapQuery{PrefixID: d.PrefixID, TokenCount: d.TokenCount, WorkerIDs: ids})
	if !ov.Available() {
		r.metrics.OverlapUnavailable.WithLabelValues(ov.Reason()).Inc()
	}

	var affine string
	var hasAffinity bool
	if !d.GeneratedPrefix {
		affine, hasAffinity = r.sessions.Affinity(d.PrefixID, d.InterArrival, r.now())
	}

	loads := make([]int64, len(cands))
	var total int64
	for i, ws := range cands {
		loads[i] = r.load.Current(ws.ID)
		total += loads[i]
	}
	meanLoad := float64(total) / float64(len(cands))

	blend := r.cfg.Bandit.BlendWeight()
	scored := make([]candidate, len(cands))
	for i, ws := range cands {
		stick := 0.0
		if hasAffinity && ws.ID == affine {
			stick = costs.Stickiness
		}
		loadMod := float64(loads[i]) / (1 + meanLoad)
		x := make([]float64, numFeatures)
		x[featOverlap] = ov.Score(ws.ID)
		x[featPrefill] = -costs.Prefill
		x[featDecode] = -costs.Decode
		x[featStickiness] = stick
		x[featLoad] = -loadMod

		s := ws.sample(x, blend)
		if math.IsNaN(s.score) {
			s.score = math.Inf(-1)
		}
		scored[i] = candidate{
			state:       ws,
			features:    x,
			sample:      s,
			outstanding: loads[i],
			stickiness:  stick,
			loadMod:     loadMod,
		}
	}
	return scored, costs, ov
}

// dispatch commits the decision: load increment, session update, pending
// entry and decision record. Returns false if the chosen worker is no longer
// the registered incarnation.
func (r *Router) dispatch(d RequestDescriptor, best candidate, scored []candidate, costs Costs, ov OverlapResult) (Decision, bool) {
	id := best.state.ID
	now := r.now()
	requestID := uuid.NewString()

	r.mu.RLock()
	if r.workers[id] != best.state {
		r.mu.RUnlock()
		return Decision{}, false
	}
	r.load.Increment(id)
	r.pendingMu.Lock()
	r.seq++
	r.pending[requestID] = &pendingDispatch{
		requestID: requestID,
		prefixID:  d.PrefixID,
		worker:    best.state,
		features:  best.features,
		seq:       r.seq,
	}
	r.pendingMu.Unlock()
	// The gauge is written only while id is the registered incarnation;
	// Deregister deletes the label under the write lock.
	r.metrics.Outstanding.WithLabelValues(id).Set(float64(r.load.Current(id)))
	r.mu.RUnlock()

	r.metrics.Decisions.WithLabelValues(id).Inc()

	reuse := 0
	if !d.GeneratedPrefix {
		reuse = r.sessions.Observe(d.PrefixID, id, d.ExpectedGroupSize, d.InterArrival, now)
	}

	rec := trace.DecisionRecord{
		Timestamp:     now,
		TokenCount:    d.TokenCount,
		PrefixID:      d.PrefixID,
		ReuseAfter:    reuse,
		ChosenWorker:  id,
		OverlapChosen: ov.Recorded(id),
		DecodeCost:    costs.Decode,
		PrefillCost:   costs.Prefill,
		InterArrival:  d.InterArrival.String(),
		Stickiness:    best.stickiness,
		LoadModifier:  best.loadMod,
	}
	r.recorder.Record(rec)

	scores := make(map[string]float64, len(scored))
	for _, c := range scored {
		scores[c.state.ID] = c.sample.score
	}
	logrus.Debugf("router: %s prefix=%s -> %s (score=%.3f reward=%.3f success=%.3f overlap=%v)",
		requestID, d.PrefixID, id, best.sample.score, best.sample.reward, best.sample.success, rec.OverlapChosen)

	return Decision{
		RequestID:     requestID,
		WorkerID:      id,
		Record:        rec,
		Scores:        scores,
		OverlapReason: ov.Reason(),
	}, true
}

// takePending removes and returns the dispatch o refers to, or nil.
func (r *Router) takePending(o Outcome) *pendingDispatch {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	if o.RequestID != "" {
		p, ok := r.pending[o.RequestID]
		if !ok {
			return nil
		}
		if o.WorkerID != "" && o.WorkerID != p.worker.ID {
			logrus.Warnf("router: outcome %s names worker %q but was dispatched to %q; using %q",
				o.RequestID, o.WorkerID, p.worker.ID, p.worker.ID)
		}
		delete(r.pending, o.RequestID)
		return p
	}
	var oldest *pendingDispatch
	for _, p := range r.pending {
		if p.worker.ID != o.WorkerID || p.prefixID != o.PrefixID {
			continue
		}
		if oldest == nil || p.seq < oldest.seq {
			oldest = p
		}
	}
	if oldest != nil {
		delete(r.pending, oldest.requestID)
	}
	return oldest
}

// ReportOutcome settles a dispatch: decrements the worker's load and updates
// its posteriors. Outcomes for deregistered workers are dropped and logged.
func (r *Router) ReportOutcome(o Outcome) error {
	p := r.takePending(o)
	if p == nil {
		r.metrics.DroppedOutcomes.WithLabelValues("unknown").Inc()
		logrus.Warnf("router: outcome for worker %q prefix %q request %q matches no pending dispatch",
			o.WorkerID, o.PrefixID, o.RequestID)
		return ErrUnknownOutcome
	}
	id := p.worker.ID

	r.mu.RLock()
	if r.workers[id] != p.worker {
		r.mu.RUnlock()
		r.metrics.DroppedOutcomes.WithLabelValues("deregistered").Inc()
		logrus.Warnf("router: dropping outcome %s for deregistered worker %q", p.requestID, id)
		return nil
	}
	err := r.load.Decrement(id)
	if err == nil {
		r.metrics.Outstanding.WithLabelValues(id).Set(float64(r.load.Current(id)))
	}
	r.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("settling %s on %q: %w", p.requestID, id, err)
	}

	obs := Observation{
		Features: p.features,
		Reward:   OutcomeReward(o.Success, o.LatencyMs, r.cfg.Bandit.LatencyBudgetMs),
		Success:  o.Success,
	}
	if reset := p.worker.update(obs); reset {
		r.metrics.PosteriorResets.WithLabelValues(id).Inc()
		logrus.Warnf("router: posterior for worker %q was not positive definite after update; reset to prior", id)
	}
	result := "failure"
	if o.Success {
		result = "success"
	}
	r.metrics.Outcomes.WithLabelValues(result).Inc()
	return nil
}

// Run prunes expired sessions every PruneInterval until ctx is done.
func (r *Router) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Session.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.sessions.Prune(r.now()); n > 0 {
				logrus.Debugf("router: pruned %d expired sessions", n)
			}
		}
	}
}
