package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "kvrouter"

// Metrics are the router's Prometheus collectors.
type Metrics struct {
	Decisions          *prometheus.CounterVec
	NoWorkers          prometheus.Counter
	OverlapUnavailable *prometheus.CounterVec
	Outcomes           *prometheus.CounterVec
	DroppedOutcomes    *prometheus.CounterVec
	PosteriorResets    *prometheus.CounterVec
	Outstanding        *prometheus.GaugeVec
	DecisionSeconds    prometheus.Histogram
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered (tests, simulation).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "decisions_total",
			Help:      "Routing decisions by chosen worker.",
		}, []string{"worker"}),
		NoWorkers: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "no_available_workers_total",
			Help:      "Routing calls that found no healthy worker.",
		}),
		OverlapUnavailable: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "overlap_unavailable_total",
			Help:      "Decisions made without a cache overlap answer, by reason.",
		}, []string{"reason"}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outcomes_total",
			Help:      "Outcomes applied to worker posteriors, by result.",
		}, []string{"result"}),
		DroppedOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "dropped_outcomes_total",
			Help:      "Outcomes that could not be applied, by reason.",
		}, []string{"reason"}),
		PosteriorResets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "posterior_resets_total",
			Help:      "Continuous posteriors reset to the prior after a numerically unusable update.",
		}, []string{"worker"}),
		Outstanding: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "outstanding_requests",
			Help:      "Requests dispatched to a worker and not yet reported complete.",
		}, []string{"worker"}),
		DecisionSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "decision_duration_seconds",
			Help:      "Time spent in Route, overlap lookup included.",
			Buckets:   []float64{1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 1e-2, 5e-2},
		}),
	}
}
