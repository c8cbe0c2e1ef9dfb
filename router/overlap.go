package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/inference-sim/kvrouter/router/trace"
)

// OverlapUnavailable is the value recorded in place of an overlap score when
// the oracle gave no answer. It is distinct from a genuine 0.
const OverlapUnavailable = trace.OverlapUnavailable

// Reasons an OverlapResult can be unavailable.
const (
	OverlapReasonDisabled          = "disabled"
	OverlapReasonTimeout           = "timeout"
	OverlapReasonCircuitOpen       = "circuit-open"
	OverlapReasonCapabilityMissing = "capability-missing"
	OverlapReasonCancelled         = "cancelled"
	OverlapReasonError             = "error"
)

// ErrCapabilityMissing is returned by an oracle that is reachable but does not
// serve overlap queries.
var ErrCapabilityMissing = errors.New("overlap oracle: capability missing")

// OverlapQuery asks for the cache overlap of one request against candidate workers.
type OverlapQuery struct {
	PrefixID   string   `json:"prefix_id"`
	TokenCount int      `json:"token_count"`
	WorkerIDs  []string `json:"worker_ids"`
}

// OverlapOracle is the inference engine's cache index. Workers missing from
// the returned map have zero overlap.
type OverlapOracle interface {
	Overlap(ctx context.Context, q OverlapQuery) (map[string]float64, error)
}

// OverlapResult is either a set of overlap scores or an unavailability reason.
type OverlapResult struct {
	scores map[string]float64
	reason string
}

// OverlapScores builds an available result; scores are clamped to [0, 1].
func OverlapScores(scores map[string]float64) OverlapResult {
	clean := make(map[string]float64, len(scores))
	for id, s := range scores {
		switch {
		case math.IsNaN(s) || s < 0:
			s = 0
		case s > 1:
			s = 1
		}
		clean[id] = s
	}
	return OverlapResult{scores: clean}
}

// OverlapUnavailableResult builds an unavailable result.
func OverlapUnavailableResult(reason string) OverlapResult {
	if reason == "" {
		reason = OverlapReasonError
	}
	return OverlapResult{reason: reason}
}

// Available reports whether the oracle answered.
func (r OverlapResult) Available() bool { return r.reason == "" }

// Reason is empty when available.
func (r OverlapResult) Reason() string { return r.reason }

// Score returns the overlap for scoring: 0 when unavailable or unknown.
func (r OverlapResult) Score(id string) float64 {
	if !r.Available() {
		return 0
	}
	return r.scores[id]
}

// Recorded returns the overlap for the decision log: OverlapUnavailable when
// the oracle gave no answer.
func (r OverlapResult) Recorded(id string) float64 {
	if !r.Available() {
		return OverlapUnavailable
	}
	return r.scores[id]
}

// OverlapClient makes bounded, best-effort oracle calls. A circuit breaker
// stops calling an oracle that keeps failing and probes it again after a
// cooldown, so a dead oracle does not cost a timeout on every request.
type OverlapClient struct {
	oracle  OverlapOracle
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewOverlapClient wraps oracle. A nil oracle yields a client that always
// reports OverlapReasonDisabled.
func NewOverlapClient(oracle OverlapOracle, cfg OracleConfig) *OverlapClient {
	c := &OverlapClient{oracle: oracle, timeout: cfg.Timeout}
	if oracle == nil {
		return c
	}
	threshold := cfg.FailureThreshold
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "overlap-oracle",
		MaxRequests: 1,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about oracle health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.Warnf("overlap oracle circuit %s: %s -> %s", name, from, to)
		},
	})
	return c
}

// Fetch queries the oracle. It never returns an error: every failure becomes
// an unavailable result carrying the reason.
func (c *OverlapClient) Fetch(ctx context.Context, q OverlapQuery) OverlapResult {
	if c == nil || c.oracle == nil {
		return OverlapUnavailableResult(OverlapReasonDisabled)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.call(ctx, q)
	})
	if err != nil {
		reason := classifyOverlapError(err)
		logrus.Debugf("overlap oracle unavailable (%s): %v", reason, err)
		return OverlapUnavailableResult(reason)
	}
	scores, _ := out.(map[string]float64)
	return OverlapScores(scores)
}

// call runs the oracle in its own goroutine so an oracle that ignores its
// context still cannot hold the caller past the timeout.
func (c *OverlapClient) call(ctx context.Context, q OverlapQuery) (map[string]float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type reply struct {
		scores map[string]float64
		err    error
	}
	ch := make(chan reply, 1)
	go func() {
		scores, err := c.oracle.Overlap(callCtx, q)
		ch <- reply{scores, err}
	}()

	select {
	case r := <-ch:
		return r.scores, r.err
	case <-callCtx.Done():
		return nil, callCtx.Err()
	}
}

func classifyOverlapError(err error) string {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OverlapReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		return OverlapReasonTimeout
	case errors.Is(err, context.Canceled):
		return OverlapReasonCancelled
	case errors.Is(err, ErrCapabilityMissing):
		return OverlapReasonCapabilityMissing
	default:
		return OverlapReasonError
	}
}

// HTTPOracle queries a cache index over HTTP: POST the OverlapQuery as JSON,
// expect {"overlaps": {"<worker>": <score>}}.
type HTTPOracle struct {
	url    string
	client *http.Client
}

// NewHTTPOracle creates an oracle client for url. Deadlines come from the
// request context, so the http.Client carries no timeout of its own.
func NewHTTPOracle(url string) *HTTPOracle {
	return &HTTPOracle{url: url, client: &http.Client{}}
}

type overlapResponse struct {
	Overlaps map[string]float64 `json:"overlaps"`
}

// Overlap implements OverlapOracle.
func (o *HTTPOracle) Overlap(ctx context.Context, q OverlapQuery) (map[string]float64, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshal overlap query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build overlap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("overlap request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusNotImplemented:
		return nil, ErrCapabilityMissing
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("overlap request: unexpected status %d", resp.StatusCode)
	}

	var out overlapResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode overlap response: %w", err)
	}
	if out.Overlaps == nil {
		return map[string]float64{}, nil
	}
	return out.Overlaps, nil
}
