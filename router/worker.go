package router

import (
	"math/rand/v2"
	"sync"
)

// WorkerState is the learned state of one backend worker. The router creates
// one per registration; a re-registered id gets a fresh WorkerState.
//
// mu serializes every sample and update on the two models, so a concurrent
// routing decision sees the posterior either before or after an update,
// never half-applied.
type WorkerState struct {
	ID string

	mu         sync.Mutex
	continuous RewardModel
	discrete   RewardModel
}

func newWorkerState(id string, cfg BanditConfig, src *rand.Rand) *WorkerState {
	return &WorkerState{
		ID:         id,
		continuous: NewLinearThompson(cfg.Weights().vector(), cfg.PriorPrecision, cfg.Exploration(), src),
		discrete:   NewBetaBernoulli(cfg.BetaPrior, src),
	}
}

// workerSample is one worker's draw for one decision.
type workerSample struct {
	reward  float64 // continuous model sample
	success float64 // discrete model sample
	score   float64 // blended
}

func (ws *WorkerState) sample(features []float64, blend float64) workerSample {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	r := ws.continuous.Sample(features)
	p := ws.discrete.Sample(features)
	return workerSample{reward: r, success: p, score: (1-blend)*r + blend*p}
}

// update applies obs to both models and reports whether the continuous
// posterior had to be reset.
func (ws *WorkerState) update(obs Observation) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	reset := ws.continuous.Update(obs)
	ws.discrete.Update(obs)
	return reset
}

// BetaParams returns the discrete bandit's (alpha, beta).
func (ws *WorkerState) BetaParams() (alpha, beta float64) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if bb, ok := ws.discrete.(*BetaBernoulli); ok {
		return bb.Params()
	}
	return 0, 0
}

// Updates returns how many outcomes have been applied to this worker.
func (ws *WorkerState) Updates() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.discrete.Updates()
}

// MeanWeights returns the continuous model's posterior mean weights.
func (ws *WorkerState) MeanWeights() []float64 {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if lt, ok := ws.continuous.(*LinearThompson); ok {
		return lt.Mean()
	}
	return nil
}
