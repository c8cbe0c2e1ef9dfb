// Package router implements a KV-cache-aware request router that learns,
// per backend worker, which routing choices pay off.
//
// # Reading Guide
//
// Start with these three files:
//   - descriptor.go: request metadata (prefix id, group size, output length
//     and inter-arrival classes) extracted from headers
//   - router.go: Route and ReportOutcome, the decision and feedback loop
//   - worker.go: per-worker learned state and its locking
//
// # Decision
//
// For every healthy worker the router builds the feature vector
//
//	[overlap, -prefill, -decode, stickiness, -load_mod]
//
// draws one Thompson sample from the worker's linear reward posterior
// (reward_linear.go) and one from its Beta success posterior
// (reward_beta.go), blends them and takes the arg-max. Ties go to the worker
// with fewer outstanding requests, then to the lower worker id.
//
// # Collaborators
//
// Everything outside the learned state is a small component:
//   - cost.go: prefill/decode/stickiness costs from the descriptor
//   - overlap.go: bounded, circuit-broken cache overlap lookups
//   - load.go: outstanding request counters
//   - session.go: prefix to worker affinity within an inter-arrival window
//   - registry.go: heartbeat-based worker health
//   - rng.go: seeded per-worker random sources for reproducible runs
//   - trace/: the asynchronous CSV decision log
package router
