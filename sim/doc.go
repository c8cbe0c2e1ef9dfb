// Package sim drives a router.Router with a synthetic workload against a
// simulated cluster, in simulated time.
//
// # Reading Guide
//
//   - event.go: the event queue and the two events (arrival, completion)
//   - simulator.go: the event loop and the Report it produces
//   - workload.go: prefix groups and Poisson arrivals
//   - cache.go: per-worker prefix caches and the in-process overlap oracle
//   - latency.go: completion latency and failure model
//
// Time is measured in ticks of one microsecond. The router's clock is driven
// from the simulation clock, so session windows behave as in a live run.
package sim
