package sim

import "github.com/sirupsen/logrus"

// Event defines the interface for all simulation events.
// Each event must have a Timestamp (in ticks) and an Execute method
// that advances simulation state when invoked.
type Event interface {
	Timestamp() int64
	Execute(*Simulator)
}

// EventQueue implements heap.Interface and orders events by timestamp.
// Equal timestamps run in scheduling order.
type EventQueue []queuedEvent

type queuedEvent struct {
	Event
	seq uint64
}

func (eq EventQueue) Len() int { return len(eq) }
func (eq EventQueue) Less(i, j int) bool {
	if eq[i].Timestamp() != eq[j].Timestamp() {
		return eq[i].Timestamp() < eq[j].Timestamp()
	}
	return eq[i].seq < eq[j].seq
}
func (eq EventQueue) Swap(i, j int) { eq[i], eq[j] = eq[j], eq[i] }

func (eq *EventQueue) Push(x any) {
	*eq = append(*eq, x.(queuedEvent))
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	*eq = old[0 : n-1]
	return item
}

// ArrivalEvent is the arrival of the next synthetic request.
type ArrivalEvent struct {
	time    int64
	request Request
}

// Timestamp returns the scheduled time of the ArrivalEvent.
func (e *ArrivalEvent) Timestamp() int64 { return e.time }

// Execute routes the request and schedules its completion and the next arrival.
func (e *ArrivalEvent) Execute(s *Simulator) {
	logrus.Debugf("<< Arrival: %s (prefix %s) at %d ticks", e.request.ID, e.request.Headers.Get("x-prefix-id"), e.time)
	s.dispatch(e.time, e.request)
	s.scheduleNextArrival(e.time)
}

// CompletionEvent reports a finished request back to the router.
type CompletionEvent struct {
	time      int64
	requestID string
	workerID  string
	prefixID  string
	success   bool
	latencyMs float64
}

// Timestamp returns the scheduled time of the CompletionEvent.
func (e *CompletionEvent) Timestamp() int64 { return e.time }

// Execute feeds the outcome back.
func (e *CompletionEvent) Execute(s *Simulator) {
	logrus.Debugf("<< Completion: %s on %s at %d ticks (success=%v, %.1fms)", e.requestID, e.workerID, e.time, e.success, e.latencyMs)
	s.complete(e)
}
