package router

import (
	"sync"
	"time"
)

type sessionEntry struct {
	worker   string
	routed   int
	lastSeen time.Time
	window   time.Duration
}

// SessionTracker infers prefix sessions from repeated prefix ids. A prefix is
// affine to the worker that last served it until the inter-arrival window of
// the newest request runs out.
type SessionTracker struct {
	mu       sync.Mutex
	windows  LevelDurations
	sessions map[string]*sessionEntry
}

// NewSessionTracker creates a tracker with the given windows.
func NewSessionTracker(windows LevelDurations) *SessionTracker {
	return &SessionTracker{
		windows:  windows,
		sessions: make(map[string]*sessionEntry),
	}
}

// Affinity returns the worker that last served prefix, if that happened
// within the window of iat. Read-only.
func (st *SessionTracker) Affinity(prefix string, iat Level, now time.Time) (string, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	e, ok := st.sessions[prefix]
	if !ok {
		return "", false
	}
	if now.Sub(e.lastSeen) > st.windows.Value(iat) {
		return "", false
	}
	return e.worker, true
}

// Observe records that a request of prefix was routed to worker and returns
// the remaining reuse budget: expected group size minus requests routed so
// far (this one included), floored at 0.
func (st *SessionTracker) Observe(prefix, worker string, expected int, iat Level, now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	window := st.windows.Value(iat)
	e, ok := st.sessions[prefix]
	if !ok || now.Sub(e.lastSeen) > e.window {
		e = &sessionEntry{}
		st.sessions[prefix] = e
	}
	e.worker = worker
	e.routed++
	e.lastSeen = now
	e.window = window
	if remaining := expected - e.routed; remaining > 0 {
		return remaining
	}
	return 0
}

// Forget drops every session pinned to worker.
func (st *SessionTracker) Forget(worker string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for prefix, e := range st.sessions {
		if e.worker == worker {
			delete(st.sessions, prefix)
		}
	}
}

// Prune removes sessions whose window has elapsed and returns how many.
func (st *SessionTracker) Prune(now time.Time) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := 0
	for prefix, e := range st.sessions {
		if now.Sub(e.lastSeen) > e.window {
			delete(st.sessions, prefix)
			n++
		}
	}
	return n
}

// Len returns the number of live sessions.
func (st *SessionTracker) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
