package sim

import (
	"container/heap"
	"testing"
)

type stubEvent struct {
	t    int64
	name string
	log  *[]string
}

func (e *stubEvent) Timestamp() int64      { return e.t }
func (e *stubEvent) Execute(_ *Simulator) { *e.log = append(*e.log, e.name) }

func TestEventQueue_OrdersByTimeThenSchedulingOrder(t *testing.T) {
	// GIVEN events pushed out of order, two sharing a timestamp
	var order []string
	var eq EventQueue
	push := func(seq uint64, ts int64, name string) {
		heap.Push(&eq, queuedEvent{Event: &stubEvent{t: ts, name: name, log: &order}, seq: seq})
	}
	push(1, 30, "c")
	push(2, 10, "a")
	push(3, 20, "b1")
	push(4, 20, "b2")

	// WHEN popped
	for eq.Len() > 0 {
		heap.Pop(&eq).(queuedEvent).Execute(nil)
	}

	// THEN time order wins, ties keep scheduling order
	want := []string{"a", "b1", "b2", "c"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
