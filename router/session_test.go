package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testWindows() LevelDurations {
	return DefaultConfig().Session.Windows
}

func TestSessionTracker_AffinityWithinWindow(t *testing.T) {
	st := NewSessionTracker(testWindows())
	now := time.Unix(1000, 0)

	_, ok := st.Affinity("p", LevelLow, now)
	assert.False(t, ok, "unknown prefix has no affinity")

	st.Observe("p", "w-a", 4, LevelLow, now)

	w, ok := st.Affinity("p", LevelLow, now.Add(9*time.Second))
	assert.True(t, ok)
	assert.Equal(t, "w-a", w)

	_, ok = st.Affinity("p", LevelLow, now.Add(11*time.Second))
	assert.False(t, ok, "LOW window is 10s")

	// the window is chosen by the incoming request's class
	_, ok = st.Affinity("p", LevelHigh, now.Add(11*time.Second))
	assert.True(t, ok)
}

func TestSessionTracker_ObserveReuseAfter(t *testing.T) {
	st := NewSessionTracker(testWindows())
	now := time.Unix(0, 0)
	var got []int
	for i := 0; i < 5; i++ {
		got = append(got, st.Observe("p", "w-a", 3, LevelMedium, now))
	}
	assert.Equal(t, []int{2, 1, 0, 0, 0}, got)
}

func TestSessionTracker_ExpiredSessionRestartsCount(t *testing.T) {
	st := NewSessionTracker(testWindows())
	now := time.Unix(0, 0)
	st.Observe("p", "w-a", 3, LevelLow, now)
	st.Observe("p", "w-a", 3, LevelLow, now)

	got := st.Observe("p", "w-b", 3, LevelLow, now.Add(time.Minute))
	assert.Equal(t, 2, got)
	w, _ := st.Affinity("p", LevelLow, now.Add(time.Minute))
	assert.Equal(t, "w-b", w)
}

func TestSessionTracker_ForgetAndPrune(t *testing.T) {
	st := NewSessionTracker(testWindows())
	now := time.Unix(0, 0)
	st.Observe("p1", "w-a", 2, LevelLow, now)
	st.Observe("p2", "w-b", 2, LevelHigh, now)
	st.Observe("p3", "w-a", 2, LevelHigh, now)
	assert.Equal(t, 3, st.Len())

	st.Forget("w-a")
	assert.Equal(t, 1, st.Len())

	st.Observe("p4", "w-c", 2, LevelLow, now)
	assert.Equal(t, 1, st.Prune(now.Add(30*time.Second)), "only the LOW session expired")
	assert.Equal(t, 1, st.Len())
	assert.Equal(t, 1, st.Prune(now.Add(10*time.Minute)))
	assert.Equal(t, 0, st.Len())
}
