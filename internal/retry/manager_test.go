package retry

import (
	"slices"
	"sync"
	"testing"
	"time"
)

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager()
	if m.GetState("p", "s") != nil {
		t.Fatal("unknown step should have no state")
	}
	if m.CanRetry("p", "s") {
		t.Error("unknown step should not be retryable")
	}

	m.Begin("p", "s", 2)
	if !m.CanRetry("p", "s") {
		t.Error("fresh step should be retryable")
	}

	m.RecordAttempt("p", "s", false, "first", time.Second)
	m.RecordAttempt("p", "s", false, "second", 2*time.Second)
	state := m.GetState("p", "s")
	if state.Failures != 2 || state.LastError != "second" || state.Attempts() != 2 {
		t.Errorf("state = %+v", state)
	}
	if m.CanRetry("p", "s") {
		t.Error("budget of 2 is spent")
	}
	if got := m.GetFailedSteps(); !slices.Equal(got, []string{"p/s"}) {
		t.Errorf("GetFailedSteps() = %v", got)
	}

	// Begin starts over.
	m.Begin("p", "s", 2)
	m.RecordAttempt("p", "s", true, "", time.Second)
	state = m.GetState("p", "s")
	if !state.Succeeded || state.Failures != 0 {
		t.Errorf("state after success = %+v", state)
	}
	if m.CanRetry("p", "s") {
		t.Error("succeeded step should not be retried")
	}
}

func TestManager_RecordAttemptUnknownStep(t *testing.T) {
	m := NewManager()
	m.RecordAttempt("p", "missing", false, "x", time.Second)
	if len(m.GetAllStates()) != 0 {
		t.Error("RecordAttempt created state for an unknown step")
	}
}

func TestManager_StatesAreCopies(t *testing.T) {
	m := NewManager()
	m.Begin("p", "s", 1)
	m.RecordAttempt("p", "s", false, "x", time.Second)

	got := m.GetState("p", "s")
	got.Durations[0] = time.Hour
	got.Failures = 99

	all := m.GetAllStates()
	if all["p/s"].Failures != 1 || all["p/s"].Durations[0] != time.Second {
		t.Errorf("internal state modified through copy: %+v", all["p/s"])
	}
}

func TestManager_Reset(t *testing.T) {
	m := NewManager()
	m.Begin("p1", "a", 1)
	m.Begin("p1", "b", 1)
	m.Begin("p2", "a", 1)

	m.ResetPlan("p1")
	if len(m.GetAllStates()) != 1 || m.GetState("p2", "a") == nil {
		t.Errorf("ResetPlan left %v", m.GetAllStates())
	}

	m.ResetAll()
	if len(m.GetAllStates()) != 0 {
		t.Error("ResetAll left state behind")
	}
}

func TestManager_Concurrent(t *testing.T) {
	m := NewManager()
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i))
			m.Begin("p", id, 3)
			for range 3 {
				m.RecordAttempt("p", id, false, "x", time.Millisecond)
				m.CanRetry("p", id)
			}
		}()
	}
	wg.Wait()

	if got := len(m.GetFailedSteps()); got != 10 {
		t.Errorf("GetFailedSteps() = %d entries, want 10", got)
	}
}
