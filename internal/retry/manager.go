// Package retry re-runs failed workflow steps at the Step Executor boundary.
//
// [Executor] wraps a step executor. It bounds each attempt by the step's
// timeout and retries up to the step's retry count while the decision
// engine agrees, sleeping the step's retry delay between attempts.
// [Manager] keeps per-step attempt state for inspection.
package retry

import (
	"slices"
	"sync"
	"time"
)

// StepState tracks the attempts made for one step of one plan.
type StepState struct {
	PlanID     string          `json:"plan_id"`
	StepID     string          `json:"step_id"`
	Failures   int             `json:"failures"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	Durations  []time.Duration `json:"durations,omitempty"` // Per attempt
	Succeeded  bool            `json:"succeeded,omitempty"`
}

// Attempts returns the number of recorded attempts.
func (s *StepState) Attempts() int { return len(s.Durations) }

// Manager manages retry state for steps.
// It is thread-safe and can be used concurrently.
type Manager struct {
	mu     sync.RWMutex
	states map[string]*StepState
}

// NewManager creates a new retry manager.
func NewManager() *Manager {
	return &Manager{
		states: make(map[string]*StepState),
	}
}

func key(planID, stepID string) string { return planID + "/" + stepID }

// Begin resets and returns the state for a step about to run.
func (m *Manager) Begin(planID, stepID string, maxRetries int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key(planID, stepID)] = &StepState{
		PlanID:     planID,
		StepID:     stepID,
		MaxRetries: maxRetries,
	}
}

// GetState returns a copy of the state for a step, or nil if not found.
func (m *Manager) GetState(planID, stepID string) *StepState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key(planID, stepID)]
	if !ok {
		return nil
	}
	return s.clone()
}

// CanRetry reports whether the step still has retry budget.
func (m *Manager) CanRetry(planID, stepID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[key(planID, stepID)]
	if !ok {
		return false
	}
	return !s.Succeeded && s.Failures < s.MaxRetries
}

// RecordAttempt records the outcome of one attempt.
func (m *Manager) RecordAttempt(planID, stepID string, success bool, errMsg string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[key(planID, stepID)]
	if !ok {
		return
	}
	s.Durations = append(s.Durations, d)
	if success {
		s.Succeeded = true
		return
	}
	s.Failures++
	s.LastError = errMsg
}

// GetFailedSteps returns the keys of steps that ended without succeeding,
// sorted.
func (m *Manager) GetFailedSteps() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var failed []string
	for k, s := range m.states {
		if !s.Succeeded && s.Failures > 0 {
			failed = append(failed, k)
		}
	}
	slices.Sort(failed)
	return failed
}

// ResetPlan clears the state of every step of planID.
func (m *Manager) ResetPlan(planID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, s := range m.states {
		if s.PlanID == planID {
			delete(m.states, k)
		}
	}
}

// ResetAll clears all retry state.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states = make(map[string]*StepState)
}

// GetAllStates returns a copy of all step retry states keyed by
// "planID/stepID".
func (m *Manager) GetAllStates() map[string]*StepState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]*StepState, len(m.states))
	for k, v := range m.states {
		result[k] = v.clone()
	}
	return result
}

func (s *StepState) clone() *StepState {
	cp := *s
	cp.Durations = slices.Clone(s.Durations)
	return &cp
}
