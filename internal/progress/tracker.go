// Package progress tracks per-workflow step counts and derives percentage,
// ETA and performance metrics from them.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/raedjah1/adtbot/internal/event"
	"github.com/raedjah1/adtbot/internal/logging"
)

// Efficiency blend: successWeight × success rate + throughputWeight ×
// throughput normalised to the target steps per minute.
const (
	successWeight           = 0.7
	throughputWeight        = 0.3
	defaultThroughputTarget = 10.0
)

// Progress is a snapshot of one workflow's progress.
type Progress struct {
	PlanID    string `json:"plan_id"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`

	// Percentage is the share of steps that finished, successfully or not.
	Percentage float64 `json:"percentage"`

	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// ETA is zero until at least one step has finished.
	ETA time.Time `json:"eta,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Finished returns the number of steps that produced a result.
func (p Progress) Finished() int { return p.Completed + p.Failed }

// Remaining returns the number of steps without a result.
func (p Progress) Remaining() int { return max(0, p.Total-p.Finished()) }

// IsStopped reports whether StopTracking has been called.
func (p Progress) IsStopped() bool { return !p.FinishedAt.IsZero() }

// Metrics summarizes a workflow's throughput and outcome quality.
type Metrics struct {
	PlanID          string        `json:"plan_id"`
	Duration        time.Duration `json:"duration"`
	StepsPerSecond  float64       `json:"steps_per_second"`
	CompletionRate  float64       `json:"completion_rate"`
	SuccessRate     float64       `json:"success_rate"`
	EfficiencyScore float64       `json:"efficiency_score"`
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithBus publishes a ProgressUpdatedEvent on every update.
func WithBus(bus *event.Bus) Option {
	return func(t *Tracker) { t.bus = bus }
}

// WithLogger sets the tracker logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithThroughputTarget sets the steps-per-minute rate that counts as full
// throughput in the efficiency score.
func WithThroughputTarget(stepsPerMinute float64) Option {
	return func(t *Tracker) {
		if stepsPerMinute > 0 {
			t.throughputTarget = stepsPerMinute
		}
	}
}

// WithKeepFinished keeps stopped workflows queryable. Defaults to true.
func WithKeepFinished(keep bool) Option {
	return func(t *Tracker) { t.keepFinished = keep }
}

// Tracker records progress for any number of workflows.
// It is safe for concurrent use.
type Tracker struct {
	mu               sync.RWMutex
	records          map[string]*Progress
	now              func() time.Time
	bus              *event.Bus
	logger           *logging.Logger
	throughputTarget float64
	keepFinished     bool
}

// NewTracker creates a Tracker with the given options.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		records:          make(map[string]*Progress),
		now:              time.Now,
		throughputTarget: defaultThroughputTarget,
		keepFinished:     true,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logging.NopLogger()
	}
	t.logger = t.logger.WithComponent("progress")
	return t
}

// StartTracking begins (or restarts) tracking planID with total steps.
func (t *Tracker) StartTracking(planID string, total int) {
	now := t.now()
	t.mu.Lock()
	t.records[planID] = &Progress{
		PlanID:    planID,
		Total:     total,
		StartedAt: now,
		UpdatedAt: now,
	}
	t.mu.Unlock()

	t.logger.WithPlan(planID).Debug("tracking started", "total", total)
}

// UpdateProgress records new counts and recomputes percentage and ETA.
// It returns false if planID is not tracked or already stopped.
func (t *Tracker) UpdateProgress(planID string, completed, failed, total int) (Progress, bool) {
	now := t.now()

	t.mu.Lock()
	p, ok := t.records[planID]
	if !ok || p.IsStopped() {
		t.mu.Unlock()
		return Progress{}, false
	}
	p.Completed, p.Failed, p.Total = completed, failed, total
	p.UpdatedAt = now
	p.Duration = now.Sub(p.StartedAt)
	if p.Total > 0 {
		p.Percentage = float64(p.Finished()) / float64(p.Total) * 100
	}
	if finished := p.Finished(); finished > 0 {
		perStep := p.Duration / time.Duration(finished)
		p.ETA = now.Add(perStep * time.Duration(p.Remaining()))
	}
	snapshot := *p
	t.mu.Unlock()

	t.bus.Publish(event.NewProgressUpdatedEvent(planID, completed, failed, total, snapshot.Percentage, snapshot.ETA))
	return snapshot, true
}

// StopTracking finalizes the workflow's duration. The record stays
// queryable unless the tracker was built with WithKeepFinished(false).
func (t *Tracker) StopTracking(planID string) (Progress, bool) {
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.records[planID]
	if !ok {
		return Progress{}, false
	}
	if !p.IsStopped() {
		p.FinishedAt = now
		p.UpdatedAt = now
		p.Duration = now.Sub(p.StartedAt)
	}
	snapshot := *p
	if !t.keepFinished {
		delete(t.records, planID)
	}

	t.logger.WithPlan(planID).Debug("tracking stopped",
		"completed", snapshot.Completed,
		"failed", snapshot.Failed,
		"duration", snapshot.Duration.String(),
	)
	return snapshot, true
}

// Get returns the current progress of planID.
func (t *Tracker) Get(planID string) (Progress, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.records[planID]
	if !ok {
		return Progress{}, false
	}
	return *p, true
}

// All returns every tracked workflow ordered by start time.
func (t *Tracker) All() []Progress {
	t.mu.RLock()
	out := make([]Progress, 0, len(t.records))
	for _, p := range t.records {
		out = append(out, *p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].PlanID < out[j].PlanID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// GetPerformanceMetrics derives throughput and efficiency for planID.
func (t *Tracker) GetPerformanceMetrics(planID string) (Metrics, bool) {
	now := t.now()

	t.mu.RLock()
	p, ok := t.records[planID]
	var snapshot Progress
	if ok {
		snapshot = *p
	}
	t.mu.RUnlock()
	if !ok {
		return Metrics{}, false
	}

	duration := snapshot.Duration
	if !snapshot.IsStopped() {
		duration = now.Sub(snapshot.StartedAt)
	}

	m := Metrics{PlanID: planID, Duration: duration}
	finished := snapshot.Finished()
	if duration > 0 {
		m.StepsPerSecond = float64(finished) / duration.Seconds()
	}
	if snapshot.Total > 0 {
		m.CompletionRate = float64(finished) / float64(snapshot.Total)
	}
	if finished > 0 {
		m.SuccessRate = float64(snapshot.Completed) / float64(finished)
	}
	throughput := min(1.0, m.StepsPerSecond*60/t.throughputTarget)
	m.EfficiencyScore = successWeight*m.SuccessRate + throughputWeight*throughput
	return m, true
}
