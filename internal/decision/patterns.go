package decision

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/raedjah1/adtbot/internal/workflow"
)

// PatternKey identifies a learned pattern.
type PatternKey struct {
	Intent  string              `json:"intent"`
	Context ContextType         `json:"context"`
	Action  workflow.ActionType `json:"action"`
}

// Pattern counts outcomes for one (intent, context type, action) triple.
type Pattern struct {
	PatternKey
	Successes int       `json:"successes"`
	Failures  int       `json:"failures"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Total returns the number of recorded outcomes.
func (p Pattern) Total() int { return p.Successes + p.Failures }

// SuccessRate returns the fraction of successful outcomes, 0 when empty.
func (p Pattern) SuccessRate() float64 {
	if p.Total() == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Total())
}

// Pattern bias bounds. A pattern needs minPatternSamples outcomes before it
// moves scores; the bias then ranges linearly from minBias (always failed)
// to maxBias (always succeeded).
const (
	minPatternSamples = 3
	minBias           = 0.8
	maxBias           = 1.2
)

// Bias returns the multiplier applied to a candidate's score.
func (p Pattern) Bias() float64 {
	if p.Total() < minPatternSamples {
		return 1.0
	}
	return minBias + (maxBias-minBias)*p.SuccessRate()
}

// normalizeIntent lowercases and collapses whitespace so trivially different
// phrasings share a pattern.
func normalizeIntent(intent string) string {
	return strings.Join(strings.Fields(strings.ToLower(intent)), " ")
}

// PatternStore persists learned patterns between runs.
type PatternStore interface {
	Load(ctx context.Context) ([]Pattern, error)
	Save(ctx context.Context, patterns []Pattern) error
	Close() error
}

// patternTable is the engine's in-memory pattern state.
type patternTable struct {
	mu       sync.RWMutex
	patterns map[PatternKey]*Pattern
}

func newPatternTable() *patternTable {
	return &patternTable{patterns: make(map[PatternKey]*Pattern)}
}

func (t *patternTable) bias(key PatternKey) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.patterns[key]; ok {
		return p.Bias()
	}
	return 1.0
}

func (t *patternTable) record(key PatternKey, success bool, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.patterns[key]
	if !ok {
		p = &Pattern{PatternKey: key}
		t.patterns[key] = p
	}
	if success {
		p.Successes++
	} else {
		p.Failures++
	}
	p.UpdatedAt = now
}

// snapshot returns the patterns sorted by key.
func (t *patternTable) snapshot() []Pattern {
	t.mu.RLock()
	out := make([]Pattern, 0, len(t.patterns))
	for _, p := range t.patterns {
		out = append(out, *p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].PatternKey, out[j].PatternKey
		if a.Intent != b.Intent {
			return a.Intent < b.Intent
		}
		if a.Context != b.Context {
			return a.Context < b.Context
		}
		return a.Action < b.Action
	})
	return out
}

// merge adds loaded counts onto the table.
func (t *patternTable) merge(patterns []Pattern) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range patterns {
		existing, ok := t.patterns[p.PatternKey]
		if !ok {
			cp := p
			t.patterns[p.PatternKey] = &cp
			continue
		}
		existing.Successes += p.Successes
		existing.Failures += p.Failures
		if p.UpdatedAt.After(existing.UpdatedAt) {
			existing.UpdatedAt = p.UpdatedAt
		}
	}
}

// MemoryPatternStore keeps patterns in process memory.
type MemoryPatternStore struct {
	mu       sync.Mutex
	patterns []Pattern
}

// NewMemoryPatternStore creates an empty in-memory store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{}
}

// Load returns a copy of the saved patterns.
func (s *MemoryPatternStore) Load(context.Context) ([]Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Pattern(nil), s.patterns...), nil
}

// Save replaces the stored patterns.
func (s *MemoryPatternStore) Save(_ context.Context, patterns []Pattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append([]Pattern(nil), patterns...)
	return nil
}

// Close is a no-op.
func (s *MemoryPatternStore) Close() error { return nil }
