package planner

import (
	"slices"

	"github.com/raedjah1/adtbot/internal/workflow"
)

type dedupKey struct {
	typ  workflow.StepType
	desc string
}

// OptimizePlan returns a copy of plan with duplicate steps removed and
// parallel eligibility recomputed. Steps are duplicates when they share a
// type and description; the first is kept and dependents of the others are
// rewired to it, unless the first one depends on the duplicate, directly or
// through other steps. A step is parallel-eligible when its dependency level
// holds at least one other step. Applying OptimizePlan to its own output
// returns an equal plan.
func OptimizePlan(plan *workflow.WorkflowPlan) *workflow.WorkflowPlan {
	if plan == nil {
		return nil
	}
	out := plan.Clone()

	deps := make(map[string][]string, len(out.Steps))
	for _, s := range out.Steps {
		deps[s.ID] = s.Dependencies
	}

	kept := make(map[dedupKey]string, len(out.Steps))
	replaced := make(map[string]string)
	steps := out.Steps[:0]
	for _, s := range out.Steps {
		key := dedupKey{s.Type, s.Description}
		// A kept step that already waits on s cannot stand in for it.
		if id, ok := kept[key]; ok && !dependsOn(deps, replaced, id, s.ID) {
			replaced[s.ID] = id
			continue
		}
		if _, ok := kept[key]; !ok {
			kept[key] = s.ID
		}
		steps = append(steps, s)
	}
	out.Steps = steps

	for i := range out.Steps {
		s := &out.Steps[i]
		deps := make([]string, 0, len(s.Dependencies))
		for _, dep := range s.Dependencies {
			if to, ok := replaced[dep]; ok {
				dep = to
			}
			if dep == s.ID || slices.Contains(deps, dep) {
				continue
			}
			deps = append(deps, dep)
		}
		s.Dependencies = deps
	}

	levels, _ := workflow.TopologicalLevels(out)
	parallel := make(map[string]bool)
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		for _, id := range level {
			parallel[id] = true
		}
	}
	for i := range out.Steps {
		out.Steps[i].ParallelEligible = parallel[out.Steps[i].ID]
	}

	if len(replaced) > 0 {
		out.EstimatedDuration = EstimateDuration(out.Steps)
	}
	return out
}

// dependsOn reports whether from reaches to through dependencies, with
// merged steps resolved to the step that replaced them.
func dependsOn(deps map[string][]string, replaced map[string]string, from, to string) bool {
	seen := make(map[string]bool)
	stack := []string{from}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		for _, dep := range deps[id] {
			if r, ok := replaced[dep]; ok {
				dep = r
			}
			if dep == to {
				return true
			}
			stack = append(stack, dep)
		}
	}
	return false
}
