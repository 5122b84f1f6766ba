package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationSeverity represents the severity level of a validation message.
type ValidationSeverity string

const (
	// SeverityError indicates a plan the executor must not run.
	SeverityError ValidationSeverity = "error"

	// SeverityWarning indicates a plan that runs but may behave unexpectedly.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationMessage represents a single validation issue.
type ValidationMessage struct {
	Severity   ValidationSeverity `json:"severity"`
	Message    string             `json:"message"`
	StepID     string             `json:"step_id,omitempty"`
	Field      string             `json:"field,omitempty"`
	RelatedIDs []string           `json:"related_ids,omitempty"`
}

// IsError returns true if this message blocks execution.
func (m *ValidationMessage) IsError() bool {
	return m.Severity == SeverityError
}

// ValidationResult is the outcome of ValidatePlan.
type ValidationResult struct {
	IsValid      bool                `json:"is_valid"`
	ErrorCount   int                 `json:"error_count"`
	WarningCount int                 `json:"warning_count"`
	Messages     []ValidationMessage `json:"messages"`
}

func (v *ValidationResult) add(msg ValidationMessage) {
	if msg.IsError() {
		v.IsValid = false
		v.ErrorCount++
	} else {
		v.WarningCount++
	}
	v.Messages = append(v.Messages, msg)
}

// Errors returns the error-severity messages joined into one string.
func (v *ValidationResult) Errors() string {
	var parts []string
	for _, m := range v.Messages {
		if m.IsError() {
			if m.StepID != "" {
				parts = append(parts, m.StepID+": "+m.Message)
			} else {
				parts = append(parts, m.Message)
			}
		}
	}
	return strings.Join(parts, "; ")
}

// ValidatePlan checks a plan's structure: unique step ids, dependencies that
// exist and are not self references, and an acyclic dependency graph.
func ValidatePlan(plan *WorkflowPlan) *ValidationResult {
	result := &ValidationResult{IsValid: true, Messages: make([]ValidationMessage, 0)}

	if plan == nil {
		result.add(ValidationMessage{Severity: SeverityError, Message: "plan is nil"})
		return result
	}
	if len(plan.Steps) == 0 {
		result.add(ValidationMessage{Severity: SeverityError, Message: "plan has no steps"})
		return result
	}

	seen := make(map[string]bool, len(plan.Steps))
	for _, step := range plan.Steps {
		if step.ID == "" {
			result.add(ValidationMessage{Severity: SeverityError, Message: "step has no id", Field: "id"})
			continue
		}
		if seen[step.ID] {
			result.add(ValidationMessage{
				Severity: SeverityError,
				Message:  "duplicate step id",
				StepID:   step.ID,
				Field:    "id",
			})
		}
		seen[step.ID] = true
	}

	for _, step := range plan.Steps {
		for _, depID := range step.Dependencies {
			switch {
			case depID == step.ID:
				result.add(ValidationMessage{
					Severity:   SeverityError,
					Message:    "step depends on itself",
					StepID:     step.ID,
					Field:      "dependencies",
					RelatedIDs: []string{step.ID},
				})
			case !seen[depID]:
				result.add(ValidationMessage{
					Severity:   SeverityError,
					Message:    fmt.Sprintf("depends on unknown step '%s'", depID),
					StepID:     step.ID,
					Field:      "dependencies",
					RelatedIDs: []string{depID},
				})
			}
		}
		if step.Timeout <= 0 {
			result.add(ValidationMessage{
				Severity: SeverityWarning,
				Message:  "step has no timeout",
				StepID:   step.ID,
				Field:    "timeout",
			})
		}
	}

	if cycle := DetectDependencyCycle(plan); cycle != nil {
		result.add(ValidationMessage{
			Severity:   SeverityError,
			Message:    fmt.Sprintf("dependency cycle detected: %s", strings.Join(cycle, " -> ")),
			RelatedIDs: cycle,
		})
	}

	return result
}

// DetectDependencyCycle returns the step ids forming a dependency cycle,
// starting and ending with the same id, or nil if the graph is acyclic.
// Self dependencies are reported as cycles of length one.
func DetectDependencyCycle(plan *WorkflowPlan) []string {
	if plan == nil {
		return nil
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	parent := make(map[string]string)

	var dfs func(stepID string) []string
	dfs = func(stepID string) []string {
		visited[stepID] = true
		recStack[stepID] = true

		step := plan.StepByID(stepID)
		if step == nil {
			recStack[stepID] = false
			return nil
		}

		for _, depID := range step.Dependencies {
			if !visited[depID] {
				parent[depID] = stepID
				if cycle := dfs(depID); cycle != nil {
					return cycle
				}
			} else if recStack[depID] {
				cycle := []string{depID}
				for current := stepID; current != depID; current = parent[current] {
					cycle = append([]string{current}, cycle...)
				}
				return append([]string{depID}, cycle...)
			}
		}

		recStack[stepID] = false
		return nil
	}

	for _, step := range plan.Steps {
		if !visited[step.ID] {
			if cycle := dfs(step.ID); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// GetAllDependencies returns all direct and transitive dependencies of a step.
func GetAllDependencies(plan *WorkflowPlan, stepID string) map[string]bool {
	deps := make(map[string]bool)
	visited := make(map[string]bool)

	var collect func(id string)
	collect = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		step := plan.StepByID(id)
		if step == nil {
			return
		}
		for _, depID := range step.Dependencies {
			deps[depID] = true
			collect(depID)
		}
	}

	collect(stepID)
	return deps
}

// TopologicalLevels groups step ids by dependency depth: level 0 holds steps
// without dependencies, level n holds steps whose deepest dependency is at
// level n-1. Ids within a level keep plan order. Steps that sit on or behind
// a cycle, or depend on unknown ids, are returned separately as unresolved.
func TopologicalLevels(plan *WorkflowPlan) (levels [][]string, unresolved []string) {
	if plan == nil {
		return nil, nil
	}

	known := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		known[s.ID] = true
	}

	level := make(map[string]int, len(plan.Steps))
	remaining := slices.Clone(plan.Steps)
	for len(remaining) > 0 {
		var next []WorkflowStep
		progressed := false
		for _, s := range remaining {
			depth, ok := 0, true
			for _, dep := range s.Dependencies {
				l, done := level[dep]
				if !known[dep] || !done {
					ok = false
					break
				}
				depth = max(depth, l+1)
			}
			if !ok {
				next = append(next, s)
				continue
			}
			level[s.ID] = depth
			progressed = true
		}
		if !progressed {
			for _, s := range next {
				unresolved = append(unresolved, s.ID)
			}
			break
		}
		remaining = next
	}

	for _, s := range plan.Steps {
		l, ok := level[s.ID]
		if !ok {
			continue
		}
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], s.ID)
	}
	return levels, unresolved
}
