package decision

import (
	"testing"

	"github.com/raedjah1/adtbot/internal/workflow"
)

func TestGlobClassifier_Default(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		text string
		want workflow.ActionType
	}{
		{"click login button", workflow.ActionClick},
		{"Press the big red button", workflow.ActionClick},
		{"type my username", workflow.ActionFill},
		{"go to settings", workflow.ActionNavigate},
		{"Visit example.com", workflow.ActionNavigate},
		{"look for cheap flights", workflow.ActionSearch},
		{"publish the draft", workflow.ActionSubmit},
		{"wait for the spinner", workflow.ActionWait},
		{"verify results", workflow.ActionUnknown},
		{"", workflow.ActionUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := c.Classify(tt.text)
			if got.Action != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.text, got.Action, tt.want)
			}
			wantConf := matchedConfidence
			if tt.want == workflow.ActionUnknown {
				wantConf = unmatchedConfidence
			}
			if got.Confidence != wantConf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, wantConf)
			}
		})
	}
}

func TestGlobClassifier_FirstRuleWins(t *testing.T) {
	// "click" precedes "submit" in the default order.
	got := DefaultClassifier().Classify("click submit")
	if got.Action != workflow.ActionClick {
		t.Errorf("Action = %s, want click", got.Action)
	}
}

func TestNewGlobClassifier(t *testing.T) {
	c, err := NewGlobClassifier([]Rule{{workflow.ActionSearch, "find *"}})
	if err != nil {
		t.Fatalf("NewGlobClassifier: %v", err)
	}
	if got := c.Classify("FIND shoes"); got.Action != workflow.ActionSearch || got.Pattern != "find *" {
		t.Errorf("Classify = %+v", got)
	}
	if got := c.Classify("shoes find"); got.Action != workflow.ActionUnknown {
		t.Errorf("anchored pattern matched: %+v", got)
	}

	if _, err := NewGlobClassifier([]Rule{{workflow.ActionClick, "[unterminated"}}); err == nil {
		t.Error("expected compile error for invalid pattern")
	}
}

func TestAssessRisk(t *testing.T) {
	tests := []struct {
		name   string
		intent string
		env    workflow.EnvironmentSnapshot
		score  int
		level  workflow.RiskLevel
	}{
		{"benign", "scroll down", workflow.EnvironmentSnapshot{}, 0, workflow.RiskLow},
		{"category counted once", "pay the payment", workflow.EnvironmentSnapshot{}, 3, workflow.RiskMedium},
		{"destructive", "delete my photos", workflow.EnvironmentSnapshot{}, 2, workflow.RiskMedium},
		{"env errors", "scroll", workflow.EnvironmentSnapshot{Errors: []string{"500"}}, 2, workflow.RiskMedium},
		{"challenge and auth", "post", workflow.EnvironmentSnapshot{RequiresAuth: true, ChallengePresent: true}, 3, workflow.RiskMedium},
		{"stacked", "delete account", workflow.EnvironmentSnapshot{Errors: []string{"x"}}, 5, workflow.RiskHigh},
		{"personal data", "update phone number", workflow.EnvironmentSnapshot{}, 1, workflow.RiskLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssessRisk(tt.intent, tt.env)
			if got.Score != tt.score || got.Level != tt.level {
				t.Errorf("AssessRisk() = %d/%s, want %d/%s (%v)", got.Score, got.Level, tt.score, tt.level, got.Categories)
			}
		})
	}
}

func TestClassifyContext(t *testing.T) {
	tests := []struct {
		name string
		env  workflow.EnvironmentSnapshot
		want ContextType
	}{
		{"empty", workflow.EnvironmentSnapshot{}, ContextGeneral},
		{"auth flag", workflow.EnvironmentSnapshot{RequiresAuth: true, ChallengePresent: true}, ContextLogin},
		{"login url", workflow.EnvironmentSnapshot{Location: "https://x.com/i/flow/Login"}, ContextLogin},
		{"challenge over errors", workflow.EnvironmentSnapshot{ChallengePresent: true, Errors: []string{"e"}}, ContextChallenge},
		{"errors over forms", workflow.EnvironmentSnapshot{Errors: []string{"e"}, FormCount: 1}, ContextError},
		{"forms", workflow.EnvironmentSnapshot{FormCount: 2}, ContextForm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyContext(tt.env); got != tt.want {
				t.Errorf("ClassifyContext() = %s, want %s", got, tt.want)
			}
		})
	}
}
