package decision

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"

	"github.com/raedjah1/adtbot/internal/workflow"
)

// Classification is a classifier's reading of an intent.
type Classification struct {
	Action     workflow.ActionType
	Confidence float64
	// Pattern is the rule that matched, empty for unknown intents.
	Pattern string
}

// Classifier maps free-text intent onto an action type.
type Classifier interface {
	Classify(text string) Classification
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(text string) Classification

// Classify calls f(text).
func (f ClassifierFunc) Classify(text string) Classification { return f(text) }

// Classifier confidences.
const (
	matchedConfidence   = 0.8
	unmatchedConfidence = 0.3
)

// Rule maps a glob pattern onto an action. Patterns are matched against the
// lowercased intent and use gobwas/glob syntax, e.g. "*{click,press}*".
type Rule struct {
	Action  workflow.ActionType
	Pattern string
}

// DefaultRules returns the built-in keyword rules in match order.
func DefaultRules() []Rule {
	return []Rule{
		{workflow.ActionClick, "*{click,press,tap,select}*"},
		{workflow.ActionFill, "*{fill,type,enter,input,write}*"},
		{workflow.ActionNavigate, "*{go to,navigate,open,visit}*"},
		{workflow.ActionSearch, "*{search,find,look for}*"},
		{workflow.ActionSubmit, "*{submit,send,post,publish}*"},
		{workflow.ActionWait, "*{wait,pause,delay}*"},
	}
}

type compiledRule struct {
	Rule
	g glob.Glob
}

// GlobClassifier classifies intents with an ordered list of glob rules.
// The first matching rule wins.
type GlobClassifier struct {
	rules []compiledRule
}

// NewGlobClassifier compiles rules into a classifier.
func NewGlobClassifier(rules []Rule) (*GlobClassifier, error) {
	c := &GlobClassifier{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		g, err := glob.Compile(strings.ToLower(r.Pattern))
		if err != nil {
			return nil, fmt.Errorf("compile rule %s %q: %w", r.Action, r.Pattern, err)
		}
		c.rules = append(c.rules, compiledRule{Rule: r, g: g})
	}
	return c, nil
}

// DefaultClassifier returns a GlobClassifier over DefaultRules.
func DefaultClassifier() *GlobClassifier {
	c, err := NewGlobClassifier(DefaultRules())
	if err != nil {
		panic(err) // built-in patterns are static
	}
	return c
}

// Classify implements Classifier.
func (c *GlobClassifier) Classify(text string) Classification {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, r := range c.rules {
		if r.g.Match(lower) {
			return Classification{Action: r.Action, Confidence: matchedConfidence, Pattern: r.Pattern}
		}
	}
	return Classification{Action: workflow.ActionUnknown, Confidence: unmatchedConfidence}
}
