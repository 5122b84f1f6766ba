package decision

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/raedjah1/adtbot/internal/workflow"
)

// riskCategory is a weighted keyword group. Each category counts once per
// intent no matter how many of its keywords appear.
type riskCategory struct {
	name   string
	weight int
	g      glob.Glob
}

var riskCategories = []riskCategory{
	{"financial", 3, glob.MustCompile("*{bank,payment,pay,transfer,credit card,purchase,buy}*")},
	{"destructive", 2, glob.MustCompile("*{delete,remove,cancel,close account,unsubscribe}*")},
	{"account", 1, glob.MustCompile("*{login,log in,password,account,sign in}*")},
	{"submission", 1, glob.MustCompile("*{submit,send,publish,post,confirm}*")},
	{"personal_data", 1, glob.MustCompile("*{email,phone,address,birth,ssn,passport}*")},
}

// Environment risk weights.
const (
	authRiskWeight      = 1
	challengeRiskWeight = 1
	errorRiskWeight     = 2

	highRiskScore   = 4
	mediumRiskScore = 2
)

// RiskAssessment is the breakdown behind a risk level.
type RiskAssessment struct {
	Score      int
	Level      workflow.RiskLevel
	Categories []string
}

// AssessRisk scores an intent in its environment.
func AssessRisk(intent string, env workflow.EnvironmentSnapshot) RiskAssessment {
	lower := strings.ToLower(intent)

	var a RiskAssessment
	for _, c := range riskCategories {
		if c.g.Match(lower) {
			a.Score += c.weight
			a.Categories = append(a.Categories, c.name)
		}
	}
	if env.RequiresAuth {
		a.Score += authRiskWeight
	}
	if env.ChallengePresent {
		a.Score += challengeRiskWeight
	}
	if env.HasErrors() {
		a.Score += errorRiskWeight
	}

	switch {
	case a.Score >= highRiskScore:
		a.Level = workflow.RiskHigh
	case a.Score >= mediumRiskScore:
		a.Level = workflow.RiskMedium
	default:
		a.Level = workflow.RiskLow
	}
	return a
}

// ContextType is the coarse situation the engine is deciding in.
type ContextType string

const (
	ContextLogin     ContextType = "login"
	ContextChallenge ContextType = "challenge"
	ContextError     ContextType = "error"
	ContextForm      ContextType = "form"
	ContextGeneral   ContextType = "general"
)

var loginLocation = glob.MustCompile("*{login,signin,sign-in,sign_in,auth}*")

// ClassifyContext returns the context type of env, checked in the order
// login, challenge, error, form, general.
func ClassifyContext(env workflow.EnvironmentSnapshot) ContextType {
	switch {
	case env.RequiresAuth || loginLocation.Match(strings.ToLower(env.Location)):
		return ContextLogin
	case env.ChallengePresent:
		return ContextChallenge
	case env.HasErrors():
		return ContextError
	case env.HasForms():
		return ContextForm
	default:
		return ContextGeneral
	}
}
