package browserexec

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/workflow"
)

// opKind is a primitive browser operation.
type opKind string

const (
	opNavigate  opKind = "navigate"
	opWaitReady opKind = "wait_ready"
	opWaitShown opKind = "wait_visible"
	opClick     opKind = "click"
	opType      opKind = "type"
	opText      opKind = "text"
	opLocation  opKind = "location"
)

// op is one browser operation. Key names the result entry for text and
// location operations.
type op struct {
	Kind     opKind
	URL      string
	Selector string
	Text     string
	Key      string
}

// Credentials is a login for one platform.
type Credentials struct {
	Username string
	Password string
}

// CredentialSource resolves the login used by authentication steps.
type CredentialSource interface {
	Credentials(platform string) (Credentials, bool)
}

// StaticCredentials is a CredentialSource backed by a map keyed by
// lowercase platform name.
type StaticCredentials map[string]Credentials

// Credentials implements CredentialSource.
func (s StaticCredentials) Credentials(platform string) (Credentials, bool) {
	c, ok := s[strings.ToLower(strings.TrimSpace(platform))]
	return c, ok
}

// pageSelector is used when a step has no selector of its own.
const pageSelector = "body"

// supported reports whether steps of this type map onto browser operations.
func supported(t workflow.StepType) bool {
	switch t {
	case workflow.StepNavigation, workflow.StepAuthentication, workflow.StepElementInteraction,
		workflow.StepContentCreation, workflow.StepFormFilling, workflow.StepDataExtraction,
		workflow.StepValidation, workflow.StepGeneral:
		return true
	default:
		return false
	}
}

// compile turns a planned step into browser operations.
func compile(step workflow.WorkflowStep, env workflow.EnvironmentSnapshot, creds CredentialSource) ([]op, error) {
	selector := stringParam(step, "selector")

	switch step.Type {
	case workflow.StepNavigation:
		url := stringParam(step, "url")
		if url == "" {
			url = env.Location
		}
		if url == "" {
			return nil, errors.NewValidationError("navigation step has no url").WithField("url")
		}
		return []op{
			{Kind: opNavigate, URL: url},
			{Kind: opWaitReady, Selector: pageSelector},
			{Kind: opLocation, Key: "url"},
		}, nil

	case workflow.StepAuthentication:
		return compileLogin(step, creds)

	case workflow.StepElementInteraction:
		if selector == "" {
			return nil, errors.NewValidationError("interaction step has no selector").WithField("selector")
		}
		ops := []op{{Kind: opWaitShown, Selector: selector}}
		if query := stringParam(step, "query"); query != "" {
			return append(ops, op{Kind: opType, Selector: selector, Text: query + "\n"}), nil
		}
		return append(ops, op{Kind: opClick, Selector: selector}), nil

	case workflow.StepContentCreation:
		if selector == "" {
			return nil, errors.NewValidationError("content step has no selector").WithField("selector")
		}
		ops := []op{{Kind: opWaitShown, Selector: selector}}
		content := stringParam(step, "content")
		if content == "" || opensComposer(step.Name) {
			return append(ops, op{Kind: opClick, Selector: selector}), nil
		}
		return append(ops, op{Kind: opType, Selector: selector, Text: content}), nil

	case workflow.StepFormFilling:
		fields := fieldsParam(step)
		if len(fields) == 0 {
			if selector == "" {
				return nil, errors.NewValidationError("form step has no fields").WithField("fields")
			}
			return []op{{Kind: opWaitShown, Selector: selector}, {Kind: opClick, Selector: selector}}, nil
		}
		var ops []op
		for _, sel := range slices.Sorted(maps.Keys(fields)) {
			ops = append(ops,
				op{Kind: opWaitShown, Selector: sel},
				op{Kind: opType, Selector: sel, Text: fields[sel]},
			)
		}
		return ops, nil

	case workflow.StepDataExtraction:
		fields := fieldsParam(step)
		if len(fields) == 0 {
			if selector == "" {
				selector = pageSelector
			}
			return []op{{Kind: opWaitShown, Selector: selector}, {Kind: opText, Selector: selector, Key: "text"}}, nil
		}
		var ops []op
		for _, sel := range slices.Sorted(maps.Keys(fields)) {
			ops = append(ops, op{Kind: opText, Selector: sel, Key: fields[sel]})
		}
		return ops, nil

	case workflow.StepValidation:
		if selector == "" {
			return []op{{Kind: opWaitReady, Selector: pageSelector}, {Kind: opLocation, Key: "url"}}, nil
		}
		return []op{{Kind: opWaitShown, Selector: selector}, {Kind: opLocation, Key: "url"}}, nil

	case workflow.StepGeneral:
		if selector == "" {
			selector = pageSelector
		}
		return []op{{Kind: opWaitReady, Selector: selector}}, nil
	}

	return nil, errors.Wrapf(errors.ErrUnsupportedStep, "step type %q", step.Type)
}

func compileLogin(step workflow.WorkflowStep, creds CredentialSource) ([]op, error) {
	platform := stringParam(step, "platform")
	if creds == nil {
		return nil, errors.Wrapf(errors.ErrAuthenticationFailed, "no credentials configured")
	}
	login, ok := creds.Credentials(platform)
	if !ok || login.Username == "" {
		return nil, errors.Wrapf(errors.ErrAuthenticationFailed, "no credentials for platform %q", platform)
	}

	user := stringParam(step, "username_selector")
	pass := stringParam(step, "password_selector")
	submit := stringParam(step, "submit_selector")
	if user == "" || pass == "" || submit == "" {
		return nil, errors.NewValidationError(fmt.Sprintf("login form for %q is incomplete", platform)).WithField("auth_fields")
	}

	var ops []op
	if url := stringParam(step, "login_url"); url != "" {
		ops = append(ops, op{Kind: opNavigate, URL: url})
	}
	return append(ops,
		op{Kind: opWaitShown, Selector: user},
		op{Kind: opType, Selector: user, Text: login.Username},
		op{Kind: opWaitShown, Selector: pass},
		op{Kind: opType, Selector: pass, Text: login.Password},
		op{Kind: opClick, Selector: submit},
		op{Kind: opWaitReady, Selector: pageSelector},
	), nil
}

// opensComposer reports whether a content step only opens an editor.
func opensComposer(name string) bool {
	return strings.HasPrefix(name, "compose") || strings.HasPrefix(name, "open")
}

func stringParam(step workflow.WorkflowStep, key string) string {
	s, _ := step.Parameters[key].(string)
	return s
}

// fieldsParam reads a selector-to-value map. Values are formatted with %v.
func fieldsParam(step workflow.WorkflowStep) map[string]string {
	var out map[string]string
	switch fields := step.Parameters["fields"].(type) {
	case map[string]string:
		out = maps.Clone(fields)
	case map[string]any:
		out = make(map[string]string, len(fields))
		for k, v := range fields {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
