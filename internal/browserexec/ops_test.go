package browserexec

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/raedjah1/adtbot/internal/errors"
	"github.com/raedjah1/adtbot/internal/workflow"
)

func kinds(ops []op) []opKind {
	out := make([]opKind, len(ops))
	for i, o := range ops {
		out[i] = o.Kind
	}
	return out
}

var testCreds = StaticCredentials{"twitter": {Username: "alice", Password: "secret"}}

func TestCompile(t *testing.T) {
	tests := []struct {
		name  string
		step  workflow.WorkflowStep
		env   workflow.EnvironmentSnapshot
		want  []opKind
		check func(t *testing.T, ops []op)
	}{
		{
			name: "navigation uses url parameter",
			step: workflow.WorkflowStep{Type: workflow.StepNavigation, Parameters: map[string]any{"url": "https://x.com"}},
			want: []opKind{opNavigate, opWaitReady, opLocation},
			check: func(t *testing.T, ops []op) {
				if ops[0].URL != "https://x.com" {
					t.Errorf("URL = %q", ops[0].URL)
				}
			},
		},
		{
			name: "navigation falls back to current location",
			step: workflow.WorkflowStep{Type: workflow.StepNavigation},
			env:  workflow.EnvironmentSnapshot{Location: "https://here.example"},
			want: []opKind{opNavigate, opWaitReady, opLocation},
			check: func(t *testing.T, ops []op) {
				if ops[0].URL != "https://here.example" {
					t.Errorf("URL = %q", ops[0].URL)
				}
			},
		},
		{
			name: "login fills the form",
			step: workflow.WorkflowStep{Type: workflow.StepAuthentication, Parameters: map[string]any{
				"platform":          "Twitter",
				"login_url":         "https://x.com/login",
				"username_selector": "#user",
				"password_selector": "#pass",
				"submit_selector":   "#go",
			}},
			want: []opKind{opNavigate, opWaitShown, opType, opWaitShown, opType, opClick, opWaitReady},
			check: func(t *testing.T, ops []op) {
				if ops[2].Text != "alice" || ops[4].Text != "secret" {
					t.Errorf("typed %q / %q, want credentials", ops[2].Text, ops[4].Text)
				}
			},
		},
		{
			name: "search query is typed and submitted",
			step: workflow.WorkflowStep{Name: "enter_search", Type: workflow.StepElementInteraction, Parameters: map[string]any{
				"selector": "input[name=q]", "query": "golang",
			}},
			want: []opKind{opWaitShown, opType},
			check: func(t *testing.T, ops []op) {
				if ops[1].Text != "golang\n" {
					t.Errorf("Text = %q", ops[1].Text)
				}
			},
		},
		{
			name: "interaction without query clicks",
			step: workflow.WorkflowStep{Name: "submit_post", Type: workflow.StepElementInteraction, Parameters: map[string]any{"selector": "#post"}},
			want: []opKind{opWaitShown, opClick},
		},
		{
			name: "compose step opens the editor",
			step: workflow.WorkflowStep{Name: "compose_post", Type: workflow.StepContentCreation, Parameters: map[string]any{
				"selector": "#compose", "content": "hello",
			}},
			want: []opKind{opWaitShown, opClick},
		},
		{
			name: "content step types the content",
			step: workflow.WorkflowStep{Name: "add_content", Type: workflow.StepContentCreation, Parameters: map[string]any{
				"selector": "#editor", "content": "hello",
			}},
			want: []opKind{opWaitShown, opType},
			check: func(t *testing.T, ops []op) {
				if ops[1].Text != "hello" {
					t.Errorf("Text = %q", ops[1].Text)
				}
			},
		},
		{
			name: "form fields are filled in selector order",
			step: workflow.WorkflowStep{Type: workflow.StepFormFilling, Parameters: map[string]any{
				"fields": map[string]any{"#b": 2, "#a": "one"},
			}},
			want: []opKind{opWaitShown, opType, opWaitShown, opType},
			check: func(t *testing.T, ops []op) {
				if ops[1].Selector != "#a" || ops[3].Text != "2" {
					t.Errorf("ops = %+v", ops)
				}
			},
		},
		{
			name: "extraction defaults to page text",
			step: workflow.WorkflowStep{Type: workflow.StepDataExtraction},
			want: []opKind{opWaitShown, opText},
			check: func(t *testing.T, ops []op) {
				if ops[1].Selector != pageSelector || ops[1].Key != "text" {
					t.Errorf("op = %+v", ops[1])
				}
			},
		},
		{
			name: "extraction of named fields",
			step: workflow.WorkflowStep{Type: workflow.StepDataExtraction, Parameters: map[string]any{
				"fields": map[string]string{".title": "title", ".price": "price"},
			}},
			want: []opKind{opText, opText},
			check: func(t *testing.T, ops []op) {
				if ops[0].Key != "price" || ops[1].Key != "title" {
					t.Errorf("keys = %s, %s", ops[0].Key, ops[1].Key)
				}
			},
		},
		{
			name: "validation without selector checks the page",
			step: workflow.WorkflowStep{Type: workflow.StepValidation},
			want: []opKind{opWaitReady, opLocation},
		},
		{
			name: "validation waits for selector",
			step: workflow.WorkflowStep{Type: workflow.StepValidation, Parameters: map[string]any{"selector": ".done"}},
			want: []opKind{opWaitShown, opLocation},
		},
		{
			name: "general step waits for the page",
			step: workflow.WorkflowStep{Type: workflow.StepGeneral},
			want: []opKind{opWaitReady},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := compile(tt.step, tt.env, testCreds)
			if err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := kinds(ops); !slices.Equal(got, tt.want) {
				t.Fatalf("kinds = %v, want %v", got, tt.want)
			}
			if tt.check != nil {
				tt.check(t, ops)
			}
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	loginParams := map[string]any{
		"platform": "reddit", "username_selector": "#u", "password_selector": "#p", "submit_selector": "#s",
	}

	tests := []struct {
		name  string
		step  workflow.WorkflowStep
		creds CredentialSource
		is    error
	}{
		{"navigation without url", workflow.WorkflowStep{Type: workflow.StepNavigation}, testCreds, errors.ErrInvalidInput},
		{"click without selector", workflow.WorkflowStep{Type: workflow.StepElementInteraction}, testCreds, errors.ErrInvalidInput},
		{"content without selector", workflow.WorkflowStep{Type: workflow.StepContentCreation}, testCreds, errors.ErrInvalidInput},
		{"form without fields", workflow.WorkflowStep{Type: workflow.StepFormFilling}, testCreds, errors.ErrInvalidInput},
		{"login without credentials", workflow.WorkflowStep{Type: workflow.StepAuthentication, Parameters: loginParams}, testCreds, errors.ErrAuthenticationFailed},
		{"login without source", workflow.WorkflowStep{Type: workflow.StepAuthentication, Parameters: loginParams}, nil, errors.ErrAuthenticationFailed},
		{
			"login form incomplete",
			workflow.WorkflowStep{Type: workflow.StepAuthentication, Parameters: map[string]any{"platform": "twitter"}},
			testCreds, errors.ErrInvalidInput,
		},
		{"unknown type", workflow.WorkflowStep{Type: "teleport"}, testCreds, errors.ErrUnsupportedStep},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compile(tt.step, workflow.EnvironmentSnapshot{}, tt.creds)
			if !errors.Is(err, tt.is) {
				t.Errorf("err = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestStaticCredentials(t *testing.T) {
	if c, ok := testCreds.Credentials(" TWITTER "); !ok || c.Username != "alice" {
		t.Errorf("Credentials(TWITTER) = %+v, %v", c, ok)
	}
	if _, ok := testCreds.Credentials("github"); ok {
		t.Error("Credentials(github) should be missing")
	}
}

func TestActions_OnePerOperation(t *testing.T) {
	ops := []op{
		{Kind: opNavigate, URL: "https://example.com"},
		{Kind: opText, Selector: "h1", Key: "title"},
		{Kind: opLocation, Key: "url"},
	}
	// text and location each add a store action
	if got := len(actions(ops, map[string]any{})); got != 5 {
		t.Errorf("len(actions) = %d, want 5", got)
	}
}

func TestExecutor_CanExecute(t *testing.T) {
	e := New()
	for _, typ := range workflow.AllStepTypes() {
		if !e.CanExecute(workflow.WorkflowStep{Type: typ}) {
			t.Errorf("CanExecute(%s) = false", typ)
		}
	}
	if e.CanExecute(workflow.WorkflowStep{Type: "teleport"}) {
		t.Error("CanExecute(teleport) = true")
	}
}

func TestExecutor_InvalidStepFailsWithoutBrowser(t *testing.T) {
	e := New()
	defer e.Close()

	r := e.Execute(context.Background(), workflow.WorkflowStep{ID: "step_1_navigate", Type: workflow.StepNavigation}, workflow.EnvironmentSnapshot{})
	if r.Success || r.StepID != "step_1_navigate" {
		t.Fatalf("result = %+v, want failure for step_1_navigate", r)
	}
	if !strings.Contains(r.Error, "no url") {
		t.Errorf("Error = %q", r.Error)
	}
	if e.browserCtx != nil {
		t.Error("browser should not start for a step that cannot compile")
	}
}

func TestExecutor_ReleaseAndCloseWithoutBrowser(t *testing.T) {
	e := New(WithHeadless(false), WithUserAgent("adtbot-test"), WithRemoteURL(""))
	e.Release("plan-unknown")
	if err := e.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
