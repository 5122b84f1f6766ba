package planner

import (
	"strings"
	"time"

	"github.com/raedjah1/adtbot/internal/workflow"
)

// templateKey selects a step-name template. An empty Action matches any
// action for the intent.
type templateKey struct {
	Intent string
	Action string
}

// genericTemplate is used when no template matches the command.
var genericTemplate = []string{"analyze", "navigate", "act", "verify"}

var stepTemplates = map[templateKey][]string{
	{"post_content", ""}:         {"navigate", "login", "compose_post", "add_content", "submit_post", "verify_post"},
	{"post_content", "reply"}:    {"navigate", "login", "locate_post", "open_reply", "write_reply", "submit_reply", "verify_post"},
	{"post_content", "schedule"}: {"navigate", "login", "compose_post", "add_content", "open_schedule", "fill_schedule_form", "submit_post", "verify_post"},
	{"send_message", ""}:         {"navigate", "login", "open_compose", "fill_recipient", "write_message", "send_message", "verify_sent"},
	{"search", ""}:               {"navigate", "enter_search", "submit_search", "extract_results"},
	{"login", ""}:                {"navigate", "login", "verify_login"},
	{"fill_form", ""}:            {"navigate", "locate_form", "fill_form", "submit_form", "verify_submission"},
	{"extract_data", ""}:         {"navigate", "wait_for_content", "extract_data", "validate_data"},
	{"navigate", ""}:             {"navigate", "wait_for_page", "verify_page"},
	{"purchase", ""}:             {"navigate", "login", "search_product", "open_product", "click_add_to_cart", "fill_checkout_form", "submit_order", "verify_order"},
}

// selectTemplate returns the step names for an intent and action, trying
// (intent, action), then the intent alone, then the generic template.
func selectTemplate(intent, action string) (names []string, generic bool) {
	intent = strings.ToLower(strings.TrimSpace(intent))
	action = strings.ToLower(strings.TrimSpace(action))
	if names, ok := stepTemplates[templateKey{intent, action}]; ok && action != "" {
		return names, false
	}
	if names, ok := stepTemplates[templateKey{intent, ""}]; ok {
		return names, false
	}
	return genericTemplate, true
}

// stepTypeRules map name tokens to step types. The first rule with a
// matching token wins.
var stepTypeRules = []struct {
	tokens []string
	typ    workflow.StepType
}{
	{[]string{"verify", "validate"}, workflow.StepValidation},
	{[]string{"navigate"}, workflow.StepNavigation},
	{[]string{"login", "credentials", "auth"}, workflow.StepAuthentication},
	{[]string{"extract"}, workflow.StepDataExtraction},
	{[]string{"wait", "analyze"}, workflow.StepGeneral},
	{[]string{"submit", "send", "click", "open", "locate", "enter", "search", "act"}, workflow.StepElementInteraction},
	{[]string{"fill", "form"}, workflow.StepFormFilling},
	{[]string{"compose", "content", "write", "post", "message", "reply"}, workflow.StepContentCreation},
}

// stepTypeFor derives the step type from the underscore-separated tokens
// of a step name.
func stepTypeFor(name string) workflow.StepType {
	tokens := strings.Split(strings.ToLower(name), "_")
	for _, rule := range stepTypeRules {
		for _, want := range rule.tokens {
			for _, tok := range tokens {
				if tok == want {
					return rule.typ
				}
			}
		}
	}
	return workflow.StepGeneral
}

var stepTimeouts = map[workflow.StepType]time.Duration{
	workflow.StepNavigation:         30 * time.Second,
	workflow.StepAuthentication:     15 * time.Second,
	workflow.StepElementInteraction: 10 * time.Second,
	workflow.StepContentCreation:    20 * time.Second,
	workflow.StepFormFilling:        15 * time.Second,
	workflow.StepDataExtraction:     60 * time.Second,
	workflow.StepValidation:         10 * time.Second,
}

const (
	defaultStepTimeout = 15 * time.Second
	submitStepTimeout  = 20 * time.Second
)

// timeoutFor returns the timeout for a step. Submit steps get their own
// budget regardless of type.
func timeoutFor(name string, typ workflow.StepType) time.Duration {
	if typ != workflow.StepValidation && strings.Contains(strings.ToLower(name), "submit") {
		return submitStepTimeout
	}
	if d, ok := stepTimeouts[typ]; ok {
		return d
	}
	return defaultStepTimeout
}

// baseTimes are the expected durations used in plan estimates.
var baseTimes = map[workflow.StepType]time.Duration{
	workflow.StepNavigation:         5 * time.Second,
	workflow.StepAuthentication:     8 * time.Second,
	workflow.StepElementInteraction: 2 * time.Second,
	workflow.StepContentCreation:    10 * time.Second,
	workflow.StepFormFilling:        6 * time.Second,
	workflow.StepDataExtraction:     15 * time.Second,
	workflow.StepValidation:         3 * time.Second,
	workflow.StepGeneral:            5 * time.Second,
}

var fallbackActions = map[workflow.StepType][]string{
	workflow.StepNavigation:         {"reload_page", "navigate_home", "retry_with_delay"},
	workflow.StepAuthentication:     {"clear_and_retype", "use_alternate_login", "request_manual_login"},
	workflow.StepElementInteraction: {"scroll_into_view", "use_alternate_selector", "keyboard_activate"},
	workflow.StepContentCreation:    {"clear_and_retype", "paste_content", "shorten_content"},
	workflow.StepFormFilling:        {"clear_and_retype", "fill_field_by_field", "use_alternate_selector"},
	workflow.StepDataExtraction:     {"wait_and_retry", "use_alternate_selector", "extract_page_text"},
	workflow.StepValidation:         {"take_screenshot", "check_alternate_indicator"},
	workflow.StepGeneral:            {"retry_with_delay"},
}

// criteria are the per-intent success criteria and failure conditions.
type criteria struct {
	success  map[string]any
	failures []string
}

var intentCriteria = map[string]criteria{
	"post_content": {
		success:  map[string]any{"post_visible": true, "content_matches": true},
		failures: []string{"content_rejected", "rate_limited", "account_suspended"},
	},
	"send_message": {
		success:  map[string]any{"message_sent": true, "recipient_confirmed": true},
		failures: []string{"recipient_not_found", "message_blocked"},
	},
	"search": {
		success:  map[string]any{"results_found": true},
		failures: []string{"no_results", "search_unavailable"},
	},
	"login": {
		success:  map[string]any{"authenticated": true},
		failures: []string{"invalid_credentials", "account_locked", "challenge_unsolved"},
	},
	"fill_form": {
		success:  map[string]any{"form_submitted": true, "confirmation_shown": true},
		failures: []string{"validation_errors", "form_expired"},
	},
	"extract_data": {
		success:  map[string]any{"data_extracted": true, "min_records": 1},
		failures: []string{"content_not_loaded", "access_denied"},
	},
	"purchase": {
		success:  map[string]any{"order_confirmed": true},
		failures: []string{"payment_declined", "out_of_stock"},
	},
}

// commonFailures apply to every plan.
var commonFailures = []string{"critical_step_failed", "workflow_blocked", "timeout_exceeded"}

// criteriaFor returns fresh copies of the criteria for intent with the
// always-present entries merged in.
func criteriaFor(intent string) (map[string]any, []string) {
	success := map[string]any{
		"all_steps_completed": true,
		"no_critical_errors":  true,
	}
	failures := append([]string(nil), commonFailures...)

	if c, ok := intentCriteria[strings.ToLower(strings.TrimSpace(intent))]; ok {
		for k, v := range c.success {
			success[k] = v
		}
		failures = append(failures, c.failures...)
	}
	return success, failures
}
