package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "executor.max_concurrent")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateDecision()...)
	errors = append(errors, c.validatePlanner()...)
	errors = append(errors, c.validateExecutor()...)
	errors = append(errors, c.validateProgress()...)
	errors = append(errors, c.validateBrowser()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateDecision validates the DecisionConfig
func (c *Config) validateDecision() []ValidationError {
	var errors []ValidationError

	if c.Decision.MaxRetries < 0 {
		errors = append(errors, ValidationError{
			Field:   "decision.max_retries",
			Value:   c.Decision.MaxRetries,
			Message: "must be non-negative",
		})
	}

	// DecideTiming floors at 100ms
	if c.Decision.BaseDelayMs < 100 {
		errors = append(errors, ValidationError{
			Field:   "decision.base_delay_ms",
			Value:   c.Decision.BaseDelayMs,
			Message: "must be at least 100",
		})
	}

	if c.Decision.HistorySize < 1 {
		errors = append(errors, ValidationError{
			Field:   "decision.history_size",
			Value:   c.Decision.HistorySize,
			Message: "must be at least 1",
		})
	}

	for i, pattern := range c.Decision.NonRetryableErrors {
		if strings.TrimSpace(pattern) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("decision.non_retryable_errors[%d]", i),
				Value:   pattern,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validatePlanner validates the PlannerConfig
func (c *Config) validatePlanner() []ValidationError {
	var errors []ValidationError

	const maxRetries = 10
	if c.Planner.DefaultRetries < 0 || c.Planner.DefaultRetries > maxRetries {
		errors = append(errors, ValidationError{
			Field:   "planner.default_retries",
			Value:   c.Planner.DefaultRetries,
			Message: fmt.Sprintf("must be between 0 and %d", maxRetries),
		})
	}

	if c.Planner.RetryDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "planner.retry_delay_ms",
			Value:   c.Planner.RetryDelayMs,
			Message: "must be non-negative",
		})
	}

	if c.Planner.KnowledgeFile != "" {
		ext := strings.ToLower(c.Planner.KnowledgeFile)
		if !strings.HasSuffix(ext, ".yaml") && !strings.HasSuffix(ext, ".yml") {
			errors = append(errors, ValidationError{
				Field:   "planner.knowledge_file",
				Value:   c.Planner.KnowledgeFile,
				Message: "must be a .yaml or .yml file",
			})
		}
	}

	return errors
}

// validateExecutor validates the ExecutorConfig
func (c *Config) validateExecutor() []ValidationError {
	var errors []ValidationError

	if c.Executor.MaxConcurrent < 1 {
		errors = append(errors, ValidationError{
			Field:   "executor.max_concurrent",
			Value:   c.Executor.MaxConcurrent,
			Message: "must be at least 1",
		})
	}

	if c.Executor.StepDelayMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "executor.step_delay_ms",
			Value:   c.Executor.StepDelayMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateProgress validates the ProgressConfig
func (c *Config) validateProgress() []ValidationError {
	var errors []ValidationError

	if c.Progress.ThroughputTarget <= 0 {
		errors = append(errors, ValidationError{
			Field:   "progress.throughput_target",
			Value:   c.Progress.ThroughputTarget,
			Message: "must be positive",
		})
	}

	return errors
}

// validateBrowser validates the BrowserConfig
func (c *Config) validateBrowser() []ValidationError {
	var errors []ValidationError

	if url := c.Browser.RemoteURL; url != "" {
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") &&
			!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			errors = append(errors, ValidationError{
				Field:   "browser.remote_url",
				Value:   url,
				Message: "must start with ws://, wss://, http:// or https://",
			})
		}
	}

	for name, cred := range c.Browser.Credentials {
		if strings.TrimSpace(cred.Username) == "" {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("browser.credentials.%s.username", name),
				Value:   cred.Username,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
