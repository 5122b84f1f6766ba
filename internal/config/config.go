package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete adtbot configuration
type Config struct {
	Decision DecisionConfig `mapstructure:"decision"`
	Planner  PlannerConfig  `mapstructure:"planner"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Progress ProgressConfig `mapstructure:"progress"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DecisionConfig controls the decision engine
type DecisionConfig struct {
	// MaxRetries is the failure count at which ShouldRetry always refuses (default: 3)
	MaxRetries int `mapstructure:"max_retries"`
	// BaseDelayMs is the base inter-action delay in milliseconds (default: 1000)
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	// Jitter randomizes timing decisions by up to ±20% (default: true)
	Jitter bool `mapstructure:"jitter"`
	// NonRetryableErrors are error message substrings that are never retried
	NonRetryableErrors []string `mapstructure:"non_retryable_errors"`
	// HistorySize bounds the in-memory decision history (default: 1000)
	HistorySize int `mapstructure:"history_size"`
}

// PlannerConfig controls plan construction
type PlannerConfig struct {
	// DefaultRetries is the retry count given to every generated step (default: 3)
	DefaultRetries int `mapstructure:"default_retries"`
	// RetryDelayMs is the delay between step retries in milliseconds (default: 2000)
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
	// KnowledgeFile is an optional YAML file overriding the built-in platform table.
	// Supports ~ for home directory expansion.
	KnowledgeFile string `mapstructure:"knowledge_file"`
	// WatchKnowledge reloads KnowledgeFile when it changes on disk (default: true)
	WatchKnowledge bool `mapstructure:"watch_knowledge"`
	// Optimize runs OptimizePlan on every plan before execution (default: true)
	Optimize bool `mapstructure:"optimize"`
}

// ExecutorConfig controls workflow execution
type ExecutorConfig struct {
	// MaxConcurrent is the maximum number of simultaneously active workflows (default: 5)
	MaxConcurrent int `mapstructure:"max_concurrent"`
	// Parallel dispatches independent ready steps concurrently (default: true)
	Parallel bool `mapstructure:"parallel"`
	// StepDelayMs is the pacing delay between sequential steps in milliseconds (default: 500)
	StepDelayMs int `mapstructure:"step_delay_ms"`
}

// ProgressConfig controls progress reporting
type ProgressConfig struct {
	// ThroughputTarget is the steps-per-minute rate that counts as full throughput (default: 10)
	ThroughputTarget float64 `mapstructure:"throughput_target"`
	// KeepFinished keeps finished workflows queryable after StopTracking (default: true)
	KeepFinished bool `mapstructure:"keep_finished"`
}

// StorageConfig controls where learned state is persisted
type StorageConfig struct {
	// PatternsDB is the SQLite file for decision patterns.
	// If empty, patterns are kept in memory only.
	// Supports ~ for home directory expansion.
	PatternsDB string `mapstructure:"patterns_db"`
}

// BrowserConfig controls the optional chromedp step executor
type BrowserConfig struct {
	// RemoteURL connects to an already running browser's DevTools endpoint.
	// If empty, a local browser is launched.
	RemoteURL string `mapstructure:"remote_url"`
	// Headless launches the local browser without a window (default: true)
	Headless bool `mapstructure:"headless"`
	// UserAgent overrides the browser user agent when set
	UserAgent string `mapstructure:"user_agent"`
	// Credentials maps a platform name to the login used by authentication steps
	Credentials map[string]CredentialConfig `mapstructure:"credentials"`
}

// CredentialConfig is a username and password for one platform.
// The password may be left empty and supplied through PasswordEnv instead.
type CredentialConfig struct {
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	PasswordEnv string `mapstructure:"password_env"`
}

// ResolvePassword returns Password, or the value of the PasswordEnv
// environment variable when Password is empty.
func (c CredentialConfig) ResolvePassword() string {
	if c.Password != "" || c.PasswordEnv == "" {
		return c.Password
	}
	return os.Getenv(c.PasswordEnv)
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir is the directory for adtbot.log; empty logs to stderr
	Dir string `mapstructure:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Decision: DecisionConfig{
			MaxRetries:  3,
			BaseDelayMs: 1000,
			Jitter:      true,
			NonRetryableErrors: []string{
				"authentication failed",
				"permission denied",
				"element not found",
			},
			HistorySize: 1000,
		},
		Planner: PlannerConfig{
			DefaultRetries: 3,
			RetryDelayMs:   2000,
			KnowledgeFile:  "", // Empty means built-in table only
			WatchKnowledge: true,
			Optimize:       true,
		},
		Executor: ExecutorConfig{
			MaxConcurrent: 5,
			Parallel:      true,
			StepDelayMs:   500,
		},
		Progress: ProgressConfig{
			ThroughputTarget: 10,
			KeepFinished:     true,
		},
		Storage: StorageConfig{
			PatternsDB: "", // Empty means in-memory patterns
		},
		Browser: BrowserConfig{
			RemoteURL: "",
			Headless:  true,
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "",
		},
	}
}

// BaseDelay returns the base delay as a time.Duration
func (c *DecisionConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// RetryDelay returns the step retry delay as a time.Duration
func (c *PlannerConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// StepDelay returns the sequential pacing delay as a time.Duration
func (c *ExecutorConfig) StepDelay() time.Duration {
	return time.Duration(c.StepDelayMs) * time.Millisecond
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Decision defaults
	viper.SetDefault("decision.max_retries", defaults.Decision.MaxRetries)
	viper.SetDefault("decision.base_delay_ms", defaults.Decision.BaseDelayMs)
	viper.SetDefault("decision.jitter", defaults.Decision.Jitter)
	viper.SetDefault("decision.non_retryable_errors", defaults.Decision.NonRetryableErrors)
	viper.SetDefault("decision.history_size", defaults.Decision.HistorySize)

	// Planner defaults
	viper.SetDefault("planner.default_retries", defaults.Planner.DefaultRetries)
	viper.SetDefault("planner.retry_delay_ms", defaults.Planner.RetryDelayMs)
	viper.SetDefault("planner.knowledge_file", defaults.Planner.KnowledgeFile)
	viper.SetDefault("planner.watch_knowledge", defaults.Planner.WatchKnowledge)
	viper.SetDefault("planner.optimize", defaults.Planner.Optimize)

	// Executor defaults
	viper.SetDefault("executor.max_concurrent", defaults.Executor.MaxConcurrent)
	viper.SetDefault("executor.parallel", defaults.Executor.Parallel)
	viper.SetDefault("executor.step_delay_ms", defaults.Executor.StepDelayMs)

	// Progress defaults
	viper.SetDefault("progress.throughput_target", defaults.Progress.ThroughputTarget)
	viper.SetDefault("progress.keep_finished", defaults.Progress.KeepFinished)

	// Storage defaults
	viper.SetDefault("storage.patterns_db", defaults.Storage.PatternsDB)

	// Browser defaults
	viper.SetDefault("browser.remote_url", defaults.Browser.RemoteURL)
	viper.SetDefault("browser.headless", defaults.Browser.Headless)
	viper.SetDefault("browser.user_agent", defaults.Browser.UserAgent)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "adtbot")
	}
	// Fall back to ~/.config/adtbot
	home, err := os.UserHomeDir()
	if err != nil {
		return ".adtbot"
	}
	return filepath.Join(home, ".config", "adtbot")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ExpandPath expands a leading ~ to the user's home directory.
// Other paths are returned unchanged.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return path
}
