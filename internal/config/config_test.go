package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	if cfg.Decision.MaxRetries != 3 {
		t.Errorf("Decision.MaxRetries = %d, want 3", cfg.Decision.MaxRetries)
	}
	if cfg.Decision.BaseDelayMs != 1000 {
		t.Errorf("Decision.BaseDelayMs = %d, want 1000", cfg.Decision.BaseDelayMs)
	}
	if !cfg.Decision.Jitter {
		t.Error("Decision.Jitter should be true by default")
	}
	if cfg.Planner.RetryDelayMs != 2000 {
		t.Errorf("Planner.RetryDelayMs = %d, want 2000", cfg.Planner.RetryDelayMs)
	}
	if cfg.Executor.MaxConcurrent != 5 {
		t.Errorf("Executor.MaxConcurrent = %d, want 5", cfg.Executor.MaxConcurrent)
	}
	if cfg.Executor.StepDelayMs != 500 {
		t.Errorf("Executor.StepDelayMs = %d, want 500", cfg.Executor.StepDelayMs)
	}
	if !cfg.Executor.Parallel {
		t.Error("Executor.Parallel should be true by default")
	}
	if cfg.Progress.ThroughputTarget != 10 {
		t.Errorf("Progress.ThroughputTarget = %f, want 10", cfg.Progress.ThroughputTarget)
	}
	if cfg.Storage.PatternsDB != "" {
		t.Errorf("Storage.PatternsDB = %q, want empty", cfg.Storage.PatternsDB)
	}
	if !cfg.Browser.Headless {
		t.Error("Browser.Headless should be true by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Default() should validate, got %v", ValidationErrors(errs))
	}
}

func TestDurations(t *testing.T) {
	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"base delay", (&DecisionConfig{BaseDelayMs: 250}).BaseDelay(), 250 * time.Millisecond},
		{"retry delay", (&PlannerConfig{RetryDelayMs: 2000}).RetryDelay(), 2 * time.Second},
		{"step delay", (&ExecutorConfig{StepDelayMs: 500}).StepDelay(), 500 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/adtbot" {
			t.Errorf("ConfigDir() = %q, want /custom/config/adtbot", got)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		want := filepath.Join(home, ".config", "adtbot")
		if got := ConfigDir(); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/adtbot/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/patterns.db", filepath.Join(home, "patterns.db")},
		{"/abs/path.db", "/abs/path.db"},
		{"relative.db", "relative.db"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ExpandPath(tt.in); got != tt.want {
				t.Errorf("ExpandPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Executor.MaxConcurrent != 5 {
			t.Errorf("Executor.MaxConcurrent = %d, want 5", cfg.Executor.MaxConcurrent)
		}
		if len(cfg.Decision.NonRetryableErrors) != 3 {
			t.Errorf("NonRetryableErrors = %v", cfg.Decision.NonRetryableErrors)
		}
	})

	t.Run("from file", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		path := filepath.Join(t.TempDir(), "config.yaml")
		content := "executor:\n  max_concurrent: 2\n  parallel: false\nplanner:\n  retry_delay_ms: 100\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig: %v", err)
		}

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if cfg.Executor.MaxConcurrent != 2 || cfg.Executor.Parallel {
			t.Errorf("Executor = %+v", cfg.Executor)
		}
		if cfg.Planner.RetryDelay() != 100*time.Millisecond {
			t.Errorf("RetryDelay() = %v", cfg.Planner.RetryDelay())
		}
		// Untouched keys keep defaults
		if cfg.Decision.MaxRetries != 3 {
			t.Errorf("Decision.MaxRetries = %d, want 3", cfg.Decision.MaxRetries)
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()
		viper.Set("executor.max_concurrent", 0)

		_, err := Load()
		if err == nil {
			t.Fatal("Load() should fail for max_concurrent=0")
		}
		verrs, ok := err.(ValidationErrors)
		if !ok {
			t.Fatalf("error type = %T, want ValidationErrors", err)
		}
		if verrs[0].Field != "executor.max_concurrent" {
			t.Errorf("Field = %q", verrs[0].Field)
		}
	})
}

func TestGet(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("logging.level", "chatty")

	// Invalid config falls back to defaults
	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Get().Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"negative max retries", func(c *Config) { c.Decision.MaxRetries = -1 }, "decision.max_retries"},
		{"base delay too small", func(c *Config) { c.Decision.BaseDelayMs = 10 }, "decision.base_delay_ms"},
		{"zero history", func(c *Config) { c.Decision.HistorySize = 0 }, "decision.history_size"},
		{"blank non-retryable", func(c *Config) { c.Decision.NonRetryableErrors = []string{" "} }, "decision.non_retryable_errors[0]"},
		{"too many retries", func(c *Config) { c.Planner.DefaultRetries = 11 }, "planner.default_retries"},
		{"negative retry delay", func(c *Config) { c.Planner.RetryDelayMs = -1 }, "planner.retry_delay_ms"},
		{"knowledge not yaml", func(c *Config) { c.Planner.KnowledgeFile = "kb.json" }, "planner.knowledge_file"},
		{"zero concurrency", func(c *Config) { c.Executor.MaxConcurrent = 0 }, "executor.max_concurrent"},
		{"negative step delay", func(c *Config) { c.Executor.StepDelayMs = -5 }, "executor.step_delay_ms"},
		{"zero throughput", func(c *Config) { c.Progress.ThroughputTarget = 0 }, "progress.throughput_target"},
		{"bad remote url", func(c *Config) { c.Browser.RemoteURL = "localhost:9222" }, "browser.remote_url"},
		{"credential without username", func(c *Config) {
			c.Browser.Credentials = map[string]CredentialConfig{"twitter": {Password: "pw"}}
		}, "browser.credentials.twitter.username"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.field {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.field)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	cfg := Default()
	cfg.Planner.KnowledgeFile = "~/adtbot/platforms.YML"
	cfg.Browser.RemoteURL = "ws://127.0.0.1:9222/devtools/browser/abc"
	cfg.Logging.Level = "DEBUG"

	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("Validate() = %v, want none", errs)
	}
}

func TestCredentialConfig_ResolvePassword(t *testing.T) {
	t.Setenv("ADTBOT_TEST_PASSWORD", "from-env")

	tests := []struct {
		name string
		cred CredentialConfig
		want string
	}{
		{"inline password", CredentialConfig{Username: "u", Password: "inline", PasswordEnv: "ADTBOT_TEST_PASSWORD"}, "inline"},
		{"env password", CredentialConfig{Username: "u", PasswordEnv: "ADTBOT_TEST_PASSWORD"}, "from-env"},
		{"unset env", CredentialConfig{Username: "u", PasswordEnv: "ADTBOT_TEST_UNSET"}, ""},
		{"nothing", CredentialConfig{Username: "u"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cred.ResolvePassword(); got != tt.want {
				t.Errorf("ResolvePassword() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if got := (ValidationErrors{}).Error(); got != "" {
		t.Errorf("empty Error() = %q", got)
	}

	single := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := single.Error(); got != "a: bad (got: 1)" {
		t.Errorf("single Error() = %q", got)
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: "x", Message: "worse"},
	}
	want := "2 validation errors:\n  1. a: bad (got: 1)\n  2. b: worse (got: x)\n"
	if got := multi.Error(); got != want {
		t.Errorf("multi Error() = %q, want %q", got, want)
	}
}
