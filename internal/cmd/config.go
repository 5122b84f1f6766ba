package cmd

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/raedjah1/adtbot/internal/config"
)

// settableKeys lists the keys accepted by "config set" and their types.
var settableKeys = map[string]string{
	"decision.max_retries":       "int",
	"decision.base_delay_ms":     "int",
	"decision.jitter":            "bool",
	"decision.history_size":      "int",
	"planner.default_retries":    "int",
	"planner.retry_delay_ms":     "int",
	"planner.knowledge_file":     "string",
	"planner.watch_knowledge":    "bool",
	"planner.optimize":           "bool",
	"executor.max_concurrent":    "int",
	"executor.parallel":          "bool",
	"executor.step_delay_ms":     "int",
	"progress.throughput_target": "float",
	"progress.keep_finished":     "bool",
	"storage.patterns_db":        "string",
	"browser.remote_url":         "string",
	"browser.headless":           "bool",
	"browser.user_agent":         "string",
	"logging.level":              "string",
	"logging.dir":                "string",
}

func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "View or modify adtbot configuration",
		Long: `View or modify adtbot configuration.

Without arguments, displays the current configuration.
Use subcommands to modify settings or create a config file.`,
		RunE: runConfigShow,
	}

	configCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show current configuration",
			RunE:  runConfigShow,
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Set a configuration value",
			Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  adtbot config set executor.max_concurrent 3
  adtbot config set storage.patterns_db ~/.local/share/adtbot/patterns.db

Valid keys:
  ` + strings.Join(slices.Sorted(maps.Keys(settableKeys)), "\n  "),
			Args: cobra.ExactArgs(2),
			RunE: runConfigSet,
		},
		&cobra.Command{
			Use:   "init",
			Short: "Create a default config file",
			Long:  `Create a default config file at ~/.config/adtbot/config.yaml with all available options.`,
			RunE:  runConfigInit,
		},
		&cobra.Command{
			Use:   "path",
			Short: "Show the config file path",
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintln(cmd.OutOrStdout(), config.ConfigFile())
				return nil
			},
		},
	)
	return configCmd
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	p := newPrinter(cmd.OutOrStdout())

	if used := viper.ConfigFileUsed(); used != "" {
		p.printf("%s %s\n\n", p.muted("Config file:"), used)
	} else {
		p.printf("%s %s\n\n", p.muted("Config file:"), "(none - using defaults)")
	}

	// Credentials are never echoed
	data, err := yaml.Marshal(configView(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	p.printf("%s", data)
	if n := len(cfg.Browser.Credentials); n > 0 {
		p.printf("%s %d platform(s)\n", p.muted("credentials configured for"), n)
	}
	return nil
}

// configView renders a Config with its mapstructure key names.
func configView(cfg *config.Config) map[string]any {
	return map[string]any{
		"decision": map[string]any{
			"max_retries":          cfg.Decision.MaxRetries,
			"base_delay_ms":        cfg.Decision.BaseDelayMs,
			"jitter":               cfg.Decision.Jitter,
			"non_retryable_errors": cfg.Decision.NonRetryableErrors,
			"history_size":         cfg.Decision.HistorySize,
		},
		"planner": map[string]any{
			"default_retries": cfg.Planner.DefaultRetries,
			"retry_delay_ms":  cfg.Planner.RetryDelayMs,
			"knowledge_file":  cfg.Planner.KnowledgeFile,
			"watch_knowledge": cfg.Planner.WatchKnowledge,
			"optimize":        cfg.Planner.Optimize,
		},
		"executor": map[string]any{
			"max_concurrent": cfg.Executor.MaxConcurrent,
			"parallel":       cfg.Executor.Parallel,
			"step_delay_ms":  cfg.Executor.StepDelayMs,
		},
		"progress": map[string]any{
			"throughput_target": cfg.Progress.ThroughputTarget,
			"keep_finished":     cfg.Progress.KeepFinished,
		},
		"storage": map[string]any{
			"patterns_db": cfg.Storage.PatternsDB,
		},
		"browser": map[string]any{
			"remote_url": cfg.Browser.RemoteURL,
			"headless":   cfg.Browser.Headless,
			"user_agent": cfg.Browser.UserAgent,
		},
		"logging": map[string]any{
			"level": cfg.Logging.Level,
			"dir":   cfg.Logging.Dir,
		},
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	keyType, ok := settableKeys[key]
	if !ok {
		return fmt.Errorf("unknown configuration key: %s\nRun 'adtbot config set --help' to see valid keys", key)
	}

	// Validate the value based on type
	var typedValue any
	switch keyType {
	case "string":
		typedValue = value
	case "bool":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		typedValue = b
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected integer", key)
		}
		typedValue = n
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for %s: expected number", key)
		}
		typedValue = f
	}

	// Reject values the loaded config would refuse
	viper.Set(key, typedValue)
	if _, err := config.Load(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	if err := os.MkdirAll(config.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		configFile = config.ConfigFile()
	}
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Set %s = %v\n", key, typedValue)
	fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'adtbot config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

const defaultConfigFile = `# adtbot configuration

decision:
  # Failure count at which retries always stop
  max_retries: 3
  # Base delay between actions in milliseconds (minimum 100)
  base_delay_ms: 1000
  # Randomize timing decisions by up to 20%
  jitter: true
  # Error message substrings that are never retried
  non_retryable_errors:
    - authentication failed
    - permission denied
    - element not found
  history_size: 1000

planner:
  # Retries given to every generated step
  default_retries: 3
  retry_delay_ms: 2000
  # YAML file overriding the built-in platform table, e.g. ~/.config/adtbot/platforms.yaml
  knowledge_file: ""
  # Reload knowledge_file when it changes
  watch_knowledge: true
  # Remove duplicate steps and mark parallel steps before running
  optimize: true

executor:
  # Maximum number of simultaneously active workflows
  max_concurrent: 5
  # Run independent ready steps concurrently
  parallel: true
  # Pacing delay between sequential steps in milliseconds
  step_delay_ms: 500

progress:
  # Steps per minute that count as full throughput
  throughput_target: 10
  keep_finished: true

storage:
  # SQLite file for learned decision patterns; empty keeps them in memory
  patterns_db: ""

browser:
  # DevTools endpoint of a running browser; empty launches a local one
  remote_url: ""
  headless: true
  user_agent: ""
  # credentials:
  #   twitter:
  #     username: me@example.com
  #     password_env: ADTBOT_TWITTER_PASSWORD

logging:
  level: info
  # Directory for adtbot.log; empty logs to stderr
  dir: ""
`
