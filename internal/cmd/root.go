// Package cmd implements the adtbot command line interface.
package cmd

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raedjah1/adtbot/internal/config"
	"github.com/raedjah1/adtbot/internal/logging"
)

// NewRootCmd builds the adtbot command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "adtbot",
		Short: "Plan and run browser automation workflows",
		Long: `adtbot turns a structured command into a workflow plan of dependent
steps, decides how to act at each step, and executes the plan with
retries, pause/resume/cancel and progress reporting.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initConfig()
			return nil
		},
	}

	// Global flags
	root.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/adtbot/config.yaml)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("logging.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		newPlanCmd(),
		newDecideCmd(),
		newRunCmd(),
		newConfigCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("ADTBOT")
	// Replace dots with underscores for nested keys in env vars
	// e.g., ADTBOT_EXECUTOR_MAX_CONCURRENT for executor.max_concurrent
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// loadRuntime loads the validated config and the logger it describes.
func loadRuntime() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(config.ExpandPath(cfg.Logging.Dir), logging.ParseLevel(cfg.Logging.Level))
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
