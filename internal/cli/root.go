// Package cli holds the sentinel command tree.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/sentinel/internal/config"
	"github.com/ent0n29/sentinel/internal/logging"
)

var (
	policyPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Sentinel - conversation safety analysis service",
	Long: `Sentinel screens chat messages for abuse, crisis signals, escalating
conversations and age-inappropriate content, and turns the combined signals
into a concern level and a set of required actions.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&policyPath, "policy", "", "Path to policy YAML file (overrides POLICY_FILE)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides APP_LOG_LEVEL)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig applies persistent flag overrides on top of config.Load.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if policyPath != "" {
		cfg.PolicyFile = policyPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg config.Config) (zerolog.Logger, error) {
	return logging.New(cfg.LogLevel, cfg.LogFormat, nil)
}
