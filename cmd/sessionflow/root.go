package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/sessionflow/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "sessionflow",
	Short: "Sessionflow orchestrates game session flow",
	Long: `Sessionflow drives the session state machine, scene transitions and world resets
of a game session against in-memory collaborators. Use it to simulate the flow,
expose it over HTTP or hand it to a QA agent over MCP.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("mode", "", "Override the posture: strict or release")
	rootCmd.PersistentFlags().String("log-level", "", "Override the log level")
}

// loadConfig resolves the config file, the environment and the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if cmd.Flags().Changed("mode") {
		cfg.Mode, _ = cmd.Flags().GetString("mode")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
