package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "forgemesh",
	Short: "Multi-agent scaffolding orchestrator",
	Long: `Forgemesh coordinates specialized worker agents that scaffold software
projects: a project request is planned into phases, phase tasks are
scheduled against bounded resource pools, and coordination protocols
drive the workers until a quality-gated manifest is produced.

Configuration resolves in order: flags, FORGEMESH_* environment
variables, then the YAML file given via --config.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a forgemesh YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	cobra.CheckErr(viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")))
	cobra.CheckErr(viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level")))

	viper.SetEnvPrefix("FORGEMESH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}
