package cmd

import (
	"github.com/spf13/cobra"
)

var adminAddr string

var rootCmd = &cobra.Command{
	Use:   "detectenginectl",
	Short: "Operator CLI for the detection engine",
	Long: `detectenginectl inspects and controls a running detect-engine process
through its admin HTTP endpoint, and validates detection-engine
configuration files before they are deployed.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "http://127.0.0.1:9191", "Base URL of the engine's admin HTTP endpoint")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(triggerReloadCmd)
	rootCmd.AddCommand(validateConfigCmd)
}
