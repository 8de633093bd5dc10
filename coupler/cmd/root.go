// Package cmd provides the command-line interface for the coupler.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use: "coupler",
	Short: "Coupler CLI tool can perform common tasks related to " +
		"configuring and inspecting coupled simulations.",
	Long: `Coupler CLI tool can perform common tasks related to ` +
		`configuring and inspecting coupled simulations. Currently, it ` +
		`supports validating run configurations and summarizing recorded ` +
		`runs.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env file can carry COUPLER_* overrides for local runs.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the run configuration file")
}
