package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/partsim/coupler/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a run configuration.",
	Long: "`validate --config [file]` loads the configuration and checks " +
		"its cross references.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		fmt.Printf("Configuration %q is valid.\n", cfg.AppName)
		fmt.Printf("  participants: %d\n", len(cfg.Participants))
		fmt.Printf("  meshes:       %d\n", len(cfg.Meshes))
		fmt.Printf("  connections:  %d\n", len(cfg.Connections))
		fmt.Printf("  scheme:       %s with %d exchanges\n",
			cfg.Scheme.Kind, len(cfg.Scheme.Exchanges))
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
