package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is overridden at build time through the linker.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the coupler version.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("coupler %s\n", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
