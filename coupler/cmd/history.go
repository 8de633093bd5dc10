package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/partsim/coupler/recording"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Summarize a recorded run.",
	Long: "`history [database file]` prints the committed time windows of " +
		"a recorded coupling run.",
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) < 1 {
			fmt.Fprintln(os.Stderr,
				"Error: database file argument is required")
			os.Exit(1)
		}

		reader := recording.NewReader(args[0])
		defer reader.Close()

		reader.MapTable("window_log", recording.WindowEntry{})

		windows, total, err := reader.Query(
			context.Background(), "window_log",
			recording.QueryParams{OrderBy: "Window"})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
			os.Exit(1)
		}

		for _, w := range windows {
			entry := w.(*recording.WindowEntry)
			fmt.Printf("window %4d  t=%-12g  %d iterations\n",
				entry.Window, entry.EndTime, entry.Iterations)
		}

		fmt.Printf("%d windows committed\n", total)
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
}
