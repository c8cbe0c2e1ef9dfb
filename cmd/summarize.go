package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/inference-sim/kvrouter/router/trace"
)

// summarizeCmd prints aggregate statistics for a decision log
var summarizeCmd = &cobra.Command{
	Use:   "summarize <decision-log.csv>",
	Short: "Summarize a decision log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("opening decision log: %w", err)
		}
		defer f.Close()
		records, err := trace.ReadRecords(f)
		if err != nil {
			return err
		}
		trace.Summarize(records).Print(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}
