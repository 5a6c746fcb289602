package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/headless/internal/report"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded runs, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		entries, err := store.List(historyLimit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no recorded sessions")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tSESSION\tEXIT\tTOOLS\tCOMMITS\tCOST\tFLAGS")
		for _, e := range entries {
			s := e.Summary
			flags := report.Flags(s)
			if flags == "" {
				flags = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t$%.2f\t%s\n",
				humanize.Time(e.SavedAt), shortID(s.SessionID), s.ExitCode,
				s.ToolCalls, len(s.Git.Commits), s.CostUSD, flags)
		}
		return tw.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to list (0 for all)")
	rootCmd.AddCommand(historyCmd)
}
