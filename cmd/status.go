package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/headless/internal/history"
	"github.com/fakeyudi/headless/internal/report"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the most recent run",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		store, err := openStore()
		if err != nil {
			return err
		}

		entry, err := store.Latest()
		if err != nil {
			if errors.Is(err, history.ErrNoRecords) {
				fmt.Fprintln(w, "no recorded sessions")
				return nil
			}
			return err
		}

		s := entry.Summary
		fmt.Fprintf(w, "Session: %s\n", valueOr(s.SessionID, "(none)"))
		fmt.Fprintf(w, "Run: %s (%s)\n", s.RunID, humanize.Time(entry.SavedAt))
		fmt.Fprintf(w, "Model: %s\n", valueOr(s.Model, "unknown"))
		fmt.Fprintf(w, "Exit code: %d\n", s.ExitCode)
		fmt.Fprintf(w, "Duration: %ds\n", s.DurationSeconds)
		fmt.Fprintf(w, "Tool calls: %d\n", s.ToolCalls)
		fmt.Fprintf(w, "Tokens: %s (%d%% of context)\n", humanize.Comma(s.Tokens.Total()), s.Tokens.ContextUsedPct)
		fmt.Fprintf(w, "Cost: $%.2f\n", s.CostUSD)
		fmt.Fprintf(w, "Commits: %d\n", len(s.Git.Commits))
		if flags := report.Flags(s); flags != "" {
			fmt.Fprintf(w, "Flags: %s\n", flags)
		}
		if len(s.Errors) > 0 {
			fmt.Fprintf(w, "Errors: %d (first: %s)\n", len(s.Errors), firstLine(s.Errors[0]))
		}
		if s.ResumeCommand != nil {
			fmt.Fprintf(w, "Resume: %s\n", *s.ResumeCommand)
		}
		return nil
	},
}

func valueOr(p *string, fallback string) string {
	if p == nil || *p == "" {
		return fallback
	}
	return *p
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

// shortID abbreviates a session id for tables.
func shortID(p *string) string {
	id := valueOr(p, "-")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
