package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/headless/internal/history"
	"github.com/fakeyudi/headless/internal/report"
	"github.com/fakeyudi/headless/internal/tui"
)

var (
	viewFormat  string
	plainOutput bool
)

// runTUI is replaced in tests.
var runTUI = tui.Run

var viewCmd = &cobra.Command{
	Use:   "view [file]",
	Short: "View a session summary (default: the most recent run)",
	Long: "View a session summary. file may be raw summary JSON, captured run output\n" +
		"containing " + report.Sentinel + ", or a Markdown rendering.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, path, err := loadSummary(args)
		if err != nil {
			return err
		}

		format := viewFormat
		if plainOutput {
			format = "plain"
		}
		if format == "" && !isTerminal(cmd) {
			format = "plain"
		}
		if format == "" {
			return runTUI(s, path)
		}

		renderer, err := report.RendererFor(format)
		if err != nil {
			return err
		}
		data, err := renderer.Render(s)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if _, err := out.Write(data); err != nil {
			return err
		}
		if len(data) > 0 && data[len(data)-1] != '\n' {
			fmt.Fprintln(out)
		}
		return nil
	},
}

// loadSummary reads the summary named by args, or the latest recorded run.
func loadSummary(args []string) (*report.Summary, string, error) {
	if len(args) == 0 {
		store, err := openStore()
		if err != nil {
			return nil, "", err
		}
		entry, err := store.Latest()
		if err != nil {
			if errors.Is(err, history.ErrNoRecords) {
				return nil, "", errors.New("no recorded sessions; pass a file to view")
			}
			return nil, "", err
		}
		return entry.Summary, entry.Path, nil
	}

	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", fmt.Errorf("file not found: %s", path)
		}
		return nil, "", err
	}
	s, err := report.ParserFor(data).Parse(data)
	if err != nil {
		if errors.Is(err, report.ErrNoSummary) {
			return nil, "", fmt.Errorf("not a headless summary: %s", path)
		}
		return nil, "", err
	}
	return s, path, nil
}

// isTerminal reports whether cmd writes to an interactive terminal.
func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func init() {
	viewCmd.Flags().StringVarP(&viewFormat, "format", "f", "", "print as json, yaml, markdown or plain instead of opening the viewer")
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of the viewer")
	rootCmd.AddCommand(viewCmd)
}
