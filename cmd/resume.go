package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/headless/internal/history"
	"github.com/fakeyudi/headless/internal/report"
)

var resumeFlags sessionFlags

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Continue a previous session (default: the most recent one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := cmd.Flags()
		sc := resumeFlags.sessionConfig(fs, GetConfig())

		if len(args) == 1 {
			sc.Resume = args[0]
		} else {
			id, err := latestSessionID()
			if err != nil {
				return err
			}
			sc.Resume = id
		}
		if !fs.Changed("prompt") {
			sc.Prompt = report.ResumePrompt
		}
		logger.Debug("resuming session", "session_id", sc.Resume)
		return runSession(cmd, sc, resumeFlags.watchFiles(fs, GetConfig()), resumeFlags.noHistory)
	},
}

// latestSessionID returns the session id of the newest recorded run that
// has one.
func latestSessionID() (string, error) {
	store, err := openStore()
	if err != nil {
		return "", err
	}
	entry, err := store.LatestSession()
	if err != nil {
		if errors.Is(err, history.ErrNoRecords) {
			return "", errors.New("no previous session to resume")
		}
		return "", err
	}
	return *entry.Summary.SessionID, nil
}

func init() {
	resumeFlags.bind(resumeCmd.Flags(), false)
	rootCmd.AddCommand(resumeCmd)
}
