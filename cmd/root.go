package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/headless/internal/config"
	"github.com/fakeyudi/headless/internal/history"
	"github.com/fakeyudi/headless/internal/logging"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// logger is the diagnostics logger, populated in PersistentPreRunE.
var logger = logging.Nop()

var (
	logLevel  string
	logFormat string
)

// openStore is replaced in tests.
var openStore = history.NewStore

// executable resolves the path used in resume commands.
var executable = os.Executable

var rootCmd = &cobra.Command{
	Use:           "headless",
	Short:         "Run a coding agent headlessly and report what it did",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(cmd.ErrOrStderr(), logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l

		c, err := loadConfig(cmd)
		if err != nil {
			if supervisesAgent(cmd) {
				// Callers of run and resume always get a summary to parse.
				return emitFatal(cmd, uuid.NewString(), err, true)
			}
			return err
		}
		cfg = c
		logger.Debug("configuration loaded", "model", cfg.Model, "git_backend", cfg.GitBackend)
		return nil
	},
}

// exitError carries an exit status for an error that has already been
// reported to the user.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	global, err := config.LoadGlobal()
	if err != nil {
		return config.Config{}, fmt.Errorf("loading global config: %w", err)
	}
	project, err := config.LoadProject(projectDir(cmd))
	if err != nil {
		return config.Config{}, fmt.Errorf("loading project config: %w", err)
	}
	return config.Merge(global, project), nil
}

// supervisesAgent reports whether cmd runs an agent session.
func supervisesAgent(cmd *cobra.Command) bool {
	return cmd.Name() == "run" || cmd.Name() == "resume"
}

// projectDir is the directory whose .headlessconfig applies: --cwd when the
// command has one, otherwise the process working directory.
func projectDir(cmd *cobra.Command) string {
	if f := cmd.Flags().Lookup("cwd"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "diagnostic log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "diagnostic log format: text or json")
}
