package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fakeyudi/headless/internal/config"
	"github.com/fakeyudi/headless/internal/gitsnap"
	"github.com/fakeyudi/headless/internal/launcher"
	"github.com/fakeyudi/headless/internal/report"
	"github.com/fakeyudi/headless/internal/stream"
	"github.com/fakeyudi/headless/internal/supervisor"
)

// sessionFlags are the options shared by run and resume. Zero values fall
// back to the merged configuration.
type sessionFlags struct {
	prompt       string
	resume       string
	cwd          string
	model        string
	maxTurns     int
	maxBudget    float64
	systemPrompt string
	allowedTools string
	timeout      int
	killGrace    int
	watch        bool
	noHistory    bool
}

// bind registers the flags on fs. withResume adds --resume, which the
// resume command takes as an argument instead.
func (f *sessionFlags) bind(fs *pflag.FlagSet, withResume bool) {
	fs.StringVarP(&f.prompt, "prompt", "p", "", "task prompt for the agent")
	if withResume {
		fs.StringVar(&f.resume, "resume", "", "session id to resume")
	}
	fs.StringVar(&f.cwd, "cwd", "", "working directory for the agent (default current directory)")
	fs.StringVar(&f.model, "model", "", "model identifier (default from config, else sonnet)")
	fs.IntVar(&f.maxTurns, "max-turns", 0, "maximum agent turns (default from config, else 100)")
	fs.Float64Var(&f.maxBudget, "max-budget", 0, "maximum spend in USD")
	fs.StringVar(&f.systemPrompt, "system-prompt", "", "text appended to the agent's system prompt")
	fs.StringVar(&f.allowedTools, "allowed-tools", "", "comma-separated list of tools the agent may use")
	fs.IntVar(&f.timeout, "timeout", 0, "kill the agent after this many seconds")
	fs.IntVar(&f.killGrace, "kill-grace", 0, "seconds between the termination signal and a forced kill (0 never forces)")
	fs.BoolVar(&f.watch, "watch", false, "record files touched in the working directory")
	fs.BoolVar(&f.noHistory, "no-history", false, "do not record this run")
}

// sessionConfig merges the flags over the configuration. Only flags set on
// the command line override configured values.
func (f *sessionFlags) sessionConfig(fs *pflag.FlagSet, c config.Config) launcher.SessionConfig {
	sc := launcher.SessionConfig{
		Prompt:       f.prompt,
		Resume:       f.resume,
		Dir:          f.cwd,
		Model:        c.Model,
		MaxTurns:     c.MaxTurns,
		SystemPrompt: f.systemPrompt,
		AllowedTools: launcher.SplitTools(f.allowedTools),
		Timeout:      time.Duration(c.TimeoutSeconds) * time.Second,
		KillGrace:    time.Duration(c.Grace()) * time.Second,
	}
	if f.model != "" {
		sc.Model = f.model
	}
	if fs.Changed("max-turns") {
		sc.MaxTurns = f.maxTurns
	}
	// An explicit 0 means no budget cap.
	if fs.Changed("max-budget") && f.maxBudget != 0 {
		budget := f.maxBudget
		sc.MaxBudgetUSD = &budget
	}
	if fs.Changed("timeout") {
		sc.Timeout = time.Duration(f.timeout) * time.Second
	}
	if fs.Changed("kill-grace") {
		sc.KillGrace = time.Duration(f.killGrace) * time.Second
	}
	return sc
}

func (f *sessionFlags) watchFiles(fs *pflag.FlagSet, c config.Config) bool {
	if fs.Changed("watch") {
		return f.watch
	}
	return c.Watch()
}

var runFlags sessionFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one agent session and print its summary",
	Long: "Run one agent session in the working directory. Progress lines are printed\n" +
		"as the agent works, followed by " + report.Sentinel + " and the JSON summary.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fs := cmd.Flags()
		sc := runFlags.sessionConfig(fs, GetConfig())
		return runSession(cmd, sc, runFlags.watchFiles(fs, GetConfig()), runFlags.noHistory)
	},
}

// runSession validates sc, supervises the agent, prints the summary and
// records it. A spawn failure emits the fatal summary and exits 1.
func runSession(cmd *cobra.Command, sc launcher.SessionConfig, watchFiles, noHistory bool) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	c := GetConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exe, err := executable()
	if err != nil {
		logger.Debug("cannot resolve executable path", "error", err)
		exe = ""
	}

	out := cmd.OutOrStdout()
	printer := stream.NewPrinter(out)
	runID := uuid.NewString()
	summary, err := supervisor.Run(ctx, supervisor.Options{
		Session:        sc,
		Command:        c.AgentCommand,
		UnsetEnv:       c.UnsetEnv,
		Git:            gitsnap.New(c.GitBackend, logger),
		Printer:        printer,
		Logger:         logger,
		WatchFiles:     watchFiles,
		IgnorePatterns: c.IgnorePatterns,
		Executable:     exe,
		RunID:          runID,
	})
	if err != nil {
		return emitFatal(cmd, runID, err, noHistory)
	}

	if err := report.Emit(printer, out, summary); err != nil {
		return err
	}
	if !noHistory {
		record(&summary)
	}
	return nil
}

// emitFatal prints the fatal summary for err and returns exit status 1.
func emitFatal(cmd *cobra.Command, runID string, err error, noHistory bool) error {
	fatal := report.Fatal(runID, err)
	if perr := report.EmitPayload(cmd.OutOrStdout(), fatal); perr != nil {
		logger.Error("writing summary", "error", perr)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Fatal: %s\n", err)
	if !noHistory {
		record(&fatal)
	}
	return &exitError{code: 1, err: err}
}

// record stores s and prunes old runs. Failures are logged only.
func record(s *report.Summary) {
	store, err := openStore()
	if err != nil {
		logger.Warn("run history unavailable", "error", err)
		return
	}
	path, err := store.Save(s, time.Now())
	if err != nil {
		logger.Warn("failed to record run", "error", err)
		return
	}
	logger.Debug("run recorded", "path", path)
	if removed, err := store.Prune(GetConfig().HistoryLimit); err != nil {
		logger.Warn("failed to prune run history", "error", err)
	} else if removed > 0 {
		logger.Debug("pruned run history", "removed", removed)
	}
}

func init() {
	runFlags.bind(runCmd.Flags(), true)
	rootCmd.AddCommand(runCmd)
}
