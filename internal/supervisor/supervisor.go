// Package supervisor runs exactly one agent session: it snapshots the
// repository, spawns the agent, folds its event stream, waits for it to
// exit and builds the Summary.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/headless/internal/gitsnap"
	"github.com/fakeyudi/headless/internal/launcher"
	"github.com/fakeyudi/headless/internal/logging"
	"github.com/fakeyudi/headless/internal/report"
	"github.com/fakeyudi/headless/internal/stream"
	"github.com/fakeyudi/headless/internal/watch"
)

const (
	// stderrLimit bounds the child's stderr text carried into the Summary.
	stderrLimit = 500
	// stderrKeep is how much stderr is buffered; the rest is drained.
	stderrKeep = 64 * 1024
)

// Options configures one Run.
type Options struct {
	Session launcher.SessionConfig

	// Command is the agent executable and any fixed leading arguments.
	Command  []string
	Env      map[string]string
	UnsetEnv []string

	Git     gitsnap.Reader
	Printer *stream.Printer
	Logger  *slog.Logger

	WatchFiles     bool
	IgnorePatterns []string

	// Executable is the absolute path of this program, used in the resume
	// command.
	Executable string
	RunID      string
	Now        func() time.Time
}

// Run supervises a single session. The only error it returns is a
// *launcher.StartError; every other failure is folded into the Summary.
// Cancelling ctx terminates the agent the same way a timeout does, without
// marking the session killed.
func Run(ctx context.Context, opts Options) (report.Summary, error) {
	logger := logging.OrNop(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	printer := opts.Printer
	if printer == nil {
		printer = stream.NewPrinter(io.Discard)
	}
	git := opts.Git
	if git == nil {
		git = &gitsnap.ExecReader{Logger: logger}
	}
	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	cfg := opts.Session
	dir := cfg.Dir
	if dir == "" {
		if wd, err := os.Getwd(); err == nil {
			dir = wd
		}
	}
	// Repository reads must still work after ctx is cancelled.
	gitCtx := context.WithoutCancel(ctx)

	started := now()
	startSHA := git.Head(gitCtx, dir)
	logger.Debug("repository snapshot", "dir", dir, "head", startSHA)

	printBanner(printer, cfg)

	var recorder *watch.Recorder
	if opts.WatchFiles {
		r, err := watch.Start(dir, opts.IgnorePatterns, logger)
		if err != nil {
			logger.Warn("file watching disabled", "error", err)
		} else {
			recorder = r
		}
	}

	proc, err := launcher.Start(launcher.Spec{
		Command: opts.Command,
		Args:    launcher.BuildArgs(cfg),
		Dir:     dir,
		Env:     opts.Env,
		Unset:   opts.UnsetEnv,
		Logger:  logger,
	})
	if err != nil {
		if recorder != nil {
			recorder.Stop()
		}
		return report.Summary{}, err
	}

	proc.ArmTimeout(cfg.Timeout, cfg.KillGrace, func() {
		printer.Linef("Timeout: killed after %s", cfg.Timeout)
	})
	exited := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			logger.Warn("cancelled, terminating agent", "pid", proc.Pid())
			proc.Terminate(cfg.KillGrace)
		case <-exited:
		}
	}()

	agg := stream.NewAggregator(printer, logger)
	var stderr strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agg.Consume(proc.Stdout)
	}()
	go func() {
		defer wg.Done()
		collectStderr(&stderr, proc.Stderr)
	}()
	wg.Wait()

	exitCode, waitErr := proc.Wait()
	close(exited)
	finished := now()

	var touched []string
	if recorder != nil {
		touched = recorder.Stop()
	}

	snap := gitsnap.Correlate(gitCtx, git, dir, startSHA)

	state := agg.State()
	if waitErr != nil {
		logger.Warn("agent exit status unknown", "error", waitErr)
		state.Errors = append(state.Errors, waitErr.Error())
	}
	if exitCode != 0 {
		if text := truncateRunes(strings.TrimSpace(stderr.String()), stderrLimit); text != "" {
			state.Errors = append(state.Errors, text)
		}
	}
	logger.Debug("agent exited", "exit_code", exitCode, "killed", proc.Killed(), "tool_calls", state.ToolCalls)

	return report.Build(report.Input{
		RunID:           runID,
		State:           state,
		Git:             snap,
		ExitCode:        exitCode,
		Killed:          proc.Killed(),
		Duration:        finished.Sub(started),
		ConfiguredModel: modelOrDefault(cfg.Model),
		FilesTouched:    touched,
		Executable:      opts.Executable,
	}), nil
}

func printBanner(p *stream.Printer, cfg launcher.SessionConfig) {
	budget := "disabled"
	if cfg.MaxBudgetUSD != nil {
		budget = fmt.Sprintf("$%.2f", *cfg.MaxBudgetUSD)
	}
	timeout := "disabled"
	if cfg.Timeout > 0 {
		timeout = cfg.Timeout.String()
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = launcher.DefaultMaxTurns
	}
	p.Linef("Session starting...")
	p.Detailf("model: %s | max-turns: %d | max-budget: %s | timeout: %s",
		modelOrDefault(cfg.Model), maxTurns, budget, timeout)
	if cfg.Resume != "" {
		p.Detailf("resuming: %s", cfg.Resume)
	}
}

// collectStderr keeps the first stderrKeep bytes of r and discards the
// rest, reading until EOF so the child never blocks on a full pipe.
func collectStderr(dst *strings.Builder, r io.Reader) {
	_, _ = io.Copy(dst, io.LimitReader(r, stderrKeep))
	_, _ = io.Copy(io.Discard, r)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func modelOrDefault(model string) string {
	if model == "" {
		return launcher.DefaultModel
	}
	return model
}
