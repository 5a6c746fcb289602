// Package report builds the completion Summary of a supervised session and
// serialises it for callers and for humans.
package report

import (
	"math"
	"time"

	"github.com/fakeyudi/headless/internal/gitsnap"
	"github.com/fakeyudi/headless/internal/stream"
)

const (
	// DefaultContextWindow applies when the result record reports none.
	DefaultContextWindow = 200000
	// ContextWarningPct is the usage above which ContextWarning is set.
	ContextWarningPct = 60
	// ResumePrompt is the prompt used when continuing a session.
	ResumePrompt = "Continue from where you left off"
)

// Summary is the sole output of a session.
type Summary struct {
	SessionID       *string    `json:"session_id" yaml:"session_id"`
	RunID           string     `json:"run_id" yaml:"run_id"`
	Model           *string    `json:"model" yaml:"model"`
	ExitCode        int        `json:"exit_code" yaml:"exit_code"`
	DurationSeconds int64      `json:"duration_seconds" yaml:"duration_seconds"`
	CostUSD         float64    `json:"cost_usd" yaml:"cost_usd"`
	Tokens          TokenUsage `json:"tokens" yaml:"tokens"`
	ToolCalls       int        `json:"tool_calls" yaml:"tool_calls"`
	Turns           *int       `json:"turns,omitempty" yaml:"turns,omitempty"`
	ResultSubtype   string     `json:"result_subtype,omitempty" yaml:"result_subtype,omitempty"`
	Git             GitSummary `json:"git" yaml:"git"`
	Errors          []string   `json:"errors" yaml:"errors"`
	FilesTouched    []string   `json:"files_touched,omitempty" yaml:"files_touched,omitempty"`
	ContextWarning  bool       `json:"context_warning" yaml:"context_warning"`
	Incomplete      bool       `json:"incomplete,omitempty" yaml:"incomplete,omitempty"`
	Killed          bool       `json:"killed,omitempty" yaml:"killed,omitempty"`
	ResumeCommand   *string    `json:"resume_command" yaml:"resume_command"`
}

// TokenUsage reports token consumption against the model's context window.
type TokenUsage struct {
	Input          int64 `json:"input" yaml:"input"`
	Output         int64 `json:"output" yaml:"output"`
	CacheRead      int64 `json:"cache_read" yaml:"cache_read"`
	CacheCreation  int64 `json:"cache_creation" yaml:"cache_creation"`
	ContextWindow  int64 `json:"context_window" yaml:"context_window"`
	ContextUsedPct int   `json:"context_used_pct" yaml:"context_used_pct"`
}

// Total is the sum of all four counters.
func (t TokenUsage) Total() int64 {
	return t.Input + t.Output + t.CacheRead + t.CacheCreation
}

// GitSummary is the repository correlation of a session. Shas are
// abbreviated.
type GitSummary struct {
	StartSHA           *string  `json:"start_sha" yaml:"start_sha"`
	EndSHA             *string  `json:"end_sha" yaml:"end_sha"`
	Commits            []string `json:"commits" yaml:"commits"`
	ChangedFiles       int      `json:"changed_files" yaml:"changed_files"`
	Insertions         int      `json:"insertions" yaml:"insertions"`
	Deletions          int      `json:"deletions" yaml:"deletions"`
	UncommittedChanges int      `json:"uncommitted_changes" yaml:"uncommitted_changes"`
}

// Input is everything Build needs once the agent has exited.
type Input struct {
	RunID           string
	State           stream.SessionState
	Git             gitsnap.Snapshot
	ExitCode        int
	Killed          bool
	Duration        time.Duration
	ConfiguredModel string
	FilesTouched    []string // nil when touched files were not recorded
	Executable      string   // absolute path used in the resume command
}

// Build assembles the Summary. It never fails: anything missing from the
// input degrades to zero values.
func Build(in Input) Summary {
	st := in.State
	s := Summary{
		RunID:           in.RunID,
		ExitCode:        in.ExitCode,
		DurationSeconds: int64(math.Round(in.Duration.Seconds())),
		ToolCalls:       st.ToolCalls,
		Git:             gitSummary(in.Git),
		Errors:          append([]string{}, st.Errors...),
		FilesTouched:    in.FilesTouched,
		Incomplete:      st.Incomplete,
		Killed:          in.Killed,
		Tokens:          TokenUsage{ContextWindow: DefaultContextWindow},
	}
	if in.Killed {
		s.ExitCode = -1
	}

	sessionID := st.SessionID
	model := st.Model
	if r := st.Result; r != nil {
		if r.Usage != nil {
			s.Tokens.Input = r.Usage.InputTokens
			s.Tokens.Output = r.Usage.OutputTokens
			s.Tokens.CacheRead = r.Usage.CacheReadInputTokens
			s.Tokens.CacheCreation = r.Usage.CacheCreationInputTokens
		}
		s.CostUSD = r.TotalCostUSD
		if sessionID == "" {
			sessionID = r.SessionID
		}
		if len(r.ModelUsage) > 0 {
			first := r.ModelUsage[0]
			if first.ContextWindow > 0 {
				s.Tokens.ContextWindow = first.ContextWindow
			}
			if model == "" {
				model = first.Model
			}
		}
		turns := r.NumTurns
		s.Turns = &turns
		s.ResultSubtype = r.Subtype
	}
	if model == "" {
		model = in.ConfiguredModel
	}
	if model != "" {
		s.Model = &model
	}

	s.Tokens.ContextUsedPct = ContextPct(s.Tokens.Total(), s.Tokens.ContextWindow)
	s.ContextWarning = s.Tokens.ContextUsedPct > ContextWarningPct

	if sessionID != "" {
		s.SessionID = &sessionID
		cmd := ResumeCommand(in.Executable, sessionID)
		s.ResumeCommand = &cmd
	}
	return s
}

// ContextPct is round(100 * total / window), or 0 for a non-positive window.
func ContextPct(total, window int64) int {
	if window <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(total) / float64(window)))
}

// ResumeCommand is the shell command that continues sessionID.
func ResumeCommand(executable, sessionID string) string {
	if executable == "" {
		executable = "headless"
	}
	return executable + " run --resume " + sessionID + ` --prompt "` + ResumePrompt + `"`
}

// Fatal is the near-empty Summary emitted when the supervisor itself fails.
func Fatal(runID string, err error) Summary {
	return Summary{
		RunID:    runID,
		ExitCode: 1,
		Git:      GitSummary{Commits: []string{}},
		Errors:   []string{err.Error()},
	}
}

func gitSummary(snap gitsnap.Snapshot) GitSummary {
	g := GitSummary{
		StartSHA:           shortPtr(snap.StartSHA),
		EndSHA:             shortPtr(snap.EndSHA),
		Commits:            append([]string{}, snap.Commits...),
		ChangedFiles:       snap.Diff.ChangedFiles,
		Insertions:         snap.Diff.Insertions,
		Deletions:          snap.Diff.Deletions,
		UncommittedChanges: snap.Uncommitted,
	}
	return g
}

func shortPtr(sha string) *string {
	if sha == "" {
		return nil
	}
	s := gitsnap.Short(sha)
	return &s
}
