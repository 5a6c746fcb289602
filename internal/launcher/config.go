// Package launcher turns a session configuration into a running agent
// process: it builds the argument vector, sanitises the inherited
// environment, connects the output streams and enforces the timeout.
package launcher

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrNoPrompt is returned by Validate when neither a prompt nor a session to
// resume was given.
var ErrNoPrompt = errors.New("a prompt or a session id to resume is required")

// DefaultModel and DefaultMaxTurns apply when the caller leaves them unset.
const (
	DefaultModel    = "sonnet"
	DefaultMaxTurns = 100
)

// SessionConfig is the immutable input for one supervised session.
type SessionConfig struct {
	Prompt       string
	Resume       string // session id to continue
	Dir          string // working directory; empty means the caller's
	Model        string
	MaxTurns     int
	MaxBudgetUSD *float64 // nil omits the ceiling
	SystemPrompt string   // appended to the agent's system prompt
	AllowedTools []string
	Timeout      time.Duration // 0 disables
	KillGrace    time.Duration // 0 never escalates past the graceful signal
}

// Validate reports whether c can start a session. A prompt and a resume
// token may both be present; the prompt is then sent to the resumed session.
func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Prompt) == "" && strings.TrimSpace(c.Resume) == "" {
		return ErrNoPrompt
	}
	if c.MaxTurns < 0 {
		return errors.New("max turns must not be negative")
	}
	if c.MaxBudgetUSD != nil && *c.MaxBudgetUSD <= 0 {
		return errors.New("max budget must be positive")
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	return nil
}

// BuildArgs returns the agent arguments for c in the order the agent CLI
// documents them. Unset model and turn limits fall back to the defaults.
func BuildArgs(c SessionConfig) []string {
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	maxTurns := c.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	args := []string{"-p"}
	if c.Prompt != "" {
		args = append(args, c.Prompt)
	}
	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
		"--model", model,
		"--max-turns", strconv.Itoa(maxTurns),
	)
	if c.Resume != "" {
		args = append(args, "--resume", c.Resume)
	}
	if c.MaxBudgetUSD != nil {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(*c.MaxBudgetUSD, 'f', -1, 64))
	}
	if c.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", c.SystemPrompt)
	}
	for _, tool := range c.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}
	return append(args, "--dangerously-skip-permissions")
}

// SplitTools parses a comma-separated tool list, dropping blank entries.
func SplitTools(list string) []string {
	var tools []string
	for _, t := range strings.Split(list, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tools = append(tools, t)
		}
	}
	return tools
}
