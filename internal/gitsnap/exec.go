package gitsnap

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/fakeyudi/headless/internal/logging"
)

// Runner executes a git command in dir and returns its stdout.
// This abstraction allows mocking in tests.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

// ExecReader implements Reader by running the git binary.
type ExecReader struct {
	Runner Runner // if nil, uses the real git subprocess
	Logger *slog.Logger
}

// defaultRunner runs git as a real subprocess. Stderr is folded into the
// error so failures are diagnosable at debug level.
func defaultRunner(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (e *ExecReader) run(ctx context.Context, dir string, args ...string) (string, bool) {
	runner := e.Runner
	if runner == nil {
		runner = defaultRunner
	}
	out, err := runner(ctx, dir, args...)
	if err != nil {
		logging.OrNop(e.Logger).Debug("git query failed", "dir", dir, "error", err)
		return "", false
	}
	return out, true
}

func (e *ExecReader) Head(ctx context.Context, dir string) string {
	out, ok := e.run(ctx, dir, "rev-parse", "HEAD")
	if !ok {
		return ""
	}
	return strings.TrimSpace(out)
}

func (e *ExecReader) Log(ctx context.Context, dir, from, to string) []string {
	out, ok := e.run(ctx, dir, "log", "--oneline", from+".."+to)
	if !ok {
		return []string{}
	}
	return parseLogLines(out)
}

func (e *ExecReader) DiffStat(ctx context.Context, dir, from, to string) DiffStat {
	out, ok := e.run(ctx, dir, "diff", "--shortstat", from+".."+to)
	if !ok {
		return DiffStat{}
	}
	return parseShortStat(out)
}

func (e *ExecReader) UncommittedCount(ctx context.Context, dir string) int {
	out, ok := e.run(ctx, dir, "status", "--porcelain")
	if !ok {
		return 0
	}
	return len(parseLogLines(out))
}

// parseLogLines splits git output into individual lines, discarding empty
// lines.
func parseLogLines(output string) []string {
	lines := strings.Split(output, "\n")
	result := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimRight(l, "\r")
		if strings.TrimSpace(l) != "" {
			result = append(result, l)
		}
	}
	return result
}

var (
	filesChangedRe = regexp.MustCompile(`(\d+) files? changed`)
	insertionsRe   = regexp.MustCompile(`(\d+) insertions?`)
	deletionsRe    = regexp.MustCompile(`(\d+) deletions?`)
)

// parseShortStat reads the summary line of `git diff --stat`/`--shortstat`,
// e.g. " 3 files changed, 10 insertions(+), 2 deletions(-)". Only the last
// non-empty line is considered.
func parseShortStat(output string) DiffStat {
	lines := parseLogLines(output)
	if len(lines) == 0 {
		return DiffStat{}
	}
	summary := lines[len(lines)-1]
	return DiffStat{
		ChangedFiles: firstInt(filesChangedRe, summary),
		Insertions:   firstInt(insertionsRe, summary),
		Deletions:    firstInt(deletionsRe, summary),
	}
}

func firstInt(re *regexp.Regexp, s string) int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
