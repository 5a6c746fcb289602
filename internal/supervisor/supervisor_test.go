package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fakeyudi/headless/internal/gitsnap"
	"github.com/fakeyudi/headless/internal/launcher"
	"github.com/fakeyudi/headless/internal/stream"
)

// TestHelperProcess impersonates the agent. It is not a real test.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	out := os.Stdout
	switch args[1] {
	case "scenario":
		fmt.Fprintln(out, `{"type":"system","subtype":"init","session_id":"sess-42"}`)
		fmt.Fprintln(out, `not json at all`)
		fmt.Fprintln(out, `{"type":"assistant","session_id":"sess-42","message":{"model":"claude-sonnet-4","content":[`+
			`{"type":"tool_use","name":"Read","input":{"file_path":"go.mod"}},`+
			`{"type":"tool_use","name":"Bash","input":{"command":"go test ./..."}}]}}`)
		fmt.Fprintln(out, `{"type":"result","subtype":"success","session_id":"sess-42","num_turns":1,`+
			`"usage":{"input_tokens":1000,"output_tokens":500},"total_cost_usd":0.05,`+
			`"modelUsage":{"claude-sonnet-4":{"contextWindow":200000}}}`)
	case "noresult":
		fmt.Fprintln(out, `{"type":"assistant","message":{"content":[{"type":"text","text":"working on it, please wait a moment"}]}}`)
		time.Sleep(100 * time.Millisecond)
	case "hang":
		fmt.Fprintln(out, `{"type":"system","session_id":"sess-hang"}`)
		time.Sleep(30 * time.Second)
	case "fail":
		fmt.Fprint(os.Stderr, "  "+strings.Repeat("e", 600)+"  ")
		os.Exit(2)
	case "touch":
		os.WriteFile("touched.txt", []byte("hello"), 0o644)
		time.Sleep(200 * time.Millisecond)
	}
	os.Exit(0)
}

type fakeGit struct {
	heads []string // returned by successive Head calls
	calls int
}

func (f *fakeGit) Head(ctx context.Context, dir string) string {
	h := ""
	if f.calls < len(f.heads) {
		h = f.heads[f.calls]
	}
	f.calls++
	return h
}

func (f *fakeGit) Log(ctx context.Context, dir, from, to string) []string {
	return []string{"bbbbbbb agent commit"}
}

func (f *fakeGit) DiffStat(ctx context.Context, dir, from, to string) gitsnap.DiffStat {
	return gitsnap.DiffStat{ChangedFiles: 1, Insertions: 2, Deletions: 1}
}

func (f *fakeGit) UncommittedCount(ctx context.Context, dir string) int { return 3 }

func helperOptions(t *testing.T, mode string, out *bytes.Buffer) Options {
	t.Helper()
	return Options{
		Session: launcher.SessionConfig{Prompt: "do the thing", Dir: t.TempDir()},
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", mode},
		Env:     map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
		Git:     &fakeGit{},
		Printer: stream.NewPrinter(out),
		RunID:   "run-test",
	}
}

func TestRunCompletedSession(t *testing.T) {
	var out bytes.Buffer
	opts := helperOptions(t, "scenario", &out)
	opts.Git = &fakeGit{heads: []string{"aaaaaaaaaaaa", "bbbbbbbbbbbb"}}
	opts.Executable = "/opt/headless"

	s, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if s.ToolCalls != 2 || s.Tokens.ContextUsedPct != 1 || s.CostUSD != 0.05 {
		t.Errorf("summary: tool_calls=%d pct=%d cost=%v", s.ToolCalls, s.Tokens.ContextUsedPct, s.CostUSD)
	}
	if s.ContextWarning || s.Incomplete || s.Killed || s.ExitCode != 0 {
		t.Errorf("flags: %+v", s)
	}
	if s.SessionID == nil || *s.SessionID != "sess-42" || *s.Model != "claude-sonnet-4" {
		t.Errorf("identity: session=%v model=%v", s.SessionID, s.Model)
	}
	if s.RunID != "run-test" {
		t.Errorf("RunID: %q", s.RunID)
	}
	if *s.Git.StartSHA != "aaaaaaa" || *s.Git.EndSHA != "bbbbbbb" || len(s.Git.Commits) != 1 || s.Git.UncommittedChanges != 3 {
		t.Errorf("git: %+v", s.Git)
	}
	if !strings.HasPrefix(*s.ResumeCommand, "/opt/headless run --resume sess-42") {
		t.Errorf("resume: %s", *s.ResumeCommand)
	}
	if len(s.Errors) != 0 {
		t.Errorf("errors: %v", s.Errors)
	}

	progress := out.String()
	for _, want := range []string{"Session starting...", "model: sonnet | max-turns: 100", "Session: sess-42", "Read: go.mod", "Bash: go test ./..."} {
		if !strings.Contains(progress, want) {
			t.Errorf("progress missing %q:\n%s", want, progress)
		}
	}
}

func TestRunWithoutResultIsIncomplete(t *testing.T) {
	var out bytes.Buffer
	s, err := Run(context.Background(), helperOptions(t, "noresult", &out))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Incomplete || s.ExitCode != 0 || s.Killed {
		t.Errorf("flags: incomplete=%v exit=%d killed=%v", s.Incomplete, s.ExitCode, s.Killed)
	}
	if s.Tokens.Total() != 0 || s.CostUSD != 0 {
		t.Errorf("tokens should be zero: %+v", s.Tokens)
	}
	if s.SessionID != nil || s.ResumeCommand != nil {
		t.Error("no session id was observed")
	}
	if s.Git.StartSHA != nil || len(s.Git.Commits) != 0 || s.Git.UncommittedChanges != 0 {
		t.Errorf("outside a repository the git summary is empty: %+v", s.Git)
	}
}

func TestRunTimeoutKillsAgent(t *testing.T) {
	var out bytes.Buffer
	opts := helperOptions(t, "hang", &out)
	opts.Session.Timeout = 300 * time.Millisecond
	opts.Session.KillGrace = 2 * time.Second

	start := time.Now()
	s, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 15*time.Second {
		t.Fatal("timeout did not stop the agent")
	}
	if !s.Killed || s.ExitCode != -1 || !s.Incomplete {
		t.Errorf("killed=%v exit=%d incomplete=%v", s.Killed, s.ExitCode, s.Incomplete)
	}
	if s.Tokens.Total() != 0 {
		t.Errorf("tokens should be zero: %+v", s.Tokens)
	}
	if *s.SessionID != "sess-hang" {
		t.Errorf("session id seen before the timeout should be kept, got %v", s.SessionID)
	}
	if !strings.Contains(out.String(), "Timeout: killed after 300ms") {
		t.Errorf("timeout line missing:\n%s", out.String())
	}
}

func TestRunCancelledContextTerminates(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	s, err := Run(ctx, helperOptions(t, "hang", &out))
	if err != nil {
		t.Fatal(err)
	}
	if s.Killed {
		t.Error("cancellation is not a timeout")
	}
	if s.ExitCode != -1 {
		t.Errorf("signalled agent should report -1, got %d", s.ExitCode)
	}
}

func TestRunCapturesStderrOnFailure(t *testing.T) {
	var out bytes.Buffer
	s, err := Run(context.Background(), helperOptions(t, "fail", &out))
	if err != nil {
		t.Fatal(err)
	}
	if s.ExitCode != 2 {
		t.Errorf("exit code: want 2, got %d", s.ExitCode)
	}
	if len(s.Errors) != 1 || s.Errors[0] != strings.Repeat("e", 500) {
		t.Errorf("stderr should be trimmed and cut to 500 characters, got %d errors", len(s.Errors))
	}
}

func TestRunStartFailure(t *testing.T) {
	var out bytes.Buffer
	opts := helperOptions(t, "scenario", &out)
	opts.Command = []string{"headless-agent-that-does-not-exist"}

	_, err := Run(context.Background(), opts)
	var startErr *launcher.StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *launcher.StartError, got %T: %v", err, err)
	}
}

func TestRunRecordsTouchedFiles(t *testing.T) {
	var out bytes.Buffer
	opts := helperOptions(t, "touch", &out)
	opts.WatchFiles = true

	s, err := Run(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(s.FilesTouched) != 1 || s.FilesTouched[0] != "touched.txt" {
		t.Errorf("files touched: %v", s.FilesTouched)
	}
	if _, err := os.Stat(filepath.Join(opts.Session.Dir, "touched.txt")); err != nil {
		t.Errorf("agent should run in the session directory: %v", err)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo", 2); got != "hé" {
		t.Errorf("truncateRunes = %q", got)
	}
	if got := truncateRunes("ok", 10); got != "ok" {
		t.Errorf("truncateRunes = %q", got)
	}
}
