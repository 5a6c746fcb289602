package launcher

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// TestHelperProcess is not a real test. It is re-executed by the tests
// below to stand in for the agent executable.
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
	switch args[1] {
	case "exit3":
		os.Stderr.WriteString("boom\n")
		os.Exit(3)
	case "env":
		_, present := os.LookupEnv("CLAUDECODE")
		if present {
			os.Stdout.WriteString("CLAUDECODE=present\n")
		} else {
			os.Stdout.WriteString("CLAUDECODE=absent\n")
		}
		os.Stdout.WriteString("EXTRA=" + os.Getenv("EXTRA") + "\n")
	case "args":
		os.Stdout.WriteString(strings.Join(args[2:], "|") + "\n")
	case "sleep":
		time.Sleep(30 * time.Second)
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		time.Sleep(30 * time.Second)
	}
	os.Exit(0)
}

func helperSpec(mode string, extra ...string) Spec {
	return Spec{
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", mode},
		Args:    extra,
		Env:     map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
	}
}

// run drains both streams of p and waits for it to exit.
func run(t *testing.T, p *Process) (stdout, stderr string, code int) {
	t.Helper()
	outc := make(chan string, 1)
	go func() {
		b, _ := io.ReadAll(p.Stderr)
		outc <- string(b)
	}()
	out, _ := io.ReadAll(p.Stdout)
	stderr = <-outc
	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return string(out), stderr, code
}

func TestValidate(t *testing.T) {
	budget := 0.0
	cases := []struct {
		name    string
		cfg     SessionConfig
		wantErr bool
	}{
		{"prompt only", SessionConfig{Prompt: "fix it"}, false},
		{"resume only", SessionConfig{Resume: "abc"}, false},
		{"both", SessionConfig{Prompt: "more", Resume: "abc"}, false},
		{"neither", SessionConfig{}, true},
		{"blank prompt", SessionConfig{Prompt: "   "}, true},
		{"zero budget", SessionConfig{Prompt: "x", MaxBudgetUSD: &budget}, true},
		{"negative timeout", SessionConfig{Prompt: "x", Timeout: -time.Second}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if (err != nil) != c.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, c.wantErr)
			}
		})
	}
	if !errors.Is(SessionConfig{}.Validate(), ErrNoPrompt) {
		t.Error("empty config should return ErrNoPrompt")
	}
}

func TestBuildArgsFullConfig(t *testing.T) {
	budget := 2.5
	got := BuildArgs(SessionConfig{
		Prompt:       "add tests",
		Resume:       "sess-1",
		Model:        "opus",
		MaxTurns:     12,
		MaxBudgetUSD: &budget,
		SystemPrompt: "be brief",
		AllowedTools: []string{"Read", "Bash"},
	})
	want := []string{
		"-p", "add tests",
		"--output-format", "stream-json",
		"--verbose",
		"--model", "opus",
		"--max-turns", "12",
		"--resume", "sess-1",
		"--max-budget-usd", "2.5",
		"--append-system-prompt", "be brief",
		"--allowedTools", "Read",
		"--allowedTools", "Bash",
		"--dangerously-skip-permissions",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildArgs:\n got %q\nwant %q", got, want)
	}
}

func TestBuildArgsDefaultsAndOmissions(t *testing.T) {
	got := BuildArgs(SessionConfig{Resume: "sess-2"})
	want := []string{
		"-p",
		"--output-format", "stream-json",
		"--verbose",
		"--model", "sonnet",
		"--max-turns", "100",
		"--resume", "sess-2",
		"--dangerously-skip-permissions",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildArgs:\n got %q\nwant %q", got, want)
	}
}

// Property: every allowed tool appears exactly once behind its own flag.
func TestBuildArgsOneFlagPerTool(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		tools := rapid.SliceOfDistinct(rapid.StringMatching(`[A-Z][a-z]{2,8}`), func(s string) string { return s }).Draw(t, "tools")
		args := BuildArgs(SessionConfig{Prompt: "p", AllowedTools: tools})
		var seen []string
		for i, a := range args {
			if a == "--allowedTools" {
				seen = append(seen, args[i+1])
			}
		}
		if len(tools) == 0 && len(seen) == 0 {
			return
		}
		if !reflect.DeepEqual(seen, tools) {
			t.Fatalf("tools %v, flags %v", tools, seen)
		}
	})
}

func TestSplitTools(t *testing.T) {
	got := SplitTools(" Read, Bash,,  ,Edit ")
	want := []string{"Read", "Bash", "Edit"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitTools = %q, want %q", got, want)
	}
	if SplitTools("") != nil {
		t.Error("empty list should yield nil")
	}
}

func TestEnvironRemovesAndOverrides(t *testing.T) {
	base := []string{"PATH=/bin", "CLAUDECODE=1", "HOME=/root", "EXTRA=old"}
	got := Environ(base, map[string]string{"EXTRA": "new"}, []string{"CLAUDECODE"})
	want := []string{"PATH=/bin", "HOME=/root", "EXTRA=new"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Environ = %q, want %q", got, want)
	}
	if len(base) != 4 || base[1] != "CLAUDECODE=1" {
		t.Error("base environment must not be mutated")
	}
}

func TestStartMissingExecutable(t *testing.T) {
	_, err := Start(Spec{Command: []string{"headless-no-such-agent-binary"}})
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "headless-no-such-agent-binary") {
		t.Errorf("error should name the command: %v", err)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	_, err := Start(Spec{})
	var startErr *StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
}

func TestProcessExitCodeAndStderr(t *testing.T) {
	p, err := Start(helperSpec("exit3"))
	if err != nil {
		t.Fatal(err)
	}
	_, stderr, code := run(t, p)
	if code != 3 {
		t.Errorf("exit code: want 3, got %d", code)
	}
	if strings.TrimSpace(stderr) != "boom" {
		t.Errorf("stderr: got %q", stderr)
	}
	if p.Killed() {
		t.Error("process without timeout should not be marked killed")
	}
}

func TestProcessEnvironmentSanitised(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	spec := helperSpec("env")
	spec.Unset = []string{"CLAUDECODE"}
	spec.Env["EXTRA"] = "set"
	p, err := Start(spec)
	if err != nil {
		t.Fatal(err)
	}
	out, _, _ := run(t, p)
	if !strings.Contains(out, "CLAUDECODE=absent") {
		t.Errorf("CLAUDECODE should be removed, got %q", out)
	}
	if !strings.Contains(out, "EXTRA=set") {
		t.Errorf("override should be applied, got %q", out)
	}
	if os.Getenv("CLAUDECODE") != "1" {
		t.Error("parent environment must be left untouched")
	}
}

func TestProcessReceivesArgs(t *testing.T) {
	p, err := Start(helperSpec("args", BuildArgs(SessionConfig{Prompt: "hi"})...))
	if err != nil {
		t.Fatal(err)
	}
	out, _, _ := run(t, p)
	if !strings.HasPrefix(out, "-p|hi|--output-format|stream-json") {
		t.Errorf("unexpected argv: %q", out)
	}
}

func TestArmTimeoutTerminates(t *testing.T) {
	p, err := Start(helperSpec("sleep"))
	if err != nil {
		t.Fatal(err)
	}
	fired := make(chan struct{})
	p.ArmTimeout(200*time.Millisecond, 0, func() { close(fired) })
	start := time.Now()
	_, _, code := run(t, p)
	if !p.Killed() {
		t.Error("expected Killed() after timeout")
	}
	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Error("onFire was not called")
	}
	if code != -1 {
		t.Errorf("signalled process should report -1, got %d", code)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("process was not terminated promptly")
	}
}

func TestTerminateEscalatesAfterGrace(t *testing.T) {
	p, err := Start(helperSpec("ignore-term"))
	if err != nil {
		t.Fatal(err)
	}
	// Give the helper time to install its signal handler.
	time.Sleep(300 * time.Millisecond)
	p.ArmTimeout(50*time.Millisecond, 300*time.Millisecond, nil)
	start := time.Now()
	_, _, code := run(t, p)
	if code != -1 {
		t.Errorf("killed process should report -1, got %d", code)
	}
	if time.Since(start) > 10*time.Second {
		t.Error("escalation did not kill the process")
	}
}

func TestArmTimeoutDisarmedOnExit(t *testing.T) {
	p, err := Start(helperSpec("exit3"))
	if err != nil {
		t.Fatal(err)
	}
	p.ArmTimeout(time.Hour, 0, nil)
	run(t, p)
	if p.Killed() {
		t.Error("timer should not fire after the process exited")
	}
	// Terminate after exit is a no-op.
	p.Terminate(time.Second)
}

func TestTimeoutFiringAfterExitIsIgnored(t *testing.T) {
	p, err := Start(helperSpec("exit3"))
	if err != nil {
		t.Fatal(err)
	}
	_, _, code := run(t, p)
	// The timer callback ran late, after Wait had already reaped the child.
	fired := false
	p.fireTimeout(time.Millisecond, time.Second, func() { fired = true })
	if p.Killed() || fired {
		t.Errorf("late timeout should be ignored: killed=%v onFire=%v", p.Killed(), fired)
	}
	if code != 3 {
		t.Errorf("exit code: want 3, got %d", code)
	}
}
