package launcher

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fakeyudi/headless/internal/logging"
)

// Spec describes how to spawn the agent executable. Env and Unset are
// applied on top of the parent environment; the parent itself is never
// mutated.
type Spec struct {
	Command []string // executable followed by fixed leading arguments
	Args    []string
	Dir     string
	Env     map[string]string
	Unset   []string
	Logger  *slog.Logger
}

// StartError reports that the agent executable could not be spawned.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// Environ returns base with every variable in unset removed and every entry
// of set applied, in key order.
func Environ(base []string, set map[string]string, unset []string) []string {
	drop := make(map[string]bool, len(unset)+len(set))
	for _, k := range unset {
		drop[k] = true
	}
	for k := range set {
		drop[k] = true
	}
	env := make([]string, 0, len(base)+len(set))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if !drop[key] {
			env = append(env, kv)
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+set[k])
	}
	return env
}

// Process is a running agent. Stdout and Stderr must be read to EOF before
// Wait is called.
type Process struct {
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	cmd    *exec.Cmd
	logger *slog.Logger
	killed atomic.Bool
	exited chan struct{}

	mu    sync.Mutex
	timer *time.Timer
}

// Start spawns the process described by spec with stdin closed.
func Start(spec Spec) (*Process, error) {
	if len(spec.Command) == 0 || strings.TrimSpace(spec.Command[0]) == "" {
		return nil, &StartError{Command: "agent", Err: errors.New("no agent command configured")}
	}
	name := spec.Command[0]
	args := append(append([]string{}, spec.Command[1:]...), spec.Args...)

	cmd := exec.Command(name, args...)
	cmd.Dir = spec.Dir
	cmd.Env = Environ(os.Environ(), spec.Env, spec.Unset)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &StartError{Command: name, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &StartError{Command: name, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &StartError{Command: name, Err: err}
	}

	logger := logging.OrNop(spec.Logger)
	logger.Debug("agent started", "command", name, "pid", cmd.Process.Pid, "dir", spec.Dir)
	return &Process{
		Stdout: stdout,
		Stderr: stderr,
		cmd:    cmd,
		logger: logger,
		exited: make(chan struct{}),
	}, nil
}

// ArmTimeout schedules Terminate after d and marks the process killed when
// it fires. onFire, if set, runs on the timer goroutine once the signal has
// been sent. A non-positive d does nothing.
func (p *Process) ArmTimeout(d, grace time.Duration, onFire func()) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = time.AfterFunc(d, func() { p.fireTimeout(d, grace, onFire) })
}

// fireTimeout is the timer callback. It does nothing once Wait has seen the
// process exit, so a timer racing a normal exit never marks it killed.
func (p *Process) fireTimeout(d, grace time.Duration, onFire func()) {
	p.mu.Lock()
	select {
	case <-p.exited:
		p.mu.Unlock()
		return
	default:
	}
	p.killed.Store(true)
	p.mu.Unlock()

	p.logger.Debug("session timed out, terminating agent", "timeout", d)
	p.Terminate(grace)
	if onFire != nil {
		onFire()
	}
}

// Terminate sends the graceful termination signal. When grace is positive
// and the process is still running once it elapses, the process is killed.
func (p *Process) Terminate(grace time.Duration) {
	select {
	case <-p.exited:
		return
	default:
	}
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		p.logger.Debug("graceful signal failed, killing", "error", err)
		_ = p.cmd.Process.Kill()
		return
	}
	if grace <= 0 {
		return
	}
	go func() {
		select {
		case <-p.exited:
		case <-time.After(grace):
			p.logger.Warn("agent ignored termination signal, killing", "grace", grace)
			_ = p.cmd.Process.Kill()
		}
	}()
}

// Killed reports whether the timeout fired.
func (p *Process) Killed() bool { return p.killed.Load() }

// Pid returns the operating-system process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Wait blocks until the process exits and returns its exit code, which is
// -1 when it was terminated by a signal. The error is non-nil only when the
// exit status could not be determined at all.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()

	p.mu.Lock()
	close(p.exited)
	if p.timer != nil {
		p.timer.Stop()
	}
	p.mu.Unlock()

	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}
