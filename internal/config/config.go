package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

// Git backends understood by gitsnap.
const (
	GitBackendExec  = "exec"
	GitBackendGoGit = "go-git"
)

// Config holds all configurable headless settings. Zero values mean "not
// set" so that Merge can tell a missing key from an explicit one.
type Config struct {
	AgentCommand     []string `json:"agent_command"` // argv prefix, e.g. ["claude"]
	Model            string   `json:"model"`
	MaxTurns         int      `json:"max_turns"`
	TimeoutSeconds   int      `json:"timeout_seconds"`
	KillGraceSeconds *int     `json:"kill_grace_seconds"` // nil = default, 0 = never escalate
	GitBackend       string   `json:"git_backend"`        // "exec" | "go-git"
	WatchFiles       *bool    `json:"watch_files"`
	IgnorePatterns   []string `json:"ignore_patterns"`
	HistoryLimit     int      `json:"history_limit"`
	UnsetEnv         []string `json:"unset_env"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	grace := 10
	watch := false
	return Config{
		AgentCommand:     []string{"claude"},
		Model:            "sonnet",
		MaxTurns:         100,
		KillGraceSeconds: &grace,
		GitBackend:       GitBackendExec,
		WatchFiles:       &watch,
		IgnorePatterns:   []string{},
		HistoryLimit:     50,
		UnsetEnv:         []string{"CLAUDECODE"},
	}
}

// Grace returns the kill grace period in seconds.
func (c Config) Grace() int {
	if c.KillGraceSeconds == nil {
		return 0
	}
	return *c.KillGraceSeconds
}

// Watch reports whether touched-file recording is enabled.
func (c Config) Watch() bool {
	return c.WatchFiles != nil && *c.WatchFiles
}

// LoadGlobal reads ~/.config/headless/config.json.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	path := filepath.Join(home, ".config", "headless", "config.json")
	return loadFile(path, true)
}

// LoadProject reads .headlessconfig in dir.
// Returns nil (no error) if the file is absent.
func LoadProject(dir string) (*Config, error) {
	return loadFile(filepath.Join(dir, ".headlessconfig"), false)
}

// loadFile reads and parses a JSONC config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	if cfg.GitBackend != "" && cfg.GitBackend != GitBackendExec && cfg.GitBackend != GitBackendGoGit {
		return nil, &ParseError{Path: path, Err: errors.New("git_backend must be \"exec\" or \"go-git\"")}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, layer := range []*Config{global, project} {
		if layer != nil {
			apply(&result, layer)
		}
	}
	return result
}

func apply(dst *Config, src *Config) {
	if len(src.AgentCommand) > 0 {
		dst.AgentCommand = src.AgentCommand
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.MaxTurns > 0 {
		dst.MaxTurns = src.MaxTurns
	}
	if src.TimeoutSeconds > 0 {
		dst.TimeoutSeconds = src.TimeoutSeconds
	}
	if src.KillGraceSeconds != nil {
		dst.KillGraceSeconds = src.KillGraceSeconds
	}
	if src.GitBackend != "" {
		dst.GitBackend = src.GitBackend
	}
	if src.WatchFiles != nil {
		dst.WatchFiles = src.WatchFiles
	}
	if len(src.IgnorePatterns) > 0 {
		dst.IgnorePatterns = src.IgnorePatterns
	}
	if src.HistoryLimit > 0 {
		dst.HistoryLimit = src.HistoryLimit
	}
	if src.UnsetEnv != nil {
		dst.UnsetEnv = src.UnsetEnv
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
