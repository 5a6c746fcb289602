// Package gitsnap reads the version-control state a session is correlated
// against: HEAD before and after, the commits in between, diff statistics
// and the number of uncommitted changes. Every query degrades to an empty
// result instead of failing; a session must never abort because the working
// directory is not a repository.
package gitsnap

import (
	"context"
	"log/slog"

	"github.com/fakeyudi/headless/internal/config"
)

// ShortSHALen is the abbreviation used when reporting shas.
const ShortSHALen = 7

// Reader answers the four read-only questions the supervisor asks of a
// working tree. Implementations return zero values on any failure.
type Reader interface {
	// Head returns the full sha of HEAD, or "" when unavailable.
	Head(ctx context.Context, dir string) string
	// Log returns one-line summaries of the commits in from..to, newest first.
	Log(ctx context.Context, dir, from, to string) []string
	// DiffStat summarises the changes between two revisions.
	DiffStat(ctx context.Context, dir, from, to string) DiffStat
	// UncommittedCount returns the number of changed or untracked paths.
	UncommittedCount(ctx context.Context, dir string) int
}

// DiffStat holds the totals of a diff between two revisions.
type DiffStat struct {
	ChangedFiles int `json:"changed_files"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// Snapshot is the correlation of one session against the repository.
// Shas are empty when the directory was not a repository at that moment.
type Snapshot struct {
	StartSHA    string
	EndSHA      string
	Commits     []string
	Diff        DiffStat
	Uncommitted int
}

// Correlate reads HEAD again and, when it moved since startSHA, collects the
// commits and diff statistics in between. The uncommitted count is read
// regardless of whether HEAD moved.
func Correlate(ctx context.Context, r Reader, dir, startSHA string) Snapshot {
	snap := Snapshot{
		StartSHA: startSHA,
		EndSHA:   r.Head(ctx, dir),
		Commits:  []string{},
	}
	if snap.StartSHA != "" && snap.EndSHA != "" && snap.StartSHA != snap.EndSHA {
		if commits := r.Log(ctx, dir, snap.StartSHA, snap.EndSHA); commits != nil {
			snap.Commits = commits
		}
		snap.Diff = r.DiffStat(ctx, dir, snap.StartSHA, snap.EndSHA)
	}
	if snap.StartSHA != "" || snap.EndSHA != "" {
		snap.Uncommitted = r.UncommittedCount(ctx, dir)
	}
	return snap
}

// Short abbreviates sha for display. Empty stays empty.
func Short(sha string) string {
	if len(sha) > ShortSHALen {
		return sha[:ShortSHALen]
	}
	return sha
}

// New returns the Reader for the configured backend.
func New(backend string, logger *slog.Logger) Reader {
	if backend == config.GitBackendGoGit {
		return &GoGitReader{Logger: logger}
	}
	return &ExecReader{Logger: logger}
}
