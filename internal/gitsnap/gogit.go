package gitsnap

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fakeyudi/headless/internal/logging"
)

// GoGitReader implements Reader with go-git, for hosts without a git binary.
//
// Log lists the commits reachable from the newer revision but not from the
// older one, newest first, like `git log from..to`.
type GoGitReader struct {
	Logger *slog.Logger
}

func (g *GoGitReader) open(dir string) (*git.Repository, bool) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if !errors.Is(err, git.ErrRepositoryNotExists) {
			g.debug("open repository failed", dir, err)
		}
		return nil, false
	}
	return repo, true
}

func (g *GoGitReader) debug(msg, dir string, err error) {
	logging.OrNop(g.Logger).Debug(msg, "dir", dir, "error", err)
}

func (g *GoGitReader) Head(ctx context.Context, dir string) string {
	repo, ok := g.open(dir)
	if !ok {
		return ""
	}
	ref, err := repo.Head()
	if err != nil {
		g.debug("resolve HEAD failed", dir, err)
		return ""
	}
	return ref.Hash().String()
}

func (g *GoGitReader) Log(ctx context.Context, dir, from, to string) []string {
	commits := []string{}
	repo, ok := g.open(dir)
	if !ok {
		return commits
	}
	fromCommit, err := repo.CommitObject(plumbing.NewHash(from))
	if err != nil {
		g.debug("resolve start commit failed", dir, err)
		return commits
	}
	toCommit, err := repo.CommitObject(plumbing.NewHash(to))
	if err != nil {
		g.debug("resolve end commit failed", dir, err)
		return commits
	}

	// Everything reachable from the start is excluded, as in `git log from..to`.
	excluded := map[plumbing.Hash]bool{}
	err = object.NewCommitPreorderIter(fromCommit, nil, nil).ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		excluded[c.Hash] = true
		return nil
	})
	if err != nil {
		g.debug("walk start history failed", dir, err)
		return commits
	}

	var found []*object.Commit
	err = object.NewCommitPreorderIter(toCommit, excluded, nil).ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		found = append(found, c)
		return nil
	})
	if err != nil {
		g.debug("walk log failed", dir, err)
		return commits
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Committer.When.After(found[j].Committer.When)
	})
	for _, c := range found {
		commits = append(commits, Short(c.Hash.String())+" "+firstLine(c.Message))
	}
	return commits
}

func (g *GoGitReader) DiffStat(ctx context.Context, dir, from, to string) DiffStat {
	repo, ok := g.open(dir)
	if !ok {
		return DiffStat{}
	}
	fromCommit, err := repo.CommitObject(plumbing.NewHash(from))
	if err != nil {
		g.debug("resolve start commit failed", dir, err)
		return DiffStat{}
	}
	toCommit, err := repo.CommitObject(plumbing.NewHash(to))
	if err != nil {
		g.debug("resolve end commit failed", dir, err)
		return DiffStat{}
	}
	patch, err := fromCommit.PatchContext(ctx, toCommit)
	if err != nil {
		g.debug("compute patch failed", dir, err)
		return DiffStat{}
	}
	var stat DiffStat
	for _, fs := range patch.Stats() {
		stat.ChangedFiles++
		stat.Insertions += fs.Addition
		stat.Deletions += fs.Deletion
	}
	return stat
}

func (g *GoGitReader) UncommittedCount(ctx context.Context, dir string) int {
	repo, ok := g.open(dir)
	if !ok {
		return 0
	}
	wt, err := repo.Worktree()
	if err != nil {
		g.debug("open worktree failed", dir, err)
		return 0
	}
	status, err := wt.Status()
	if err != nil {
		g.debug("worktree status failed", dir, err)
		return 0
	}
	n := 0
	for _, fs := range status {
		if fs.Staging != git.Unmodified || fs.Worktree != git.Unmodified {
			n++
		}
	}
	return n
}

func firstLine(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		return strings.TrimSpace(msg[:i])
	}
	return msg
}
