// Package watch records which files in a working directory are created,
// written, removed or renamed while an agent session runs.
package watch

import (
	"bufio"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/fakeyudi/headless/internal/logging"
)

// settle is how long Stop lets in-flight events arrive before closing.
const settle = 100 * time.Millisecond

// Recorder is a recursive fsnotify watch over one directory tree.
type Recorder struct {
	dir      string
	patterns []string
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	done     chan struct{}

	mu      sync.Mutex
	touched map[string]struct{}
}

// Start begins watching dir and every subdirectory that is not ignored.
// Ignore patterns are the configured ones plus those in .gitignore and
// .headlessignore; .git is always skipped.
func Start(dir string, ignore []string, logger *slog.Logger) (*Recorder, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		dir:      abs,
		patterns: LoadPatterns(abs, ignore),
		logger:   logging.OrNop(logger),
		watcher:  watcher,
		done:     make(chan struct{}),
		touched:  make(map[string]struct{}),
	}
	if err := r.addTree(abs); err != nil {
		watcher.Close()
		return nil, err
	}
	go r.loop()
	return r, nil
}

// addTree adds a watch for root and each non-ignored directory below it.
func (r *Recorder) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		if path != r.dir && r.ignored(path) {
			return filepath.SkipDir
		}
		if err := r.watcher.Add(path); err != nil {
			if path == root {
				return err
			}
			r.logger.Debug("cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (r *Recorder) loop() {
	defer close(r.done)
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			r.handle(event)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			// Watcher errors are non-fatal; continue watching.
			r.logger.Debug("watch error", "error", err)
		}
	}
}

func (r *Recorder) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if r.ignored(event.Name) {
		return
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = r.addTree(event.Name)
			return
		}
	}
	rel, err := filepath.Rel(r.dir, event.Name)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.touched[filepath.ToSlash(rel)] = struct{}{}
	r.mu.Unlock()
}

// Stop closes the watch and returns the touched paths relative to the
// watched directory, sorted and without duplicates.
func (r *Recorder) Stop() []string {
	time.Sleep(settle)
	if err := r.watcher.Close(); err != nil {
		r.logger.Debug("closing watcher", "error", err)
	}
	<-r.done
	return r.Touched()
}

// Touched returns the paths recorded so far.
func (r *Recorder) Touched() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	paths := make([]string, 0, len(r.touched))
	for p := range r.touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (r *Recorder) ignored(path string) bool {
	rel, err := filepath.Rel(r.dir, path)
	if err != nil {
		rel = path
	}
	return Ignored(filepath.ToSlash(rel), r.patterns)
}

// Ignored reports whether rel, a slash-separated path relative to the
// watched directory, matches a pattern. A pattern matches the whole path,
// the base name, or any single path component; a trailing slash is
// dropped so directory patterns exclude everything beneath them.
func Ignored(rel string, patterns []string) bool {
	segments := strings.Split(rel, "/")
	if segments[0] == ".git" {
		return true
	}
	for _, pattern := range patterns {
		pattern = strings.TrimPrefix(strings.TrimSuffix(pattern, "/"), "/")
		if pattern == "" || strings.HasPrefix(pattern, "!") {
			continue
		}
		if matched, _ := filepath.Match(pattern, rel); matched {
			return true
		}
		for _, seg := range segments {
			if matched, _ := filepath.Match(pattern, seg); matched {
				return true
			}
		}
	}
	return false
}

// LoadPatterns merges the configured patterns with those from .gitignore
// and .headlessignore in dir. Missing files are skipped.
func LoadPatterns(dir string, configured []string) []string {
	patterns := append([]string{}, configured...)
	for _, name := range []string{".gitignore", ".headlessignore"} {
		extra, err := readPatternFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		patterns = append(patterns, extra...)
	}
	return patterns
}

// readPatternFile reads a gitignore-style file and returns non-empty,
// non-comment lines.
func readPatternFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, scanner.Err()
}
