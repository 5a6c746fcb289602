// Package history keeps the Summaries of past sessions on disk so that
// later invocations can resume, inspect and list them.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fakeyudi/headless/internal/report"
)

// ErrNoRecords is returned when the store holds no matching record.
var ErrNoRecords = errors.New("no recorded sessions")

// stampLayout sorts lexically in chronological order.
const stampLayout = "20060102T150405.000000000Z"

// Entry is one stored Summary.
type Entry struct {
	Path    string
	SavedAt time.Time
	Summary *report.Summary
}

// Store persists Summaries.
type Store interface {
	Save(s *report.Summary, at time.Time) (string, error)
	// Latest returns ErrNoRecords when the store is empty.
	Latest() (*Entry, error)
	// LatestSession returns the newest entry that carries a session id.
	LatestSession() (*Entry, error)
	// List returns entries newest first; limit <= 0 means all.
	List(limit int) ([]Entry, error)
	Prune(keep int) (removed int, err error)
}

// diskStore writes one JSON file per run into a directory.
type diskStore struct {
	dir string
}

// NewStore returns a Store backed by the XDG data directory.
// Path: $XDG_DATA_HOME/headless/runs or ~/.local/share/headless/runs
func NewStore() (Store, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, fmt.Errorf("resolving data directory: %w", err)
	}
	return NewStoreAt(dir), nil
}

// NewStoreAt returns a Store rooted at dir. The directory is created on the
// first Save.
func NewStoreAt(dir string) Store {
	return &diskStore{dir: dir}
}

func dataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "headless", "runs"), nil
}

// Save writes s atomically via a temp file and os.Rename and returns the
// path of the record.
func (d *diskStore) Save(s *report.Summary, at time.Time) (path string, err error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create history directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to persist run record: %w", err)
	}

	name := at.UTC().Format(stampLayout)
	if s.RunID != "" {
		name += "-" + s.RunID
	}
	path = filepath.Join(d.dir, name+".json")

	tmp, err := os.CreateTemp(d.dir, "run-*.json.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to persist run record: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to persist run record: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to persist run record: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("failed to persist run record: %w", err)
	}
	return path, nil
}

// names returns record file names, newest first.
func (d *diskStore) names() ([]string, error) {
	dirEntries, err := os.ReadDir(d.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var names []string
	for _, e := range dirEntries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

func (d *diskStore) load(name string) (*Entry, error) {
	path := filepath.Join(d.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s report.Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse run record %s: %w", name, err)
	}
	stamp, _, _ := strings.Cut(strings.TrimSuffix(name, ".json"), "-")
	at, _ := time.Parse(stampLayout, stamp)
	return &Entry{Path: path, SavedAt: at, Summary: &s}, nil
}

// List returns up to limit readable records, newest first. Unreadable
// records are skipped.
func (d *diskStore) List(limit int) ([]Entry, error) {
	names, err := d.names()
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for _, name := range names {
		if limit > 0 && len(entries) >= limit {
			break
		}
		e, err := d.load(name)
		if err != nil {
			continue
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

func (d *diskStore) Latest() (*Entry, error) {
	entries, err := d.List(1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoRecords
	}
	return &entries[0], nil
}

func (d *diskStore) LatestSession() (*Entry, error) {
	entries, err := d.List(0)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if id := entries[i].Summary.SessionID; id != nil && *id != "" {
			return &entries[i], nil
		}
	}
	return nil, ErrNoRecords
}

// Prune deletes all but the newest keep records. keep <= 0 keeps everything.
func (d *diskStore) Prune(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	names, err := d.names()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, name := range names[min(keep, len(names)):] {
		if err := os.Remove(filepath.Join(d.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to prune run record: %w", err)
		}
		removed++
	}
	return removed, nil
}
