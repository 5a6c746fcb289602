package watch

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"pgregory.net/rapid"
)

func TestIgnored(t *testing.T) {
	patterns := []string{"*.log", "node_modules/", "/build", "tmp/cache.db", "!keep.log"}
	cases := map[string]bool{
		".git/index":              true,
		"main.go":                 false,
		"debug.log":               true,
		"sub/debug.log":           true,
		"node_modules/x/index.js": true,
		"build/out.bin":           true,
		"tmp/cache.db":            true,
		"tmp/other.db":            false,
		"src/gitignore.go":        false,
	}
	for rel, want := range cases {
		if got := Ignored(rel, patterns); got != want {
			t.Errorf("Ignored(%q) = %v, want %v", rel, got, want)
		}
	}
}

// Property: with no patterns, only paths under .git are ignored.
func TestIgnoredWithoutPatterns(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		segs := rapid.SliceOfN(rapid.StringMatching(`[a-z][a-z0-9_.]{0,8}`), 1, 4).Draw(t, "segs")
		rel := filepath.ToSlash(filepath.Join(segs...))
		if Ignored(rel, nil) != (segs[0] == ".git") {
			t.Fatalf("Ignored(%q) without patterns", rel)
		}
	})
}

func TestLoadPatterns(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("# comment\n\n*.tmp\nvendor/\n"), 0o644)
	os.WriteFile(filepath.Join(dir, ".headlessignore"), []byte("secrets.env\n"), 0o644)

	got := LoadPatterns(dir, []string{"*.bak"})
	want := []string{"*.bak", "*.tmp", "vendor/", "secrets.env"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadPatterns = %q, want %q", got, want)
	}
}

func waitFor(t *testing.T, r *Recorder, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, p := range r.Touched() {
			if p == path {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s was never recorded; have %v", path, r.Touched())
}

func TestRecorderRecordsTouchedFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "existing.go"), []byte("package x\n"), 0o644)
	os.MkdirAll(filepath.Join(dir, ".git"), 0o755)

	r, err := Start(dir, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	os.WriteFile(filepath.Join(dir, "existing.go"), []byte("package y\n"), 0o644)
	os.WriteFile(filepath.Join(dir, "debug.log"), []byte("noise"), 0o644)
	os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644)
	waitFor(t, r, "existing.go")

	if err := os.Mkdir(filepath.Join(dir, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	// The new directory's watch is added asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		os.WriteFile(filepath.Join(dir, "pkg", "new.go"), []byte("package pkg\n"), 0o644)
		found := false
		for _, p := range r.Touched() {
			if p == "pkg/new.go" {
				found = true
			}
		}
		if found {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	touched := r.Stop()
	want := []string{"existing.go", "pkg/new.go"}
	if !reflect.DeepEqual(touched, want) {
		t.Errorf("touched = %v, want %v", touched, want)
	}
}

func TestStartMissingDirectory(t *testing.T) {
	if _, err := Start(filepath.Join(t.TempDir(), "absent"), nil, nil); err == nil {
		t.Error("watching a missing directory should fail")
	}
}
