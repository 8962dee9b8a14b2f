package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// isolateSearch points every search location into a temp dir.
func isolateSearch(t *testing.T, paths ...string) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv(EnvVar, "")
	t.Setenv("XDG_CONFIG_HOME", home)
	orig := DefaultSearchPaths
	DefaultSearchPaths = paths
	t.Cleanup(func() { DefaultSearchPaths = orig })
	return home
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveExplicitPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ioloop.toml")
	touch(t, path)

	got, err := Resolve(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestResolveStdin(t *testing.T) {
	isolateSearch(t)
	got, err := Resolve(Stdin)
	if err != nil || got != Stdin {
		t.Fatalf("Resolve(%q) = %q, %v", Stdin, got, err)
	}
}

func TestResolveExplicitPathNotFound(t *testing.T) {
	_, err := Resolve("/nonexistent/ioloop.toml")
	if err == nil {
		t.Fatal("expected error")
	}
	want := "cannot read config: /nonexistent/ioloop.toml (flag): no such file or directory"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("errors.Is(err, fs.ErrNotExist) = false")
	}
}

func TestResolveRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve(dir)
	if err == nil || !strings.Contains(err.Error(), "is a directory") {
		t.Fatalf("err = %v, want is a directory", err)
	}
}

func TestResolveEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ioloop.toml")
	touch(t, path)

	t.Setenv(EnvVar, path)
	got, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("got %q, want %q", got, path)
	}
}

func TestResolveEnvVarDisablesSearch(t *testing.T) {
	dir := t.TempDir()
	fallback := filepath.Join(dir, "fallback.toml")
	touch(t, fallback)
	isolateSearch(t, fallback)
	t.Setenv(EnvVar, filepath.Join(dir, "missing.toml"))

	_, err := Resolve("")
	if err == nil || !strings.Contains(err.Error(), "("+EnvVar+")") {
		t.Fatalf("err = %v, want the %s candidate reported", err, EnvVar)
	}
}

func TestResolveReportsEveryCandidate(t *testing.T) {
	home := isolateSearch(t, "./nonexistent-ioloop.toml", "/nonexistent/b.toml")

	_, err := Resolve("")
	var se *SearchError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SearchError", err)
	}
	want := []Candidate{
		{Path: "./nonexistent-ioloop.toml", Origin: "default"},
		{Path: filepath.Join(home, "ioloop", "ioloop.toml"), Origin: "user"},
		{Path: "/nonexistent/b.toml", Origin: "default"},
	}
	if len(se.Tried) != len(want) {
		t.Fatalf("tried %d candidates, want %d: %v", len(se.Tried), len(want), se.Tried)
	}
	for i, c := range se.Tried {
		if c.Path != want[i].Path || c.Origin != want[i].Origin {
			t.Errorf("candidate %d = %s (%s), want %s (%s)", i, c.Path, c.Origin, want[i].Path, want[i].Origin)
		}
		if !errors.Is(c.Err, fs.ErrNotExist) {
			t.Errorf("candidate %d err = %v", i, c.Err)
		}
	}
	if !strings.HasPrefix(err.Error(), "no config file found; tried:") {
		t.Errorf("error = %q", err.Error())
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Error("errors.Is(err, fs.ErrNotExist) = false")
	}
}

func TestResolveUserConfig(t *testing.T) {
	dir := t.TempDir()
	system := filepath.Join(dir, "system.toml")
	touch(t, system)
	home := isolateSearch(t, "./nonexistent-ioloop.toml", system)
	user := filepath.Join(home, "ioloop", "ioloop.toml")
	touch(t, user)

	got, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if got != user {
		t.Errorf("got %q, want user config %q ahead of %q", got, user, system)
	}
}

func TestResolveSearchPathOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.toml")
	second := filepath.Join(dir, "second.toml")
	touch(t, first)
	touch(t, second)
	isolateSearch(t, first, second)

	got, err := Resolve("")
	if err != nil {
		t.Fatal(err)
	}
	if got != first {
		t.Errorf("got %q, want %q (should pick first match)", got, first)
	}
}
