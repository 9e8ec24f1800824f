package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDerivesPaths(t *testing.T) {
	l := New("/var/build", "foo-1.0.0")
	want := Layout{
		Base:  "/var/build/foo-1.0.0",
		Src:   "/var/build/foo-1.0.0/src",
		Build: "/var/build/foo-1.0.0/build",
		Pkg:   "/var/build/foo-1.0.0/pkg",
		Log:   "/var/build/foo-1.0.0/log",
	}
	if l != want {
		t.Errorf("New() = %+v, want %+v", l, want)
	}
	if got := l.Artifact("foo-1.0.0"); got != "/var/build/foo-1.0.0/foo-1.0.0.tar.xz" {
		t.Errorf("Artifact() = %q", got)
	}
}

func TestResetBuildRecreatesEmptyDir(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "foo-1.0.0")

	if err := os.MkdirAll(l.Build, 0755); err != nil {
		t.Fatal(err)
	}
	leftover := filepath.Join(l.Build, "stale.txt")
	if err := os.WriteFile(leftover, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := l.ResetBuild(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(leftover); !os.IsNotExist(err) {
		t.Errorf("expected stale.txt to be gone, stat err = %v", err)
	}
	if fi, err := os.Stat(l.Build); err != nil || !fi.IsDir() {
		t.Errorf("expected build/ to exist as a dir, err=%v", err)
	}
}

func TestResetLogTruncatesFiles(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "foo-1.0.0")
	if err := os.MkdirAll(l.Log, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.StdoutLog(), []byte("old output"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := l.ResetLog(); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(l.StdoutLog())
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 0 {
		t.Errorf("expected truncated stdout.log, got %q", b)
	}
}

func TestResolveFileSourceRejectsEscape(t *testing.T) {
	root := t.TempDir()
	recipeDir := filepath.Join(root, "pkgs", "foo")
	if err := os.MkdirAll(recipeDir, 0755); err != nil {
		t.Fatal(err)
	}
	outside := filepath.Join(root, "outside.txt")
	if err := os.WriteFile(outside, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := ResolveFileSource(recipeDir, recipeDir, "../../outside.txt"); err == nil {
		t.Fatal("expected escape to be rejected")
	}
}

func TestResolveFileSourceAcceptsContained(t *testing.T) {
	root := t.TempDir()
	recipeDir := filepath.Join(root, "pkgs", "foo")
	if err := os.MkdirAll(recipeDir, 0755); err != nil {
		t.Fatal(err)
	}
	patch := filepath.Join(recipeDir, "fix.patch")
	if err := os.WriteFile(patch, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveFileSource(recipeDir, recipeDir, "fix.patch")
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(patch)
	if got != want {
		t.Errorf("ResolveFileSource() = %q, want %q", got, want)
	}
}
