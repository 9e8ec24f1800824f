package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/zibuild/zibuild/internal/layout"
)

func TestParseSchemes(t *testing.T) {
	cases := []struct {
		raw        string
		wantScheme string
		wantKind   string
		wantValue  string
		wantErr    bool
	}{
		{"https://example.org/foo.tar.gz", "https", "", "", false},
		{"http://example.org/foo.tar.gz", "http", "", "", false},
		{"foo.patch", "file", "", "", false},
		{"git+https://example.org/foo.git#branch=main", "git", "branch", "main", false},
		{"git+https://example.org/foo.git#tag=v1.0.0", "git", "tag", "v1.0.0", false},
		{"git+ssh://git@example.org/foo.git#commit=deadbeef", "git", "commit", "deadbeef", false},
		{"git://example.org/foo.git", "git", "", "", false},
		{"ftp://example.org/foo.tar.gz", "", "", "", true},
		{"git+https://example.org/foo.git#weird", "", "", "", true},
	}
	for _, c := range cases {
		ref, err := Parse(c.raw)
		if c.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error", c.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.raw, err)
		}
		if ref.Scheme != c.wantScheme {
			t.Errorf("Parse(%q).Scheme = %q, want %q", c.raw, ref.Scheme, c.wantScheme)
		}
		if ref.GitKind != c.wantKind || ref.GitValue != c.wantValue {
			t.Errorf("Parse(%q) fragment = (%q,%q), want (%q,%q)", c.raw, ref.GitKind, ref.GitValue, c.wantKind, c.wantValue)
		}
	}
}

func TestFileNameKeepsGitSuffix(t *testing.T) {
	ref, err := Parse("git+https://example.org/foo/bar.git#branch=main")
	if err != nil {
		t.Fatal(err)
	}
	if got := ref.FileName(); got != "bar.git" {
		t.Errorf("FileName() = %q, want %q", got, "bar.git")
	}
}

type fakeProgress struct {
	total, current int64
}

func (f *fakeProgress) SetTotal(n int64)   { f.total = n }
func (f *fakeProgress) SetCurrent(n int64) { f.current = n }

func TestFetchHTTPFullDownload(t *testing.T) {
	const body = "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		t.Fatal(err)
	}

	f := New(dir)
	ref, err := Parse(srv.URL + "/file.txt")
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.fetchHTTP(context.Background(), ref, layout.Layout{Src: srcDir}, &fakeProgress{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != body {
		t.Errorf("downloaded body = %q, want %q", b, body)
	}
}

func TestFetchHTTPResumeSkipsWhenAlreadyComplete(t *testing.T) {
	const body = "0123456789"
	var getCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		getCalls++
		w.Write([]byte(body))
	}))
	defer srv.Close()

	dir := t.TempDir()
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "file.txt"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	f := New(dir)
	ref, err := Parse(srv.URL + "/file.txt")
	if err != nil {
		t.Fatal(err)
	}

	prog := &fakeProgress{}
	if _, err := f.fetchHTTP(context.Background(), ref, layout.Layout{Src: srcDir}, prog); err != nil {
		t.Fatal(err)
	}
	if getCalls != 0 {
		t.Errorf("expected the already-complete file to skip the GET, got %d GET calls", getCalls)
	}
	if prog.current != int64(len(body)) {
		t.Errorf("progress current = %d, want %d", prog.current, len(body))
	}
}

func TestFetchFileCopiesIntoSrc(t *testing.T) {
	recipeRoot := t.TempDir()
	if err := os.WriteFile(filepath.Join(recipeRoot, "patch.diff"), []byte("diff content"), 0644); err != nil {
		t.Fatal(err)
	}
	srcDir := filepath.Join(recipeRoot, "build", "src")
	if err := os.MkdirAll(srcDir, 0755); err != nil {
		t.Fatal(err)
	}

	f := New(recipeRoot)
	ref, err := Parse("patch.diff")
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.fetchFile(ref, layout.Layout{Src: srcDir}, recipeRoot)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(got) != srcDir {
		t.Errorf("fetchFile copied to %q, want under %q", got, srcDir)
	}
	b, err := os.ReadFile(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "diff content" {
		t.Errorf("copied file content = %q, want %q", b, "diff content")
	}
}

func TestParseGitProgressLine(t *testing.T) {
	p := &fakeProgress{}
	parseGitProgressLine("Receiving objects:  42% (21/50)", p)
	if p.total != 50 || p.current != 21 {
		t.Errorf("got total=%d current=%d, want total=50 current=21", p.total, p.current)
	}

	p2 := &fakeProgress{}
	parseGitProgressLine("remote: Enumerating objects: 50, done.", p2)
	if p2.total != 0 || p2.current != 0 {
		t.Errorf("unrecognized prefix should not update progress, got total=%d current=%d", p2.total, p2.current)
	}
}
