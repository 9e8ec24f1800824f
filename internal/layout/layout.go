// Package layout derives the canonical per-recipe directory tree from a
// build root and a recipe's identity. New and the Layout path methods are
// pure: two calls with the same inputs produce byte-equal paths. The
// Ensure*/Reset* methods and ResolveFileSource touch the filesystem.
package layout

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/zibuild/zibuild/internal/errs"
)

// Layout holds the derived paths for one recipe under <build_dir>/<name>-<version>/.
type Layout struct {
	Base  string // base/
	Src   string // base/src/
	Build string // base/build/
	Pkg   string // base/pkg/
	Log   string // base/log/
}

// New derives the Layout for fullName (typically "<name>-<version>") under buildDir.
func New(buildDir, fullName string) Layout {
	base := filepath.Join(buildDir, fullName)
	return Layout{
		Base:  base,
		Src:   filepath.Join(base, "src"),
		Build: filepath.Join(base, "build"),
		Pkg:   filepath.Join(base, "pkg"),
		Log:   filepath.Join(base, "log"),
	}
}

// StdoutLog and StderrLog are the captured command output files.
func (l Layout) StdoutLog() string { return filepath.Join(l.Log, "stdout.log") }
func (l Layout) StderrLog() string { return filepath.Join(l.Log, "stderr.log") }

// Artifact is the final compressed package path, base/<fullName>.tar.xz.
func (l Layout) Artifact(fullName string) string {
	return filepath.Join(l.Base, fullName+".tar.xz")
}

// EnsureBase creates base/ if it does not already exist.
func (l Layout) EnsureBase() error {
	if err := os.MkdirAll(l.Base, 0755); err != nil {
		return errs.IO("create-dir", l.Base, err)
	}
	return nil
}

// EnsureSrc creates src/ if it does not already exist. src/ is append-only
// across runs, so it is never removed here.
func (l Layout) EnsureSrc() error {
	if err := os.MkdirAll(l.Src, 0755); err != nil {
		return errs.IO("create-dir", l.Src, err)
	}
	return nil
}

// ResetBuild removes and recreates build/, the archive-extraction target.
func (l Layout) ResetBuild() error {
	return resetDir(l.Build)
}

// ResetPkg removes and recreates pkg/, the install staging root.
func (l Layout) ResetPkg() error {
	return resetDir(l.Pkg)
}

// ResetLog creates log/ and truncates stdout.log/stderr.log.
func (l Layout) ResetLog() error {
	if err := os.MkdirAll(l.Log, 0755); err != nil {
		return errs.IO("create-dir", l.Log, err)
	}
	for _, fn := range []string{l.StdoutLog(), l.StderrLog()} {
		f, err := os.Create(fn)
		if err != nil {
			return errs.IO("create-file", fn, err)
		}
		f.Close()
	}
	return nil
}

func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return errs.IO("remove-dir", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errs.IO("create-dir", dir, err)
	}
	return nil
}

// ResolveFileSource resolves a recipe-relative file source against
// recipeDir, verifying the canonicalized result stays under the
// canonicalized recipeRoot. It returns InvalidSource (via errs.Recipe)
// when containment is violated.
func ResolveFileSource(recipeRoot, recipeDir, src string) (string, error) {
	canonicalRoot, err := filepath.EvalSymlinks(recipeRoot)
	if err != nil {
		return "", errs.IO("canonicalize", recipeRoot, err)
	}
	canonicalDir, err := filepath.EvalSymlinks(recipeDir)
	if err != nil {
		return "", errs.IO("canonicalize", recipeDir, err)
	}

	candidate := filepath.Join(canonicalDir, src)

	// The candidate file need not exist yet relative to symlinks beyond
	// its own leaf, so only the directory component is canonicalized;
	// re-join the leaf afterward.
	resolvedDir, err := filepath.EvalSymlinks(filepath.Dir(candidate))
	if err != nil {
		return "", errs.IO("canonicalize", filepath.Dir(candidate), err)
	}
	resolved := filepath.Join(resolvedDir, filepath.Base(candidate))

	if !withinRoot(canonicalRoot, resolved) {
		return "", errs.Recipe("invalid-source", src, resolved)
	}

	return resolved, nil
}

func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}
