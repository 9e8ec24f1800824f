// Package build executes a recipe's prepare/build/check/install command
// sequences against its extracted sources, then packages the install
// staging directory into a tar.xz artifact. It is the teacher's Ctx
// builder narrowed to a generic four-phase shell-command executor: no
// typed per-ecosystem builder dispatch, no chroot/userns isolation, no
// cross-compilation — the commands run exactly as the recipe wrote them.
package build

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/term"

	"github.com/zibuild/zibuild/internal/archivx"
	"github.com/zibuild/zibuild/internal/errs"
	"github.com/zibuild/zibuild/internal/layout"
	"github.com/zibuild/zibuild/internal/recipe"
)

// StatusFunc receives a one-line, already-truncated status message as the
// builder works through a recipe's commands.
type StatusFunc func(msg string)

// Builder runs one recipe's build against a Layout.
type Builder struct {
	Recipe  *recipe.Recipe
	Layout  layout.Layout
	Verbose bool
	Status  StatusFunc
}

// New constructs a Builder for r rooted at l.
func New(r *recipe.Recipe, l layout.Layout) *Builder {
	return &Builder{Recipe: r, Layout: l, Status: func(string) {}}
}

// Run executes the full build: directory setup, prepare/build/check/install
// phases in order, then packaging. sourceDir is where the extracted (or
// copied, for skip_extract recipes) sources live — callers obtain it from
// the fetch/archivx stages run earlier in the pipeline.
func (b *Builder) Run(ctx context.Context, sourceDir string) (artifactPath string, err error) {
	if err := b.Layout.ResetPkg(); err != nil {
		return "", err
	}
	if !b.Verbose {
		if err := b.Layout.ResetLog(); err != nil {
			return "", err
		}
	}

	phases := []struct {
		name string
		cmds []string
		cwd  string
	}{
		{"prepare", b.Recipe.Prepare, b.Layout.Src},
		{"build", b.Recipe.Build, sourceDir},
		{"check", b.skipCheckAware(b.Recipe.Check), sourceDir},
		{"install", b.Recipe.Install, sourceDir},
	}

	for _, phase := range phases {
		for _, cmd := range phase.cmds {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			b.reportCommand(phase.name, cmd)
			if err := b.runCommand(ctx, phase.cwd, cmd); err != nil {
				return "", errs.Stage(phase.name, b.Recipe.Name, err)
			}
		}
	}

	b.Status(fmt.Sprintf("%s: packaging", b.Recipe.Name))
	artifact := b.Layout.Artifact(b.Recipe.FullName())
	if err := archivx.PackTarXz(b.Layout.Pkg, artifact); err != nil {
		return "", err
	}
	return artifact, nil
}

// skipCheckAware returns an empty command list when the recipe opted out
// of its check phase (the invariant already guarantees check is non-empty
// otherwise, enforced at recipe.Load time).
func (b *Builder) skipCheckAware(check []string) []string {
	if b.Recipe.SkipCheck {
		return nil
	}
	return check
}

// reportCommand truncates cmd's first line to fit the terminal width,
// matching the teacher's "pkgname: spinner [command]" budget accounting.
func (b *Builder) reportCommand(phase, cmd string) {
	firstLine := cmd
	for i, r := range cmd {
		if r == '\n' {
			firstLine = cmd[:i]
			break
		}
	}

	width, _, err := term.GetSize(0)
	if err != nil || width <= 0 {
		width = 80
	}
	budget := width - len(b.Recipe.Name) - len(phase) - 6
	if budget < 10 {
		budget = 10
	}
	if len(firstLine) > budget {
		firstLine = firstLine[:budget]
	}
	b.Status(fmt.Sprintf("%s: %s [%s]", b.Recipe.Name, phase, firstLine))
}

// runCommand runs cmd through /bin/sh (piped via stdin, exactly as the
// original builder does), with cwd set to the calling phase's working
// directory, and the recipe's env plus MAKEFLAGS/pkgdir/builddir/srcdir
// bound.
func (b *Builder) runCommand(ctx context.Context, cwd, cmd string) error {
	sh := exec.CommandContext(ctx, "/bin/sh")
	sh.Dir = cwd
	sh.Env = b.commandEnv()

	stdin, err := sh.StdinPipe()
	if err != nil {
		return errs.Spawn("stdin", cmd, err)
	}

	if b.Verbose {
		sh.Stdout = os.Stdout
		sh.Stderr = os.Stderr
	} else {
		stdout, err := os.OpenFile(b.Layout.StdoutLog(), os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errs.IO("open-file", b.Layout.StdoutLog(), err)
		}
		defer stdout.Close()
		stderr, err := os.OpenFile(b.Layout.StderrLog(), os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errs.IO("open-file", b.Layout.StderrLog(), err)
		}
		defer stderr.Close()
		sh.Stdout = stdout
		sh.Stderr = stderr
	}

	if err := sh.Start(); err != nil {
		return errs.Spawn("spawn", cmd, err)
	}

	if err := writeCommand(stdin, cmd); err != nil {
		return errs.Spawn("stdin-write", cmd, err)
	}

	if err := sh.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &errs.CommandError{Recipe: b.Recipe.Name, Command: cmd, ExitCode: exitErr.ExitCode()}
		}
		return errs.Spawn("wait", cmd, err)
	}
	return nil
}

func writeCommand(w io.WriteCloser, cmd string) error {
	defer w.Close()
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(cmd); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	return bw.Flush()
}

// commandEnv builds the environment every phase's commands run with:
// the parent's own environment, the recipe's env entries, MAKEFLAGS set
// for parallel make invocations, and pkgdir/builddir/srcdir bound to the
// canonicalized absolute paths of pkg/, build/, src/ — regardless of
// which directory the current phase's commands actually run in.
func (b *Builder) commandEnv() []string {
	env := os.Environ()
	env = append(env, fmt.Sprintf("MAKEFLAGS=-j%d", runtime.NumCPU()))
	for k, v := range b.Recipe.Env {
		env = append(env, k+"="+v)
	}

	canon := func(dir string) string {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			dir = real
		}
		return dir
	}

	env = append(env,
		"pkgdir="+canon(b.Layout.Pkg),
		"builddir="+canon(b.Layout.Build),
		"srcdir="+canon(b.Layout.Src),
	)
	return env
}

// Extract decompresses and unpacks a fetched archive into the recipe's
// build directory, or copies a directory source in place when the recipe
// sets skip_extract. archivePath is "" for skip_extract recipes that fetch
// directly into a usable tree (e.g. git checkouts). It is a thin
// single-source wrapper around ExtractAll.
func Extract(r *recipe.Recipe, l layout.Layout, archivePath string) (string, error) {
	if archivePath == "" {
		return ExtractAll(r, l, nil)
	}
	return ExtractAll(r, l, []string{archivePath})
}

// ExtractAll populates build/ from every fetched source path, in order.
// With skip_extract, each path is a directory copied (merged) into build/
// as-is. Otherwise each path is dispatched by its filename suffix per
// ArchiveIO's extension rules: recognized tar archives are unpacked on top
// of whatever prior sources already placed there, bare-compressed sources
// are decompressed to a file of the same base name with the compression
// suffix stripped, and anything else is copied in as an opaque file. A
// later source never deletes what an earlier source produced; only the
// initial ResetBuild clears the directory.
func ExtractAll(r *recipe.Recipe, l layout.Layout, paths []string) (string, error) {
	if r.SkipExtract {
		if len(paths) == 0 {
			return l.Build, nil
		}
		if err := l.ResetBuild(); err != nil {
			return "", err
		}
		for _, p := range paths {
			if err := archivx.CopyTree(p, l.Build); err != nil {
				return "", err
			}
		}
		return l.Build, nil
	}

	if err := l.ResetBuild(); err != nil {
		return "", err
	}

	for _, p := range paths {
		kind, isTar := archivx.KindForName(p)
		switch {
		case isTar:
			rc, err := archivx.Decompress(kind, p)
			if err != nil {
				return "", err
			}
			err = archivx.UnpackTarMerge(rc, l.Build)
			rc.Close()
			if err != nil {
				return "", err
			}
		case kind != archivx.None:
			rc, err := archivx.Decompress(kind, p)
			if err != nil {
				return "", err
			}
			out := filepath.Join(l.Build, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p)))
			err = writeDecompressedFile(rc, out)
			rc.Close()
			if err != nil {
				return "", err
			}
		default:
			if err := archivx.CopyFile(p, filepath.Join(l.Build, filepath.Base(p))); err != nil {
				return "", err
			}
		}
	}
	return l.Build, nil
}

func writeDecompressedFile(r io.Reader, dest string) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return errs.IO("create-file", dest, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return errs.Codec("extract", dest, err)
	}
	return nil
}
