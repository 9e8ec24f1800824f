// Package errs defines the categorized error kinds produced by zibuild's
// core components, per the error handling design: every component wraps
// its own failures into one of these, and the pipeline engine collects
// them into an AggregateError without further categorization.
package errs

import (
	"fmt"

	"golang.org/x/xerrors"
)

// IOError wraps a filesystem operation failure.
type IOError struct {
	Op   string // e.g. "open-file", "create-dir", "canonicalize"
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func IO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// CodecError wraps a decompress/compress/tar failure.
type CodecError struct {
	Op   string // "decompress", "compress", "extract", "archive"
	Path string
	Err  error
}

func (e *CodecError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *CodecError) Unwrap() error { return e.Err }

func Codec(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &CodecError{Op: op, Path: path, Err: err}
}

// NetworkError wraps an HTTP or scheme-dispatch failure.
type NetworkError struct {
	Op  string // "head", "download", "unknown-scheme", "unknown-fragment"
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.URL)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func Network(op, url string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, URL: url, Err: err}
}

// UnknownScheme reports a source URL whose scheme zibuild does not
// recognize. It carries no underlying cause, so it bypasses Network's
// nil-guard rather than being constructed through it.
func UnknownScheme(raw string) error {
	return &NetworkError{Op: "unknown-scheme", URL: raw}
}

// UnknownFragment reports a git source whose "#..." fragment is not of the
// form key=value or uses an unrecognized key.
func UnknownFragment(raw string) error {
	return &NetworkError{Op: "unknown-fragment", URL: raw}
}

// VCSError wraps a git clone/fetch/checkout failure.
type VCSError struct {
	Op     string
	Recipe string
	Err    error
}

func (e *VCSError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Recipe, e.Err)
}

func (e *VCSError) Unwrap() error { return e.Err }

func VCS(op, recipe string, err error) error {
	if err == nil {
		return nil
	}
	return &VCSError{Op: op, Recipe: recipe, Err: err}
}

// CommandError is returned when a build command exits non-zero.
type CommandError struct {
	Recipe   string
	Command  string
	ExitCode int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: command %q exited with status %d", e.Recipe, e.Command, e.ExitCode)
}

// SpawnError wraps a subprocess start/wait/stdin failure.
type SpawnError struct {
	Op      string // "spawn", "wait", "stdin", "stdin-write", "stderr"
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %q", e.Op, e.Command)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func Spawn(op, command string, err error) error {
	if err == nil {
		return nil
	}
	return &SpawnError{Op: op, Command: command, Err: err}
}

// RecipeError reports a malformed recipe or invalid source specifier.
type RecipeError struct {
	Op      string // "invalid-recipe", "invalid-version", "missing-check", "invalid-source", "license-not-accepted"
	Recipe  string
	Detail  string
}

func (e *RecipeError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Recipe, e.Op, e.Detail)
}

func Recipe(op, recipe, detail string) error {
	return &RecipeError{Op: op, Recipe: recipe, Detail: detail}
}

// StageError records which stage and recipe an underlying error occurred in.
type StageError struct {
	Stage  string
	Recipe string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Recipe, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func Stage(stage, recipe string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Recipe: recipe, Err: err}
}

// AggregateError is the top-level return of a pipeline run.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	return fmt.Sprintf("found the following %d error(s) while working on packages", len(e.Errors))
}

// Wrap is a thin helper around xerrors.Errorf kept for call sites that want
// to add context without introducing a new categorized type.
func Wrap(format string, args ...interface{}) error {
	return xerrors.Errorf(format, args...)
}
