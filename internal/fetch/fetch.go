// Package fetch retrieves recipe sources: plain HTTP(S) downloads with
// byte-range resumption, git checkouts via the system git binary, and
// local file sources resolved relative to the recipe directory.
package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/zibuild/zibuild/internal/archivx"
	"github.com/zibuild/zibuild/internal/errs"
	"github.com/zibuild/zibuild/internal/layout"
)

// Progress receives byte or object counters while a fetch runs. A nil
// Progress is valid and simply discards updates.
type Progress interface {
	SetTotal(n int64)
	SetCurrent(n int64)
}

type nopProgress struct{}

func (nopProgress) SetTotal(int64)   {}
func (nopProgress) SetCurrent(int64) {}

// NopProgress is the no-op Progress used when the caller does not want
// per-source reporting.
var NopProgress Progress = nopProgress{}

// Ref describes one source entry after scheme dispatch.
type Ref struct {
	Raw    string
	Scheme string // "http", "https", "git", "file"
	// Git-only: checkout fragment, one of branch/tag/commit.
	GitRemote string
	GitKind   string // "branch", "tag", "commit", ""
	GitValue  string
}

// Parse classifies a recipe source string.
func Parse(raw string) (Ref, error) {
	if !strings.Contains(raw, "://") {
		return Ref{Raw: raw, Scheme: "file"}, nil
	}

	scheme := raw[:strings.Index(raw, "://")]
	rest := raw

	switch scheme {
	case "http", "https":
		return Ref{Raw: raw, Scheme: scheme}, nil
	case "git":
		return parseGit(raw, rest)
	case "git+http", "git+https", "git+ssh":
		real := strings.TrimPrefix(scheme, "git+")
		remote := real + rest[len(scheme):]
		return parseGit(raw, remote)
	default:
		return Ref{}, errs.UnknownScheme(raw)
	}
}

func parseGit(raw, remote string) (Ref, error) {
	ref := Ref{Raw: raw, Scheme: "git"}

	if idx := strings.Index(remote, "#"); idx >= 0 {
		fragment := remote[idx+1:]
		remote = remote[:idx]

		kv := strings.SplitN(fragment, "=", 2)
		if len(kv) != 2 {
			return Ref{}, errs.UnknownFragment(raw)
		}
		switch kv[0] {
		case "branch", "tag", "commit":
			ref.GitKind = kv[0]
			ref.GitValue = kv[1]
		default:
			return Ref{}, errs.UnknownFragment(raw)
		}
	}

	ref.GitRemote = remote
	return ref, nil
}

// FileName is the basename a source is stored under in src/: the final
// path segment of the URL, verbatim (a ".git" suffix is kept, so
// "git+https://ex/repo.git" clones to "src/repo.git/").
func (r Ref) FileName() string {
	if r.Scheme == "git" {
		u := strings.TrimSuffix(r.GitRemote, "/")
		return filepath.Base(u)
	}
	return filepath.Base(r.Raw)
}

// Fetcher retrieves one Ref into the src/ directory of a Layout.
type Fetcher struct {
	HTTP       *resty.Client
	GitBinary  string // defaults to "git" via exec.LookPath at call time
	RecipeRoot string // containment root for "file" scheme sources
}

// New builds a Fetcher with a default resty client.
func New(recipeRoot string) *Fetcher {
	return &Fetcher{
		HTTP:       resty.New(),
		GitBinary:  "git",
		RecipeRoot: recipeRoot,
	}
}

// Fetch retrieves ref into l.Src, reporting progress as it goes. recipeDir
// is used to resolve "file" scheme (relative) sources.
func (f *Fetcher) Fetch(ctx context.Context, ref Ref, l layout.Layout, recipeDir string, prog Progress) (string, error) {
	if prog == nil {
		prog = NopProgress
	}
	switch ref.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, ref, l, prog)
	case "git":
		return f.fetchGit(ctx, ref, l, prog)
	case "file":
		return f.fetchFile(ref, l, recipeDir)
	default:
		return "", errs.UnknownScheme(ref.Raw)
	}
}

// fetchFile resolves ref against recipeDir and copies it into l.Src, same
// as every other scheme: src/ is append-only and holds every fetched
// source, never a path outside it.
func (f *Fetcher) fetchFile(ref Ref, l layout.Layout, recipeDir string) (string, error) {
	resolved, err := layout.ResolveFileSource(f.RecipeRoot, recipeDir, ref.Raw)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(l.Src, ref.FileName())
	if err := archivx.CopyFile(resolved, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// fetchHTTP downloads ref into l.Src, resuming a partial download via a
// Range request when the destination file already exists and the server
// advertises Accept-Ranges, guarded by If-Range so a changed remote file
// restarts the download instead of producing a corrupt splice. A HEAD
// request precedes any resumption attempt: when the existing file's size
// already matches Content-Length, the download is skipped entirely.
func (f *Fetcher) fetchHTTP(ctx context.Context, ref Ref, l layout.Layout, prog Progress) (string, error) {
	dest := filepath.Join(l.Src, ref.FileName())

	var resumeFrom int64
	if fi, err := os.Stat(dest); err == nil {
		resumeFrom = fi.Size()
	}

	req := f.HTTP.R().SetContext(ctx).SetDoNotParseResponse(true)
	if resumeFrom > 0 {
		head, err := f.head(ctx, ref.Raw)
		switch {
		case err != nil:
			// HEAD failed outright (e.g. method not supported): fall back
			// to a full restart rather than failing the whole fetch.
			resumeFrom = 0
		case head.contentLength > 0 && head.contentLength == resumeFrom:
			// Destination already matches the remote in full.
			prog.SetTotal(resumeFrom)
			prog.SetCurrent(resumeFrom)
			return dest, nil
		case head.acceptRanges && head.validator != "":
			// Capture the remote's current ETag/Last-Modified so the Range
			// request can carry If-Range: a server that has since replaced
			// the file will then resend the whole body instead of letting
			// us splice old and new bytes together.
			req.SetHeader("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
			req.SetHeader("If-Range", head.validator)
		default:
			resumeFrom = 0
		}
	}

	resp, err := req.Get(ref.Raw)
	if err != nil {
		return "", errs.Network("download", ref.Raw, err)
	}
	body := resp.RawBody()
	defer body.Close()

	if resp.StatusCode() >= 400 {
		return "", errs.Network("download", ref.Raw, fmt.Errorf("server returned %s", resp.Status()))
	}

	appending := resumeFrom > 0 && resp.StatusCode() == http.StatusPartialContent

	flags := os.O_CREATE | os.O_WRONLY
	if appending {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	out, err := os.OpenFile(dest, flags, 0644)
	if err != nil {
		return "", errs.IO("create-file", dest, err)
	}
	defer out.Close()

	total := resp.RawResponse.ContentLength
	if total > 0 {
		if appending {
			prog.SetTotal(total + resumeFrom)
			prog.SetCurrent(resumeFrom)
		} else {
			prog.SetTotal(total)
		}
	}

	written, err := io.Copy(out, &countingReader{r: body, onRead: func(n int64) {
		base := int64(0)
		if appending {
			base = resumeFrom
		}
		prog.SetCurrent(base + n)
	}})
	if err != nil {
		return "", errs.Network("download", ref.Raw, err)
	}
	_ = written

	return dest, nil
}

// headInfo is the subset of a HEAD response fetchHTTP needs to decide
// whether to skip, resume, or restart a download.
type headInfo struct {
	contentLength int64
	acceptRanges  bool   // Accept-Ranges: bytes
	validator     string // ETag, falling back to Last-Modified
}

// head issues a HEAD request against url and reports its Content-Length,
// whether it advertises byte ranges, and its If-Range validator. Without
// byte-range support, or with an empty validator (the server gave us
// nothing to validate a resumed Range request against), resumption is
// not safe and the caller restarts from scratch.
func (f *Fetcher) head(ctx context.Context, url string) (headInfo, error) {
	resp, err := f.HTTP.R().SetContext(ctx).Head(url)
	if err != nil {
		return headInfo{}, errs.Network("head", url, err)
	}
	if resp.StatusCode() >= 400 {
		return headInfo{}, errs.Network("head", url, fmt.Errorf("server returned %s", resp.Status()))
	}

	info := headInfo{
		contentLength: resp.RawResponse.ContentLength,
		acceptRanges:  resp.Header().Get("Accept-Ranges") == "bytes",
	}
	if etag := resp.Header().Get("ETag"); etag != "" {
		info.validator = etag
	} else {
		info.validator = resp.Header().Get("Last-Modified")
	}
	return info, nil
}

type countingReader struct {
	r      io.Reader
	read   int64
	onRead func(total int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.onRead(c.read)
	}
	return n, err
}

// fetchGit clones (or, if already present, fetches+checks out) ref.GitRemote
// into l.Src/<name> by shelling out to the system git binary, parsing its
// stderr sideband for a coarse "received N/M objects" progress signal.
func (f *Fetcher) fetchGit(ctx context.Context, ref Ref, l layout.Layout, prog Progress) (string, error) {
	bin := f.GitBinary
	if bin == "" {
		bin = "git"
	}
	dest := filepath.Join(l.Src, ref.FileName())

	if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
		return dest, f.gitUpdate(ctx, bin, dest, ref, prog)
	}

	args := []string{"clone", "--progress"}
	if ref.GitKind == "branch" || ref.GitKind == "tag" {
		args = append(args, "--branch", ref.GitValue)
	}
	args = append(args, ref.GitRemote, dest)

	if err := runGit(ctx, bin, "", args, prog); err != nil {
		return "", errs.VCS("clone", ref.Raw, err)
	}

	if ref.GitKind == "commit" {
		if err := runGit(ctx, bin, dest, []string{"checkout", ref.GitValue}, prog); err != nil {
			return "", errs.VCS("checkout", ref.Raw, err)
		}
	}

	return dest, nil
}

func (f *Fetcher) gitUpdate(ctx context.Context, bin, dest string, ref Ref, prog Progress) error {
	if err := runGit(ctx, bin, dest, []string{"fetch", "--progress", "origin"}, prog); err != nil {
		return errs.VCS("fetch", ref.Raw, err)
	}
	target := "origin/HEAD"
	switch ref.GitKind {
	case "branch":
		target = "origin/" + ref.GitValue
	case "tag", "commit":
		target = ref.GitValue
	}
	if err := runGit(ctx, bin, dest, []string{"checkout", target}, prog); err != nil {
		return errs.VCS("checkout", ref.Raw, err)
	}
	return nil
}

// runGit executes git with args, parsing its stderr for "Receiving
// objects: NN% (a/b)" style lines to drive prog.
func runGit(ctx context.Context, bin, dir string, args []string, prog Progress) error {
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errs.Spawn("stderr", bin, err)
	}
	if err := cmd.Start(); err != nil {
		return errs.Spawn("spawn", bin, err)
	}

	scanner := bufio.NewScanner(stderr)
	scanner.Split(scanGitProgressLines)
	for scanner.Scan() {
		parseGitProgressLine(scanner.Text(), prog)
	}

	if err := cmd.Wait(); err != nil {
		return errs.Spawn("wait", bin, err)
	}
	return nil
}

// scanGitProgressLines splits on both '\n' and '\r', since git emits
// sideband progress updates terminated by carriage returns.
func scanGitProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	if atEOF {
		return 0, nil, io.EOF
	}
	return 0, nil, nil
}

// gitProgressPrefixes are the sideband lines git's own progress machinery
// emits, in the order a clone produces them. Any other line (e.g. "remote:
// Enumerating objects...") carries no a/b fraction and is only useful as
// a raw label.
var gitProgressPrefixes = []string{"Counting objects:", "Compressing objects:", "Receiving objects:", "Resolving deltas:"}

// parseGitProgressLine looks for one of gitProgressPrefixes followed by
// "NN% (a/b)" and reports a/b to prog; lines without a recognized prefix
// are ignored, and runGit does not relay them anywhere else.
func parseGitProgressLine(line string, prog Progress) {
	matched := false
	for _, prefix := range gitProgressPrefixes {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	open := strings.LastIndex(line, "(")
	close := strings.LastIndex(line, ")")
	if open < 0 || close < open {
		return
	}
	fraction := line[open+1 : close]
	parts := strings.SplitN(fraction, "/", 2)
	if len(parts) != 2 {
		return
	}
	cur, err1 := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	total, err2 := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return
	}
	prog.SetTotal(total)
	prog.SetCurrent(cur)
}
