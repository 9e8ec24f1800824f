// Package progressui renders the pipeline's per-worker status lanes to a
// terminal, in the teacher's multi-line ANSI cursor-save/restore style,
// with each lane's numeric progress (bytes downloaded, objects received)
// rendered through a schollz/progressbar bar composited into the line.
package progressui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// UI renders N+1 status lines (lane 0 is totals, 1..N are workers) to w,
// repainting no more than once every 250ms to keep terminal writes cheap.
type UI struct {
	w       io.Writer
	lanes   int
	verbose bool
	isTTY   bool

	mu         sync.Mutex
	lines      []string
	bars       []*progressbar.ProgressBar
	lastPaint  time.Time
	maxLineLen int
}

// New builds a UI with nLanes worker lanes plus a totals lane. When
// verbose is true, or w is not a terminal, the UI suppresses all ANSI
// drawing and SetLane instead behaves as a passthrough logger.
func New(w io.Writer, nLanes int, verbose bool) *UI {
	isTTY := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		isTTY = isTerminal(f.Fd())
	}
	return &UI{
		w:       w,
		lanes:   nLanes,
		verbose: verbose,
		isTTY:   isTTY,
		lines:   make([]string, nLanes+1),
		bars:    make([]*progressbar.ProgressBar, nLanes+1),
	}
}

// SetLane updates lane idx's status text and repaints (subject to
// throttling), unless verbose mode or a non-terminal writer suppresses
// drawing, in which case the line is written once, directly, with no
// cursor control.
func (u *UI) SetLane(idx int, text string) {
	if u.verbose || !u.isTTY {
		fmt.Fprintln(u.w, text)
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	u.lines[idx] = text
	if len(text) > u.maxLineLen {
		u.maxLineLen = len(text)
	}
	u.repaintLocked(false)
}

// SetLaneBar attaches byte-counter progress (current/total) to lane idx,
// rendered as a compact inline bar appended to the lane's status text.
func (u *UI) SetLaneBar(idx int, label string, current, total int64) {
	if u.verbose || !u.isTTY {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	bar := u.bars[idx]
	if bar == nil || bar.GetMax64() != total {
		width, _, err := term.GetSize(0)
		if err != nil || width <= 0 {
			width = 80
		}
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWidth(minInt(40, width/2)),
			progressbar.OptionSetDescription(label),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionSetRenderBlankState(true),
		)
		u.bars[idx] = bar
	}
	bar.Set64(current)
	u.lines[idx] = fmt.Sprintf("%s %s", label, bar.String())
	u.repaintLocked(false)
}

// SetTotal renders the totals bar (lane 0): done out of total items have
// cleared the final stage, with the live error count appended as the bar's
// message.
func (u *UI) SetTotal(done, total, errCount int) {
	if u.verbose || !u.isTTY {
		fmt.Fprintf(u.w, "totals: %d/%d (%d errors)\n", done, total, errCount)
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	label := fmt.Sprintf("%d errors", errCount)
	bar := u.bars[0]
	if bar == nil || bar.GetMax() != total {
		width, _, err := term.GetSize(0)
		if err != nil || width <= 0 {
			width = 80
		}
		bar = progressbar.NewOptions(total,
			progressbar.OptionSetWidth(minInt(40, width/2)),
			progressbar.OptionSetDescription("totals"),
			progressbar.OptionSetRenderBlankState(true),
		)
		u.bars[0] = bar
	}
	bar.Set(done)
	u.lines[0] = fmt.Sprintf("totals %s %s", bar.String(), label)
	if len(u.lines[0]) > u.maxLineLen {
		u.maxLineLen = len(u.lines[0])
	}
	u.repaintLocked(false)
}

// Flush forces an immediate repaint ignoring the throttle, used when the
// engine finishes or is about to print a fatal error above the lanes.
func (u *UI) Flush() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.repaintLocked(true)
}

func (u *UI) repaintLocked(force bool) {
	if !force && time.Since(u.lastPaint) < 250*time.Millisecond {
		return
	}
	u.lastPaint = time.Now()

	for _, line := range u.lines {
		if diff := u.maxLineLen - len(line); diff > 0 {
			line += strings.Repeat(" ", diff)
		}
		fmt.Fprintln(u.w, line)
	}
	fmt.Fprintf(u.w, "\033[%dA", len(u.lines)) // restore cursor position
}

// Close restores the cursor below the drawn lanes so subsequent normal
// output (e.g. an error summary) does not overwrite the last frame.
func (u *UI) Close() {
	if u.verbose || !u.isTTY {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	fmt.Fprintf(u.w, "\033[%dB", len(u.lines))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// isTerminal reports whether fd refers to a terminal, grounded on the
// teacher's internal/batch/batch.go package-level isTerminal probe.
func isTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	return err == nil
}
