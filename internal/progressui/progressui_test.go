package progressui

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetLaneVerboseModeWritesPlainLines(t *testing.T) {
	var buf bytes.Buffer
	u := New(&buf, 2, true)
	u.SetLane(1, "building foo")
	u.SetLane(2, "downloading bar")

	out := buf.String()
	if !strings.Contains(out, "building foo") || !strings.Contains(out, "downloading bar") {
		t.Errorf("expected plain lines in output, got %q", out)
	}
	if strings.Contains(out, "\033[") {
		t.Errorf("verbose mode must not emit ANSI cursor control, got %q", out)
	}
}

func TestNewNonTTYDisablesDrawing(t *testing.T) {
	var buf bytes.Buffer // bytes.Buffer has no Fd(), so isTTY stays false
	u := New(&buf, 1, false)
	u.SetLane(1, "hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("expected passthrough line, got %q", buf.String())
	}
}

func TestSetTotalNonTTYReportsErrorCount(t *testing.T) {
	var buf bytes.Buffer
	u := New(&buf, 1, false)
	u.SetTotal(2, 5, 1)
	out := buf.String()
	if !strings.Contains(out, "2/5") || !strings.Contains(out, "1 errors") {
		t.Errorf("expected totals line with done/total and error count, got %q", out)
	}
}
