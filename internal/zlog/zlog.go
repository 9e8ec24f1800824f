// Package zlog wires a single leveled, structured logger for the whole
// program, in the style of bitswalk-ldf's src/common/logs package: a
// thin wrapper around charmbracelet/log with verbose mode raising the
// level to Debug.
package zlog

import (
	"os"

	"github.com/charmbracelet/log"
)

// New creates the process-wide logger. verbose raises the level to Debug;
// otherwise Info.
func New(verbose bool) *log.Logger {
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(os.Stderr, log.Options{
		Level:           level,
		ReportTimestamp: true,
		ReportCaller:    false,
	})
}
