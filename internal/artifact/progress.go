package artifact

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// ProgressReporter receives downloaded bytes as they are written.
type ProgressReporter interface {
	io.Writer
	Finish() error
}

// ProgressFactory creates a reporter for a download of total bytes; total is
// -1 when the size is unknown.
type ProgressFactory func(total int64, description string) ProgressReporter

// TerminalProgress draws a byte progress bar on stderr.
func TerminalProgress(total int64, description string) ProgressReporter {
	return progressbar.DefaultBytes(total, description)
}

// SilentProgress reports nothing.
func SilentProgress(int64, string) ProgressReporter {
	return discardReporter{}
}

type discardReporter struct{}

func (discardReporter) Write(p []byte) (int, error) { return len(p), nil }
func (discardReporter) Finish() error               { return nil }
