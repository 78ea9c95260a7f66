package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/viabridge-project/viabridge/internal/events"
)

// Lines that mean ViaProxy is accepting connections. The second is printed
// by older releases.
var readyMarkers = []string{
	"Finished mapping loading",
	"Binding proxy server to ",
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// StripANSI removes terminal escape sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// Classify picks the log level for a proxy output line.
func Classify(line string) events.LogLevel {
	switch {
	case strings.Contains(line, "ERROR"), strings.Contains(line, "Exception"):
		return events.LogLevelError
	case strings.Contains(line, "WARN"):
		return events.LogLevelWarn
	default:
		return events.LogLevelInfo
	}
}

// IsReadyLine reports whether line carries a readiness marker.
func IsReadyLine(line string) bool {
	for _, m := range readyMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

// streamReader drains one output stream for the life of the process.
type streamReader struct {
	stream   string
	logger   zerolog.Logger
	eventBus *events.Bus
	// onReady is called for every ready line; the caller makes it one-shot.
	onReady func()
}

// run reads until EOF. It must keep reading after the ready line so the
// process never blocks on a full pipe.
func (s *streamReader) run(ctx context.Context, r io.Reader) error {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.handle(ctx, strings.TrimRight(line, "\r\n"))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (s *streamReader) handle(ctx context.Context, raw string) {
	line := StripANSI(raw)
	if strings.TrimSpace(line) == "" {
		return
	}

	level := Classify(line)
	var ev *zerolog.Event
	switch level {
	case events.LogLevelError:
		ev = s.logger.Error()
	case events.LogLevelWarn:
		ev = s.logger.Warn()
	default:
		ev = s.logger.Info()
	}
	ev.Str("stream", s.stream).Msg(line)

	s.eventBus.Emit(ctx, events.Event{
		Type:   events.EventProxyLog,
		Source: "proxy",
		Payload: events.ProxyLogPayload{
			Stream: s.stream,
			Level:  level,
			Line:   line,
		},
	})

	if IsReadyLine(line) && s.onReady != nil {
		s.onReady()
	}
}
