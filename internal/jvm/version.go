// Package jvm detects the locally installed Java runtime's version.
package jvm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Version is a major.minor.patch triple.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Less reports whether v sorts before o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Feature returns the Java feature release: 8 for "1.8.0", 17 for "17.0.2".
func (v Version) Feature() int {
	if v.Major == 1 {
		return v.Minor
	}
	return v.Major
}

// ParseError is returned when version text contains no numeric run at all.
type ParseError struct {
	Text string
}

func (e *ParseError) Error() string {
	text := e.Text
	if len(text) > 80 {
		text = text[:80] + "..."
	}
	return fmt.Sprintf("no version number found in %q", text)
}

// versionPattern matches the first numeric run: major, optionally followed
// by .minor and .patch. Vendors wrap this in quotes, prefixes and build
// metadata, so nothing around it is anchored.
var versionPattern = regexp.MustCompile(`(\d+)(?:\.(\d+))?(?:\.(\d+))?`)

// ParseVersion extracts the first version run from free-form text.
func ParseVersion(text string) (Version, error) {
	m := versionPattern.FindStringSubmatch(text)
	if m == nil {
		return Version{}, &ParseError{Text: text}
	}

	var parts [3]int
	for i, raw := range m[1:] {
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return Version{}, &ParseError{Text: text}
		}
		parts[i] = n
	}
	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

// Probe runs `<executable> -version` and parses the output. Java prints the
// version on stderr, so both streams are captured. A nil version with a nil
// error means the executable could not be found or started.
func Probe(ctx context.Context, executable string) (*Version, error) {
	logger := log.With().Str("component", "jvm").Str("executable", executable).Logger()

	cmd := exec.CommandContext(ctx, executable, "-version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
			logger.Debug().Err(err).Msg("runtime not found")
			return nil, nil
		case errors.As(err, &exitErr):
			// Some launchers exit non-zero after printing a usable banner.
			logger.Debug().Int("exit_code", exitErr.ExitCode()).Msg("runtime exited non-zero")
		default:
			logger.Debug().Err(err).Msg("runtime could not be started")
			return nil, nil
		}
	}

	text := strings.TrimSpace(string(output))
	v, err := ParseVersion(text)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("version", v.String()).Msg("runtime version detected")
	return &v, nil
}
