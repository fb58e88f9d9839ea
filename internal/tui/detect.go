// Package tui holds the terminal-facing helpers of the CLI: terminal
// detection, the result table renderer and the password prompt.
package tui

import (
	"os"

	"golang.org/x/term"
)

// Mode represents how output is presented.
type Mode int

const (
	// ModeNonInteractive is used for CI/CD pipelines, scripts, and piped output.
	ModeNonInteractive Mode = iota
	// ModeInteractive is used when a human is at the terminal.
	ModeInteractive
)

// DetectMode decides whether output goes to a human.
//
// Returns ModeNonInteractive if:
//   - stdout is not a terminal (piped output, CI/CD)
//   - PGWARDEN_NON_INTERACTIVE=1 is set
//   - CI is set (common CI/CD convention)
//   - NO_COLOR is set
func DetectMode() Mode {
	if os.Getenv("PGWARDEN_NON_INTERACTIVE") == "1" {
		return ModeNonInteractive
	}
	if os.Getenv("CI") != "" {
		return ModeNonInteractive
	}
	if os.Getenv("NO_COLOR") != "" {
		return ModeNonInteractive
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return ModeNonInteractive
	}
	return ModeInteractive
}

// IsInteractive is a convenience function that returns true if running in interactive mode.
func IsInteractive() bool {
	return DetectMode() == ModeInteractive
}
