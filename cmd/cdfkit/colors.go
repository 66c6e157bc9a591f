package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

// ANSI color codes for terminal output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
)

// formatStatus colors a crosscheck verdict line. Output that is not a
// terminal stays plain so it can be compared byte for byte.
func formatStatus(w io.Writer, status string) string {
	f, ok := w.(*os.File)
	if !ok || !isatty.IsTerminal(f.Fd()) {
		return status
	}
	switch status {
	case "consistent":
		return colorGreen + status + colorReset
	case "MISMATCH":
		return colorRed + status + colorReset
	default:
		return status
	}
}
