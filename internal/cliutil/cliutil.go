// Package cliutil provides colorized console feedback for the daemon's
// service-control subcommands (install/start/stop/uninstall).
//
// Grounded on common/util/terminal_ui.go's ShowError/ShowSuccess, scoped
// down to the two calls mp-printd's service-command path actually needs
// — the full banner/progress-bar/spinner surface in the teacher's
// version belongs to an interactive installer, which this daemon has
// no equivalent of.
package cliutil

import "fmt"

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
)

// ShowSuccess prints a green checkmark status line to stdout.
func ShowSuccess(message string) {
	fmt.Printf("  %s✓%s %s\n", colorGreen, colorReset, message)
}

// ShowError prints a red cross status line to stdout, matching the
// teacher's own ShowError (errors are shown inline with other status
// lines, not routed to stderr).
func ShowError(message string) {
	fmt.Printf("  %s✗%s %s\n", colorRed, colorReset, message)
}
