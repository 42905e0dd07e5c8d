package printer

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/dyluth/warren/pkg/comms"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)

	// Stdout and Stderr are where messages go; tests swap them.
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// Success prints a message in green with a checkmark prefix
func Success(format string, a ...any) {
	green.Fprint(Stdout, prefixed("✓", fmt.Sprintf(format, a...)))
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(Stdout, format, a...)
}

// Warning prints a message in yellow with a warning prefix
func Warning(format string, a ...any) {
	yellow.Fprint(Stderr, prefixed("⚠️ ", fmt.Sprintf(format, a...)))
}

// Step prints a progress line (used while waiting on the hub)
func Step(format string, a ...any) {
	cyan.Fprint(Stdout, prefixed("→", fmt.Sprintf(format, a...)))
}

// Faint prints de-emphasised text, e.g. watch heartbeats
func Faint(format string, a ...any) {
	faint.Fprintf(Stdout, format, a...)
}

func prefixed(prefix, msg string) string {
	if strings.HasPrefix(msg, strings.TrimSpace(prefix)) {
		return msg
	}
	return prefix + " " + msg
}

// Status colours text according to an agent status: online green,
// warning yellow, offline red.
func Status(s comms.Status, text string) string {
	switch s {
	case comms.StatusOnline:
		return green.Sprint(text)
	case comms.StatusWarning:
		return yellow.Sprint(text)
	case comms.StatusOffline:
		return red.Sprint(text)
	}
	return text
}

// Error prints a titled error with an explanation and suggested fixes to
// stderr, and returns a plain error carrying only the title for Cobra.
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext is Error with key/value details (hub URL, agent id, ...).
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(Stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(Stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		fmt.Fprintf(Stderr, "\n")
		for key, value := range context {
			fmt.Fprintf(Stderr, "  %s: %s\n", key, value)
		}
	}

	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(Stderr, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(Stderr, "\nEither:\n")
		for i, suggestion := range suggestions {
			fmt.Fprintf(Stderr, "  %d. %s\n", i+1, suggestion)
		}
	}

	// SilenceErrors keeps Cobra from printing this again.
	return fmt.Errorf("%s", title)
}
