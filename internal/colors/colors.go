// Package colors prints user facing command line messages.
package colors

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
)

const checkmark = "✓"

var (
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	debugStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
)

// Logger mirrors console messages into the structured log.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var (
	mu           sync.RWMutex
	stdout       io.Writer = os.Stdout
	stderr       io.Writer = os.Stderr
	logger       Logger
	debugEnabled atomic.Bool
)

func init() {
	if val := os.Getenv("VIBEPANEL_DEBUG"); val == "true" || val == "1" {
		debugEnabled.Store(true)
	}
}

// SetDebug enables or disables debug output.
func SetDebug(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether debug output is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

// SetLogger sets the structured logger that mirrors console output.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// SetOutput redirects messages and returns a function restoring the
// previous writers.
func SetOutput(out, errOut io.Writer) (restore func()) {
	mu.Lock()
	defer mu.Unlock()
	prevOut, prevErr := stdout, stderr
	stdout, stderr = out, errOut
	return func() {
		mu.Lock()
		defer mu.Unlock()
		stdout, stderr = prevOut, prevErr
	}
}

func writers() (io.Writer, io.Writer, Logger) {
	mu.RLock()
	defer mu.RUnlock()
	return stdout, stderr, logger
}

func print(w io.Writer, prefix, msg string) {
	if _, err := fmt.Fprintf(w, "%s %s\n", prefix, msg); err != nil {
		// last resort, never through the styled path again
		fmt.Fprintf(os.Stderr, "%s %s\n", prefix, msg)
	}
}

// Error outputs an error message to stderr.
func Error(msgs ...string) {
	msg := strings.Join(msgs, " ")
	_, errOut, l := writers()
	if l != nil {
		l.Error(msg)
	}
	print(errOut, errorStyle.Render("Error:"), msg)
}

// Success outputs a success message to stdout.
func Success(msgs ...string) {
	msg := strings.Join(msgs, " ")
	out, _, l := writers()
	if l != nil {
		l.Info(msg, "type", "success")
	}
	print(out, successStyle.Render(checkmark), msg)
}

// Warning outputs a warning message to stderr.
func Warning(msgs ...string) {
	msg := strings.Join(msgs, " ")
	_, errOut, l := writers()
	if l != nil {
		l.Warn(msg)
	}
	print(errOut, warningStyle.Render("Warning:"), msg)
}

// Info outputs an informational message to stdout.
func Info(msgs ...string) {
	msg := strings.Join(msgs, " ")
	out, _, l := writers()
	if l != nil {
		l.Info(msg)
	}
	print(out, infoStyle.Render("•"), msg)
}

// Debug outputs a debug message to stderr when debug output is on.
func Debug(msgs ...string) {
	if !debugEnabled.Load() {
		return
	}
	msg := strings.Join(msgs, " ")
	_, errOut, l := writers()
	if l != nil {
		l.Debug(msg)
	}
	print(errOut, debugStyle.Render("Debug:"), msg)
}
