package colors

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	structuredMu      sync.Mutex
	structuredEnabled atomic.Bool
)

func init() {
	structuredEnabled.Store(true)
}

// StructuredLogLevel is the level of a structured entry.
type StructuredLogLevel string

const (
	LevelDebug StructuredLogLevel = "debug"
	LevelInfo  StructuredLogLevel = "info"
	LevelWarn  StructuredLogLevel = "warn"
	LevelError StructuredLogLevel = "error"
)

// StructuredLogEntry is one JSON line written to stderr.
type StructuredLogEntry struct {
	Timestamp string             `json:"timestamp"`
	Level     StructuredLogLevel `json:"level"`
	Component string             `json:"component"`
	Action    string             `json:"action"`
	Status    string             `json:"status"`
	Error     string             `json:"error,omitempty"`
	Fields    map[string]any     `json:"fields,omitempty"`
}

// DisableStructuredLogging stops structured output. The watch preview uses
// it so JSON lines do not tear the terminal.
func DisableStructuredLogging() {
	structuredEnabled.Store(false)
}

// EnableStructuredLogging resumes structured output.
func EnableStructuredLogging() {
	structuredEnabled.Store(true)
}

// StructuredLog writes a JSON entry to stderr. Entries are only written in
// debug mode.
func StructuredLog(level StructuredLogLevel, component, action, status string, err error, fields map[string]any) {
	if !debugEnabled.Load() || !structuredEnabled.Load() {
		return
	}
	entry := StructuredLogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: component,
		Action:    action,
		Status:    status,
		Fields:    fields,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	data, merr := json.Marshal(entry)
	if merr != nil {
		data = fmt.Appendf(nil, `{"level":"error","component":"colors","action":"marshal","error":%q}`, merr.Error())
	}

	_, errOut, _ := writers()
	structuredMu.Lock()
	defer structuredMu.Unlock()
	fmt.Fprintf(errOut, "%s\n", data)
}

// StructuredInfo logs a structured info entry.
func StructuredInfo(component, action, status string, err error, fields map[string]any) {
	StructuredLog(LevelInfo, component, action, status, err, fields)
}

// StructuredError logs a structured error entry.
func StructuredError(component, action, status string, err error, fields map[string]any) {
	StructuredLog(LevelError, component, action, status, err, fields)
}
