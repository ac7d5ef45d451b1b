package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	clog "github.com/charmbracelet/log"
)

// Logger is the structured logging interface shared by every component.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	// With returns a logger that adds args to every entry.
	With(args ...any) Logger
	// Shutdown closes the log file, if any. Loggers derived with With share it.
	Shutdown() error
}

// sink is the log file shared by a logger and its children.
type sink struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func (s *sink) close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

type charmLogger struct {
	clog   *clog.Logger
	sink   *sink
	fields []any
}

// Init creates a Logger from cfg.
//
// With cfg.File set it rotates old files in the log directory and writes JSON
// lines to a new file. Otherwise it writes human-readable lines to cfg.Output.
func Init(cfg Config) (Logger, error) {
	if !cfg.File {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return New(out, cfg.Level), nil
	}
	dir, err := logDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("log directory: %w", err)
	}
	if err := rotate(dir, cfg.MaxFiles-1); err != nil {
		fmt.Fprintf(os.Stderr, "log rotation failed: %v\n", err)
	}
	name := fmt.Sprintf("%s%s_PID%d_%s.log",
		logFilePrefix,
		time.Now().Format("20060102_150405"),
		cfg.PID,
		strings.ReplaceAll(cfg.Command, " ", "_"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := clog.NewWithOptions(f, clog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339Nano,
		Level:           parseLevel(cfg.Level),
		Formatter:       clog.JSONFormatter,
	})
	return &charmLogger{
		clog: l.With("pid", cfg.PID, "command", cfg.Command),
		sink: &sink{file: f, path: path},
	}, nil
}

// New returns a console logger writing text lines to w.
func New(w io.Writer, level string) Logger {
	return &charmLogger{
		clog: clog.NewWithOptions(w, clog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Level:           parseLevel(level),
		}),
	}
}

func parseLevel(level string) clog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return clog.DebugLevel
	case "warn", "warning":
		return clog.WarnLevel
	case "error":
		return clog.ErrorLevel
	default:
		return clog.InfoLevel
	}
}

// ValidLevel reports whether level names a supported log level.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func (l *charmLogger) Debug(msg string, args ...any) { l.log(clog.DebugLevel, msg, args) }
func (l *charmLogger) Info(msg string, args ...any)  { l.log(clog.InfoLevel, msg, args) }
func (l *charmLogger) Warn(msg string, args ...any)  { l.log(clog.WarnLevel, msg, args) }
func (l *charmLogger) Error(msg string, args ...any) { l.log(clog.ErrorLevel, msg, args) }

func (l *charmLogger) log(level clog.Level, msg string, args []any) {
	kv := append(append(make([]any, 0, len(l.fields)+len(args)), l.fields...), args...)
	l.clog.Log(level, msg, scrub(kv)...)
}

func (l *charmLogger) With(args ...any) Logger {
	return &charmLogger{
		clog:   l.clog,
		sink:   l.sink,
		fields: append(append(make([]any, 0, len(l.fields)+len(args)), l.fields...), args...),
	}
}

func (l *charmLogger) Shutdown() error {
	return l.sink.close()
}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nop{}
}

type nop struct{}

func (nop) Debug(string, ...any) {}
func (nop) Info(string, ...any)  {}
func (nop) Warn(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (n nop) With(...any) Logger { return n }
func (nop) Shutdown() error      { return nil }

// FilePath returns the log file l writes to, or "" for console and no-op loggers.
func FilePath(l Logger) string {
	if c, ok := l.(*charmLogger); ok && c.sink != nil {
		return c.sink.path
	}
	return ""
}
