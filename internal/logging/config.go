// Package logging provides structured logging for vibepanel.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config holds logging configuration.
type Config struct {
	Level string
	// File switches from console output to JSON log files under Dir.
	File bool
	// Dir is the state directory. Log files go to its logs subdirectory.
	Dir      string
	MaxFiles int
	// Output receives console logs. Defaults to os.Stderr.
	Output  io.Writer
	Command string
	PID     int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		MaxFiles: 10,
		Output:   os.Stderr,
		Command:  filepath.Base(os.Args[0]),
		PID:      os.Getpid(),
	}
}

// logDir returns a writable log directory below stateDir, falling back to a
// per-user directory under the system temp dir.
func logDir(stateDir string) (string, error) {
	if stateDir != "" {
		dir := filepath.Join(stateDir, "logs")
		if writable(dir) {
			return dir, nil
		}
	}
	dir := filepath.Join(os.TempDir(), fmt.Sprintf("vibepanel-%d", os.Getuid()), "logs")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func writable(dir string) bool {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
