// Package updates counts pending package updates by running the system
// package manager on an interval.
package updates

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"

	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	Auto            = "auto"
	DefaultInterval = time.Hour
	queryTimeout    = 2 * time.Minute

	eventKey = "updates"
)

// Backend describes how to query one package manager.
type Backend struct {
	Name    string
	Command []string
	// Exit codes that still carry a valid answer.
	OKCodes []int
	Parse   func(out string) []string
}

// Backends lists the supported package managers in auto-detection order.
var Backends = []Backend{
	{Name: "pacman", Command: []string{"checkupdates"}, OKCodes: []int{0, 2}, Parse: ParsePacman},
	{Name: "dnf", Command: []string{"dnf", "check-update", "-q"}, OKCodes: []int{0, 100}, Parse: ParseDnf},
	{Name: "apt", Command: []string{"apt", "list", "--upgradable"}, OKCodes: []int{0}, Parse: ParseApt},
}

// Lookup returns the backend called name.
func Lookup(name string) (Backend, bool) {
	for _, b := range Backends {
		if b.Name == name {
			return b, true
		}
	}
	return Backend{}, false
}

// Detect returns the first backend whose command is installed.
func Detect(lookPath func(string) (string, error)) (Backend, bool) {
	for _, b := range Backends {
		if _, err := lookPath(b.Command[0]); err == nil {
			return b, true
		}
	}
	return Backend{}, false
}

// runFunc runs a command and returns stdout and the exit code.
type runFunc func(ctx context.Context, argv []string) (string, int, error)

func execRun(ctx context.Context, argv []string) (string, int, error) {
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).Output()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return string(out), exitErr.ExitCode(), nil
	}
	if err != nil {
		return "", -1, err
	}
	return string(out), 0, nil
}

// Adapter is the updates domain adapter.
type Adapter struct {
	*source.Emitter
	logger   logging.Logger
	backend  string
	interval time.Duration
	run      runFunc
	lookPath func(string) (string, error)
	now      func() time.Time
}

func New(backend string, interval time.Duration, logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	if backend == "" {
		backend = Auto
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Adapter{
		Emitter:  source.NewEmitter(domain.Updates),
		logger:   logger,
		backend:  backend,
		interval: interval,
		run:      execRun,
		lookPath: exec.LookPath,
		now:      time.Now,
	}
}

func (a *Adapter) resolve() (Backend, error) {
	if a.backend == Auto {
		b, ok := Detect(a.lookPath)
		if !ok {
			return Backend{}, source.Unavailable("no supported package manager")
		}
		return b, nil
	}
	b, ok := Lookup(a.backend)
	if !ok {
		return Backend{}, source.Unavailable(fmt.Sprintf("unknown updates backend %q", a.backend))
	}
	if _, err := a.lookPath(b.Command[0]); err != nil {
		return Backend{}, source.Unavailable(b.Command[0] + " not installed")
	}
	return b, nil
}

func (a *Adapter) Probe(context.Context) domain.Availability {
	if _, err := a.resolve(); err != nil {
		return domain.Unavailable
	}
	return domain.Ready
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	b, err := a.resolve()
	if err != nil {
		return nil, err
	}
	st, err := a.Check(ctx, b)
	if err != nil {
		return nil, err
	}
	if err := a.Emit(ctx, eventKey, st); err != nil {
		return nil, err
	}
	return source.Go(ctx, nil, func(ctx context.Context) error {
		return source.Tick(ctx, a.interval, func(ctx context.Context) error {
			st, err := a.Check(ctx, b)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			_ = a.Emit(ctx, eventKey, st)
			return nil
		})
	}), nil
}

// Check runs b once.
func (a *Adapter) Check(ctx context.Context, b Backend) (domain.UpdatesState, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	out, code, err := a.run(ctx, b.Command)
	if err != nil {
		return domain.UpdatesState{}, source.Transient(b.Name+" check", err)
	}
	if !slices.Contains(b.OKCodes, code) {
		return domain.UpdatesState{}, source.Transient(b.Name+" check", fmt.Errorf("exit status %d", code))
	}
	pkgs := b.Parse(out)
	return domain.UpdatesState{
		Backend:   b.Name,
		Count:     len(pkgs),
		Packages:  pkgs,
		CheckedAt: a.now(),
	}, nil
}

// ParsePacman reads checkupdates output: "name old -> new".
func ParsePacman(out string) []string {
	return firstFields(out, func(line string) bool { return strings.Contains(line, "->") })
}

// ParseDnf reads dnf check-update output, stopping at the obsoletes section.
func ParseDnf(out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Obsoleting") {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 3 || strings.HasPrefix(line, " ") {
			continue
		}
		name := fields[0]
		if i := strings.LastIndex(name, "."); i > 0 {
			name = name[:i]
		}
		pkgs = append(pkgs, name)
	}
	return pkgs
}

// ParseApt reads apt list --upgradable output: "name/suite version arch [...]".
func ParseApt(out string) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		name, _, ok := strings.Cut(strings.TrimSpace(line), "/")
		if !ok || strings.Contains(name, " ") || name == "" {
			continue
		}
		pkgs = append(pkgs, name)
	}
	return pkgs
}

func firstFields(out string, keep func(string) bool) []string {
	var pkgs []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !keep(line) {
			continue
		}
		pkgs = append(pkgs, fields[0])
	}
	return pkgs
}
