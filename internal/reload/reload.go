// Package reload watches the configuration and theme files and swaps the
// published configuration when an edit produces a valid candidate.
package reload

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/vibepanel/vibepanel/internal/config"
	"github.com/vibepanel/vibepanel/internal/debounce"
	"github.com/vibepanel/vibepanel/internal/logging"
	"github.com/vibepanel/vibepanel/internal/publish"
)

// DefaultDebounce is the quiet period after a file change before reparsing.
const DefaultDebounce = 300 * time.Millisecond

// State is the phase of the reload state machine.
type State int32

const (
	Idle State = iota
	ChangeDetected
	Parsing
	Valid
	Invalid
	Swapping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ChangeDetected:
		return "change-detected"
	case Parsing:
		return "parsing"
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	case Swapping:
		return "swapping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Diagnostic describes a rejected candidate. The previous configuration stays
// published.
type Diagnostic struct {
	Source string
	// Generation is the generation that remained active.
	Generation uint64
	Err        error
	Time       time.Time
}

// Observer receives reload outcomes.
type Observer interface {
	StateChanged(s State)
	ReloadFinished(ok bool, change config.Change)
}

// Loader builds a candidate configuration for a generation.
type Loader func(path string, generation uint64) (*config.Effective, error)

// Reloader owns the configuration holder and is its only writer.
type Reloader struct {
	holder   *publish.Holder[*config.Effective]
	path     string
	load     Loader
	window   time.Duration
	logger   logging.Logger
	observer Observer
	now      func() time.Time
	watcher  func() (*fsnotify.Watcher, error)

	state atomic.Int32
	mu    sync.Mutex
	diags chan Diagnostic
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithDebounce sets the quiet period before a change is reparsed.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(r *Reloader) { r.logger = l }
}

// WithObserver sets an outcome observer.
func WithObserver(o Observer) Option {
	return func(r *Reloader) { r.observer = o }
}

// WithLoader replaces the candidate builder.
func WithLoader(l Loader) Option {
	return func(r *Reloader) { r.load = l }
}

// New creates a Reloader for the configuration file at path. The holder must
// already contain the initial configuration.
func New(holder *publish.Holder[*config.Effective], path string, opts ...Option) *Reloader {
	r := &Reloader{
		holder:  holder,
		path:    path,
		load:    config.LoadEffective,
		window:  DefaultDebounce,
		logger:  logging.Nop(),
		now:     time.Now,
		watcher: fsnotify.NewWatcher,
		diags:   make(chan Diagnostic, 8),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// State returns the current phase.
func (r *Reloader) State() State {
	return State(r.state.Load())
}

func (r *Reloader) setState(s State) {
	r.state.Store(int32(s))
	if r.observer != nil {
		r.observer.StateChanged(s)
	}
}

// Diagnostics delivers rejected candidates. When the reader falls behind the
// oldest diagnostics are dropped.
func (r *Reloader) Diagnostics() <-chan Diagnostic {
	return r.diags
}

func (r *Reloader) report(d Diagnostic) {
	for {
		select {
		case r.diags <- d:
			return
		default:
		}
		select {
		case <-r.diags:
		default:
		}
	}
}

// Reload builds a candidate from the files on disk and publishes it if it is
// valid. On failure the active configuration is kept and the error returned.
func (r *Reloader) Reload() (config.Change, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, gen := r.holder.Load()
	r.setState(Parsing)
	next, err := r.load(r.path, gen+1)
	if err != nil {
		r.setState(Invalid)
		r.logger.Warn("configuration rejected, keeping previous", "path", r.path, "generation", gen, "error", err)
		r.report(Diagnostic{Source: r.path, Generation: gen, Err: err, Time: r.now()})
		if r.observer != nil {
			r.observer.ReloadFinished(false, 0)
		}
		r.setState(Idle)
		return 0, err
	}
	r.setState(Valid)
	for _, w := range next.Warnings {
		r.logger.Warn("configuration warning", "path", r.path, "warning", w)
	}

	change := config.Diff(old, next)
	r.setState(Swapping)
	if change != 0 {
		if !r.holder.Store(next, next.Generation) {
			r.setState(Idle)
			return 0, fmt.Errorf("reload: generation %d superseded", next.Generation)
		}
		r.logger.Info("configuration reloaded", "path", r.path, "generation", next.Generation, "changed", change.String())
	} else {
		r.logger.Debug("configuration unchanged", "path", r.path)
	}
	if r.observer != nil {
		r.observer.ReloadFinished(true, change)
	}
	r.setState(Idle)
	return change, nil
}

// watched returns the files whose changes trigger a reload.
func (r *Reloader) watched() []string {
	files := []string{r.path}
	if cur := r.holder.Current(); cur != nil {
		if tp := config.ThemePath(r.path, cur.Config); tp != "" {
			files = append(files, tp)
		}
	}
	return files
}

// Run watches the parent directories of the configuration and theme files
// until ctx is cancelled. Directories are watched instead of files so editors
// that replace the file by renaming are picked up. When no watcher can be
// created the panel keeps running on the current configuration.
func (r *Reloader) Run(ctx context.Context) error {
	if r.path == "" {
		<-ctx.Done()
		return ctx.Err()
	}
	watcher, err := r.watcher()
	if err != nil {
		r.logger.Warn("configuration hot reload disabled", "error", err)
		<-ctx.Done()
		return ctx.Err()
	}
	defer watcher.Close()

	dirs := make(map[string]bool)
	watchDirs := func() {
		for _, f := range r.watched() {
			dir := filepath.Dir(f)
			if dirs[dir] {
				continue
			}
			if err := watcher.Add(dir); err != nil {
				r.logger.Warn("cannot watch directory", "dir", dir, "error", err)
				continue
			}
			dirs[dir] = true
		}
	}
	watchDirs()

	pending := debounce.NewQueue[string, string](1, nil)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		timer.Stop()
		if next, ok := pending.Next(); ok {
			timer.Reset(max(next.Sub(r.now()), 0))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("reload: watcher closed")
			}
			if !r.relevant(ev) {
				continue
			}
			r.logger.Debug("configuration file changed", "file", ev.Name, "op", ev.Op.String())
			r.setState(ChangeDetected)
			pending.Push(filepath.Clean(ev.Name), ev.Name, r.window, r.now())

		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("reload: watcher closed")
			}
			r.logger.Warn("watcher error", "error", err)

		case <-timer.C:
			if len(pending.Due(r.now())) == 0 {
				continue
			}
			pending.Flush()
			if _, err := r.Reload(); err == nil {
				watchDirs()
			}
		}
	}
}

func (r *Reloader) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Clean(ev.Name)
	for _, f := range r.watched() {
		if filepath.Clean(f) == name {
			return true
		}
	}
	return false
}
