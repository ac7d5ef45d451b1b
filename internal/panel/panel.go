// Package panel assembles the runtime. Adapters feed the coalescer, the
// coalescer feeds the aggregator and configuration reloads reconfigure the
// chain while it runs.
package panel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vibepanel/vibepanel/internal/adapters"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/aggregator"
	"github.com/vibepanel/vibepanel/internal/config"
	"github.com/vibepanel/vibepanel/internal/debounce"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
	"github.com/vibepanel/vibepanel/internal/metrics"
	"github.com/vibepanel/vibepanel/internal/notify"
	"github.com/vibepanel/vibepanel/internal/publish"
	"github.com/vibepanel/vibepanel/internal/reload"
	"github.com/vibepanel/vibepanel/internal/storage/sqlite"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultQueueSize is the event queue capacity when none is configured.
	DefaultQueueSize = 256
	databaseFile     = "notifications.db"
	pruneInterval    = time.Minute
)

var (
	// ErrNotRunning is returned when controlling a domain with no running adapter.
	ErrNotRunning = errors.New("adapter not running")
	// ErrUnsupported is returned when the adapter of a domain lacks the requested control.
	ErrUnsupported = errors.New("domain does not support this control")
	// ErrNoServer is returned for server operations while the notification server is off.
	ErrNoServer = errors.New("notification server not running")
)

// Options configure a Panel.
type Options struct {
	Env config.Env
	// Config is the initial configuration. Its generation must be positive.
	Config   *config.Effective
	Registry *adapters.Registry
	Logger   logging.Logger
	// Metrics receives pipeline statistics; nil disables them.
	Metrics *metrics.Metrics
	// MetricsAddr overrides advanced.metrics_addr.
	MetricsAddr string
	// Bus is the session bus connection for the notification server. When
	// nil and the server is enabled the session bus is dialed.
	Bus notify.Conn
	// MemoryHistory keeps notifications in memory only.
	MemoryHistory bool
	Version       string
}

// Panel owns the published snapshot and configuration holders and every
// goroutine that writes to them.
type Panel struct {
	opts       Options
	logger     logging.Logger
	registry   *adapters.Registry
	configs    *publish.Holder[*config.Effective]
	snapshots  *publish.Holder[aggregator.Snapshot]
	coalescer  *debounce.Coalescer
	aggregator *aggregator.Aggregator
	reloader   *reload.Reloader
	store      *notify.Store
	history    *sqlite.History

	restart chan struct{}

	mu      sync.RWMutex
	running map[domain.Domain]adapters.Adapter
	server  *notify.Server
}

// New builds the pipeline and opens the notification history. Nothing runs
// until Run is called.
func New(ctx context.Context, opts Options) (*Panel, error) {
	if opts.Config == nil {
		return nil, errors.New("panel: initial configuration is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Registry == nil {
		opts.Registry = adapters.NewRegistry()
	}
	p := &Panel{
		opts:      opts,
		logger:    opts.Logger,
		registry:  opts.Registry,
		configs:   publish.NewHolder[*config.Effective](nil),
		snapshots: publish.NewHolder(aggregator.Empty()),
		restart:   make(chan struct{}, 1),
		running:   make(map[domain.Domain]adapters.Adapter),
	}
	if !p.configs.Store(opts.Config, opts.Config.Generation) {
		return nil, fmt.Errorf("panel: invalid configuration generation %d", opts.Config.Generation)
	}
	cfg := opts.Config.Config

	coalescerOpts := []debounce.Option{debounce.WithLogger(p.logger.With("component", "debounce"))}
	aggregatorOpts := []aggregator.Option{aggregator.WithLogger(p.logger.With("component", "aggregator"))}
	reloadOpts := []reload.Option{
		reload.WithDebounce(cfg.Advanced.ReloadDebounce.Duration),
		reload.WithLogger(p.logger.With("component", "reload")),
	}
	if m := opts.Metrics; m != nil {
		coalescerOpts = append(coalescerOpts, debounce.WithObserver(m))
		aggregatorOpts = append(aggregatorOpts, aggregator.WithObserver(m))
		reloadOpts = append(reloadOpts, reload.WithObserver(m))
	}
	p.coalescer = debounce.NewCoalescer(cfg.Windows(), coalescerOpts...)
	p.aggregator = aggregator.New(p.snapshots, aggregatorOpts...)
	p.reloader = reload.New(p.configs, opts.Config.Source, reloadOpts...)

	if err := p.openStore(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// DatabasePath returns the notification history file for n.
func DatabasePath(e config.Env, n config.Notifications) string {
	if n.Database != "" {
		return n.Database
	}
	return filepath.Join(e.StateDirectory(), databaseFile)
}

// StoreOptions converts the notifications section into store options.
func StoreOptions(n config.Notifications) notify.Options {
	return notify.Options{
		MaxHistory: n.MaxHistory,
		MaxAge:     n.MaxAge.Duration,
		DefaultDND: n.DoNotDisturb,
	}
}

// openStore opens the history database. If it cannot be opened the history
// is kept in memory for this run.
func (p *Panel) openStore(ctx context.Context) error {
	n := p.opts.Config.Config.Notifications
	log := p.logger.With("component", "notify")
	options := []notify.Option{notify.WithLogger(log)}
	if p.opts.Metrics != nil {
		options = append(options, notify.WithObserver(p.opts.Metrics))
	}

	if !p.opts.MemoryHistory {
		path := DatabasePath(p.opts.Env, n)
		store, history, err := openPersistent(ctx, path, StoreOptions(n), options)
		if err == nil {
			p.store, p.history = store, history
			return nil
		}
		log.Warn("notification history unavailable, keeping it in memory", "path", path, "error", err)
	}

	store, err := notify.Open(ctx, StoreOptions(n), options...)
	if err != nil {
		return fmt.Errorf("panel: %w", err)
	}
	p.store = store
	return nil
}

func openPersistent(ctx context.Context, path string, opts notify.Options, options []notify.Option) (*notify.Store, *sqlite.History, error) {
	if err := os.MkdirAll(filepath.Dir(path), config.FileModeDir); err != nil {
		return nil, nil, fmt.Errorf("create state directory: %w", err)
	}
	history, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	store, err := notify.Open(ctx, opts, append(options, notify.WithPersister(history))...)
	if err != nil {
		_ = history.Close()
		return nil, nil, err
	}
	return store, history, nil
}

// Snapshots returns the holder of the published service state.
func (p *Panel) Snapshots() *publish.Holder[aggregator.Snapshot] {
	return p.snapshots
}

// Configs returns the holder of the active configuration.
func (p *Panel) Configs() *publish.Holder[*config.Effective] {
	return p.configs
}

// Notifications returns the notification store.
func (p *Panel) Notifications() *notify.Store {
	return p.store
}

// Diagnostics delivers rejected configuration candidates.
func (p *Panel) Diagnostics() <-chan reload.Diagnostic {
	return p.reloader.Diagnostics()
}

// Reload rereads the configuration files now.
func (p *Panel) Reload() (config.Change, error) {
	return p.reloader.Reload()
}

// Toggle switches the controllable service of d on or off.
func (p *Panel) Toggle(ctx context.Context, d domain.Domain, on bool) error {
	t, err := control[adapters.Toggler](p, d, "toggle")
	if err != nil {
		return err
	}
	return t.Toggle(ctx, on)
}

// AdjustVolume changes the output volume by delta and returns the new volume.
func (p *Panel) AdjustVolume(ctx context.Context, delta int) (int, error) {
	m, err := control[adapters.Mixer](p, domain.Audio, "volume")
	if err != nil {
		return 0, err
	}
	return m.AdjustVolume(ctx, delta)
}

// ToggleMute flips the output mute and returns the new state.
func (p *Panel) ToggleMute(ctx context.Context) (bool, error) {
	m, err := control[adapters.Mixer](p, domain.Audio, "mute")
	if err != nil {
		return false, err
	}
	return m.ToggleMute(ctx)
}

// Transport sends a playback command to the shown media player.
func (p *Panel) Transport(ctx context.Context, action domain.PlayerAction) error {
	t, err := control[adapters.Transport](p, domain.Media, string(action))
	if err != nil {
		return err
	}
	return t.Transport(ctx, action)
}

// control returns the running adapter of d as a T.
func control[T any](p *Panel, d domain.Domain, op string) (T, error) {
	var zero T
	p.mu.RLock()
	a, ok := p.running[d]
	p.mu.RUnlock()
	if !ok {
		return zero, fmt.Errorf("panel: %s %s: %w", op, d, ErrNotRunning)
	}
	c, ok := a.(T)
	if !ok {
		return zero, fmt.Errorf("panel: %s %s: %w", op, d, ErrUnsupported)
	}
	return c, nil
}

// InvokeAction reports a notification action to its sender.
func (p *Panel) InvokeAction(id uint32, key string) error {
	p.mu.RLock()
	s := p.server
	p.mu.RUnlock()
	if s == nil {
		return ErrNoServer
	}
	return s.InvokeAction(id, key)
}

// Run starts every component and blocks until ctx is cancelled or a
// component fails. Events still held by the coalescer are merged before
// Run returns.
func (p *Panel) Run(ctx context.Context) error {
	defer p.close()

	eff := p.configs.Current()
	queue := eff.Config.Advanced.QueueSize
	if queue <= 0 {
		queue = DefaultQueueSize
	}
	raw := make(chan domain.Event, queue)
	merged := make(chan domain.Event, queue)

	g, gctx := errgroup.WithContext(ctx)
	// the pipeline stops when raw is closed, after the adapters are gone
	pipe := context.WithoutCancel(ctx)
	g.Go(func() error { return p.coalescer.Run(pipe, raw, merged) })
	g.Go(func() error { return p.aggregator.Run(pipe, merged) })

	if err := p.aggregator.Reconfigure(gctx, eff.Enabled(), eff.Generation); err != nil {
		close(raw)
		_ = g.Wait()
		return ignoreCanceled(err)
	}

	g.Go(func() error { return p.runAdapters(gctx, raw) })
	g.Go(func() error { return p.watchConfig(gctx) })
	g.Go(func() error { return p.reloader.Run(gctx) })
	g.Go(func() error { return p.prune(gctx) })
	g.Go(func() error { return p.serveNotifications(gctx) })
	g.Go(func() error { return p.serveMetrics(gctx) })

	p.logger.Info("panel started", "generation", eff.Generation, "adapters", len(eff.Enabled()))
	return ignoreCanceled(g.Wait())
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Panel) close() {
	if p.history != nil {
		if err := p.history.Close(); err != nil {
			p.logger.Warn("closing notification history failed", "error", err)
		}
	}
}

// runAdapters supervises the enabled adapters and starts a fresh set after
// each restart request. out is closed on return.
func (p *Panel) runAdapters(ctx context.Context, out chan<- domain.Event) error {
	defer close(out)
	defer p.setRunning(nil)

	for {
		eff := p.configs.Current()
		built := p.registry.Build(eff.Config.Adapters, p.logger)
		p.setRunning(built)

		adv := eff.Config.Advanced
		opts := []adapters.SupervisorOption{
			adapters.WithBackoff(adv.BackoffBase.Duration, adv.BackoffMax.Duration),
			adapters.WithLogger(p.logger.With("component", "supervisor")),
		}
		if p.opts.Metrics != nil {
			opts = append(opts, adapters.WithObserver(p.opts.Metrics))
		}
		sup := adapters.NewSupervisor(out, opts...)

		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- sup.Run(runCtx, built) }()
		p.logger.Debug("adapters started", "count", len(built), "generation", eff.Generation)

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil
		case <-p.restart:
			cancel()
			if err := <-done; err != nil {
				return err
			}
			p.logger.Info("restarting adapters", "generation", eff.Generation)
		}
	}
}

func (p *Panel) setRunning(built []adapters.Adapter) {
	running := make(map[domain.Domain]adapters.Adapter, len(built))
	for _, a := range built {
		running[a.Domain()] = a
	}
	p.mu.Lock()
	p.running = running
	p.mu.Unlock()
}

func (p *Panel) requestRestart() {
	select {
	case p.restart <- struct{}{}:
	default:
	}
}

// watchConfig applies every published configuration to the running chain.
func (p *Panel) watchConfig(ctx context.Context) error {
	updates, cancel := p.configs.Subscribe()
	defer cancel()

	prev := p.configs.Current()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-updates:
			next := p.configs.Current()
			if next == prev {
				continue
			}
			if err := p.apply(ctx, prev, next); err != nil {
				return err
			}
			prev = next
		}
	}
}

func (p *Panel) apply(ctx context.Context, prev, next *config.Effective) error {
	change := config.Diff(prev, next)
	p.logger.Info("applying configuration", "generation", next.Generation, "changed", change.String())

	if change.Has(config.ChangeAdapters) || change.Has(config.ChangeAdvanced) {
		p.coalescer.SetWindows(next.Config.Windows())
	}
	// disabled domains are removed before their adapters are stopped so that
	// events still in flight are dropped by the aggregator
	if err := p.aggregator.Reconfigure(ctx, next.Enabled(), next.Generation); err != nil {
		return err
	}
	if change.Has(config.ChangeAdapters) || change.Has(config.ChangeAdvanced) {
		p.requestRestart()
	}
	if change.Has(config.ChangeNotifications) {
		if err := p.store.SetOptions(StoreOptions(next.Config.Notifications)); err != nil {
			p.logger.Warn("applying notification retention failed", "error", err)
		}
	}
	if change.Has(config.ChangeLogging) {
		p.logger.Info("logging changes take effect on restart")
	}
	return nil
}

// prune drops notifications older than max_age.
func (p *Panel) prune(ctx context.Context) error {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := p.store.Prune()
			if err != nil {
				p.logger.Warn("pruning notifications failed", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Debug("pruned notifications", "count", n)
			}
		}
	}
}

// serveNotifications runs the notification server when it is enabled.
// Another daemon owning the bus name is not an error.
func (p *Panel) serveNotifications(ctx context.Context) error {
	if !p.configs.Current().Config.Notifications.Server {
		return nil
	}
	log := p.logger.With("component", "notify")
	conn := p.opts.Bus
	if conn == nil {
		c, err := dbusx.Connect(dbusx.SessionBus)
		if err != nil {
			log.Warn("notification server disabled", "error", err)
			return nil
		}
		defer c.Close()
		conn = c
	}

	s := notify.NewServer(p.store, conn, p.opts.Version, log)
	p.mu.Lock()
	p.server = s
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.server = nil
		p.mu.Unlock()
	}()

	err := s.Run(ctx)
	if errors.Is(err, notify.ErrNameTaken) {
		log.Warn("notification server disabled", "error", err)
		return nil
	}
	return err
}

// serveMetrics exposes the metrics registry when an address is configured.
func (p *Panel) serveMetrics(ctx context.Context) error {
	addr := p.opts.MetricsAddr
	if addr == "" {
		addr = p.configs.Current().Config.Advanced.MetricsAddr
	}
	if addr == "" || p.opts.Metrics == nil {
		return nil
	}
	p.logger.Info("serving metrics", "addr", addr)
	if err := p.opts.Metrics.Serve(ctx, addr); err != nil {
		p.logger.Warn("metrics endpoint stopped", "addr", addr, "error", err)
	}
	return nil
}
