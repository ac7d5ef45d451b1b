package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/vibepanel/vibepanel/internal/adapters"
	"github.com/vibepanel/vibepanel/internal/adapters/audio"
	"github.com/vibepanel/vibepanel/internal/adapters/idle"
	"github.com/vibepanel/vibepanel/internal/adapters/media"
	"github.com/vibepanel/vibepanel/internal/aggregator"
	"github.com/vibepanel/vibepanel/internal/colors"
	"github.com/vibepanel/vibepanel/internal/config"
	"github.com/vibepanel/vibepanel/internal/logging"
	"github.com/vibepanel/vibepanel/internal/metrics"
	"github.com/vibepanel/vibepanel/internal/notify"
	"github.com/vibepanel/vibepanel/internal/panel"
	"github.com/vibepanel/vibepanel/internal/storage/sqlite"
	"github.com/vibepanel/vibepanel/internal/version"
)

// client is the production implementation of every command dependency.
type client struct {
	env      config.Env
	registry *adapters.Registry
}

func newClient() (*client, error) {
	env, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if env.Debug {
		colors.SetDebug(true)
	}
	return &client{env: env, registry: adapters.NewRegistry()}, nil
}

func (c *client) Version() string {
	return version.String()
}

func (c *client) VersionInfo() version.Info {
	return version.Get()
}

func (c *client) Reference() []byte {
	return config.Reference()
}

// Effective loads the configuration at path, or the one found through the
// search chain when path is empty.
func (c *client) Effective(path string) (*config.Effective, error) {
	if path == "" {
		found, _, err := config.Find(c.env)
		if err != nil {
			return nil, err
		}
		path = found
	}
	return config.LoadEffective(path, 1)
}

func (c *client) logger(eff *config.Effective, level, command string) (logging.Logger, error) {
	lc := logging.DefaultConfig()
	lc.Level = eff.Config.Logging.Level
	if c.env.LogLevel != "" {
		lc.Level = c.env.LogLevel
	}
	if level != "" {
		lc.Level = level
	}
	lc.File = eff.Config.Logging.File
	lc.MaxFiles = eff.Config.Logging.MaxFiles
	lc.Dir = c.env.StateDirectory()
	lc.Command = command
	return logging.Init(lc)
}

func (c *client) Run(ctx context.Context, opts runOptions) error {
	eff, err := c.Effective(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := c.logger(eff, opts.LogLevel, "run")
	if err != nil {
		return err
	}
	defer logger.Shutdown()
	if path := logging.FilePath(logger); path != "" {
		colors.Debug("logging to", path)
	}
	colors.SetLogger(logger)
	defer colors.SetLogger(nil)

	addr := opts.MetricsAddr
	if addr == "" {
		addr = c.env.MetricsAddr
	}
	p, err := panel.New(ctx, panel.Options{
		Env:         c.env,
		Config:      eff,
		Registry:    c.registry,
		Logger:      logger,
		Metrics:     metrics.New(),
		MetricsAddr: addr,
		Version:     version.String(),
	})
	if err != nil {
		return err
	}
	for _, w := range eff.Warnings {
		logger.Warn("configuration warning", "warning", w)
	}
	return p.Run(ctx)
}

func (c *client) Probe(ctx context.Context, configPath string, timeout time.Duration) (aggregator.Snapshot, error) {
	eff, err := c.Effective(configPath)
	if err != nil {
		return aggregator.Snapshot{}, err
	}
	return panel.Probe(ctx, c.registry, eff, timeout, nil), nil
}

// Open builds an in-process pipeline for the preview. It keeps its
// notifications in memory and only claims the notification bus name when
// serve is set.
func (c *client) Open(ctx context.Context, configPath string, serve bool) (snapshotSource, error) {
	eff, err := c.Effective(configPath)
	if err != nil {
		return nil, err
	}
	eff.Config.Notifications.Server = serve
	p, err := panel.New(ctx, panel.Options{
		Env:           c.env,
		Config:        eff,
		Registry:      c.registry,
		MemoryHistory: true,
		Version:       version.String(),
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// History opens the persisted notification history.
func (c *client) History(ctx context.Context) (historyStore, func() error, error) {
	eff, err := c.Effective("")
	if err != nil {
		return nil, nil, err
	}
	path := panel.DatabasePath(c.env, eff.Config.Notifications)
	if err := os.MkdirAll(filepath.Dir(path), config.FileModeDir); err != nil {
		return nil, nil, err
	}
	h, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, err
	}
	store, err := notify.Open(ctx, panel.StoreOptions(eff.Config.Notifications), notify.WithPersister(h))
	if err != nil {
		_ = h.Close()
		return nil, nil, err
	}
	return store, h.Close, nil
}

// Mixer returns a stopped audio adapter using the configured pactl binary.
func (c *client) Mixer() (mixer, error) {
	eff, err := c.Effective("")
	if err != nil {
		return nil, err
	}
	return audio.New(eff.Config.Adapters.Audio.Backend, nil), nil
}

func (c *client) Player() (player, error) {
	return media.New(0, nil), nil
}

func (c *client) Inhibit(ctx context.Context, why string) (io.Closer, error) {
	return idle.Hold(ctx, why)
}
