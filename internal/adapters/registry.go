package adapters

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vibepanel/vibepanel/internal/adapters/audio"
	"github.com/vibepanel/vibepanel/internal/adapters/bluetooth"
	"github.com/vibepanel/vibepanel/internal/adapters/idle"
	"github.com/vibepanel/vibepanel/internal/adapters/media"
	"github.com/vibepanel/vibepanel/internal/adapters/network"
	"github.com/vibepanel/vibepanel/internal/adapters/power"
	"github.com/vibepanel/vibepanel/internal/adapters/system"
	"github.com/vibepanel/vibepanel/internal/adapters/tray"
	"github.com/vibepanel/vibepanel/internal/adapters/updates"
	"github.com/vibepanel/vibepanel/internal/config"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

// Factory builds the adapter of one domain from its config section.
type Factory func(cfg config.Adapter, logger logging.Logger) Adapter

// Registry maps each domain to the factory that builds its adapter.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[domain.Domain]Factory
}

// NewRegistry returns a registry holding the built-in adapters.
func NewRegistry() *Registry {
	return &Registry{factories: map[domain.Domain]Factory{
		domain.Power: func(_ config.Adapter, l logging.Logger) Adapter {
			return power.New(l)
		},
		domain.Network: func(_ config.Adapter, l logging.Logger) Adapter {
			return network.New(l)
		},
		domain.Bluetooth: func(_ config.Adapter, l logging.Logger) Adapter {
			return bluetooth.New(l)
		},
		domain.Audio: func(c config.Adapter, l logging.Logger) Adapter {
			return audio.New(c.Backend, l)
		},
		domain.Tray: func(_ config.Adapter, l logging.Logger) Adapter {
			return tray.New(l)
		},
		domain.Media: func(c config.Adapter, l logging.Logger) Adapter {
			return media.New(c.Interval.Duration, l)
		},
		domain.Updates: func(c config.Adapter, l logging.Logger) Adapter {
			return updates.New(c.Backend, c.Interval.Duration, l)
		},
		domain.Idle: func(_ config.Adapter, l logging.Logger) Adapter {
			return idle.New(l)
		},
		domain.System: func(c config.Adapter, l logging.Logger) Adapter {
			return system.New(c.Interval.Duration, l)
		},
	}}
}

// Replace swaps the factory of d. Only known domains are accepted.
func (r *Registry) Replace(d domain.Domain, f Factory) error {
	if !d.IsValid() {
		return fmt.Errorf("unknown domain %q", d)
	}
	if f == nil {
		return fmt.Errorf("nil factory for %s", d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[d] = f
	return nil
}

// Domains returns the registered domains sorted by name.
func (r *Registry) Domains() []domain.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Domain, 0, len(r.factories))
	for d := range r.factories {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Build creates one adapter per enabled domain, in display order.
func (r *Registry) Build(cfg config.Adapters, logger logging.Logger) []Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Adapter
	for _, d := range cfg.Enabled() {
		f, ok := r.factories[d]
		if !ok {
			continue
		}
		out = append(out, f(cfg.For(d), logger.With("adapter", d.String())))
	}
	return out
}
