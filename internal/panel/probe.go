package panel

import (
	"context"
	"errors"
	"time"

	"github.com/vibepanel/vibepanel/internal/adapters"
	"github.com/vibepanel/vibepanel/internal/aggregator"
	"github.com/vibepanel/vibepanel/internal/config"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds how long Probe waits for each adapter.
const DefaultProbeTimeout = 3 * time.Second

// Probe starts every enabled adapter once, in parallel, and merges the
// first report of each into a snapshot. Adapters that fail or stay silent
// are recorded with their availability.
func Probe(ctx context.Context, registry *adapters.Registry, eff *config.Effective, timeout time.Duration, logger logging.Logger) aggregator.Snapshot {
	if logger == nil {
		logger = logging.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	built := registry.Build(eff.Config.Adapters, logger)
	events := make([]domain.Event, len(built))

	var g errgroup.Group
	for i, a := range built {
		g.Go(func() error {
			ev, err := adapters.Sample(ctx, a, timeout)
			if err != nil {
				ev = probeFailure(a.Domain(), err)
				logger.Debug("probe failed", "adapter", a.Domain().String(), "error", err)
			}
			events[i] = ev
			return nil
		})
	}
	_ = g.Wait()

	s := aggregator.Retain(aggregator.Empty(), eff.Enabled(), eff.Generation)
	for _, ev := range events {
		next, err := aggregator.Merge(s, ev)
		if err != nil {
			if !errors.Is(err, aggregator.ErrNoChange) {
				logger.Warn("rejected probe result", "domain", ev.Domain.String(), "error", err)
			}
			continue
		}
		s = next
	}
	return s
}

func probeFailure(d domain.Domain, err error) domain.Event {
	a := domain.Errored
	switch {
	case errors.Is(err, adapters.ErrUnavailable):
		a = domain.Unavailable
	case errors.Is(err, adapters.ErrNoEvent):
		a = domain.Connecting
	}
	return domain.AvailabilityEvent(d, a, err.Error(), time.Now())
}
