package aggregator

import (
	"context"
	"errors"

	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
	"github.com/vibepanel/vibepanel/internal/publish"
)

// Observer receives merge statistics.
type Observer interface {
	MergeApplied(d domain.Domain, version uint64)
	MergeRejected(d domain.Domain)
}

// Aggregator is the only writer of the published Snapshot. All merges run on
// the goroutine executing Run.
type Aggregator struct {
	holder   *publish.Holder[Snapshot]
	logger   logging.Logger
	observer Observer
	control  chan func(Snapshot) Snapshot
	// enabled is nil until the first Reconfigure; nil admits every domain.
	enabled map[domain.Domain]bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithObserver sets a statistics observer.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// New creates an Aggregator publishing to holder.
func New(holder *publish.Holder[Snapshot], opts ...Option) *Aggregator {
	a := &Aggregator{
		holder:  holder,
		logger:  logging.Nop(),
		control: make(chan func(Snapshot) Snapshot),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Holder returns the holder the aggregator publishes to.
func (a *Aggregator) Holder() *publish.Holder[Snapshot] {
	return a.holder
}

// Apply merges ev into the current snapshot and publishes the result.
// It must only be called from the goroutine that owns the aggregator,
// which is Run once it has started.
func (a *Aggregator) Apply(ev domain.Event) (Snapshot, error) {
	cur := a.holder.Current()
	if a.enabled != nil && !a.enabled[ev.Domain] {
		a.logger.Debug("dropped event of disabled domain", "domain", ev.Domain, "key", ev.Key)
		return cur, nil
	}
	next, err := Merge(cur, ev)
	switch {
	case errors.Is(err, ErrNoChange):
		return cur, nil
	case err != nil:
		a.logger.Warn("rejected event, keeping previous state", "domain", ev.Domain, "key", ev.Key, "error", err)
		if a.observer != nil {
			a.observer.MergeRejected(ev.Domain)
		}
		return cur, err
	}
	a.publish(next)
	if a.observer != nil {
		a.observer.MergeApplied(ev.Domain, next.Version)
	}
	return next, nil
}

func (a *Aggregator) publish(s Snapshot) {
	if !a.holder.Store(s, s.Version) {
		a.logger.Error("snapshot version did not advance", "version", s.Version)
	}
}

// Reconfigure removes domains that are no longer enabled and records the
// configuration generation. Later events of disabled domains are dropped.
// The change is applied on the merge goroutine.
func (a *Aggregator) Reconfigure(ctx context.Context, enabled []domain.Domain, generation uint64) error {
	set := make(map[domain.Domain]bool, len(enabled))
	for _, d := range enabled {
		set[d] = true
	}
	fn := func(s Snapshot) Snapshot {
		a.enabled = set
		return Retain(s, enabled, generation)
	}
	select {
	case a.control <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run merges events from in until in is closed or ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context, in <-chan domain.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-a.control:
			a.publish(fn(a.holder.Current()))
		case ev, ok := <-in:
			if !ok {
				return nil
			}
			_, _ = a.Apply(ev)
		}
	}
}
