package debounce

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

// DefaultWindow is the coalescing window used when a domain has no override.
const DefaultWindow = 50 * time.Millisecond

// Windows configures the coalescing window per domain.
type Windows struct {
	Default       time.Duration
	PerDomain     map[domain.Domain]time.Duration
	CeilingFactor int
}

// DefaultWindows returns the built-in windows.
func DefaultWindows() Windows {
	return Windows{
		Default: DefaultWindow,
		PerDomain: map[domain.Domain]time.Duration{
			domain.Bluetooth: 100 * time.Millisecond,
		},
		CeilingFactor: DefaultCeilingFactor,
	}
}

// For returns the window for d.
func (w Windows) For(d domain.Domain) time.Duration {
	if v, ok := w.PerDomain[d]; ok && v > 0 {
		return v
	}
	if w.Default > 0 {
		return w.Default
	}
	return DefaultWindow
}

// Key identifies one logical coalescing slot.
type Key struct {
	Domain domain.Domain
	Name   string
}

// Observer receives coalescing statistics.
type Observer interface {
	EventReceived(d domain.Domain)
	EventCoalesced(d domain.Domain)
}

// Coalescer is the debounce stage between adapters and the aggregator.
//
// Payload events are held per (domain, key) and the latest one wins.
// Availability transitions skip the window; a transition away from Ready
// discards held payloads of that domain so they cannot resurrect it.
type Coalescer struct {
	windows  atomic.Pointer[Windows]
	queue    *Queue[Key, domain.Event]
	now      func() time.Time
	logger   logging.Logger
	observer Observer
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coalescer) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coalescer) { c.logger = l }
}

// WithObserver sets a statistics observer.
func WithObserver(o Observer) Option {
	return func(c *Coalescer) { c.observer = o }
}

// NewCoalescer creates a Coalescer using windows w.
func NewCoalescer(w Windows, opts ...Option) *Coalescer {
	c := &Coalescer{
		now:    time.Now,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.windows.Store(&w)
	c.queue = NewQueue[Key](w.CeilingFactor, keepAuthoritative)
	return c
}

// keepAuthoritative lets a predicted event replace only another predicted one.
func keepAuthoritative(held, incoming domain.Event) domain.Event {
	if held.Phase.Authoritative() && !incoming.Phase.Authoritative() {
		return held
	}
	return incoming
}

// SetWindows replaces the windows used for subsequently held events.
// Safe to call from any goroutine.
func (c *Coalescer) SetWindows(w Windows) {
	c.windows.Store(&w)
}

// Windows returns the active windows.
func (c *Coalescer) Windows() Windows {
	return *c.windows.Load()
}

// Offer hands an event to the coalescer at now and returns the events that
// must be emitted immediately.
func (c *Coalescer) Offer(ev domain.Event, now time.Time) []domain.Event {
	if c.observer != nil {
		c.observer.EventReceived(ev.Domain)
	}
	if ev.IsAvailability() {
		if ev.Availability != domain.Ready {
			if n := c.queue.Drop(func(k Key) bool { return k.Domain == ev.Domain }); n > 0 {
				c.logger.Debug("discarded held events", "domain", ev.Domain, "count", n, "availability", ev.Availability)
			}
		}
		return []domain.Event{ev}
	}
	w := c.windows.Load().For(ev.Domain)
	if c.queue.Push(Key{Domain: ev.Domain, Name: ev.Key}, ev, w, now) && c.observer != nil {
		c.observer.EventCoalesced(ev.Domain)
	}
	return nil
}

// Due returns the held events whose window has elapsed by now.
func (c *Coalescer) Due(now time.Time) []domain.Event {
	return c.queue.Due(now)
}

// Flush returns every held event regardless of its deadline.
func (c *Coalescer) Flush() []domain.Event {
	return c.queue.Flush()
}

// Pending returns the number of held keys.
func (c *Coalescer) Pending() int {
	return c.queue.Len()
}

// Run consumes in until it is closed or ctx is cancelled, writing effective
// events to out. Held events are flushed when in is closed. out is closed on return.
func (c *Coalescer) Run(ctx context.Context, in <-chan domain.Event, out chan<- domain.Event) error {
	defer close(out)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	send := func(evs []domain.Event) error {
		for _, ev := range evs {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	for {
		timer.Stop()
		if next, ok := c.queue.Next(); ok {
			timer.Reset(max(next.Sub(c.now()), 0))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-in:
			if !ok {
				return send(c.Flush())
			}
			if err := send(c.Offer(ev, c.now())); err != nil {
				return err
			}
		case <-timer.C:
			if err := send(c.Due(c.now())); err != nil {
				return err
			}
		}
	}
}
