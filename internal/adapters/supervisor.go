package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second
	jitterPercent      = 20
)

var errEnded = errors.New("connection ended")

// Observer receives adapter availability transitions.
type Observer interface {
	AdapterAvailability(d domain.Domain, a domain.Availability)
}

// Supervisor runs a set of adapters, restarting each one after a failure
// with capped exponential backoff.
type Supervisor struct {
	out      chan<- domain.Event
	base     time.Duration
	max      time.Duration
	logger   logging.Logger
	observer Observer
	now      func() time.Time
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithBackoff sets the first and the largest retry delay.
func WithBackoff(base, max time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if base > 0 {
			s.base = base
		}
		if max >= s.base {
			s.max = max
		}
	}
}

func WithLogger(l logging.Logger) SupervisorOption {
	return func(s *Supervisor) { s.logger = l }
}

func WithObserver(o Observer) SupervisorOption {
	return func(s *Supervisor) { s.observer = o }
}

// WithClock sets the timestamp source of availability events.
func WithClock(now func() time.Time) SupervisorOption {
	return func(s *Supervisor) { s.now = now }
}

// NewSupervisor creates a supervisor writing every adapter event to out.
func NewSupervisor(out chan<- domain.Event, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		out:    out,
		base:   DefaultBackoffBase,
		max:    DefaultBackoffMax,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run supervises adapters until ctx is cancelled. Adapter failures never
// end Run; they surface as availability events.
func (s *Supervisor) Run(ctx context.Context, adapters []Adapter) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, a := range adapters {
		g.Go(func() error {
			s.supervise(ctx, a)
			return nil
		})
	}
	return g.Wait()
}

func (s *Supervisor) backoff() retry.Backoff {
	b := retry.NewExponential(s.base)
	b = retry.WithCappedDuration(s.max, b)
	return retry.WithJitterPercent(jitterPercent, b)
}

func (s *Supervisor) supervise(ctx context.Context, a Adapter) {
	d := a.Domain()
	log := s.logger.With("adapter", d.String())
	b := s.backoff()

	for {
		s.availability(ctx, d, domain.Connecting, "")
		started := s.now()
		err := s.runOnce(ctx, a)
		if ctx.Err() != nil {
			return
		}

		// a run that stayed up longer than the longest delay starts over
		if s.now().Sub(started) > s.max {
			b = s.backoff()
		}
		state := domain.Errored
		if errors.Is(err, ErrUnavailable) {
			state = domain.Unavailable
		}
		s.availability(ctx, d, state, err.Error())

		delay, _ := b.Next()
		log.Debug("adapter stopped", "state", state.String(), "retry_in", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// runOnce starts a and forwards its events until the run ends. The handle
// is closed on every path out.
func (s *Supervisor) runOnce(ctx context.Context, a Adapter) (err error) {
	h, err := a.Start(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := h.Close(); cerr != nil {
			s.logger.Debug("adapter close failed", "adapter", a.Domain().String(), "error", cerr)
		}
	}()

	ready := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.Events():
			if !ready && s.observer != nil {
				s.observer.AdapterAvailability(a.Domain(), domain.Ready)
			}
			ready = true
			if err := s.send(ctx, ev); err != nil {
				return err
			}
		case <-h.Done():
			s.drain(ctx, a)
			if err := h.Err(); err != nil {
				return err
			}
			return errEnded
		}
	}
}

// drain forwards events the adapter emitted before its run ended.
func (s *Supervisor) drain(ctx context.Context, a Adapter) {
	for {
		select {
		case ev := <-a.Events():
			if s.send(ctx, ev) != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Supervisor) availability(ctx context.Context, d domain.Domain, a domain.Availability, reason string) {
	if s.observer != nil {
		s.observer.AdapterAvailability(d, a)
	}
	_ = s.send(ctx, domain.AvailabilityEvent(d, a, reason, s.now()))
}

func (s *Supervisor) send(ctx context.Context, ev domain.Event) error {
	select {
	case s.out <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
