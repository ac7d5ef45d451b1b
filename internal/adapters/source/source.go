// Package source holds the pieces shared by adapter implementations: the
// error taxonomy, the event emitter and the run handle.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vibepanel/vibepanel/internal/domain"
)

// ErrUnavailable is returned by Start when the backing service or device
// does not exist on this system.
var ErrUnavailable = errors.New("service unavailable")

// Unavailable wraps ErrUnavailable with a reason.
func Unavailable(reason string) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, reason)
}

// TransientError is a failure that is expected to clear on retry, such as a
// dropped bus connection or a command that timed out.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// EventBuffer is the capacity of an adapter event channel.
const EventBuffer = 16

// Emitter owns the event channel of one adapter. The channel outlives
// individual runs and is never closed.
type Emitter struct {
	domain domain.Domain
	ch     chan domain.Event
	now    func() time.Time
}

// NewEmitter creates an emitter for d.
func NewEmitter(d domain.Domain) *Emitter {
	return &Emitter{domain: d, ch: make(chan domain.Event, EventBuffer), now: time.Now}
}

// WithClock replaces the timestamp source. Used by tests.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

func (e *Emitter) Domain() domain.Domain { return e.domain }

func (e *Emitter) Events() <-chan domain.Event { return e.ch }

// Emit sends a confirmed payload for key.
func (e *Emitter) Emit(ctx context.Context, key string, p domain.Payload) error {
	return e.send(ctx, domain.PayloadEvent(key, p, e.now()))
}

// Predict sends a locally predicted payload for key. The service's own
// report for the same key supersedes it.
func (e *Emitter) Predict(ctx context.Context, key string, p domain.Payload) error {
	ev := domain.PayloadEvent(key, p, e.now())
	ev.Phase = domain.Predicted
	return e.send(ctx, ev)
}

// Attempt predicts a payload, then runs apply. When apply fails the confirmed
// payload is sent again so the prediction does not outlive the failure.
func (e *Emitter) Attempt(ctx context.Context, key string, predicted, confirmed domain.Payload, apply func(ctx context.Context) error) error {
	if err := e.Predict(ctx, key, predicted); err != nil {
		return err
	}
	err := apply(ctx)
	if err == nil {
		return nil
	}
	if eerr := e.Emit(ctx, key, confirmed); eerr != nil {
		return errors.Join(err, eerr)
	}
	return err
}

func (e *Emitter) send(ctx context.Context, ev domain.Event) error {
	select {
	case e.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle is a running adapter connection.
type Handle interface {
	io.Closer
	// Done is closed when the connection ends on its own or after Close.
	Done() <-chan struct{}
	// Err reports why the connection ended. It is nil while running.
	Err() error
}

type handle struct {
	cancel   context.CancelFunc
	release  func() error
	done     chan struct{}
	err      error
	once     sync.Once
	closeErr error
}

// Go runs fn in its own goroutine and returns a Handle for it. Close cancels
// fn's context, calls release and waits for fn to return. release may be nil.
func Go(ctx context.Context, release func() error, fn func(ctx context.Context) error) Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &handle{cancel: cancel, release: release, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = fn(ctx)
	}()
	return h
}

func (h *handle) Done() <-chan struct{} { return h.done }

func (h *handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *handle) Close() error {
	h.once.Do(func() {
		h.cancel()
		if h.release != nil {
			h.closeErr = h.release()
		}
		<-h.done
	})
	return h.closeErr
}

// Tick calls fn every interval until ctx is done or fn fails.
func Tick(ctx context.Context, interval time.Duration, fn func(ctx context.Context) error) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}
