// Package fake provides a scriptable adapter for tests.
package fake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
)

// ErrNotRunning is returned by Send and Fail when no run is active.
var ErrNotRunning = errors.New("fake adapter not running")

// Adapter is an in-memory adapter driven by the test.
type Adapter struct {
	*source.Emitter

	mu           sync.Mutex
	initial      domain.Payload
	startErrs    []error
	availability domain.Availability
	predict      func(on bool) domain.Payload
	confirm      func(on bool) domain.Payload
	fail         chan error
	starts       int
	closes       int
	controls     []string
}

// New creates a fake for d. Probe reports Ready until changed.
func New(d domain.Domain) *Adapter {
	return &Adapter{Emitter: source.NewEmitter(d), availability: domain.Ready}
}

// WithInitial sets the payload emitted by every successful Start.
func (a *Adapter) WithInitial(p domain.Payload) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.initial = p
	return a
}

// FailStarts makes the next len(errs) calls to Start fail with errs in order.
func (a *Adapter) FailStarts(errs ...error) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.startErrs = append(a.startErrs, errs...)
	return a
}

// SetProbe sets the availability Probe reports.
func (a *Adapter) SetProbe(av domain.Availability) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.availability = av
}

// OnToggle makes the fake a Toggler. predict builds the optimistic payload;
// confirm, when non-nil, builds the payload the service reports afterwards.
func (a *Adapter) OnToggle(predict, confirm func(on bool) domain.Payload) *Adapter {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.predict, a.confirm = predict, confirm
	return a
}

func (a *Adapter) Probe(context.Context) domain.Availability {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.availability
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	a.mu.Lock()
	if len(a.startErrs) > 0 {
		err := a.startErrs[0]
		a.startErrs = a.startErrs[1:]
		a.mu.Unlock()
		return nil, err
	}
	a.starts++
	fail := make(chan error, 1)
	a.fail = fail
	initial := a.initial
	a.mu.Unlock()

	if initial != nil {
		if err := a.Emit(ctx, a.Domain().String(), initial); err != nil {
			return nil, err
		}
	}
	release := func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.closes++
		if a.fail == fail {
			a.fail = nil
		}
		return nil
	}
	return source.Go(ctx, release, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fail:
			return err
		}
	}), nil
}

// Send emits a confirmed payload on the current run.
func (a *Adapter) Send(ctx context.Context, p domain.Payload) error {
	if !a.running() {
		return ErrNotRunning
	}
	return a.Emit(ctx, a.Domain().String(), p)
}

// Fail ends the current run with err.
func (a *Adapter) Fail(err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail == nil {
		return ErrNotRunning
	}
	select {
	case a.fail <- err:
	default:
	}
	return nil
}

func (a *Adapter) Toggle(ctx context.Context, on bool) error {
	a.mu.Lock()
	predict, confirm, running := a.predict, a.confirm, a.fail != nil
	a.mu.Unlock()
	if !running || predict == nil {
		return source.Unavailable("fake toggle")
	}
	if err := a.Predict(ctx, a.Domain().String(), predict(on)); err != nil {
		return err
	}
	if confirm == nil {
		return nil
	}
	return a.Emit(ctx, a.Domain().String(), confirm(on))
}

func (a *Adapter) SetVolume(_ context.Context, percent int) error {
	return a.record(fmt.Sprintf("volume %d", percent))
}

// AdjustVolume reports delta as the resulting volume.
func (a *Adapter) AdjustVolume(_ context.Context, delta int) (int, error) {
	return delta, a.record(fmt.Sprintf("adjust %d", delta))
}

func (a *Adapter) SetMuted(_ context.Context, muted bool) error {
	return a.record(fmt.Sprintf("mute %t", muted))
}

// ToggleMute always reports the sink as muted afterwards.
func (a *Adapter) ToggleMute(context.Context) (bool, error) {
	return true, a.record("toggle-mute")
}

func (a *Adapter) Transport(_ context.Context, action domain.PlayerAction) error {
	return a.record(string(action))
}

func (a *Adapter) record(control string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail == nil {
		return source.Unavailable("fake control")
	}
	a.controls = append(a.controls, control)
	return nil
}

// Controls returns the volume and transport requests received while running.
func (a *Adapter) Controls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.controls...)
}

func (a *Adapter) running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fail != nil
}

// Starts returns how many runs were started.
func (a *Adapter) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

// Closes returns how many run handles were released.
func (a *Adapter) Closes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closes
}
