// Package idle holds a logind idle inhibitor lock on request.
package idle

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	login1Name    = "org.freedesktop.login1"
	login1Path    = dbus.ObjectPath("/org/freedesktop/login1")
	managerIface  = "org.freedesktop.login1.Manager"
	inhibitWhy    = "Idle inhibitor enabled from the panel"
	inhibitWho    = "vibepanel"
	inhibitReason = "user"

	eventKey = "idle"
)

// Adapter is the idle inhibitor domain adapter.
type Adapter struct {
	*source.Emitter
	logger logging.Logger

	mu   sync.Mutex
	conn *dbus.Conn
	lock *os.File
}

func New(logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Adapter{Emitter: source.NewEmitter(domain.Idle), logger: logger}
}

func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if dbusx.Probe(ctx, dbusx.SystemBus, login1Name) {
		return domain.Ready
	}
	return domain.Unavailable
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	conn, err := dbusx.Connect(dbusx.SystemBus)
	if err != nil {
		return nil, err
	}
	ok, err := dbusx.HasOwner(ctx, conn, login1Name)
	if err != nil || !ok {
		conn.Close()
		return nil, source.Unavailable("logind not running")
	}
	sigs, err := dbusx.Watch(conn, dbusx.NameOwnerMatch(login1Name))
	if err != nil {
		conn.Close()
		return nil, source.Transient("idle watch", err)
	}
	release := func() error {
		a.mu.Lock()
		a.conn = nil
		a.releaseLocked()
		a.mu.Unlock()
		sigs.Close()
		return conn.Close()
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	if err := a.Emit(ctx, eventKey, domain.IdleInhibitorState{}); err != nil {
		release()
		return nil, err
	}
	return source.Go(ctx, release, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case sig, ok := <-sigs.C():
				if !ok {
					return source.Transient("idle", dbusx.ErrClosed)
				}
				if dbusx.NameLost(sig, login1Name) {
					return source.Unavailable("logind stopped")
				}
			}
		}
	}), nil
}

// Toggle takes or drops the inhibitor lock.
func (a *Adapter) Toggle(ctx context.Context, on bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return source.Unavailable("idle adapter not running")
	}
	if err := a.Predict(ctx, eventKey, state(on)); err != nil {
		return err
	}

	if !on {
		a.releaseLocked()
		return a.Emit(ctx, eventKey, state(false))
	}
	if a.lock != nil {
		return a.Emit(ctx, eventKey, state(true))
	}
	lock, err := Inhibit(ctx, a.conn, "idle", inhibitWhy)
	if err != nil {
		// the prediction is withdrawn by the confirmed state
		_ = a.Emit(ctx, eventKey, state(false))
		return err
	}
	a.lock = lock
	return a.Emit(ctx, eventKey, state(true))
}

// Inhibit takes a blocking logind inhibitor lock for what, a colon
// separated list such as "idle:sleep". The lock is held until the returned
// file is closed.
func Inhibit(ctx context.Context, conn *dbus.Conn, what, why string) (*os.File, error) {
	var fd dbus.UnixFD
	err := conn.Object(login1Name, login1Path).
		CallWithContext(ctx, managerIface+".Inhibit", 0, what, inhibitWho, why, "block").
		Store(&fd)
	if err != nil {
		return nil, dbusx.Classify("inhibit", err)
	}
	return os.NewFile(uintptr(fd), "inhibitor-"+what), nil
}

// Hold connects to the system bus and takes an idle and sleep inhibitor.
// Closing the result drops the lock and the connection.
func Hold(ctx context.Context, why string) (io.Closer, error) {
	conn, err := dbusx.Connect(dbusx.SystemBus)
	if err != nil {
		return nil, err
	}
	lock, err := Inhibit(ctx, conn, "idle:sleep", why)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return held{lock: lock, conn: conn}, nil
}

type held struct {
	lock *os.File
	conn *dbus.Conn
}

func (h held) Close() error {
	return errors.Join(h.lock.Close(), h.conn.Close())
}

func (a *Adapter) releaseLocked() {
	if a.lock == nil {
		return
	}
	if err := a.lock.Close(); err != nil {
		a.logger.Debug("closing inhibitor lock failed", "error", err)
	}
	a.lock = nil
}

func state(active bool) domain.IdleInhibitorState {
	if !active {
		return domain.IdleInhibitorState{}
	}
	return domain.IdleInhibitorState{Active: true, Reason: inhibitReason}
}
