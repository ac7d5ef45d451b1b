// Package adapters defines the service adapter contract, the registry that
// builds the closed set of adapters from configuration and the supervisor
// that keeps them connected.
package adapters

import (
	"context"

	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
)

// ErrUnavailable is returned by Start when the backing service does not exist.
var ErrUnavailable = source.ErrUnavailable

// TransientError is a failure expected to clear on retry.
type TransientError = source.TransientError

// Handle is a running adapter connection. Closing it releases every
// resource the connection holds.
type Handle = source.Handle

// Adapter turns one system service into domain events.
type Adapter interface {
	Domain() domain.Domain
	// Start connects to the service, emits the current state and keeps
	// emitting until the returned handle is closed or the connection drops.
	Start(ctx context.Context) (Handle, error)
	// Events delivers payload events across every run of the adapter.
	Events() <-chan domain.Event
	// Probe reports whether the service looks reachable without starting it.
	Probe(ctx context.Context) domain.Availability
}

// Toggler is implemented by adapters that control an on/off setting.
// Toggle emits a predicted payload immediately and leaves the confirmed one
// to the service's own change notification.
type Toggler interface {
	Toggle(ctx context.Context, on bool) error
}

// Mixer is implemented by adapters that control an output volume. While the
// adapter runs changes are predicted like toggles.
type Mixer interface {
	SetVolume(ctx context.Context, percent int) error
	AdjustVolume(ctx context.Context, delta int) (int, error)
	SetMuted(ctx context.Context, muted bool) error
	ToggleMute(ctx context.Context) (bool, error)
}

// Transport is implemented by adapters that drive a media player.
type Transport interface {
	Transport(ctx context.Context, action domain.PlayerAction) error
}
