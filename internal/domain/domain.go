// Package domain defines the closed set of service domains the panel tracks,
// the events adapters emit about them and the per-domain service state.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPayload is returned when an adapter emits a payload that fails validation.
var ErrInvalidPayload = errors.New("invalid payload")

// Domain identifies one service adapter variant.
type Domain string

const (
	Power     Domain = "power"
	Network   Domain = "network"
	Bluetooth Domain = "bluetooth"
	Audio     Domain = "audio"
	Tray      Domain = "tray"
	Media     Domain = "media"
	Updates   Domain = "updates"
	Idle      Domain = "idle"
	System    Domain = "system"
)

// All returns every known domain in display order.
func All() []Domain {
	return []Domain{Power, Network, Bluetooth, Audio, Tray, Media, Updates, Idle, System}
}

// IsValid checks if the domain is one of the known variants.
func (d Domain) IsValid() bool {
	switch d {
	case Power, Network, Bluetooth, Audio, Tray, Media, Updates, Idle, System:
		return true
	default:
		return false
	}
}

// String returns the string representation of the domain.
func (d Domain) String() string {
	return string(d)
}

// ParseDomain converts a string into a Domain.
func ParseDomain(s string) (Domain, error) {
	d := Domain(s)
	if !d.IsValid() {
		return "", fmt.Errorf("unknown domain: %q", s)
	}
	return d, nil
}

// Availability is the connection state of a service.
type Availability string

const (
	Unavailable Availability = "unavailable"
	Connecting  Availability = "connecting"
	Ready       Availability = "ready"
	Errored     Availability = "error"
)

// IsValid checks if the availability is valid.
func (a Availability) IsValid() bool {
	switch a {
	case Unavailable, Connecting, Ready, Errored:
		return true
	default:
		return false
	}
}

// Transient reports whether the availability is an in-between state that
// must not change what a widget renders.
func (a Availability) Transient() bool {
	return a == Connecting || a == Errored
}

// String returns the string representation of the availability.
func (a Availability) String() string {
	return string(a)
}

// Phase distinguishes locally predicted state from state reported by the service.
type Phase string

const (
	Confirmed Phase = "confirmed"
	Predicted Phase = "predicted"
)

// Authoritative reports whether the phase comes from the backing service.
// The zero value counts as authoritative.
func (p Phase) Authoritative() bool {
	return p != Predicted
}

// Event is a single normalized change reported by an adapter.
//
// An event either carries a Payload (a full replacement of the domain's
// state) or an Availability transition with an optional Reason.
type Event struct {
	Domain       Domain
	Key          string
	Payload      Payload
	Availability Availability
	Reason       string
	Phase        Phase
	Timestamp    time.Time
}

// PayloadEvent builds a confirmed payload event for the given key.
func PayloadEvent(key string, p Payload, ts time.Time) Event {
	return Event{Domain: p.Domain(), Key: key, Payload: p, Phase: Confirmed, Timestamp: ts}
}

// AvailabilityEvent builds an availability transition event.
func AvailabilityEvent(d Domain, a Availability, reason string, ts time.Time) Event {
	return Event{Domain: d, Key: "availability", Availability: a, Reason: reason, Phase: Confirmed, Timestamp: ts}
}

// IsAvailability reports whether the event carries an availability transition only.
func (e Event) IsAvailability() bool {
	return e.Payload == nil && e.Availability != ""
}

// Validate checks that the event is well formed and its payload is in range.
func (e Event) Validate() error {
	if !e.Domain.IsValid() {
		return fmt.Errorf("%w: unknown domain %q", ErrInvalidPayload, e.Domain)
	}
	if e.Payload == nil {
		if !e.Availability.IsValid() {
			return fmt.Errorf("%w: %s event without payload or availability", ErrInvalidPayload, e.Domain)
		}
		return nil
	}
	if e.Payload.Domain() != e.Domain {
		return fmt.Errorf("%w: %s payload on %s event", ErrInvalidPayload, e.Payload.Domain(), e.Domain)
	}
	if err := e.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, e.Domain, err)
	}
	return nil
}

// ServiceState is the aggregated state of one domain.
type ServiceState struct {
	Domain       Domain       `json:"domain" yaml:"domain"`
	Availability Availability `json:"availability" yaml:"availability"`
	Reason       string       `json:"reason,omitempty" yaml:"reason,omitempty"`
	// Stale is set while a transient availability keeps the last ready payload on screen.
	Stale       bool      `json:"stale,omitempty" yaml:"stale,omitempty"`
	Phase       Phase     `json:"phase,omitempty" yaml:"phase,omitempty"`
	Payload     Payload   `json:"payload,omitempty" yaml:"payload,omitempty"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}

// Visible reports whether a widget bound to this state should be shown.
// Transient states keep a previously ready widget visible.
func (s ServiceState) Visible() bool {
	switch s.Availability {
	case Ready:
		return s.Payload != nil
	case Connecting, Errored:
		return s.Stale && s.Payload != nil
	default:
		return false
	}
}
