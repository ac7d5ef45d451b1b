// Package aggregator owns the panel snapshot: the single versioned state tree
// built by merging adapter events one at a time.
package aggregator

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/vibepanel/vibepanel/internal/domain"
)

// ErrNoChange is returned by Merge when the event leaves the snapshot as it was.
var ErrNoChange = errors.New("no change")

// Snapshot is an immutable view of every tracked domain.
type Snapshot struct {
	Version          uint64
	ConfigGeneration uint64
	services         map[domain.Domain]domain.ServiceState
}

// View is the serializable form of a Snapshot.
type View struct {
	Version          uint64                `json:"version" yaml:"version"`
	ConfigGeneration uint64                `json:"config_generation" yaml:"config_generation"`
	Services         []domain.ServiceState `json:"services" yaml:"services"`
}

// Empty returns the snapshot at version 0.
func Empty() Snapshot {
	return Snapshot{services: map[domain.Domain]domain.ServiceState{}}
}

// Get returns the state of d.
func (s Snapshot) Get(d domain.Domain) (domain.ServiceState, bool) {
	st, ok := s.services[d]
	return st, ok
}

// Len returns the number of tracked domains.
func (s Snapshot) Len() int {
	return len(s.services)
}

// Services returns the tracked states in display order.
func (s Snapshot) Services() []domain.ServiceState {
	out := make([]domain.ServiceState, 0, len(s.services))
	for _, d := range domain.All() {
		if st, ok := s.services[d]; ok {
			out = append(out, st)
		}
	}
	return out
}

// View returns the serializable form of s.
func (s Snapshot) View() View {
	return View{Version: s.Version, ConfigGeneration: s.ConfigGeneration, Services: s.Services()}
}

func (s Snapshot) with(st domain.ServiceState) Snapshot {
	services := make(map[domain.Domain]domain.ServiceState, len(s.services)+1)
	for k, v := range s.services {
		services[k] = v
	}
	services[st.Domain] = st
	return Snapshot{Version: s.Version + 1, ConfigGeneration: s.ConfigGeneration, services: services}
}

// Merge applies ev to s and returns the next snapshot.
//
// Only the addressed domain changes. An invalid event returns s unchanged
// together with the validation error. A payload whose backing resource is
// gone moves the domain to Unavailable in this same step.
func Merge(s Snapshot, ev domain.Event) (Snapshot, error) {
	if err := ev.Validate(); err != nil {
		return s, err
	}
	prev, had := s.services[ev.Domain]
	next := prev
	next.Domain = ev.Domain
	next.LastUpdated = ev.Timestamp
	if next.LastUpdated.IsZero() {
		next.LastUpdated = time.Now()
	}

	if ev.IsAvailability() {
		applyAvailability(&next, ev)
	} else {
		applyPayload(&next, ev)
	}

	if had && sameState(prev, next) {
		return s, ErrNoChange
	}
	return s.with(next), nil
}

func applyAvailability(st *domain.ServiceState, ev domain.Event) {
	st.Reason = ev.Reason
	switch ev.Availability {
	case domain.Unavailable:
		st.Availability = domain.Unavailable
		st.Payload = nil
		st.Stale = false
		st.Phase = ""
	case domain.Connecting, domain.Errored:
		// keep the last rendered payload on screen until Unavailable or fresh data
		st.Stale = st.Payload != nil && (st.Availability == domain.Ready || st.Stale)
		if !st.Stale {
			st.Payload = nil
		}
		st.Availability = ev.Availability
	case domain.Ready:
		st.Availability = domain.Ready
		st.Stale = false
	}
}

func applyPayload(st *domain.ServiceState, ev domain.Event) {
	payload := ev.Payload
	if n, ok := payload.(domain.Normalizer); ok {
		payload = n.Normalize()
	}
	if p, ok := payload.(domain.Presence); ok && !p.Present() {
		st.Availability = domain.Unavailable
		st.Reason = fmt.Sprintf("no %s device", ev.Domain)
		st.Payload = nil
		st.Stale = false
		st.Phase = ""
		return
	}
	st.Availability = domain.Ready
	st.Reason = ""
	st.Stale = false
	st.Payload = payload
	st.Phase = ev.Phase
	if st.Phase == "" {
		st.Phase = domain.Confirmed
	}
}

func sameState(a, b domain.ServiceState) bool {
	return a.Availability == b.Availability &&
		a.Reason == b.Reason &&
		a.Stale == b.Stale &&
		a.Phase == b.Phase &&
		reflect.DeepEqual(a.Payload, b.Payload)
}

// Retain drops every domain not in enabled and records generation.
func Retain(s Snapshot, enabled []domain.Domain, generation uint64) Snapshot {
	keep := make(map[domain.Domain]bool, len(enabled))
	for _, d := range enabled {
		keep[d] = true
	}
	services := make(map[domain.Domain]domain.ServiceState, len(enabled))
	for d, st := range s.services {
		if keep[d] {
			services[d] = st
		}
	}
	return Snapshot{Version: s.Version + 1, ConfigGeneration: generation, services: services}
}
