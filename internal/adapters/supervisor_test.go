package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/adapters/fake"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
)

type recordingObserver struct {
	mu     sync.Mutex
	states []domain.Availability
}

func (o *recordingObserver) AdapterAvailability(_ domain.Domain, a domain.Availability) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, a)
}

func (o *recordingObserver) seen() []domain.Availability {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Availability(nil), o.states...)
}

func startSupervisor(t *testing.T, opts []SupervisorOption, adapters ...Adapter) (<-chan domain.Event, context.CancelFunc, <-chan error) {
	t.Helper()
	out := make(chan domain.Event, 64)
	ctx, cancel := context.WithCancel(context.Background())
	opts = append([]SupervisorOption{WithBackoff(time.Millisecond, 5*time.Millisecond)}, opts...)
	s := NewSupervisor(out, opts...)
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, adapters) }()
	t.Cleanup(cancel)
	return out, cancel, done
}

func next(t *testing.T, events <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestSupervisorRetriesUnavailableStart(t *testing.T) {
	f := fake.New(domain.Power).
		WithInitial(domain.PowerState{BatteryPresent: true, Percent: 80}).
		FailStarts(source.Unavailable("no battery"), source.Unavailable("no battery"))
	events, _, _ := startSupervisor(t, nil, f)

	for range 2 {
		ev := next(t, events)
		require.Equal(t, domain.Connecting, ev.Availability)
		ev = next(t, events)
		require.Equal(t, domain.Unavailable, ev.Availability)
		require.Contains(t, ev.Reason, "no battery")
	}
	require.Equal(t, domain.Connecting, next(t, events).Availability)
	ev := next(t, events)
	require.Equal(t, domain.PowerState{BatteryPresent: true, Percent: 80}, ev.Payload)
	require.Equal(t, 1, f.Starts())
}

func TestSupervisorClosesHandleOnFailure(t *testing.T) {
	f := fake.New(domain.Network).WithInitial(domain.NetworkState{Connected: true})
	obs := &recordingObserver{}
	events, _, _ := startSupervisor(t, []SupervisorOption{WithObserver(obs)}, f)

	require.Equal(t, domain.Connecting, next(t, events).Availability)
	require.NotNil(t, next(t, events).Payload)

	require.NoError(t, f.Send(context.Background(), domain.NetworkState{Connected: false}))
	require.NoError(t, f.Fail(source.Transient("nm", errors.New("bus dropped"))))

	require.Equal(t, domain.NetworkState{Connected: false}, next(t, events).Payload, "events before the failure are forwarded first")
	ev := next(t, events)
	require.Equal(t, domain.Errored, ev.Availability)
	require.Contains(t, ev.Reason, "bus dropped")

	require.Equal(t, domain.Connecting, next(t, events).Availability)
	require.NotNil(t, next(t, events).Payload)
	require.Equal(t, 2, f.Starts())
	require.Equal(t, 1, f.Closes())
	require.Equal(t, []domain.Availability{domain.Connecting, domain.Ready, domain.Errored, domain.Connecting, domain.Ready}, obs.seen())
}

func TestSupervisorReleasesEveryHandleOnShutdown(t *testing.T) {
	a := fake.New(domain.Audio).WithInitial(domain.AudioState{Volume: 10})
	b := fake.New(domain.System).WithInitial(domain.SystemState{CPUPercent: 1, MemoryTotal: 1})
	events, cancel, done := startSupervisor(t, nil, a, b)

	payloads := 0
	for payloads < 2 {
		if next(t, events).Payload != nil {
			payloads++
		}
	}
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, a.Starts(), a.Closes())
	require.Equal(t, b.Starts(), b.Closes())
}

func TestSupervisorEndedRunIsAnError(t *testing.T) {
	f := fake.New(domain.Tray).WithInitial(domain.TrayState{})
	events, _, _ := startSupervisor(t, nil, f)

	next(t, events)
	next(t, events)
	require.NoError(t, f.Fail(nil))
	ev := next(t, events)
	require.Equal(t, domain.Errored, ev.Availability)
	require.Equal(t, errEnded.Error(), ev.Reason)
}

func TestWithBackoffIgnoresInvalidValues(t *testing.T) {
	s := NewSupervisor(nil, WithBackoff(0, time.Millisecond))
	require.Equal(t, DefaultBackoffBase, s.base)
	require.Equal(t, DefaultBackoffMax, s.max, "max below base is ignored")

	s = NewSupervisor(nil, WithBackoff(time.Second, time.Minute))
	require.Equal(t, time.Second, s.base)
	require.Equal(t, time.Minute, s.max)
}
