package debounce

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/domain"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func battery(pct float64, ts time.Time) domain.Event {
	return domain.PayloadEvent("battery", domain.PowerState{BatteryPresent: true, Percent: pct, State: domain.BatteryDischarging}, ts)
}

func newTestCoalescer() *Coalescer {
	return NewCoalescer(Windows{Default: 50 * time.Millisecond, CeilingFactor: 4})
}

func TestBurstCollapsesToLatest(t *testing.T) {
	c := newTestCoalescer()

	require.Empty(t, c.Offer(battery(20, at(0)), at(0)))
	require.Empty(t, c.Offer(battery(19, at(5)), at(5)))

	require.Empty(t, c.Due(at(49)))
	due := c.Due(at(55))
	require.Len(t, due, 1)
	require.Equal(t, 19.0, due[0].Payload.(domain.PowerState).Percent)
	require.Zero(t, c.Pending())
}

func TestSingleEventEmitsAfterWindow(t *testing.T) {
	c := newTestCoalescer()
	c.Offer(battery(80, at(0)), at(0))

	require.Empty(t, c.Due(at(10)))
	require.Len(t, c.Due(at(50)), 1)
}

func TestCeilingBoundsContinuousUpdates(t *testing.T) {
	c := newTestCoalescer()

	var emitted []domain.Event
	for ms := 0; ms <= 400; ms += 10 {
		c.Offer(battery(float64(100-ms/10), at(ms)), at(ms))
		emitted = append(emitted, c.Due(at(ms))...)
	}

	// window 50ms, ceiling 200ms: the key is released at 200 and again at 410 at the latest
	require.Len(t, emitted, 1)
	require.Equal(t, at(200), emitted[0].Timestamp)
}

func TestDistinctKeysEmitInDeadlineOrder(t *testing.T) {
	c := NewCoalescer(Windows{
		Default:       50 * time.Millisecond,
		PerDomain:     map[domain.Domain]time.Duration{domain.Bluetooth: 100 * time.Millisecond},
		CeilingFactor: 4,
	})

	c.Offer(domain.PayloadEvent("adapter", domain.BluetoothState{HasAdapter: true}, at(0)), at(0))
	c.Offer(domain.PayloadEvent("sink", domain.AudioState{Volume: 40}, at(10)), at(10))
	c.Offer(domain.PayloadEvent("player", domain.MediaState{Player: "mpv"}, at(10)), at(10))

	due := c.Due(at(200))
	require.Len(t, due, 3)
	require.Equal(t, domain.Audio, due[0].Domain)
	require.Equal(t, domain.Media, due[1].Domain)
	require.Equal(t, domain.Bluetooth, due[2].Domain)
}

func TestConfirmedWinsOverPredicted(t *testing.T) {
	c := newTestCoalescer()

	predicted := domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: true}, at(0))
	predicted.Phase = domain.Predicted
	confirmed := domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: false}, at(20))

	c.Offer(predicted, at(0))
	c.Offer(confirmed, at(20))

	due := c.Due(at(100))
	require.Len(t, due, 1)
	require.Equal(t, domain.Confirmed, due[0].Phase)
	require.False(t, due[0].Payload.(domain.BluetoothState).Powered)
}

func TestPredictedDoesNotReplaceConfirmed(t *testing.T) {
	c := newTestCoalescer()

	confirmed := domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: false}, at(0))
	predicted := domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: true}, at(5))
	predicted.Phase = domain.Predicted

	c.Offer(confirmed, at(0))
	c.Offer(predicted, at(5))

	due := c.Due(at(100))
	require.Len(t, due, 1)
	require.False(t, due[0].Payload.(domain.BluetoothState).Powered)
}

func TestUnavailableBypassesWindowAndDropsHeld(t *testing.T) {
	c := newTestCoalescer()
	c.Offer(battery(15, at(0)), at(0))
	c.Offer(domain.PayloadEvent("sink", domain.AudioState{Volume: 10}, at(0)), at(0))

	out := c.Offer(domain.AvailabilityEvent(domain.Power, domain.Unavailable, "battery removed", at(1)), at(1))
	require.Len(t, out, 1)
	require.Equal(t, domain.Unavailable, out[0].Availability)

	due := c.Due(at(100))
	require.Len(t, due, 1)
	require.Equal(t, domain.Audio, due[0].Domain)
}

func TestReadyKeepsHeld(t *testing.T) {
	c := newTestCoalescer()
	c.Offer(battery(15, at(0)), at(0))

	out := c.Offer(domain.AvailabilityEvent(domain.Power, domain.Ready, "", at(1)), at(1))
	require.Len(t, out, 1)
	require.Equal(t, 1, c.Pending())
}

func TestFlushReturnsEverything(t *testing.T) {
	c := newTestCoalescer()
	c.Offer(battery(15, at(0)), at(0))
	c.Offer(domain.PayloadEvent("sink", domain.AudioState{Volume: 10}, at(3)), at(3))

	flushed := c.Flush()
	require.Len(t, flushed, 2)
	require.Equal(t, domain.Power, flushed[0].Domain)
	require.Zero(t, c.Pending())
}

type countingObserver struct {
	received  int
	coalesced int
}

func (o *countingObserver) EventReceived(domain.Domain)  { o.received++ }
func (o *countingObserver) EventCoalesced(domain.Domain) { o.coalesced++ }

func TestObserverCounts(t *testing.T) {
	obs := &countingObserver{}
	c := NewCoalescer(DefaultWindows(), WithObserver(obs))

	c.Offer(battery(20, at(0)), at(0))
	c.Offer(battery(19, at(1)), at(1))
	c.Offer(battery(18, at(2)), at(2))

	require.Equal(t, 3, obs.received)
	require.Equal(t, 2, obs.coalesced)
}

func TestSetWindowsAppliesToNewEvents(t *testing.T) {
	c := newTestCoalescer()
	c.SetWindows(Windows{Default: 10 * time.Millisecond, CeilingFactor: 2})
	require.Equal(t, 10*time.Millisecond, c.Windows().For(domain.Audio))

	c.Offer(domain.PayloadEvent("sink", domain.AudioState{Volume: 10}, at(0)), at(0))
	require.Len(t, c.Due(at(10)), 1)
}

func TestRunEmitsAndFlushesOnClose(t *testing.T) {
	c := NewCoalescer(Windows{Default: 200 * time.Millisecond, CeilingFactor: 4})
	in := make(chan domain.Event)
	out := make(chan domain.Event, 8)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), in, out) }()

	now := time.Now()
	in <- battery(20, now)
	in <- battery(19, now)

	select {
	case ev := <-out:
		require.Equal(t, 19.0, ev.Payload.(domain.PowerState).Percent)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coalesced event")
	}

	in <- domain.PayloadEvent("sink", domain.AudioState{Volume: 33}, now)
	close(in)

	require.NoError(t, <-done)
	var rest []domain.Event
	for ev := range out {
		rest = append(rest, ev)
	}
	require.Len(t, rest, 1)
	require.Equal(t, domain.Audio, rest[0].Domain)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := newTestCoalescer()
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan domain.Event)
	out := make(chan domain.Event)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, in, out) }()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
