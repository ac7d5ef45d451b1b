package aggregator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/debounce"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/publish"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func batteryEvent(pct float64, ts time.Time) domain.Event {
	return domain.PayloadEvent("battery", domain.PowerState{BatteryPresent: true, Percent: pct, State: domain.BatteryDischarging}, ts)
}

func newTestAggregator() (*Aggregator, *publish.Holder[Snapshot]) {
	h := publish.NewHolder(Empty())
	return New(h), h
}

func TestMergeUpdatesOnlyAddressedDomain(t *testing.T) {
	s := Empty()
	s, err := Merge(s, batteryEvent(50, at(0)))
	require.NoError(t, err)
	s, err = Merge(s, domain.PayloadEvent("sink", domain.AudioState{Volume: 30}, at(1)))
	require.NoError(t, err)
	require.Equal(t, uint64(2), s.Version)

	before := s
	s, err = Merge(s, domain.PayloadEvent("sink", domain.AudioState{Volume: 60}, at(2)))
	require.NoError(t, err)

	power, _ := s.Get(domain.Power)
	oldPower, _ := before.Get(domain.Power)
	require.Equal(t, oldPower, power)

	audio, _ := s.Get(domain.Audio)
	require.Equal(t, 60, audio.Payload.(domain.AudioState).Volume)

	oldAudio, _ := before.Get(domain.Audio)
	require.Equal(t, 30, oldAudio.Payload.(domain.AudioState).Volume, "merge must not mutate the previous snapshot")
}

func TestMergeRejectsInvalidPayload(t *testing.T) {
	s, err := Merge(Empty(), batteryEvent(40, at(0)))
	require.NoError(t, err)

	next, err := Merge(s, batteryEvent(140, at(1)))
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	require.Equal(t, s.Version, next.Version)
	st, _ := next.Get(domain.Power)
	require.Equal(t, 40.0, st.Payload.(domain.PowerState).Percent)
}

func TestMergeNoChange(t *testing.T) {
	s, err := Merge(Empty(), batteryEvent(40, at(0)))
	require.NoError(t, err)
	next, err := Merge(s, batteryEvent(40, at(10)))
	require.ErrorIs(t, err, ErrNoChange)
	require.Equal(t, s.Version, next.Version)
}

func TestRemovedBatteryIsUnavailableInSameMerge(t *testing.T) {
	s, err := Merge(Empty(), batteryEvent(80, at(0)))
	require.NoError(t, err)

	s, err = Merge(s, domain.PayloadEvent("battery", domain.PowerState{BatteryPresent: false}, at(1)))
	require.NoError(t, err)

	st, _ := s.Get(domain.Power)
	require.Equal(t, domain.Unavailable, st.Availability)
	require.Nil(t, st.Payload)
	require.False(t, st.Visible())
	require.Equal(t, uint64(2), s.Version)
}

func TestRemovedBatteryClearsReadingsWhileProfileRemains(t *testing.T) {
	withProfile := domain.PowerState{BatteryPresent: true, Percent: 20, State: domain.BatteryDischarging, TimeToEmpty: time.Hour, Profile: "balanced"}
	s, err := Merge(Empty(), domain.PayloadEvent("power", withProfile, at(0)))
	require.NoError(t, err)

	removed := withProfile
	removed.BatteryPresent = false
	s, err = Merge(s, domain.PayloadEvent("power", removed, at(1)))
	require.NoError(t, err)

	st, _ := s.Get(domain.Power)
	require.Equal(t, domain.Ready, st.Availability)
	require.Equal(t, domain.PowerState{Profile: "balanced"}, st.Payload)

	s, err = Merge(s, domain.PayloadEvent("power", domain.PowerState{Percent: 20}, at(2)))
	require.NoError(t, err)
	st, _ = s.Get(domain.Power)
	require.Equal(t, domain.Unavailable, st.Availability)
	require.Nil(t, st.Payload)
}

func TestTransientStatesKeepLastReadyPayload(t *testing.T) {
	s, err := Merge(Empty(), domain.PayloadEvent("state", domain.NetworkState{WifiEnabled: true, Connected: true, SSID: "home"}, at(0)))
	require.NoError(t, err)

	s, err = Merge(s, domain.AvailabilityEvent(domain.Network, domain.Connecting, "", at(1)))
	require.NoError(t, err)
	st, _ := s.Get(domain.Network)
	require.Equal(t, domain.Connecting, st.Availability)
	require.True(t, st.Stale)
	require.True(t, st.Visible())

	s, err = Merge(s, domain.AvailabilityEvent(domain.Network, domain.Errored, "bus closed", at(2)))
	require.NoError(t, err)
	st, _ = s.Get(domain.Network)
	require.True(t, st.Visible())
	require.Equal(t, "bus closed", st.Reason)

	s, err = Merge(s, domain.AvailabilityEvent(domain.Network, domain.Unavailable, "NetworkManager gone", at(3)))
	require.NoError(t, err)
	st, _ = s.Get(domain.Network)
	require.False(t, st.Visible())
	require.Nil(t, st.Payload)
}

func TestConnectingWithoutPriorDataIsHidden(t *testing.T) {
	s, err := Merge(Empty(), domain.AvailabilityEvent(domain.Media, domain.Connecting, "", at(0)))
	require.NoError(t, err)
	st, ok := s.Get(domain.Media)
	require.True(t, ok)
	require.False(t, st.Visible())
}

func TestRetainDropsDisabledDomains(t *testing.T) {
	s, _ := Merge(Empty(), batteryEvent(80, at(0)))
	s, _ = Merge(s, domain.PayloadEvent("sink", domain.AudioState{Volume: 1}, at(1)))

	s = Retain(s, []domain.Domain{domain.Audio}, 7)
	require.Equal(t, uint64(3), s.Version)
	require.Equal(t, uint64(7), s.ConfigGeneration)
	_, ok := s.Get(domain.Power)
	require.False(t, ok)
	require.Equal(t, 1, s.Len())
}

func TestViewOrdersByDomain(t *testing.T) {
	s, _ := Merge(Empty(), domain.PayloadEvent("state", domain.SystemState{CPUPercent: 3}, at(0)))
	s, _ = Merge(s, batteryEvent(80, at(1)))

	v := s.View()
	require.Len(t, v.Services, 2)
	require.Equal(t, domain.Power, v.Services[0].Domain)
	require.Equal(t, domain.System, v.Services[1].Domain)
}

func TestBatteryBurstProducesOneMerge(t *testing.T) {
	agg, h := newTestAggregator()
	c := debounce.NewCoalescer(debounce.Windows{Default: 50 * time.Millisecond, CeilingFactor: 4})

	c.Offer(batteryEvent(20, at(0)), at(0))
	c.Offer(batteryEvent(19, at(5)), at(5))
	for _, ev := range c.Due(at(60)) {
		_, err := agg.Apply(ev)
		require.NoError(t, err)
	}

	require.Equal(t, uint64(1), h.Version())
	st, _ := h.Current().Get(domain.Power)
	require.Equal(t, 19.0, st.Payload.(domain.PowerState).Percent)
}

func TestBluetoothToggleYieldsOneChange(t *testing.T) {
	agg, h := newTestAggregator()
	_, err := agg.Apply(domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: false}, at(0)))
	require.NoError(t, err)
	start := h.Version()

	c := debounce.NewCoalescer(debounce.Windows{Default: 100 * time.Millisecond, CeilingFactor: 4})
	predicted := domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: true}, at(1000))
	predicted.Phase = domain.Predicted
	c.Offer(predicted, at(1000))
	c.Offer(domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: true}, at(1030)), at(1030))

	for _, ev := range c.Due(at(1200)) {
		_, err := agg.Apply(ev)
		require.NoError(t, err)
	}

	require.Equal(t, start+1, h.Version())
	st, _ := h.Current().Get(domain.Bluetooth)
	require.True(t, st.Payload.(domain.BluetoothState).Powered)
	require.Equal(t, domain.Confirmed, st.Phase)
}

func TestAuthoritativeEventSupersedesPrediction(t *testing.T) {
	agg, h := newTestAggregator()

	predicted := domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: true}, at(0))
	predicted.Phase = domain.Predicted
	_, err := agg.Apply(predicted)
	require.NoError(t, err)
	st, _ := h.Current().Get(domain.Bluetooth)
	require.Equal(t, domain.Predicted, st.Phase)

	_, err = agg.Apply(domain.PayloadEvent("powered", domain.BluetoothState{HasAdapter: true, Powered: false}, at(500)))
	require.NoError(t, err)
	st, _ = h.Current().Get(domain.Bluetooth)
	require.False(t, st.Payload.(domain.BluetoothState).Powered)
	require.Equal(t, domain.Confirmed, st.Phase)
}

func TestUnavailableNeverFollowedByStaleReady(t *testing.T) {
	agg, h := newTestAggregator()
	sub, cancel := h.Subscribe()
	defer cancel()

	_, err := agg.Apply(batteryEvent(50, at(0)))
	require.NoError(t, err)
	<-sub

	c := debounce.NewCoalescer(debounce.DefaultWindows())
	c.Offer(batteryEvent(49, at(10)), at(10))
	for _, ev := range c.Offer(domain.AvailabilityEvent(domain.Power, domain.Unavailable, "UPower gone", at(11)), at(11)) {
		_, err := agg.Apply(ev)
		require.NoError(t, err)
	}
	for _, ev := range c.Due(at(500)) {
		_, _ = agg.Apply(ev)
	}

	version := <-sub
	require.Equal(t, h.Version(), version)
	st, _ := h.Current().Get(domain.Power)
	require.Equal(t, domain.Unavailable, st.Availability)
}

func TestRunSerializesEventsAndReconfigure(t *testing.T) {
	agg, h := newTestAggregator()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan domain.Event)
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx, in) }()

	in <- batteryEvent(10, at(0))
	in <- domain.PayloadEvent("sink", domain.AudioState{Volume: 5}, at(1))
	in <- batteryEvent(500, at(2))
	require.NoError(t, agg.Reconfigure(ctx, []domain.Domain{domain.Audio}, 3))
	close(in)

	require.NoError(t, <-done)
	s := h.Current()
	require.Equal(t, uint64(3), s.Version)
	require.Equal(t, uint64(3), s.ConfigGeneration)
	_, ok := s.Get(domain.Power)
	require.False(t, ok)
}

type recordingObserver struct {
	applied  []uint64
	rejected int
}

func (o *recordingObserver) MergeApplied(_ domain.Domain, v uint64) { o.applied = append(o.applied, v) }
func (o *recordingObserver) MergeRejected(domain.Domain)           { o.rejected++ }

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	agg := New(publish.NewHolder(Empty()), WithObserver(obs))

	_, _ = agg.Apply(batteryEvent(10, at(0)))
	_, _ = agg.Apply(batteryEvent(-1, at(1)))
	_, _ = agg.Apply(batteryEvent(11, at(2)))

	require.Equal(t, []uint64{1, 2}, obs.applied)
	require.Equal(t, 1, obs.rejected)
}

func TestEventsOfDisabledDomainsAreDropped(t *testing.T) {
	agg, h := newTestAggregator()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in := make(chan domain.Event)
	done := make(chan error, 1)
	go func() { done <- agg.Run(ctx, in) }()

	require.NoError(t, agg.Reconfigure(ctx, []domain.Domain{domain.Audio}, 2))
	in <- batteryEvent(40, at(0))
	in <- domain.PayloadEvent("sink", domain.AudioState{Volume: 5}, at(1))
	close(in)

	require.NoError(t, <-done)
	s := h.Current()
	_, ok := s.Get(domain.Power)
	require.False(t, ok, "power is disabled")
	_, ok = s.Get(domain.Audio)
	require.True(t, ok)
	require.Equal(t, uint64(2), s.Version)
}
