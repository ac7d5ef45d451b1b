package main

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/aggregator"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/notify"
	"github.com/vibepanel/vibepanel/internal/publish"
)

func TestWatchModelRedrawsOnNewSnapshot(t *testing.T) {
	holder := publish.NewHolder(aggregator.Empty())
	m := newWatchModel(context.Background(), holder, nil)
	defer m.close()
	require.Contains(t, m.View(), "waiting for the first report")

	s := powerSnapshot(t)
	require.True(t, holder.Store(s, s.Version))

	msg := waitForVersion(m.updates)()
	require.Equal(t, versionMsg(s.Version), msg)
	_, cmd := m.Update(msg)
	require.NotNil(t, cmd)

	view := m.View()
	require.Contains(t, view, "snapshot v2")
	require.Contains(t, view, "power")
	require.Contains(t, view, "42% discharging")
}

func TestWatchModelQuits(t *testing.T) {
	m := newWatchModel(context.Background(), publish.NewHolder(aggregator.Empty()), nil)
	defer m.close()

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())

	boom := errors.New("boom")
	_, cmd = m.Update(pipelineErrMsg{err: boom})
	require.IsType(t, tea.QuitMsg{}, cmd())
	require.ErrorIs(t, m.err, boom)
}

func TestWaitForVersionEndsWhenUnsubscribed(t *testing.T) {
	m := newWatchModel(context.Background(), publish.NewHolder(aggregator.Empty()), nil)
	m.close()
	require.Nil(t, waitForVersion(m.updates)())
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		st   domain.ServiceState
		want string
	}{
		{
			name: "unavailable shows reason",
			st:   domain.ServiceState{Domain: domain.Power, Availability: domain.Unavailable, Reason: "no upower"},
			want: "no upower",
		},
		{
			name: "desktop without battery",
			st:   domain.ServiceState{Payload: domain.PowerState{Profile: "balanced"}},
			want: "no battery, profile balanced",
		},
		{
			name: "wifi",
			st:   domain.ServiceState{Payload: domain.NetworkState{WifiEnabled: true, Connected: true, SSID: "home", Strength: 70}},
			want: "home 70%",
		},
		{
			name: "predicted bluetooth toggle",
			st:   domain.ServiceState{Payload: domain.BluetoothState{HasAdapter: true}, Phase: domain.Predicted},
			want: "off (pending)",
		},
		{
			name: "muted audio",
			st:   domain.ServiceState{Payload: domain.AudioState{Volume: 30, Muted: true}},
			want: "30% muted",
		},
		{
			name: "media",
			st:   domain.ServiceState{Payload: domain.MediaState{Player: "spotify", Status: domain.Playing, Artist: "A", Title: "T"}},
			want: "playing: A - T",
		},
		{
			name: "updates",
			st:   domain.ServiceState{Payload: domain.UpdatesState{Backend: "pacman", Count: 3}},
			want: "3 pending (pacman)",
		},
		{
			name: "idle",
			st:   domain.ServiceState{Payload: domain.IdleInhibitorState{Active: true}},
			want: "idle inhibited",
		},
		{
			name: "system",
			st:   domain.ServiceState{Payload: domain.SystemState{CPUPercent: 12.4, MemoryUsed: 1 << 30, MemoryTotal: 4 << 30}},
			want: "cpu 12%, mem 1.0 GiB/4.0 GiB",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, summarize(tt.st))
		})
	}
}

func TestRenderServicesEmpty(t *testing.T) {
	require.Contains(t, renderServices(nil, time.Now()), "No services enabled")
}

type fakeController struct {
	store *notify.Store
	calls []string
	err   error
}

func (f *fakeController) Toggle(_ context.Context, d domain.Domain, on bool) error {
	f.calls = append(f.calls, fmt.Sprintf("toggle %s %t", d, on))
	return f.err
}

func (f *fakeController) AdjustVolume(_ context.Context, delta int) (int, error) {
	f.calls = append(f.calls, fmt.Sprintf("volume %+d", delta))
	return 50 + delta, f.err
}

func (f *fakeController) ToggleMute(context.Context) (bool, error) {
	f.calls = append(f.calls, "mute")
	return true, f.err
}

func (f *fakeController) Transport(_ context.Context, action domain.PlayerAction) error {
	f.calls = append(f.calls, string(action))
	return f.err
}

func (f *fakeController) InvokeAction(id uint32, key string) error {
	f.calls = append(f.calls, fmt.Sprintf("invoke %d %s", id, key))
	return f.err
}

func (f *fakeController) Notifications() *notify.Store { return f.store }

func press(t *testing.T, m *watchModel, key string) controlMsg {
	t.Helper()
	k := tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	switch key {
	case "enter":
		k = tea.KeyMsg{Type: tea.KeyEnter}
	case " ":
		k = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune(" ")}
	}
	_, cmd := m.Update(k)
	require.NotNil(t, cmd, key)
	msg, ok := cmd().(controlMsg)
	require.True(t, ok, key)
	m.Update(msg)
	return msg
}

func TestWatchKeysDriveControls(t *testing.T) {
	store, err := notify.Open(context.Background(), notify.Options{})
	require.NoError(t, err)
	rec, err := store.Append(notify.Record{AppName: "mail", Summary: "New mail", Actions: []notify.Action{{Key: "open", Label: "Open"}}})
	require.NoError(t, err)

	s, err := aggregator.Merge(aggregator.Empty(), domain.PayloadEvent("network", domain.NetworkState{WifiEnabled: true}, time.Now()))
	require.NoError(t, err)
	s, err = aggregator.Merge(s, domain.PayloadEvent("bluetooth", domain.BluetoothState{HasAdapter: true}, time.Now()))
	require.NoError(t, err)
	holder := publish.NewHolder(s)

	ctl := &fakeController{store: store}
	m := newWatchModel(context.Background(), holder, ctl)
	defer m.close()
	require.Contains(t, m.viewport.View(), "New mail")

	require.Equal(t, "network off", press(t, m, "w").note)
	require.Equal(t, "bluetooth on", press(t, m, "b").note)
	require.Equal(t, "volume 55%", press(t, m, "+").note)
	press(t, m, "-")
	require.Equal(t, "muted", press(t, m, "m").note)
	press(t, m, " ")
	press(t, m, "n")
	press(t, m, "p")
	require.Equal(t, `activated "New mail"`, press(t, m, "enter").note)
	require.Contains(t, m.View(), "activated")

	require.Equal(t, []string{
		"toggle network false",
		"toggle bluetooth true",
		"volume +5",
		"volume -5",
		"mute",
		"play-pause",
		"next",
		"previous",
		fmt.Sprintf("invoke %d open", rec.ID),
	}, ctl.calls)
}

func TestWatchShowsControlErrors(t *testing.T) {
	ctl := &fakeController{err: errors.New("adapter not running")}
	m := newWatchModel(context.Background(), publish.NewHolder(aggregator.Empty()), ctl)
	defer m.close()

	msg := press(t, m, "i")
	require.ErrorContains(t, msg.err, "idle is not ready")
	require.Empty(t, ctl.calls)

	msg = press(t, m, "n")
	require.ErrorContains(t, msg.err, "adapter not running")
	require.Contains(t, m.View(), "adapter not running")

	require.Equal(t, "no notifications", press(t, m, "enter").note)
}
