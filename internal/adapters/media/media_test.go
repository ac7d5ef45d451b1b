package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
)

func player(name, status, title string) Player {
	props := dbusx.Props{"PlaybackStatus": dbus.MakeVariant(status)}
	if title != "" {
		props["Metadata"] = dbus.MakeVariant(map[string]dbus.Variant{"xesam:title": dbus.MakeVariant(title)})
	}
	return Player{Name: namePrefix + name, Props: props}
}

func TestSelect(t *testing.T) {
	spotify := player("spotify", domain.Paused, "Song")
	firefox := player("firefox", domain.Playing, "Video")
	mpv := player("mpv", domain.Stopped, "")
	vlc := player("vlc", domain.Playing, "Clip")

	tests := []struct {
		name        string
		players     []Player
		current     string
		lastPlaying string
		want        string
	}{
		{"playing beats paused", []Player{spotify, firefox}, spotify.Name, "", firefox.Name},
		{"last playing wins among playing", []Player{firefox, vlc}, "", vlc.Name, vlc.Name},
		{"first playing by name", []Player{vlc, firefox}, "", "", firefox.Name},
		{"paused with track beats stopped", []Player{mpv, spotify}, mpv.Name, "", spotify.Name},
		{"current paused player is kept", []Player{spotify, player("zz", domain.Paused, "Other")}, namePrefix + "zz", "", namePrefix + "zz"},
		{"current kept when nothing better", []Player{player("a", domain.Stopped, ""), mpv}, mpv.Name, "", mpv.Name},
		{"first when current is gone", []Player{mpv, player("a", domain.Stopped, "")}, "gone", "", namePrefix + "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.players, tt.current, tt.lastPlaying)
			require.True(t, ok)
			require.Equal(t, tt.want, got.Name)
		})
	}

	_, ok := Select(nil, "", "")
	require.False(t, ok)
}

func TestFromPlayer(t *testing.T) {
	p := Player{
		Name: namePrefix + "spotify",
		Props: dbusx.Props{
			"PlaybackStatus": dbus.MakeVariant("Playing"),
			"Position":       dbus.MakeVariant(int64(90_000_000)),
			"CanGoNext":      dbus.MakeVariant(true),
			"CanPause":       dbus.MakeVariant(true),
			"Metadata": dbus.MakeVariant(map[string]dbus.Variant{
				"xesam:title":  dbus.MakeVariant("Song"),
				"xesam:artist": dbus.MakeVariant([]string{"A", "B"}),
				"xesam:album":  dbus.MakeVariant("Album"),
				"mpris:artUrl": dbus.MakeVariant("file:///tmp/art.png"),
				"mpris:length": dbus.MakeVariant(uint64(180_000_000)),
			}),
		},
	}
	st := FromPlayer(p)
	require.Equal(t, domain.MediaState{
		Player:    namePrefix + "spotify",
		Identity:  "spotify",
		Status:    domain.Playing,
		Title:     "Song",
		Artist:    "A, B",
		Album:     "Album",
		ArtURL:    "file:///tmp/art.png",
		Position:  90 * time.Second,
		Length:    3 * time.Minute,
		CanGoNext: true,
		CanPause:  true,
	}, st)
	require.NoError(t, st.Validate())
}

func TestFromPlayerUnknownStatus(t *testing.T) {
	st := FromPlayer(Player{Name: namePrefix + "x", Identity: "X", Props: dbusx.Props{}})
	require.Equal(t, domain.Stopped, st.Status)
	require.Equal(t, "X", st.Identity)
	require.NoError(t, st.Validate())
}

func TestMethod(t *testing.T) {
	require.Equal(t, "PlayPause", Method(domain.PlayPause))
	require.Equal(t, "Next", Method(domain.Next))
	require.Equal(t, "Previous", Method(domain.Previous))
	require.Equal(t, "Stop", Method(domain.Stop))
}

type call struct{ dest, method string }

func withPlayer(shown domain.MediaState, err error) (*Adapter, *[]call) {
	var calls []call
	a := New(0, nil)
	a.shown = shown
	a.call = func(_ context.Context, dest, method string) error {
		calls = append(calls, call{dest, method})
		return err
	}
	return a, &calls
}

func TestTransportPredictsPlayPause(t *testing.T) {
	shown := domain.MediaState{Player: namePrefix + "mpv", Identity: "mpv", Status: domain.Playing, CanPause: true, CanGoNext: true}
	a, calls := withPlayer(shown, nil)

	require.NoError(t, a.Transport(context.Background(), domain.PlayPause))
	ev := <-a.Events()
	require.Equal(t, domain.Predicted, ev.Phase)
	require.Equal(t, domain.Paused, ev.Payload.(domain.MediaState).Status)

	require.NoError(t, a.Transport(context.Background(), domain.Next))
	require.Empty(t, a.Events(), "track changes are left to the player")
	require.Equal(t, []call{{namePrefix + "mpv", "PlayPause"}, {namePrefix + "mpv", "Next"}}, *calls)
}

func TestTransportFailureRestoresShownState(t *testing.T) {
	shown := domain.MediaState{Player: namePrefix + "mpv", Status: domain.Paused}
	a, _ := withPlayer(shown, errors.New("org.freedesktop.DBus.Error.NoReply"))

	require.Error(t, a.Transport(context.Background(), domain.PlayPause))
	require.Equal(t, domain.Predicted, (<-a.Events()).Phase)
	ev := <-a.Events()
	require.Equal(t, domain.Confirmed, ev.Phase)
	require.Equal(t, shown, ev.Payload)
}

func TestTransportRejectsUnsupported(t *testing.T) {
	a, calls := withPlayer(domain.MediaState{Player: namePrefix + "mpv", Identity: "mpv", Status: domain.Playing}, nil)
	require.ErrorIs(t, a.Transport(context.Background(), domain.Previous), ErrUnsupported)

	idle, _ := withPlayer(domain.MediaState{}, nil)
	require.ErrorIs(t, idle.Transport(context.Background(), domain.PlayPause), source.ErrUnavailable)
	require.Empty(t, *calls)
	require.Empty(t, a.Events())
}
