package tray

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/domain"
)

func TestSplitItem(t *testing.T) {
	tests := []struct {
		entry, service, path string
	}{
		{":1.52/org/ayatana/NotificationItem/nm_applet", ":1.52", "/org/ayatana/NotificationItem/nm_applet"},
		{"org.kde.StatusNotifierItem-1234-1", "org.kde.StatusNotifierItem-1234-1", "/StatusNotifierItem"},
		{":1.9/StatusNotifierItem", ":1.9", "/StatusNotifierItem"},
	}
	for _, tt := range tests {
		t.Run(tt.entry, func(t *testing.T) {
			service, path := SplitItem(tt.entry)
			require.Equal(t, tt.service, service)
			require.Equal(t, tt.path, path)
		})
	}
}

func TestFromProps(t *testing.T) {
	item := FromProps(":1.52", "/StatusNotifierItem", dbusx.Props{
		"Id":       dbus.MakeVariant("nm-applet"),
		"Title":    dbus.MakeVariant("Network"),
		"IconName": dbus.MakeVariant("network-wireless"),
		"Status":   dbus.MakeVariant("Active"),
	})
	require.Equal(t, domain.TrayItem{
		Service: ":1.52", Path: "/StatusNotifierItem", ID: "nm-applet",
		Title: "Network", IconName: "network-wireless", Status: "Active",
	}, item)

	st := domain.TrayState{Items: []domain.TrayItem{item}}
	require.NoError(t, st.Validate())
}
