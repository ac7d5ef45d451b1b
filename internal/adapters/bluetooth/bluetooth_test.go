package bluetooth

import (
	"context"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
)

func v(x any) dbus.Variant { return dbus.MakeVariant(x) }

func TestFromObjects(t *testing.T) {
	objs := dbusx.ManagedObjects{
		"/org/bluez/hci1": {adapterIface: {"Powered": v(false)}},
		"/org/bluez/hci0": {adapterIface: {"Powered": v(true), "Discovering": v(true)}},
		"/org/bluez/hci0/dev_AA": {
			deviceIface: {
				"Adapter": v(dbus.ObjectPath("/org/bluez/hci0")), "Address": v("AA"),
				"Alias": v("Headphones"), "Icon": v("audio-headset"), "Paired": v(true), "Connected": v(true),
			},
			batteryIface: {"Percentage": v(byte(80))},
		},
		"/org/bluez/hci0/dev_BB": {
			deviceIface: {
				"Adapter": v(dbus.ObjectPath("/org/bluez/hci0")), "Address": v("BB"),
				"Name": v("Keyboard"), "Paired": v(true),
			},
		},
		"/org/bluez/hci0/dev_CC": {
			deviceIface: {"Adapter": v(dbus.ObjectPath("/org/bluez/hci0")), "Address": v("CC"), "Alias": v("Stranger")},
		},
		"/org/bluez/hci1/dev_DD": {
			deviceIface: {"Adapter": v(dbus.ObjectPath("/org/bluez/hci1")), "Address": v("DD"), "Paired": v(true)},
		},
	}

	st, ctrl := FromObjects(objs)
	require.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), ctrl)
	require.True(t, st.HasAdapter)
	require.True(t, st.Powered)
	require.True(t, st.Discovering)
	require.Equal(t, []domain.BluetoothDevice{
		{Address: "AA", Name: "Headphones", Icon: "audio-headset", Paired: true, Connected: true, Battery: 80},
		{Address: "BB", Name: "Keyboard", Paired: true},
	}, st.Devices, "unpaired and foreign-controller devices are skipped")
	require.Equal(t, 1, st.ConnectedCount())
	require.NoError(t, st.Validate())
}

func TestFromObjectsWithoutController(t *testing.T) {
	st, ctrl := FromObjects(dbusx.ManagedObjects{})
	require.Empty(t, ctrl)
	require.False(t, st.Present())
}

func TestDisconnectAllCopies(t *testing.T) {
	devs := []domain.BluetoothDevice{{Address: "AA", Connected: true}}
	out := disconnectAll(devs)
	require.False(t, out[0].Connected)
	require.True(t, devs[0].Connected, "input is not modified")
}

func TestToggleWithoutConnection(t *testing.T) {
	require.ErrorIs(t, New(nil).Toggle(context.Background(), true), source.ErrUnavailable)
}
