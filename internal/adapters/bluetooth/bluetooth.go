// Package bluetooth reports adapter power and known devices from BlueZ.
package bluetooth

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	bluezName    = "org.bluez"
	rootPath     = dbus.ObjectPath("/")
	bluezPath    = dbus.ObjectPath("/org/bluez")
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	batteryIface = "org.bluez.Battery1"

	eventKey = "bluetooth"
)

// Adapter is the bluetooth domain adapter.
type Adapter struct {
	*source.Emitter
	logger logging.Logger

	mu         sync.Mutex
	conn       *dbus.Conn
	controller dbus.ObjectPath
	last       domain.BluetoothState
}

func New(logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Adapter{Emitter: source.NewEmitter(domain.Bluetooth), logger: logger}
}

func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if dbusx.Probe(ctx, dbusx.SystemBus, bluezName) {
		return domain.Ready
	}
	return domain.Unavailable
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	conn, err := dbusx.Connect(dbusx.SystemBus)
	if err != nil {
		return nil, err
	}
	sigs, err := dbusx.Watch(conn,
		[]dbus.MatchOption{dbus.WithMatchSender(bluezName), dbus.WithMatchInterface(dbusx.ObjectManagerIface)},
		dbusx.PropertiesMatchNamespace(bluezName, bluezPath),
		dbusx.NameOwnerMatch(bluezName),
	)
	if err != nil {
		conn.Close()
		return nil, source.Transient("bluetooth watch", err)
	}
	release := func() error {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		sigs.Close()
		return conn.Close()
	}

	st, ctrl, err := query(ctx, conn)
	if err != nil {
		release()
		return nil, err
	}
	if !st.HasAdapter {
		release()
		return nil, source.Unavailable("no bluetooth adapter")
	}
	a.mu.Lock()
	a.conn, a.controller, a.last = conn, ctrl, st
	a.mu.Unlock()
	if err := a.Emit(ctx, eventKey, st); err != nil {
		release()
		return nil, err
	}
	return source.Go(ctx, release, func(ctx context.Context) error {
		return a.loop(ctx, conn, sigs)
	}), nil
}

func (a *Adapter) loop(ctx context.Context, conn *dbus.Conn, sigs *dbusx.Signals) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigs.C():
			if !ok {
				return source.Transient("bluetooth", dbusx.ErrClosed)
			}
			if dbusx.NameLost(sig, bluezName) {
				return source.Unavailable("bluetoothd stopped")
			}
			if _, _, _, ok := dbusx.OwnerChange(sig); ok {
				continue
			}
			st, ctrl, err := query(ctx, conn)
			if err != nil {
				return err
			}
			a.mu.Lock()
			same := reflect.DeepEqual(st, a.last)
			a.controller, a.last = ctrl, st
			a.mu.Unlock()
			if same {
				continue
			}
			// an adapter that vanished leaves the domain through Presence
			if err := a.Emit(ctx, eventKey, st); err != nil {
				return nil
			}
		}
	}
}

// Toggle powers the first controller on or off.
func (a *Adapter) Toggle(ctx context.Context, on bool) error {
	a.mu.Lock()
	conn, ctrl, last := a.conn, a.controller, a.last
	a.mu.Unlock()
	if conn == nil || ctrl == "" {
		return source.Unavailable("bluetooth adapter not running")
	}

	predicted := last
	predicted.Powered = on
	if !on {
		predicted.Discovering = false
		predicted.Devices = disconnectAll(predicted.Devices)
	}
	return a.Attempt(ctx, eventKey, predicted, last, func(ctx context.Context) error {
		return dbusx.Classify("set Powered", dbusx.Set(ctx, conn.Object(bluezName, ctrl), adapterIface, "Powered", on))
	})
}

func disconnectAll(devs []domain.BluetoothDevice) []domain.BluetoothDevice {
	out := make([]domain.BluetoothDevice, len(devs))
	for i, d := range devs {
		d.Connected = false
		out[i] = d
	}
	return out
}

func query(ctx context.Context, conn *dbus.Conn) (domain.BluetoothState, dbus.ObjectPath, error) {
	objs, err := dbusx.GetManagedObjects(ctx, conn.Object(bluezName, rootPath))
	if err != nil {
		return domain.BluetoothState{}, "", dbusx.Classify("bluez", err)
	}
	st, ctrl := FromObjects(objs)
	return st, ctrl, nil
}

// FromObjects builds the state from BlueZ managed objects. The controller
// with the lowest path is used; devices are sorted connected first, then by name.
func FromObjects(objs dbusx.ManagedObjects) (domain.BluetoothState, dbus.ObjectPath) {
	var (
		st   domain.BluetoothState
		ctrl dbus.ObjectPath
	)
	for path, ifaces := range objs {
		if props, ok := ifaces[adapterIface]; ok && (ctrl == "" || path < ctrl) {
			ctrl = path
			p := dbusx.Props(props)
			st.HasAdapter = true
			st.Powered = p.Bool("Powered")
			st.Discovering = p.Bool("Discovering")
		}
	}
	if ctrl == "" {
		return st, ""
	}
	for _, ifaces := range objs {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		p := dbusx.Props(props)
		if p.ObjectPath("Adapter") != ctrl || !(p.Bool("Paired") || p.Bool("Connected")) {
			continue
		}
		dev := domain.BluetoothDevice{
			Address:   p.String("Address"),
			Name:      p.String("Alias"),
			Icon:      p.String("Icon"),
			Paired:    p.Bool("Paired"),
			Connected: p.Bool("Connected"),
		}
		if dev.Name == "" {
			dev.Name = p.String("Name")
		}
		if dev.Name == "" {
			dev.Name = dev.Address
		}
		if bp, ok := ifaces[batteryIface]; ok {
			dev.Battery = int(min(dbusx.Props(bp).Uint32("Percentage"), 100))
		}
		if dev.Address != "" {
			st.Devices = append(st.Devices, dev)
		}
	}
	sort.Slice(st.Devices, func(i, j int) bool {
		if st.Devices[i].Connected != st.Devices[j].Connected {
			return st.Devices[i].Connected
		}
		if st.Devices[i].Name != st.Devices[j].Name {
			return st.Devices[i].Name < st.Devices[j].Name
		}
		return st.Devices[i].Address < st.Devices[j].Address
	})
	return st, ctrl
}
