// Package network reports connectivity and Wi-Fi state from NetworkManager.
package network

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
	nmName      = "org.freedesktop.NetworkManager"
	nmPath      = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmIface     = "org.freedesktop.NetworkManager"
	deviceIface = nmIface + ".Device"
	wifiIface   = nmIface + ".Device.Wireless"
	apIface     = nmIface + ".AccessPoint"
	activeIface = nmIface + ".Connection.Active"

	deviceTypeWifi = 2
	// NM_STATE_CONNECTED_LOCAL and above mean some connection is up.
	stateConnectedLocal = 50

	apFlagPrivacy = 0x1

	eventKey = "network"
)

var connectivityNames = []string{"unknown", "none", "portal", "limited", "full"}

// Adapter is the network domain adapter.
type Adapter struct {
	*source.Emitter
	logger logging.Logger

	mu   sync.Mutex
	conn *dbus.Conn
	last domain.NetworkState
}

func New(logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Adapter{Emitter: source.NewEmitter(domain.Network), logger: logger}
}

func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if dbusx.Probe(ctx, dbusx.SystemBus, nmName) {
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
		dbusx.PropertiesMatchNamespace(nmName, nmPath),
		dbusx.NameOwnerMatch(nmName),
	)
	if err != nil {
		conn.Close()
		return nil, source.Transient("network watch", err)
	}
	release := func() error {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		sigs.Close()
		return conn.Close()
	}

	st, err := Query(ctx, conn)
	if err != nil {
		release()
		return nil, err
	}
	a.mu.Lock()
	a.conn = conn
	a.last = st
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
				return source.Transient("network", dbusx.ErrClosed)
			}
			if dbusx.NameLost(sig, nmName) {
				return source.Unavailable("NetworkManager stopped")
			}
			if _, _, ok := dbusx.ChangedProps(sig); !ok {
				continue
			}
			st, err := Query(ctx, conn)
			if err != nil {
				return err
			}
			a.mu.Lock()
			same := reflect.DeepEqual(st, a.last)
			a.last = st
			a.mu.Unlock()
			if same {
				continue
			}
			if err := a.Emit(ctx, eventKey, st); err != nil {
				return nil
			}
		}
	}
}

// Toggle enables or disables Wi-Fi.
func (a *Adapter) Toggle(ctx context.Context, on bool) error {
	a.mu.Lock()
	conn, last := a.conn, a.last
	a.mu.Unlock()
	if conn == nil {
		return source.Unavailable("network adapter not running")
	}

	predicted := last
	predicted.WifiEnabled = on
	if !on {
		predicted.SSID, predicted.Strength, predicted.Networks = "", 0, nil
	}
	return a.Attempt(ctx, eventKey, predicted, last, func(ctx context.Context) error {
		return dbusx.Classify("set WirelessEnabled", dbusx.Set(ctx, conn.Object(nmName, nmPath), nmIface, "WirelessEnabled", on))
	})
}

// Query reads the full network state.
func Query(ctx context.Context, conn *dbus.Conn) (domain.NetworkState, error) {
	nm := conn.Object(nmName, nmPath)
	props, err := dbusx.GetAll(ctx, nm, nmIface)
	if err != nil {
		return domain.NetworkState{}, dbusx.Classify("NetworkManager", err)
	}
	st := domain.NetworkState{
		WifiEnabled:  props.Bool("WirelessEnabled"),
		Connected:    props.Uint32("State") >= stateConnectedLocal,
		Wired:        props.String("PrimaryConnectionType") == "802-3-ethernet",
		Connectivity: ConnectivityName(props.Uint32("Connectivity")),
	}

	st.VPNs = activeVPNs(ctx, conn, props.ObjectPaths("ActiveConnections"))

	var devices []dbus.ObjectPath
	if err := nm.CallWithContext(ctx, nmIface+".GetDevices", 0).Store(&devices); err != nil {
		return domain.NetworkState{}, dbusx.Classify("GetDevices", err)
	}
	for _, dev := range devices {
		dp, err := dbusx.GetAll(ctx, conn.Object(nmName, dev), deviceIface)
		if err != nil || dp.Uint32("DeviceType") != deviceTypeWifi {
			continue
		}
		wp, err := dbusx.GetAll(ctx, conn.Object(nmName, dev), wifiIface)
		if err != nil {
			continue
		}
		active := wp.ObjectPath("ActiveAccessPoint")
		var nets []domain.WifiNetwork
		for _, ap := range wp.ObjectPaths("AccessPoints") {
			app, err := dbusx.GetAll(ctx, conn.Object(nmName, ap), apIface)
			if err != nil {
				continue
			}
			nets = append(nets, AccessPoint(app, ap == active))
		}
		st.Networks = Networks(nets)
		for _, n := range st.Networks {
			if n.Active {
				st.SSID, st.Strength = n.SSID, n.Strength
			}
		}
		break
	}
	return st, nil
}

func activeVPNs(ctx context.Context, conn *dbus.Conn, paths []dbus.ObjectPath) []domain.VPN {
	var out []domain.VPN
	for _, path := range paths {
		p, err := dbusx.GetAll(ctx, conn.Object(nmName, path), activeIface)
		if err != nil {
			continue
		}
		if v, ok := ActiveVPN(p); ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ActiveVPN converts Connection.Active properties. Only WireGuard and
// NetworkManager VPN plugin connections that are not yet torn down count.
func ActiveVPN(p dbusx.Props) (domain.VPN, bool) {
	typ := p.String("Type")
	if typ != "wireguard" && typ != "vpn" && !p.Bool("Vpn") {
		return domain.VPN{}, false
	}
	v := domain.VPN{Name: p.String("Id"), Type: typ}
	switch p.Uint32("State") {
	case 1:
		v.State = domain.VPNActivating
	case 2:
		v.State = domain.VPNActivated
	case 3:
		v.State = domain.VPNDeactivating
	default:
		return domain.VPN{}, false
	}
	return v, true
}

// ConnectivityName maps NM_CONNECTIVITY values to names.
func ConnectivityName(v uint32) string {
	if int(v) < len(connectivityNames) {
		return connectivityNames[v]
	}
	return connectivityNames[0]
}

// AccessPoint converts AccessPoint properties.
func AccessPoint(p dbusx.Props, active bool) domain.WifiNetwork {
	return domain.WifiNetwork{
		SSID:     string(p.Bytes("Ssid")),
		Strength: uint8(min(p.Uint32("Strength"), 100)),
		Secured:  p.Uint32("Flags")&apFlagPrivacy != 0 || p.Uint32("WpaFlags") != 0 || p.Uint32("RsnFlags") != 0,
		Active:   active,
	}
}

// Networks drops hidden networks, keeps the strongest access point per SSID
// and orders the active one first, then by strength.
func Networks(aps []domain.WifiNetwork) []domain.WifiNetwork {
	best := make(map[string]domain.WifiNetwork, len(aps))
	for _, ap := range aps {
		if ap.SSID == "" {
			continue
		}
		cur, ok := best[ap.SSID]
		switch {
		case !ok:
			best[ap.SSID] = ap
		case ap.Active && !cur.Active:
			best[ap.SSID] = ap
		case ap.Active == cur.Active && ap.Strength > cur.Strength:
			best[ap.SSID] = ap
		}
	}
	if len(best) == 0 {
		return nil
	}
	out := make([]domain.WifiNetwork, 0, len(best))
	for _, ap := range best {
		out = append(out, ap)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Active != out[j].Active {
			return out[i].Active
		}
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].SSID < out[j].SSID
	})
	return out
}
