// Package power reports battery state from UPower and the active power
// profile from power-profiles-daemon.
package power

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/vibepanel/vibepanel/internal/adapters/dbusx"
	"github.com/vibepanel/vibepanel/internal/adapters/source"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/logging"
)

const (
	upowerName    = "org.freedesktop.UPower"
	displayPath   = dbus.ObjectPath("/org/freedesktop/UPower/devices/DisplayDevice")
	deviceIface   = "org.freedesktop.UPower.Device"
	profilesName  = "net.hadess.PowerProfiles"
	profilesPath  = dbus.ObjectPath("/net/hadess/PowerProfiles")
	profilesIface = "net.hadess.PowerProfiles"

	eventKey = "power"
)

// SupplyDir is the kernel power supply class directory.
const SupplyDir = "/sys/class/power_supply"

// UPower device states, indexed by the State property.
var batteryStates = []string{
	domain.BatteryUnknown,
	domain.BatteryCharging,
	domain.BatteryDischarging,
	domain.BatteryEmpty,
	domain.BatteryFullyCharged,
	domain.BatteryPendingCharge,
	domain.BatteryPendingDischarge,
}

// Adapter is the power domain adapter.
type Adapter struct {
	*source.Emitter
	logger    logging.Logger
	supplyDir string
}

func New(logger logging.Logger) *Adapter {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Adapter{Emitter: source.NewEmitter(domain.Power), logger: logger, supplyDir: SupplyDir}
}

// HasBattery reports whether any supply under dir has type Battery.
func HasBattery(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(dir, e.Name(), "type"))
		if err == nil && strings.EqualFold(strings.TrimSpace(string(b)), "battery") {
			return true
		}
	}
	return false
}

func (a *Adapter) Probe(ctx context.Context) domain.Availability {
	if HasBattery(a.supplyDir) && dbusx.Probe(ctx, dbusx.SystemBus, upowerName) {
		return domain.Ready
	}
	if dbusx.Probe(ctx, dbusx.SystemBus, profilesName) {
		return domain.Ready
	}
	return domain.Unavailable
}

type tracker struct {
	battery  bool
	device   dbusx.Props
	profiles dbusx.Props
	last     domain.PowerState
}

func (t *tracker) state() domain.PowerState {
	var st domain.PowerState
	if t.battery && t.device != nil {
		st = FromDevice(t.device)
	}
	if t.profiles != nil {
		st.Profile, st.Profiles = FromProfiles(t.profiles)
	}
	return st
}

func (a *Adapter) Start(ctx context.Context) (source.Handle, error) {
	conn, err := dbusx.Connect(dbusx.SystemBus)
	if err != nil {
		return nil, err
	}
	sigs, err := dbusx.Watch(conn,
		dbusx.PropertiesMatch(upowerName, displayPath),
		dbusx.PropertiesMatch(profilesName, profilesPath),
		dbusx.NameOwnerMatch(upowerName),
	)
	if err != nil {
		conn.Close()
		return nil, source.Transient("power watch", err)
	}
	release := func() error {
		sigs.Close()
		return conn.Close()
	}

	t := &tracker{battery: HasBattery(a.supplyDir)}
	if t.battery {
		t.device, err = dbusx.GetAll(ctx, conn.Object(upowerName, displayPath), deviceIface)
		if err != nil {
			release()
			return nil, dbusx.Classify("upower", err)
		}
	}
	if props, err := dbusx.GetAll(ctx, conn.Object(profilesName, profilesPath), profilesIface); err == nil {
		t.profiles = props
	} else {
		a.logger.Debug("power profiles not available", "error", err)
	}

	t.last = t.state()
	if !t.last.Present() {
		release()
		return nil, source.Unavailable("no battery or power profile daemon")
	}
	if err := a.Emit(ctx, eventKey, t.last); err != nil {
		release()
		return nil, err
	}
	return source.Go(ctx, release, func(ctx context.Context) error {
		return a.loop(ctx, sigs, t)
	}), nil
}

func (a *Adapter) loop(ctx context.Context, sigs *dbusx.Signals, t *tracker) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigs.C():
			if !ok {
				return source.Transient("power", dbusx.ErrClosed)
			}
			if dbusx.NameLost(sig, upowerName) && t.battery {
				return source.Unavailable("upower stopped")
			}
			iface, changed, ok := dbusx.ChangedProps(sig)
			if !ok {
				continue
			}
			switch iface {
			case deviceIface:
				if t.device != nil {
					t.device.Update(changed)
				}
			case profilesIface:
				if t.profiles == nil {
					t.profiles = make(dbusx.Props)
				}
				t.profiles.Update(changed)
			default:
				continue
			}
			next := t.state()
			if reflect.DeepEqual(next, t.last) {
				continue
			}
			t.last = next
			if err := a.Emit(ctx, eventKey, next); err != nil {
				return nil
			}
		}
	}
}

// FromDevice converts UPower DisplayDevice properties. Percent prefers
// Energy/EnergyFull and falls back to Percentage.
func FromDevice(p dbusx.Props) domain.PowerState {
	st := domain.PowerState{
		BatteryPresent: p.Bool("IsPresent"),
		State:          domain.BatteryUnknown,
		EnergyRate:     max(p.Float("EnergyRate"), 0),
		TimeToEmpty:    time.Duration(max(p.Int64("TimeToEmpty"), 0)) * time.Second,
		TimeToFull:     time.Duration(max(p.Int64("TimeToFull"), 0)) * time.Second,
	}
	if s := int(p.Uint32("State")); s < len(batteryStates) {
		st.State = batteryStates[s]
	}
	energy, full := p.Float("Energy"), p.Float("EnergyFull")
	if full > 0 {
		st.Percent = energy / full * 100
	} else {
		st.Percent = p.Float("Percentage")
	}
	st.Percent = min(max(st.Percent, 0), 100)
	return st
}

// FromProfiles returns the active profile and the profile names on offer.
func FromProfiles(p dbusx.Props) (string, []string) {
	var names []string
	if list, ok := p["Profiles"].Value().([]map[string]dbus.Variant); ok {
		for _, entry := range list {
			if name := dbusx.Props(entry).String("Profile"); name != "" {
				names = append(names, name)
			}
		}
	}
	return p.String("ActiveProfile"), names
}
