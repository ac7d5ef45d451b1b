package domain

import (
	"fmt"
	"time"
)

// Payload is the domain-specific part of a ServiceState.
type Payload interface {
	Domain() Domain
	Validate() error
}

// Presence is implemented by payloads that can report the backing
// resource has gone away (a removed battery, a missing adapter).
// A payload reporting false makes the domain unavailable in the same merge.
type Presence interface {
	Present() bool
}

// Normalizer is implemented by payloads whose fields are only meaningful
// while part of the backing resource exists. Merge stores the normalized form.
type Normalizer interface {
	Normalize() Payload
}

// BatteryState values reported by UPower.
const (
	BatteryUnknown          = "unknown"
	BatteryCharging         = "charging"
	BatteryDischarging      = "discharging"
	BatteryEmpty            = "empty"
	BatteryFullyCharged     = "fully-charged"
	BatteryPendingCharge    = "pending-charge"
	BatteryPendingDischarge = "pending-discharge"
)

// PowerState is the battery and power profile state.
type PowerState struct {
	BatteryPresent bool          `json:"battery_present" yaml:"battery_present"`
	Percent        float64       `json:"percent" yaml:"percent"`
	State          string        `json:"state" yaml:"state"`
	EnergyRate     float64       `json:"energy_rate,omitempty" yaml:"energy_rate,omitempty"`
	TimeToEmpty    time.Duration `json:"time_to_empty,omitempty" yaml:"time_to_empty,omitempty"`
	TimeToFull     time.Duration `json:"time_to_full,omitempty" yaml:"time_to_full,omitempty"`
	Profile        string        `json:"profile,omitempty" yaml:"profile,omitempty"`
	Profiles       []string      `json:"profiles,omitempty" yaml:"profiles,omitempty"`
}

func (PowerState) Domain() Domain { return Power }

// Present reports whether a battery or a power profile backend exists.
func (p PowerState) Present() bool { return p.BatteryPresent || p.Profile != "" }

// Normalize clears the battery readings when no battery is present, so a
// removed battery never leaves its last level behind a live power profile.
func (p PowerState) Normalize() Payload {
	if p.BatteryPresent {
		return p
	}
	return PowerState{Profile: p.Profile, Profiles: p.Profiles}
}

// Charging reports whether the battery is charging or full on AC.
func (p PowerState) Charging() bool {
	return p.State == BatteryCharging || p.State == BatteryFullyCharged || p.State == BatteryPendingCharge
}

func (p PowerState) Validate() error {
	if p.Percent < 0 || p.Percent > 100 {
		return fmt.Errorf("battery percent out of range: %v", p.Percent)
	}
	if p.EnergyRate < 0 {
		return fmt.Errorf("negative energy rate: %v", p.EnergyRate)
	}
	if p.TimeToEmpty < 0 || p.TimeToFull < 0 {
		return fmt.Errorf("negative time estimate")
	}
	return nil
}

// WifiNetwork is one visible access point.
type WifiNetwork struct {
	SSID     string `json:"ssid" yaml:"ssid"`
	Strength uint8  `json:"strength" yaml:"strength"`
	Secured  bool   `json:"secured" yaml:"secured"`
	Active   bool   `json:"active" yaml:"active"`
}

// NetworkState is the NetworkManager state.
type NetworkState struct {
	WifiEnabled  bool          `json:"wifi_enabled" yaml:"wifi_enabled"`
	Connected    bool          `json:"connected" yaml:"connected"`
	Wired        bool          `json:"wired" yaml:"wired"`
	Connectivity string        `json:"connectivity,omitempty" yaml:"connectivity,omitempty"`
	SSID         string        `json:"ssid,omitempty" yaml:"ssid,omitempty"`
	Strength     uint8         `json:"strength,omitempty" yaml:"strength,omitempty"`
	Networks     []WifiNetwork `json:"networks,omitempty" yaml:"networks,omitempty"`
	VPNs         []VPN         `json:"vpns,omitempty" yaml:"vpns,omitempty"`
}

// VPN states follow NM_ACTIVE_CONNECTION_STATE.
const (
	VPNActivating   = "activating"
	VPNActivated    = "activated"
	VPNDeactivating = "deactivating"
)

// VPN is an active WireGuard or VPN connection.
type VPN struct {
	Name  string `json:"name" yaml:"name"`
	Type  string `json:"type" yaml:"type"`
	State string `json:"state" yaml:"state"`
}

// VPNActive reports whether any VPN connection is fully up.
func (n NetworkState) VPNActive() bool {
	for _, v := range n.VPNs {
		if v.State == VPNActivated {
			return true
		}
	}
	return false
}

func (NetworkState) Domain() Domain { return Network }

func (n NetworkState) Validate() error {
	if n.Strength > 100 {
		return fmt.Errorf("signal strength out of range: %d", n.Strength)
	}
	for _, w := range n.Networks {
		if w.Strength > 100 {
			return fmt.Errorf("signal strength out of range for %q: %d", w.SSID, w.Strength)
		}
	}
	return nil
}

// BluetoothDevice is one known BlueZ device.
type BluetoothDevice struct {
	Address   string `json:"address" yaml:"address"`
	Name      string `json:"name" yaml:"name"`
	Icon      string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Paired    bool   `json:"paired" yaml:"paired"`
	Connected bool   `json:"connected" yaml:"connected"`
	Battery   int    `json:"battery,omitempty" yaml:"battery,omitempty"`
}

// BluetoothState is the BlueZ adapter state.
type BluetoothState struct {
	HasAdapter  bool              `json:"has_adapter" yaml:"has_adapter"`
	Powered     bool              `json:"powered" yaml:"powered"`
	Discovering bool              `json:"discovering" yaml:"discovering"`
	Devices     []BluetoothDevice `json:"devices,omitempty" yaml:"devices,omitempty"`
}

func (BluetoothState) Domain() Domain { return Bluetooth }

func (b BluetoothState) Present() bool { return b.HasAdapter }

// ConnectedCount returns the number of connected devices.
func (b BluetoothState) ConnectedCount() int {
	n := 0
	for _, d := range b.Devices {
		if d.Connected {
			n++
		}
	}
	return n
}

func (b BluetoothState) Validate() error {
	for _, d := range b.Devices {
		if d.Address == "" {
			return fmt.Errorf("device without address")
		}
		if d.Battery < 0 || d.Battery > 100 {
			return fmt.Errorf("device %s battery out of range: %d", d.Address, d.Battery)
		}
	}
	return nil
}

// AudioState is the default sink and source state.
type AudioState struct {
	Sink      string `json:"sink,omitempty" yaml:"sink,omitempty"`
	Volume    int    `json:"volume" yaml:"volume"`
	Muted     bool   `json:"muted" yaml:"muted"`
	MicVolume int    `json:"mic_volume" yaml:"mic_volume"`
	MicMuted  bool   `json:"mic_muted" yaml:"mic_muted"`
}

// MaxVolume is the highest volume accepted, allowing over-amplification.
const MaxVolume = 150

func (AudioState) Domain() Domain { return Audio }

func (a AudioState) Validate() error {
	if a.Volume < 0 || a.Volume > MaxVolume {
		return fmt.Errorf("volume out of range: %d", a.Volume)
	}
	if a.MicVolume < 0 || a.MicVolume > MaxVolume {
		return fmt.Errorf("mic volume out of range: %d", a.MicVolume)
	}
	return nil
}

// TrayItem is one registered StatusNotifierItem.
type TrayItem struct {
	Service  string `json:"service" yaml:"service"`
	Path     string `json:"path" yaml:"path"`
	ID       string `json:"id,omitempty" yaml:"id,omitempty"`
	Title    string `json:"title,omitempty" yaml:"title,omitempty"`
	IconName string `json:"icon_name,omitempty" yaml:"icon_name,omitempty"`
	Status   string `json:"status,omitempty" yaml:"status,omitempty"`
}

// TrayState is the set of tray items.
type TrayState struct {
	Items []TrayItem `json:"items" yaml:"items"`
}

func (TrayState) Domain() Domain { return Tray }

func (t TrayState) Validate() error {
	seen := make(map[string]bool, len(t.Items))
	for _, it := range t.Items {
		if it.Service == "" {
			return fmt.Errorf("tray item without service")
		}
		k := it.Service + it.Path
		if seen[k] {
			return fmt.Errorf("duplicate tray item %s%s", it.Service, it.Path)
		}
		seen[k] = true
	}
	return nil
}

// Playback statuses reported by MPRIS.
const (
	Playing = "Playing"
	Paused  = "Paused"
	Stopped = "Stopped"
)

// MediaState is the state of the selected MPRIS player.
type MediaState struct {
	Player        string        `json:"player,omitempty" yaml:"player,omitempty"`
	Identity      string        `json:"identity,omitempty" yaml:"identity,omitempty"`
	Status        string        `json:"status,omitempty" yaml:"status,omitempty"`
	Title         string        `json:"title,omitempty" yaml:"title,omitempty"`
	Artist        string        `json:"artist,omitempty" yaml:"artist,omitempty"`
	Album         string        `json:"album,omitempty" yaml:"album,omitempty"`
	ArtURL        string        `json:"art_url,omitempty" yaml:"art_url,omitempty"`
	Position      time.Duration `json:"position,omitempty" yaml:"position,omitempty"`
	Length        time.Duration `json:"length,omitempty" yaml:"length,omitempty"`
	CanGoNext     bool          `json:"can_go_next" yaml:"can_go_next"`
	CanGoPrevious bool          `json:"can_go_previous" yaml:"can_go_previous"`
	CanPause      bool          `json:"can_pause" yaml:"can_pause"`
}

func (MediaState) Domain() Domain { return Media }

// PlayerAction is a transport command sent to the selected media player.
type PlayerAction string

const (
	PlayPause PlayerAction = "play-pause"
	Next      PlayerAction = "next"
	Previous  PlayerAction = "previous"
	Stop      PlayerAction = "stop"
)

// ParsePlayerAction accepts the action names used on the command line.
func ParsePlayerAction(s string) (PlayerAction, error) {
	switch a := PlayerAction(s); a {
	case PlayPause, Next, Previous, Stop:
		return a, nil
	}
	return "", fmt.Errorf("unknown player action %q", s)
}

// Allows reports whether the player advertises support for a.
func (m MediaState) Allows(a PlayerAction) bool {
	switch a {
	case Next:
		return m.CanGoNext
	case Previous:
		return m.CanGoPrevious
	case PlayPause:
		return m.CanPause || m.Status != Playing
	}
	return m.Player != ""
}

// After predicts the state once a has been applied.
func (m MediaState) After(a PlayerAction) MediaState {
	switch a {
	case PlayPause:
		if m.Status == Playing {
			m.Status = Paused
		} else {
			m.Status = Playing
		}
	case Stop:
		m.Status, m.Position = Stopped, 0
	}
	return m
}

func (m MediaState) Present() bool { return m.Player != "" }

func (m MediaState) Validate() error {
	switch m.Status {
	case "", Playing, Paused, Stopped:
	default:
		return fmt.Errorf("unknown playback status: %q", m.Status)
	}
	if m.Position < 0 || m.Length < 0 {
		return fmt.Errorf("negative position or length")
	}
	return nil
}

// UpdatesState is the pending package update summary.
type UpdatesState struct {
	Backend   string    `json:"backend" yaml:"backend"`
	Count     int       `json:"count" yaml:"count"`
	Packages  []string  `json:"packages,omitempty" yaml:"packages,omitempty"`
	CheckedAt time.Time `json:"checked_at" yaml:"checked_at"`
}

func (UpdatesState) Domain() Domain { return Updates }

func (u UpdatesState) Validate() error {
	if u.Count < 0 {
		return fmt.Errorf("negative update count: %d", u.Count)
	}
	if len(u.Packages) > u.Count {
		return fmt.Errorf("package list longer than count")
	}
	return nil
}

// IdleInhibitorState reports whether idle is currently inhibited.
type IdleInhibitorState struct {
	Active bool   `json:"active" yaml:"active"`
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (IdleInhibitorState) Domain() Domain { return Idle }

func (IdleInhibitorState) Validate() error { return nil }

// SystemState is host CPU and memory usage.
type SystemState struct {
	CPUPercent    float64 `json:"cpu_percent" yaml:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent" yaml:"memory_percent"`
	MemoryUsed    uint64  `json:"memory_used" yaml:"memory_used"`
	MemoryTotal   uint64  `json:"memory_total" yaml:"memory_total"`
	Load1         float64 `json:"load1" yaml:"load1"`
}

func (SystemState) Domain() Domain { return System }

func (s SystemState) Validate() error {
	if s.CPUPercent < 0 || s.CPUPercent > 100 {
		return fmt.Errorf("cpu percent out of range: %v", s.CPUPercent)
	}
	if s.MemoryPercent < 0 || s.MemoryPercent > 100 {
		return fmt.Errorf("memory percent out of range: %v", s.MemoryPercent)
	}
	if s.MemoryUsed > s.MemoryTotal {
		return fmt.Errorf("memory used exceeds total")
	}
	return nil
}
