package config

import (
	"strings"

	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/theme"
)

// Config is the panel configuration file.
type Config struct {
	Bar           Bar           `toml:"bar"`
	Widgets       Widgets       `toml:"widgets"`
	Workspace     Workspace     `toml:"workspace"`
	Theme         Theme         `toml:"theme"`
	OSD           OSD           `toml:"osd"`
	Adapters      Adapters      `toml:"adapters"`
	Notifications Notifications `toml:"notifications"`
	Advanced      Advanced      `toml:"advanced"`
	Logging       Logging       `toml:"logging"`
}

// Bar is the bar geometry.
type Bar struct {
	Size              int      `toml:"size"`
	WidgetSpacing     int      `toml:"widget_spacing"`
	OuterMargin       int      `toml:"outer_margin"`
	SectionEdgeMargin int      `toml:"section_edge_margin"`
	NotchEnabled      bool     `toml:"notch_enabled"`
	NotchWidth        int      `toml:"notch_width"`
	BorderRadius      int      `toml:"border_radius"`
	PopoverOffset     int      `toml:"popover_offset"`
	Outputs           []string `toml:"outputs"`
}

// Widgets places widgets in the bar sections.
//
// A placement is a widget name with an optional inline argument ("spacer:50").
type Widgets struct {
	Left         []string                 `toml:"left"`
	Center       []string                 `toml:"center"`
	Right        []string                 `toml:"right"`
	BorderRadius int                      `toml:"border_radius"`
	Options      map[string]WidgetOptions `toml:"options,omitempty"`
}

// WidgetOptions are per-widget settings.
type WidgetOptions struct {
	Disabled bool           `toml:"disabled"`
	Color    string         `toml:"color,omitempty"`
	Settings map[string]any `toml:"settings,omitempty"`
}

// WidgetName returns the base name of a placement, without its inline argument.
func WidgetName(placement string) string {
	name, _, _ := strings.Cut(placement, ":")
	return name
}

// Enabled returns the placements of a section whose widget is not disabled.
func (w Widgets) Enabled(section []string) []string {
	var out []string
	for _, p := range section {
		if opts, ok := w.Options[WidgetName(p)]; ok && opts.Disabled {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Workspace selects the compositor integration.
type Workspace struct {
	Backend string `toml:"backend"`
}

// Theme is the theme section of the configuration.
type Theme struct {
	Mode                  string      `toml:"mode"`
	Accent                string      `toml:"accent"`
	BarBackgroundColor    string      `toml:"bar_background_color"`
	BarOpacity            float64     `toml:"bar_opacity"`
	WidgetBackgroundColor string      `toml:"widget_background_color"`
	WidgetOpacity         float64     `toml:"widget_opacity"`
	File                  string      `toml:"file"`
	States                ThemeStates `toml:"states"`
	Typography            Typography  `toml:"typography"`
}

// ThemeStates are the colors of semantic states.
type ThemeStates struct {
	Success string `toml:"success"`
	Warning string `toml:"warning"`
	Urgent  string `toml:"urgent"`
}

// Typography is the font setup.
type Typography struct {
	FontFamily string `toml:"font_family"`
}

// Options converts the section into theme resolution options.
func (t Theme) Options() theme.Options {
	return theme.Options{
		Mode:             t.Mode,
		Accent:           t.Accent,
		BarBackground:    t.BarBackgroundColor,
		WidgetBackground: t.WidgetBackgroundColor,
		BarOpacity:       t.BarOpacity,
		WidgetOpacity:    t.WidgetOpacity,
		Success:          t.States.Success,
		Warning:          t.States.Warning,
		Urgent:           t.States.Urgent,
		FontFamily:       t.Typography.FontFamily,
	}
}

// OSD configures on-screen displays for volume and brightness changes.
type OSD struct {
	Enabled   bool   `toml:"enabled"`
	Position  string `toml:"position"`
	TimeoutMS int    `toml:"timeout_ms"`
}

// Adapter configures one service adapter.
type Adapter struct {
	Enabled bool `toml:"enabled"`
	// Debounce overrides advanced.debounce for this domain.
	Debounce Duration `toml:"debounce"`
	// Interval is the polling interval for adapters that poll.
	Interval Duration `toml:"interval"`
	Backend  string   `toml:"backend"`
}

// Adapters holds one Adapter section per domain.
type Adapters struct {
	Power     Adapter `toml:"power"`
	Network   Adapter `toml:"network"`
	Bluetooth Adapter `toml:"bluetooth"`
	Audio     Adapter `toml:"audio"`
	Tray      Adapter `toml:"tray"`
	Media     Adapter `toml:"media"`
	Updates   Adapter `toml:"updates"`
	Idle      Adapter `toml:"idle"`
	System    Adapter `toml:"system"`
}

// For returns the section of d.
func (a Adapters) For(d domain.Domain) Adapter {
	switch d {
	case domain.Power:
		return a.Power
	case domain.Network:
		return a.Network
	case domain.Bluetooth:
		return a.Bluetooth
	case domain.Audio:
		return a.Audio
	case domain.Tray:
		return a.Tray
	case domain.Media:
		return a.Media
	case domain.Updates:
		return a.Updates
	case domain.Idle:
		return a.Idle
	case domain.System:
		return a.System
	}
	return Adapter{}
}

// Enabled returns the enabled domains in display order.
func (a Adapters) Enabled() []domain.Domain {
	var out []domain.Domain
	for _, d := range domain.All() {
		if a.For(d).Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Notifications configures the notification store and server.
type Notifications struct {
	Server        bool     `toml:"server"`
	MaxHistory    int      `toml:"max_history"`
	MaxAge        Duration `toml:"max_age"`
	DoNotDisturb  bool     `toml:"do_not_disturb"`
	PreviewLength int      `toml:"preview_length"`
	Database      string   `toml:"database"`
}

// Advanced holds pipeline tuning knobs.
type Advanced struct {
	QueueSize       int      `toml:"queue_size"`
	Debounce        Duration `toml:"debounce"`
	DebounceCeiling int      `toml:"debounce_ceiling"`
	BackoffBase     Duration `toml:"backoff_base"`
	BackoffMax      Duration `toml:"backoff_max"`
	ReloadDebounce  Duration `toml:"reload_debounce"`
	MetricsAddr     string   `toml:"metrics_addr"`
}

// Logging configures the process logger.
type Logging struct {
	Level    string `toml:"level"`
	File     bool   `toml:"file"`
	MaxFiles int    `toml:"max_files"`
}
