package config

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/vibepanel/vibepanel/internal/logging"
	"github.com/vibepanel/vibepanel/internal/theme"
)

// Accepted enum values.
var (
	WorkspaceBackends = []string{"auto", "hyprland", "niri", "mango"}
	OSDPositions      = []string{"bottom", "top", "left", "right"}
	AudioBackends     = []string{"pactl"}
	UpdatesBackends   = []string{"auto", "pacman", "dnf", "apt"}
)

const spacerWidget = "spacer"

// Issue is one validation failure.
type Issue struct {
	Key     string
	Message string
}

func (i Issue) String() string {
	return i.Key + ": " + i.Message
}

// ValidationError collects every issue found in a configuration.
type ValidationError struct {
	Path   string
	Issues []Issue
}

func (e *ValidationError) Error() string {
	prefix := "config"
	if e.Path != "" {
		prefix = e.Path
	}
	if len(e.Issues) == 1 {
		return fmt.Sprintf("%s: invalid: %s", prefix, e.Issues[0])
	}
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("%s: %d issues: %s", prefix, len(e.Issues), strings.Join(parts, "; "))
}

type validator struct {
	issues   []Issue
	warnings []string
}

func (v *validator) fail(key, format string, args ...any) {
	v.issues = append(v.issues, Issue{Key: key, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) warn(format string, args ...any) {
	v.warnings = append(v.warnings, fmt.Sprintf(format, args...))
}

func (v *validator) oneOf(key, value string, allowed []string) {
	if !slices.Contains(allowed, value) {
		v.fail(key, "%q is not one of %s", value, strings.Join(allowed, ", "))
	}
}

func (v *validator) positive(key string, n int) {
	if n <= 0 {
		v.fail(key, "must be greater than 0, got %d", n)
	}
}

func (v *validator) color(key, value string, optional bool) {
	if value == "" && optional {
		return
	}
	if !theme.IsHexColor(value) {
		v.fail(key, "%q is not a hex color", value)
	}
}

func (v *validator) unit(key string, f float64) {
	if f < 0 || f > 1 {
		v.fail(key, "must be between 0.0 and 1.0, got %v", f)
	}
}

// Validate checks cfg and returns warnings for suspicious but accepted
// settings. All issues are reported together in a *ValidationError.
func Validate(cfg Config) ([]string, error) {
	v := &validator{}

	v.positive("bar.size", cfg.Bar.Size)
	if cfg.Bar.WidgetSpacing < 0 {
		v.fail("bar.widget_spacing", "must not be negative")
	}
	if cfg.Bar.NotchWidth < 0 {
		v.fail("bar.notch_width", "must not be negative")
	}
	if cfg.Bar.BorderRadius < 0 || cfg.Bar.BorderRadius > 50 {
		v.fail("bar.border_radius", "must be between 0 and 50, got %d", cfg.Bar.BorderRadius)
	}
	if cfg.Widgets.BorderRadius < 0 || cfg.Widgets.BorderRadius > 50 {
		v.fail("widgets.border_radius", "must be between 0 and 50, got %d", cfg.Widgets.BorderRadius)
	}
	if cfg.Bar.NotchEnabled && len(cfg.Widgets.Center) > 0 {
		v.fail("widgets.center", "must be empty when bar.notch_enabled is true")
	}
	validateWidgets(v, cfg.Widgets)

	v.oneOf("workspace.backend", cfg.Workspace.Backend, WorkspaceBackends)

	v.oneOf("theme.mode", cfg.Theme.Mode, theme.Modes)
	if a := cfg.Theme.Accent; a != "gtk" && a != "none" && !theme.IsHexColor(a) {
		v.fail("theme.accent", "%q must be \"gtk\", \"none\" or a hex color", a)
	}
	v.color("theme.bar_background_color", cfg.Theme.BarBackgroundColor, true)
	v.color("theme.widget_background_color", cfg.Theme.WidgetBackgroundColor, true)
	v.unit("theme.bar_opacity", cfg.Theme.BarOpacity)
	v.unit("theme.widget_opacity", cfg.Theme.WidgetOpacity)
	v.color("theme.states.success", cfg.Theme.States.Success, false)
	v.color("theme.states.warning", cfg.Theme.States.Warning, false)
	v.color("theme.states.urgent", cfg.Theme.States.Urgent, false)

	v.oneOf("osd.position", cfg.OSD.Position, OSDPositions)
	v.positive("osd.timeout_ms", cfg.OSD.TimeoutMS)

	if b := cfg.Adapters.Audio.Backend; b != "" {
		v.oneOf("adapters.audio.backend", b, AudioBackends)
	}
	if b := cfg.Adapters.Updates.Backend; b != "" {
		v.oneOf("adapters.updates.backend", b, UpdatesBackends)
	}
	if cfg.Adapters.Updates.Enabled && cfg.Adapters.Updates.Interval.Duration <= 0 {
		v.fail("adapters.updates.interval", "must be set when the updates adapter is enabled")
	}
	if cfg.Adapters.System.Enabled && cfg.Adapters.System.Interval.Duration <= 0 {
		v.fail("adapters.system.interval", "must be set when the system adapter is enabled")
	}

	v.positive("notifications.max_history", cfg.Notifications.MaxHistory)
	v.positive("notifications.preview_length", cfg.Notifications.PreviewLength)

	v.positive("advanced.queue_size", cfg.Advanced.QueueSize)
	v.positive("advanced.debounce_ceiling", cfg.Advanced.DebounceCeiling)
	if cfg.Advanced.Debounce.Duration <= 0 {
		v.fail("advanced.debounce", "must be greater than 0")
	}
	if cfg.Advanced.BackoffBase.Duration <= 0 {
		v.fail("advanced.backoff_base", "must be greater than 0")
	}
	if cfg.Advanced.BackoffMax.Duration < cfg.Advanced.BackoffBase.Duration {
		v.fail("advanced.backoff_max", "must not be less than advanced.backoff_base")
	}
	if cfg.Advanced.ReloadDebounce.Duration <= 0 {
		v.fail("advanced.reload_debounce", "must be greater than 0")
	}

	if !logging.ValidLevel(cfg.Logging.Level) {
		v.fail("logging.level", "%q is not one of debug, info, warn, error", cfg.Logging.Level)
	}
	if cfg.Logging.MaxFiles < 1 {
		v.fail("logging.max_files", "must be at least 1")
	}

	if len(v.issues) > 0 {
		return v.warnings, &ValidationError{Issues: v.issues}
	}
	return v.warnings, nil
}

func validateWidgets(v *validator, w Widgets) {
	referenced := make(map[string]bool)
	sections := []struct {
		name   string
		places []string
	}{
		{"left", w.Left},
		{"center", w.Center},
		{"right", w.Right},
	}
	for _, s := range sections {
		for i, p := range s.places {
			name := WidgetName(p)
			key := fmt.Sprintf("widgets.%s[%d]", s.name, i)
			if name == "" {
				v.fail(key, "empty widget name")
				continue
			}
			referenced[name] = true
			if name == spacerWidget {
				if s.name == "center" {
					v.warn("%s: spacer in the center section has no effect", key)
				}
				if _, arg, ok := strings.Cut(p, ":"); ok {
					var px int
					if _, err := fmt.Sscanf(arg, "%d", &px); err != nil || px <= 0 {
						v.fail(key, "spacer width %q must be a positive integer", arg)
					}
				}
			}
		}
	}

	names := make([]string, 0, len(w.Options))
	for name := range w.Options {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !referenced[name] {
			v.warn("widgets.options.%s: widget is not placed in any section", name)
		}
		v.color("widgets.options."+name+".color", w.Options[name].Color, true)
	}
}
