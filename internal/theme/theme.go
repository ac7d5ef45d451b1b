// Package theme resolves the panel's visual tokens from the theme section of
// the configuration and an optional theme token file.
package theme

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Theme is the resolved set of style tokens published with the configuration.
type Theme struct {
	Name       string `toml:"name" json:"name"`
	Mode       string `toml:"mode" json:"mode"`
	Background string `toml:"background" json:"background"`
	Foreground string `toml:"foreground" json:"foreground"`
	Dim        string `toml:"dim" json:"dim"`
	Accent     string `toml:"accent" json:"accent"`
	Success    string `toml:"success" json:"success"`
	Warning    string `toml:"warning" json:"warning"`
	Urgent     string `toml:"urgent" json:"urgent"`

	BarBackground    string  `toml:"bar_background" json:"bar_background"`
	WidgetBackground string  `toml:"widget_background" json:"widget_background"`
	BarOpacity       float64 `toml:"bar_opacity" json:"bar_opacity"`
	WidgetOpacity    float64 `toml:"widget_opacity" json:"widget_opacity"`

	FontFamily string `toml:"font_family" json:"font_family"`
	FontSize   int    `toml:"font_size" json:"font_size"`
}

// Modes accepted in the theme section.
var Modes = []string{"auto", "dark", "light", "gtk"}

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// IsHexColor reports whether s is a #rgb or #rrggbb color.
func IsHexColor(s string) bool {
	return hexColor.MatchString(s)
}

// ValidMode reports whether m is an accepted mode.
func ValidMode(m string) bool {
	for _, v := range Modes {
		if v == m {
			return true
		}
	}
	return false
}

func dark() Theme {
	return Theme{
		Name:             "dark",
		Mode:             "dark",
		Background:       "#1e1e2e",
		Foreground:       "#cdd6f4",
		Dim:              "#6c7086",
		Accent:           "#adabe0",
		Success:          "#4a7a4a",
		Warning:          "#e5c07b",
		Urgent:           "#ff6b6b",
		BarBackground:    "#11111b",
		WidgetBackground: "#313244",
		WidgetOpacity:    1,
		FontFamily:       "monospace",
		FontSize:         13,
	}
}

func light() Theme {
	return Theme{
		Name:             "light",
		Mode:             "light",
		Background:       "#eff1f5",
		Foreground:       "#4c4f69",
		Dim:              "#9ca0b0",
		Accent:           "#7287fd",
		Success:          "#40a02b",
		Warning:          "#df8e1d",
		Urgent:           "#d20f39",
		BarBackground:    "#dce0e8",
		WidgetBackground: "#ccd0da",
		WidgetOpacity:    1,
		FontFamily:       "monospace",
		FontSize:         13,
	}
}

// Base returns the built-in palette for mode. "auto" and "gtk" follow the
// GTK_THEME environment variable and fall back to dark.
func Base(mode string) Theme {
	switch mode {
	case "light":
		return light()
	case "dark":
		return dark()
	}
	if strings.HasSuffix(strings.ToLower(os.Getenv("GTK_THEME")), ":light") {
		t := light()
		t.Mode = mode
		return t
	}
	t := dark()
	t.Mode = mode
	return t
}

// Options are the theme settings taken from the configuration file.
type Options struct {
	Mode             string
	Accent           string
	BarBackground    string
	WidgetBackground string
	BarOpacity       float64
	WidgetOpacity    float64
	Success          string
	Warning          string
	Urgent           string
	FontFamily       string
}

// Resolve builds the effective theme: the base palette for the mode, then
// the configuration options, then any tokens from a theme file.
func Resolve(opts Options, tokens *Tokens) (Theme, error) {
	t := Base(opts.Mode)
	switch opts.Accent {
	case "", "gtk":
	case "none":
		t.Accent = t.Foreground
	default:
		t.Accent = opts.Accent
	}
	setIf(&t.BarBackground, opts.BarBackground)
	setIf(&t.WidgetBackground, opts.WidgetBackground)
	setIf(&t.Success, opts.Success)
	setIf(&t.Warning, opts.Warning)
	setIf(&t.Urgent, opts.Urgent)
	setIf(&t.FontFamily, opts.FontFamily)
	t.BarOpacity = opts.BarOpacity
	t.WidgetOpacity = opts.WidgetOpacity

	if tokens != nil {
		tokens.apply(&t)
	}
	if err := t.Validate(); err != nil {
		return Theme{}, err
	}
	return t, nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Validate checks that every color is a hex color and opacities are in range.
func (t Theme) Validate() error {
	colors := []struct{ name, value string }{
		{"background", t.Background},
		{"foreground", t.Foreground},
		{"dim", t.Dim},
		{"accent", t.Accent},
		{"success", t.Success},
		{"warning", t.Warning},
		{"urgent", t.Urgent},
		{"bar_background", t.BarBackground},
		{"widget_background", t.WidgetBackground},
	}
	for _, c := range colors {
		if !IsHexColor(c.value) {
			return fmt.Errorf("theme: invalid hex color %q for %s", c.value, c.name)
		}
	}
	if t.BarOpacity < 0 || t.BarOpacity > 1 {
		return fmt.Errorf("theme: bar_opacity %v must be between 0.0 and 1.0", t.BarOpacity)
	}
	if t.WidgetOpacity < 0 || t.WidgetOpacity > 1 {
		return fmt.Errorf("theme: widget_opacity %v must be between 0.0 and 1.0", t.WidgetOpacity)
	}
	if t.FontSize <= 0 {
		return fmt.Errorf("theme: font_size must be greater than 0")
	}
	return nil
}
