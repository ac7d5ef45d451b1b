package theme

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsHexColor(t *testing.T) {
	require.True(t, IsHexColor("#abc"))
	require.True(t, IsHexColor("#A1B2C3"))
	require.False(t, IsHexColor("abc"))
	require.False(t, IsHexColor("#abcd"))
	require.False(t, IsHexColor("#ggg"))
}

func TestBaseFollowsGTKTheme(t *testing.T) {
	t.Setenv("GTK_THEME", "Adwaita:light")
	require.Equal(t, "#eff1f5", Base("auto").Background)
	require.Equal(t, "auto", Base("auto").Mode)

	t.Setenv("GTK_THEME", "")
	require.Equal(t, "#1e1e2e", Base("gtk").Background)
	require.Equal(t, "#eff1f5", Base("light").Background)
}

func TestResolveAppliesOptions(t *testing.T) {
	th, err := Resolve(Options{
		Mode:          "dark",
		Accent:        "#3584e4",
		BarOpacity:    0.5,
		WidgetOpacity: 1,
		Urgent:        "#f00",
	}, nil)
	require.NoError(t, err)
	require.Equal(t, "#3584e4", th.Accent)
	require.Equal(t, "#f00", th.Urgent)
	require.Equal(t, 0.5, th.BarOpacity)
}

func TestResolveAccentNone(t *testing.T) {
	th, err := Resolve(Options{Mode: "dark", Accent: "none", WidgetOpacity: 1}, nil)
	require.NoError(t, err)
	require.Equal(t, th.Foreground, th.Accent)
}

func TestResolveRejectsBadValues(t *testing.T) {
	_, err := Resolve(Options{Mode: "dark", Accent: "blue", WidgetOpacity: 1}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "accent")

	_, err = Resolve(Options{Mode: "dark", WidgetOpacity: 1.5}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "widget_opacity")
}

func TestTokensOverrideOptions(t *testing.T) {
	tk, err := ParseTokens([]byte(`
name = "mine"

[colors]
accent = "#112233"

[typography]
font_size = 15
`))
	require.NoError(t, err)

	th, err := Resolve(Options{Mode: "dark", Accent: "#3584e4", WidgetOpacity: 1}, &tk)
	require.NoError(t, err)
	require.Equal(t, "mine", th.Name)
	require.Equal(t, "#112233", th.Accent)
	require.Equal(t, 15, th.FontSize)
	require.Equal(t, "monospace", th.FontFamily)
}

func TestParseTokensRejectsUnknownKeys(t *testing.T) {
	_, err := ParseTokens([]byte(`
[colors]
acent = "#112233"
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "colors.acent")
}

func TestParseTokensSyntaxError(t *testing.T) {
	_, err := ParseTokens([]byte(`[colors`))
	require.Error(t, err)
}

func TestLoadTokensMissingFile(t *testing.T) {
	_, err := LoadTokens(filepath.Join(t.TempDir(), "theme.toml"))
	require.True(t, errors.Is(err, ErrNoTokens))
}

func TestLoadTokensFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "theme.toml")
	require.NoError(t, os.WriteFile(path, []byte("[colors]\nurgent = \"#ff0000\"\n"), 0644))

	tk, err := LoadTokens(path)
	require.NoError(t, err)
	require.Equal(t, "#ff0000", tk.Colors.Urgent)
}
