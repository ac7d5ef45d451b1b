package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vibepanel/vibepanel/internal/domain"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), FileModeDir))
	require.NoError(t, os.WriteFile(path, []byte(content), FileModeFile))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()

	require.Equal(t, 32, cfg.Bar.Size)
	require.Equal(t, "auto", cfg.Workspace.Backend)
	require.Equal(t, 100, cfg.Notifications.MaxHistory)
	require.Equal(t, 50*time.Millisecond, cfg.Advanced.Debounce.Duration)
	require.Equal(t, time.Hour, cfg.Adapters.Updates.Interval.Duration)
	require.Len(t, cfg.Adapters.Enabled(), len(domain.All()))

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestParseEmptyDocumentYieldsDefaults(t *testing.T) {
	cfg, err := Parse(nil, "config.toml")
	require.NoError(t, err)
	require.Equal(t, Defaults(), cfg)
}

func TestParseMergesOverDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[bar]
size = 40

[widgets]
right = ["clock"]

[adapters.bluetooth]
enabled = false

[widgets.options.clock]
color = "#ffffff"
`), "config.toml")
	require.NoError(t, err)

	require.Equal(t, 40, cfg.Bar.Size)
	require.Equal(t, 8, cfg.Bar.WidgetSpacing, "untouched keys keep their default")
	require.Equal(t, []string{"clock"}, cfg.Widgets.Right, "arrays replace")
	require.Equal(t, []string{"tray", "media"}, cfg.Widgets.Left)
	require.False(t, cfg.Adapters.Bluetooth.Enabled)
	require.Equal(t, 100*time.Millisecond, cfg.Adapters.Bluetooth.Debounce.Duration)
	require.Equal(t, "#ffffff", cfg.Widgets.Options["clock"].Color)
}

func TestParseUnknownKeyReportsPath(t *testing.T) {
	_, err := Parse([]byte("[theme]\nmode = \"dark\"\nacent = \"#fff\"\n"), "/tmp/config.toml")
	require.Error(t, err)

	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "theme.acent", pe.Key)
	require.Equal(t, 3, pe.Line)
	require.ErrorIs(t, err, ErrUnknownKey)
	require.Contains(t, err.Error(), "/tmp/config.toml:3")
	require.Contains(t, err.Error(), "theme.acent")
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("[bar\nsize = 1\n"), "config.toml")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Positive(t, pe.Line)
}

func TestParseBadDuration(t *testing.T) {
	_, err := Parse([]byte("[advanced]\ndebounce = \"soon\"\n"), "config.toml")
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestValidateCollectsAllIssues(t *testing.T) {
	cfg := Defaults()
	cfg.Bar.Size = 0
	cfg.OSD.TimeoutMS = 0
	cfg.Workspace.Backend = "sway"
	cfg.Theme.Accent = "blue"
	cfg.Theme.WidgetOpacity = 1.5

	_, err := Validate(cfg)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)

	keys := make([]string, 0, len(ve.Issues))
	for _, is := range ve.Issues {
		keys = append(keys, is.Key)
	}
	require.ElementsMatch(t, []string{
		"bar.size",
		"osd.timeout_ms",
		"workspace.backend",
		"theme.accent",
		"theme.widget_opacity",
	}, keys)
}

func TestValidateAccentKeywords(t *testing.T) {
	for _, accent := range []string{"gtk", "none", "#3584e4", "#fff"} {
		cfg := Defaults()
		cfg.Theme.Accent = accent
		_, err := Validate(cfg)
		require.NoError(t, err, accent)
	}
}

func TestValidateNotchRequiresEmptyCenter(t *testing.T) {
	cfg := Defaults()
	cfg.Bar.NotchEnabled = true
	_, err := Validate(cfg)
	require.ErrorContains(t, err, "widgets.center")

	cfg.Widgets.Center = nil
	_, err = Validate(cfg)
	require.NoError(t, err)
}

func TestValidateWarnings(t *testing.T) {
	cfg := Defaults()
	cfg.Widgets.Center = []string{"spacer:20", "clock"}
	cfg.Widgets.Options = map[string]WidgetOptions{
		"clock":   {Color: "#abcdef"},
		"weather": {},
	}

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Contains(t, warnings[0], "spacer")
	require.Contains(t, warnings[1], "widgets.options.weather")
}

func TestValidateSpacerWidth(t *testing.T) {
	cfg := Defaults()
	cfg.Widgets.Right = append(cfg.Widgets.Right, "spacer:wide")
	_, err := Validate(cfg)
	require.ErrorContains(t, err, "spacer width")
}

func TestWidgetsEnabledSkipsDisabled(t *testing.T) {
	w := Widgets{
		Right:   []string{"clock", "spacer:10", "battery"},
		Options: map[string]WidgetOptions{"battery": {Disabled: true}},
	}
	require.Equal(t, []string{"clock", "spacer:10"}, w.Enabled(w.Right))
}

func TestFindSearchChain(t *testing.T) {
	home := t.TempDir()
	xdg := t.TempDir()
	e := Env{Home: home, XDGConfigHome: xdg}

	path, found, err := Find(e)
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, path)

	homeCfg := writeFile(t, home, ".config/vibepanel/config.toml", "")
	path, found, err = Find(e)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, homeCfg, path)

	xdgCfg := writeFile(t, xdg, "vibepanel/config.toml", "")
	path, _, err = Find(e)
	require.NoError(t, err)
	require.Equal(t, xdgCfg, path)
}

func TestFindExplicitPathMustExist(t *testing.T) {
	_, _, err := Find(Env{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")})
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveInvalidFileIsAnError(t *testing.T) {
	xdg := t.TempDir()
	writeFile(t, xdg, "vibepanel/config.toml", "[bar]\nsize = \"big\"\n")

	_, path, err := Resolve(Env{XDGConfigHome: xdg})
	require.Error(t, err)
	require.Equal(t, filepath.Join(xdg, "vibepanel", "config.toml"), path)
}

func TestResolveWithoutFileUsesDefaults(t *testing.T) {
	cfg, path, err := Resolve(Env{Home: t.TempDir(), XDGConfigHome: t.TempDir()})
	require.NoError(t, err)
	require.Empty(t, path)
	require.Equal(t, Defaults(), cfg)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("VIBEPANEL_CONFIG", "/etc/vibepanel.toml")
	t.Setenv("VIBEPANEL_DEBUG", "true")
	t.Setenv("XDG_STATE_HOME", "/state")

	e, err := LoadEnv()
	require.NoError(t, err)
	require.Equal(t, "/etc/vibepanel.toml", e.ConfigPath)
	require.True(t, e.Debug)
	require.Equal(t, filepath.Join("/state", "vibepanel"), e.StateDirectory())

	e.StateDir = "/override"
	require.Equal(t, "/override", e.StateDirectory())
}

func TestLoadEffectiveWithThemeTokens(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "[theme]\nmode = \"dark\"\n")
	writeFile(t, dir, "theme.toml", "[colors]\naccent = \"#123456\"\n")

	eff, err := LoadEffective(path, 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), eff.Generation)
	require.Equal(t, path, eff.Source)
	require.Equal(t, "#123456", eff.Theme.Accent)
}

func TestLoadEffectiveBadThemeTokens(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.toml", "")
	writeFile(t, dir, "theme.toml", "[colors]\nacent = \"#123456\"\n")

	_, err := LoadEffective(path, 1)
	require.ErrorContains(t, err, "colors.acent")
}

func TestBuildSetsValidationPath(t *testing.T) {
	cfg := Defaults()
	cfg.Advanced.QueueSize = 0

	_, err := Build(cfg, nil, "/x/config.toml", 1)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Equal(t, "/x/config.toml", ve.Path)
	require.Contains(t, err.Error(), "advanced.queue_size")
}

func TestMarshalRoundTrips(t *testing.T) {
	eff, err := Build(Defaults(), nil, "", 1)
	require.NoError(t, err)

	out, err := eff.Marshal()
	require.NoError(t, err)

	cfg, err := Parse(out, "printed")
	require.NoError(t, err)
	require.Equal(t, eff.Config, cfg)
}

func TestWindows(t *testing.T) {
	cfg := Defaults()
	cfg.Adapters.Audio.Debounce = Duration{20 * time.Millisecond}

	w := cfg.Windows()
	require.Equal(t, 50*time.Millisecond, w.For(domain.Power))
	require.Equal(t, 20*time.Millisecond, w.For(domain.Audio))
	require.Equal(t, 100*time.Millisecond, w.For(domain.Bluetooth))
	require.Equal(t, 4, w.CeilingFactor)
}

func TestDiff(t *testing.T) {
	base, err := Build(Defaults(), nil, "", 1)
	require.NoError(t, err)

	require.Equal(t, Change(0), Diff(base, base))

	cfg := Defaults()
	cfg.Theme.Accent = "#000000"
	themed, err := Build(cfg, nil, "", 2)
	require.NoError(t, err)
	require.Equal(t, ChangeTheme, Diff(base, themed))

	cfg = Defaults()
	cfg.Widgets.Left = []string{"clock"}
	cfg.Adapters.Tray.Enabled = false
	layout, err := Build(cfg, nil, "", 2)
	require.NoError(t, err)
	c := Diff(base, layout)
	require.True(t, c.Has(ChangeLayout))
	require.True(t, c.Has(ChangeAdapters))
	require.False(t, c.Has(ChangeTheme))
	require.Equal(t, "layout,adapters", c.String())

	require.True(t, Diff(nil, base).Has(ChangeTheme|ChangeLogging))
}
