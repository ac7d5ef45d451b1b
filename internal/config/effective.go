package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/vibepanel/vibepanel/internal/debounce"
	"github.com/vibepanel/vibepanel/internal/domain"
	"github.com/vibepanel/vibepanel/internal/theme"
)

// Effective is a validated configuration with its resolved theme. It is
// published as a whole and never mutated afterwards.
type Effective struct {
	Config     Config
	Theme      theme.Theme
	Generation uint64
	// Source is the file the configuration was read from; empty for defaults.
	Source   string
	Warnings []string
}

// Build validates cfg and resolves its theme with the optional tokens.
func Build(cfg Config, tokens *theme.Tokens, source string, generation uint64) (*Effective, error) {
	warnings, err := Validate(cfg)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			ve.Path = source
		}
		return nil, err
	}
	th, err := theme.Resolve(cfg.Theme.Options(), tokens)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Effective{
		Config:     cfg,
		Theme:      th,
		Generation: generation,
		Source:     source,
		Warnings:   warnings,
	}, nil
}

// LoadEffective loads the file at path, or the defaults when path is empty,
// together with the theme token file it refers to. A missing token file is
// not an error.
func LoadEffective(path string, generation uint64) (*Effective, error) {
	cfg := Defaults()
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	var tokens *theme.Tokens
	if tp := ThemePath(path, cfg); tp != "" && path != "" {
		tk, err := theme.LoadTokens(tp)
		switch {
		case errors.Is(err, theme.ErrNoTokens):
		case err != nil:
			return nil, fmt.Errorf("%s: %w", tp, err)
		default:
			tokens = &tk
		}
	}
	return Build(cfg, tokens, path, generation)
}

// Marshal renders the fully resolved configuration as TOML.
func (e *Effective) Marshal() ([]byte, error) {
	return toml.Marshal(e.Config)
}

// Enabled returns the enabled domains.
func (e *Effective) Enabled() []domain.Domain {
	return e.Config.Adapters.Enabled()
}

// Windows returns the coalescing windows configured for the adapters.
func (c Config) Windows() debounce.Windows {
	w := debounce.Windows{
		Default:       c.Advanced.Debounce.Duration,
		PerDomain:     make(map[domain.Domain]time.Duration),
		CeilingFactor: c.Advanced.DebounceCeiling,
	}
	for _, d := range domain.All() {
		if win := c.Adapters.For(d).Debounce.Duration; win > 0 {
			w.PerDomain[d] = win
		}
	}
	return w
}

// Change classifies what differs between two configurations.
type Change uint8

const (
	ChangeTheme Change = 1 << iota
	ChangeLayout
	ChangeAdapters
	ChangeNotifications
	ChangeAdvanced
	ChangeLogging
)

var changeNames = []struct {
	c    Change
	name string
}{
	{ChangeTheme, "theme"},
	{ChangeLayout, "layout"},
	{ChangeAdapters, "adapters"},
	{ChangeNotifications, "notifications"},
	{ChangeAdvanced, "advanced"},
	{ChangeLogging, "logging"},
}

// Has reports whether every bit of x is set in c.
func (c Change) Has(x Change) bool {
	return c&x == x
}

func (c Change) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range changeNames {
		if c.Has(n.c) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Diff reports which parts changed from old to next. A nil old differs in
// every part.
func Diff(old, next *Effective) Change {
	if old == nil {
		var all Change
		for _, n := range changeNames {
			all |= n.c
		}
		return all
	}
	var c Change
	if !reflect.DeepEqual(old.Theme, next.Theme) {
		c |= ChangeTheme
	}
	a, b := old.Config, next.Config
	if !reflect.DeepEqual(a.Bar, b.Bar) || !reflect.DeepEqual(a.Widgets, b.Widgets) ||
		a.Workspace != b.Workspace || a.OSD != b.OSD {
		c |= ChangeLayout
	}
	if a.Adapters != b.Adapters {
		c |= ChangeAdapters
	}
	if a.Notifications != b.Notifications {
		c |= ChangeNotifications
	}
	if a.Advanced != b.Advanced {
		c |= ChangeAdvanced
	}
	if a.Logging != b.Logging {
		c |= ChangeLogging
	}
	return c
}
