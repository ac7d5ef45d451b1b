package theme

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNoTokens is returned by LoadTokens when the token file does not exist.
var ErrNoTokens = errors.New("theme: no token file")

// Tokens are overrides read from a theme token file. Empty values keep the
// resolved value.
type Tokens struct {
	Name       string          `toml:"name"`
	Colors     tokenColors     `toml:"colors"`
	Typography tokenTypography `toml:"typography"`
}

type tokenColors struct {
	Background       string `toml:"background"`
	Foreground       string `toml:"foreground"`
	Dim              string `toml:"dim"`
	Accent           string `toml:"accent"`
	Success          string `toml:"success"`
	Warning          string `toml:"warning"`
	Urgent           string `toml:"urgent"`
	BarBackground    string `toml:"bar_background"`
	WidgetBackground string `toml:"widget_background"`
}

type tokenTypography struct {
	FontFamily string `toml:"font_family"`
	FontSize   int    `toml:"font_size"`
}

// ParseTokens decodes a token file. Keys that do not map to a token are an error.
func ParseTokens(data []byte) (Tokens, error) {
	var tk Tokens
	md, err := toml.Decode(string(data), &tk)
	if err != nil {
		return Tokens{}, fmt.Errorf("theme: parse tokens: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Tokens{}, fmt.Errorf("theme: unknown keys: %s", strings.Join(keys, ", "))
	}
	if tk.Typography.FontSize < 0 {
		return Tokens{}, fmt.Errorf("theme: typography.font_size must not be negative")
	}
	return tk, nil
}

// LoadTokens reads and parses the token file at path.
func LoadTokens(path string) (Tokens, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Tokens{}, ErrNoTokens
	}
	if err != nil {
		return Tokens{}, fmt.Errorf("theme: read tokens: %w", err)
	}
	return ParseTokens(data)
}

func (tk *Tokens) apply(t *Theme) {
	setIf(&t.Name, tk.Name)
	setIf(&t.Background, tk.Colors.Background)
	setIf(&t.Foreground, tk.Colors.Foreground)
	setIf(&t.Dim, tk.Colors.Dim)
	setIf(&t.Accent, tk.Colors.Accent)
	setIf(&t.Success, tk.Colors.Success)
	setIf(&t.Warning, tk.Colors.Warning)
	setIf(&t.Urgent, tk.Colors.Urgent)
	setIf(&t.BarBackground, tk.Colors.BarBackground)
	setIf(&t.WidgetBackground, tk.Colors.WidgetBackground)
	setIf(&t.FontFamily, tk.Typography.FontFamily)
	if tk.Typography.FontSize > 0 {
		t.FontSize = tk.Typography.FontSize
	}
}
