package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed reference.toml
var reference []byte

// Reference returns the commented reference configuration. Its values are
// the defaults every loaded configuration is merged over.
func Reference() []byte {
	return bytes.Clone(reference)
}

// ParseError reports a configuration document that could not be decoded.
type ParseError struct {
	Path   string
	Key    string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	var b strings.Builder
	if e.Path != "" {
		b.WriteString(e.Path)
	} else {
		b.WriteString("config")
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
	}
	b.WriteString(": ")
	if e.Key != "" {
		fmt.Fprintf(&b, "%s: ", e.Key)
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ErrUnknownKey is wrapped by ParseError when the document contains a key
// that is not part of the schema.
var ErrUnknownKey = errors.New("unknown key")

// Defaults returns the configuration described by the reference document.
func Defaults() Config {
	var cfg Config
	if err := toml.Unmarshal(reference, &cfg); err != nil {
		panic(fmt.Sprintf("config: embedded reference is invalid: %v", err))
	}
	return cfg
}

// Parse decodes data and merges it over the defaults. path is only used in
// diagnostics. Tables merge key by key; arrays and scalars replace.
func Parse(data []byte, path string) (Config, error) {
	var probe Config
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&probe); err != nil {
		return Config{}, newParseError(path, err)
	}

	var user map[string]any
	if err := toml.Unmarshal(data, &user); err != nil {
		return Config{}, newParseError(path, err)
	}
	var base map[string]any
	if err := toml.Unmarshal(reference, &base); err != nil {
		return Config{}, fmt.Errorf("config: embedded reference: %w", err)
	}
	merged, err := toml.Marshal(mergeTables(base, user))
	if err != nil {
		return Config{}, fmt.Errorf("config: merge defaults: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(merged, &cfg); err != nil {
		return Config{}, newParseError(path, err)
	}
	return cfg, nil
}

func mergeTables(dst, src map[string]any) map[string]any {
	for k, v := range src {
		sub, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if cur, ok := dst[k].(map[string]any); ok {
			dst[k] = mergeTables(cur, sub)
			continue
		}
		dst[k] = sub
	}
	return dst
}

func newParseError(path string, err error) *ParseError {
	pe := &ParseError{Path: path, Err: err}

	var strict *toml.StrictMissingError
	if errors.As(err, &strict) && len(strict.Errors) > 0 {
		keys := make([]string, 0, len(strict.Errors))
		for _, de := range strict.Errors {
			keys = append(keys, strings.Join(de.Key(), "."))
		}
		sort.Strings(keys)
		first := strict.Errors[0]
		pe.Key = strings.Join(first.Key(), ".")
		pe.Line, pe.Column = first.Position()
		if len(keys) == 1 {
			pe.Err = ErrUnknownKey
		} else {
			pe.Err = fmt.Errorf("%w (also %s)", ErrUnknownKey, strings.Join(keys[1:], ", "))
		}
		return pe
	}

	var de *toml.DecodeError
	if errors.As(err, &de) {
		pe.Key = strings.Join(de.Key(), ".")
		pe.Line, pe.Column = de.Position()
	}
	return pe
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data, path)
}

// Find resolves the configuration file to load. An explicit VIBEPANEL_CONFIG
// must exist. Otherwise the first existing file of the search chain wins;
// found is false when none exists and the defaults apply.
func Find(e Env) (path string, found bool, err error) {
	if e.ConfigPath != "" {
		if _, err := os.Stat(e.ConfigPath); err != nil {
			return "", false, fmt.Errorf("config: %w", err)
		}
		return e.ConfigPath, true, nil
	}
	for _, p := range e.SearchPaths() {
		info, err := os.Stat(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config: %s is a directory", p)
		}
		return p, true, nil
	}
	return "", false, nil
}

// Resolve finds and loads the configuration. A file that exists but does not
// parse is an error; the defaults are only used when no file exists.
func Resolve(e Env) (Config, string, error) {
	path, found, err := Find(e)
	if err != nil {
		return Config{}, "", err
	}
	if !found {
		return Defaults(), "", nil
	}
	cfg, err := Load(path)
	if err != nil {
		return Config{}, path, err
	}
	return cfg, path, nil
}
