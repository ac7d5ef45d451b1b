// Package config loads, validates and describes the panel configuration.
package config

import (
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// File permission constants
const (
	// FileModeDir is the permission for directories (rwxr-xr-x)
	FileModeDir os.FileMode = 0755
	// FileModeFile is the permission for data files (rw-r--r--)
	FileModeFile os.FileMode = 0644
)

const (
	appName        = "vibepanel"
	configFileName = "config.toml"
	themeFileName  = "theme.toml"
)

// Env is the process environment relevant to vibepanel.
type Env struct {
	ConfigPath    string `env:"VIBEPANEL_CONFIG"`
	StateDir      string `env:"VIBEPANEL_STATE_DIR"`
	LogLevel      string `env:"VIBEPANEL_LOG_LEVEL"`
	MetricsAddr   string `env:"VIBEPANEL_METRICS_ADDR"`
	Debug         bool   `env:"VIBEPANEL_DEBUG"`
	XDGConfigHome string `env:"XDG_CONFIG_HOME"`
	XDGStateHome  string `env:"XDG_STATE_HOME"`
	Home          string `env:"HOME"`
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, err
	}
	if e.Home == "" {
		e.Home, _ = os.UserHomeDir()
	}
	return e, nil
}

// ConfigDir returns the vibepanel configuration directory.
func (e Env) ConfigDir() string {
	base := e.XDGConfigHome
	if base == "" {
		base = filepath.Join(e.Home, ".config")
	}
	return filepath.Join(base, appName)
}

// StateDirectory returns the directory for persisted state and logs.
func (e Env) StateDirectory() string {
	if e.StateDir != "" {
		return e.StateDir
	}
	base := e.XDGStateHome
	if base == "" {
		base = filepath.Join(e.Home, ".local", "state")
	}
	return filepath.Join(base, appName)
}

// SearchPaths returns the config file lookup chain in priority order:
// $XDG_CONFIG_HOME/vibepanel/config.toml, ~/.config/vibepanel/config.toml
// and ./config.toml.
func (e Env) SearchPaths() []string {
	var paths []string
	if e.XDGConfigHome != "" {
		paths = append(paths, filepath.Join(e.XDGConfigHome, appName, configFileName))
	}
	if e.Home != "" {
		home := filepath.Join(e.Home, ".config", appName, configFileName)
		if len(paths) == 0 || paths[0] != home {
			paths = append(paths, home)
		}
	}
	return append(paths, configFileName)
}

// ThemePath returns the theme token file that sits next to configPath.
func ThemePath(configPath string, cfg Config) string {
	if cfg.Theme.File == "" {
		return ""
	}
	if filepath.IsAbs(cfg.Theme.File) || configPath == "" {
		return cfg.Theme.File
	}
	return filepath.Join(filepath.Dir(configPath), cfg.Theme.File)
}
