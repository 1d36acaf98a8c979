// Package config provides configuration loading and XDG path management for
// the daemon.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard XDG paths for the daemon's on-disk state.
type Paths struct {
	Data   string // ~/.local/share/sessiond
	Config string // ~/.config/sessiond
	Cache  string // ~/.cache/sessiond
	State  string // ~/.local/state/sessiond
}

// GetPaths returns the standard paths for the daemon's data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "sessiond"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "sessiond"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "sessiond"),
		State:  filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "sessiond"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// PersistenceDir returns the directory persistence owns: the WAL, state
// files and checkpoints.
func (p *Paths) PersistenceDir() string {
	return filepath.Join(p.Data, "persistence")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "sessiond.jsonc")
}

// ProjectConfigPath returns the path to the project-local config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".sessiond", "sessiond.jsonc")
}
