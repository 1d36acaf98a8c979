// Package config loads the daemon's operational configuration and manages
// its XDG base directories.
//
// # Configuration loading
//
// Load layers four sources in increasing priority:
//
//  1. documented defaults (DefaultThresholds)
//  2. the global config file (~/.config/sessiond/sessiond.jsonc)
//  3. the project config file (<directory>/.sessiond/sessiond.jsonc)
//  4. environment variables
//
// Config files are JSONC (JSON with comments), processed with
// github.com/tidwall/jsonc. A .env file in the working directory, if
// present, is loaded via github.com/joho/godotenv before environment
// variables are read, for local development convenience.
//
// # Paths
//
// GetPaths returns XDG Base Directory Specification paths, rooted under an
// app name of "sessiond":
//
//	Data:   ~/.local/share/sessiond   (XDG_DATA_HOME)
//	Config: ~/.config/sessiond        (XDG_CONFIG_HOME)
//	Cache:  ~/.cache/sessiond         (XDG_CACHE_HOME)
//	State:  ~/.local/state/sessiond  (XDG_STATE_HOME)
package config
