package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Thresholds holds every env-tunable timing constant the daemon's
// subsystems use. Values are durations internally; JSON/env representation
// is milliseconds, matching the on-disk/operational convention.
type Thresholds struct {
	StreamStallWarning    time.Duration `json:"-"`
	StreamStallTimeout    time.Duration `json:"-"`
	StreamNoContentTimeout time.Duration `json:"-"`
	// StreamEarlyStall is not env-tunable per spec.md §6.4 (only the other
	// three stream thresholds are listed there); it is still a documented
	// configurable default per spec.md §4.3.3.
	StreamEarlyStall      time.Duration `json:"-"`
	StreamPollInterval    time.Duration `json:"-"`
	HeartbeatTimeout      time.Duration `json:"-"`
	HeartbeatCheckInterval time.Duration `json:"-"`
	CheckpointInterval    time.Duration `json:"-"`
	MaxCheckpoints        int           `json:"-"`
	WALFlushInterval      time.Duration `json:"-"`
	WALEnabled            bool          `json:"-"`
	WALBufferLimit        int           `json:"-"`
	MessageWindowCap      int           `json:"-"`
}

// DefaultThresholds returns the documented defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StreamStallWarning:     15 * time.Second,
		StreamStallTimeout:     60 * time.Second,
		StreamNoContentTimeout: 120 * time.Second,
		StreamEarlyStall:       5 * time.Second,
		StreamPollInterval:     2 * time.Second,
		HeartbeatTimeout:       30 * time.Second,
		HeartbeatCheckInterval: 10 * time.Second,
		CheckpointInterval:     5 * time.Minute,
		MaxCheckpoints:         3,
		WALFlushInterval:       time.Second,
		WALEnabled:             true,
		WALBufferLimit:         10000,
		MessageWindowCap:       100,
	}
}

// fileThresholds is the JSON shape a config file may override thresholds
// with; any field omitted keeps the running default.
type fileThresholds struct {
	StreamStallWarningMs    *int64 `json:"streamStallWarningMs,omitempty"`
	StreamStallTimeoutMs    *int64 `json:"streamStallTimeoutMs,omitempty"`
	StreamNoContentTimeoutMs *int64 `json:"streamNoContentTimeoutMs,omitempty"`
	HeartbeatTimeoutMs      *int64 `json:"heartbeatTimeoutMs,omitempty"`
	HeartbeatCheckIntervalMs *int64 `json:"heartbeatCheckIntervalMs,omitempty"`
	CheckpointIntervalMs    *int64 `json:"checkpointIntervalMs,omitempty"`
	MaxCheckpoints          *int   `json:"maxCheckpoints,omitempty"`
	WALFlushIntervalMs      *int64 `json:"walFlushIntervalMs,omitempty"`
	WALEnabled              *bool  `json:"walEnabled,omitempty"`
}

// Config is the daemon's operational configuration.
type Config struct {
	Thresholds Thresholds
}

// Load builds a Config from, in increasing priority order: documented
// defaults, the global config file, the project config file under
// directory, then environment variables. directory may be empty.
func Load(directory string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{Thresholds: DefaultThresholds()}

	applyFile(&cfg.Thresholds, GlobalConfigPath())
	if directory != "" {
		applyFile(&cfg.Thresholds, ProjectConfigPath(directory))
	}
	applyEnv(&cfg.Thresholds)

	return cfg, nil
}

func applyFile(t *Thresholds, path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var ft fileThresholds
	if err := json.Unmarshal(jsonc.ToJSON(raw), &ft); err != nil {
		return
	}

	if ft.StreamStallWarningMs != nil {
		t.StreamStallWarning = time.Duration(*ft.StreamStallWarningMs) * time.Millisecond
	}
	if ft.StreamStallTimeoutMs != nil {
		t.StreamStallTimeout = time.Duration(*ft.StreamStallTimeoutMs) * time.Millisecond
	}
	if ft.StreamNoContentTimeoutMs != nil {
		t.StreamNoContentTimeout = time.Duration(*ft.StreamNoContentTimeoutMs) * time.Millisecond
	}
	if ft.HeartbeatTimeoutMs != nil {
		t.HeartbeatTimeout = time.Duration(*ft.HeartbeatTimeoutMs) * time.Millisecond
	}
	if ft.HeartbeatCheckIntervalMs != nil {
		t.HeartbeatCheckInterval = time.Duration(*ft.HeartbeatCheckIntervalMs) * time.Millisecond
	}
	if ft.CheckpointIntervalMs != nil {
		t.CheckpointInterval = time.Duration(*ft.CheckpointIntervalMs) * time.Millisecond
	}
	if ft.MaxCheckpoints != nil {
		t.MaxCheckpoints = *ft.MaxCheckpoints
	}
	if ft.WALFlushIntervalMs != nil {
		t.WALFlushInterval = time.Duration(*ft.WALFlushIntervalMs) * time.Millisecond
	}
	if ft.WALEnabled != nil {
		t.WALEnabled = *ft.WALEnabled
	}
}

func applyEnv(t *Thresholds) {
	envDuration(&t.StreamStallWarning, "STREAM_STALL_WARNING_MS")
	envDuration(&t.StreamStallTimeout, "STREAM_STALL_TIMEOUT_MS")
	envDuration(&t.StreamNoContentTimeout, "STREAM_NO_CONTENT_TIMEOUT_MS")
	envDuration(&t.HeartbeatTimeout, "HEARTBEAT_TIMEOUT_MS")
	envDuration(&t.HeartbeatCheckInterval, "HEARTBEAT_CHECK_INTERVAL_MS")
	envDuration(&t.CheckpointInterval, "CHECKPOINT_INTERVAL_MS")
	envDuration(&t.WALFlushInterval, "WAL_FLUSH_INTERVAL_MS")

	if v := os.Getenv("MAX_CHECKPOINTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.MaxCheckpoints = n
		}
	}
	if v := os.Getenv("WAL_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			t.WALEnabled = b
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return
	}
	*dst = time.Duration(ms) * time.Millisecond
}
