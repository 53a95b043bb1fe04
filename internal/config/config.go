// Package config handles configuration loading, validation, and management
// for docsyncd.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config holds the complete daemon configuration.
type Config struct {
	// Watch configuration for document monitoring.
	Watch WatchConfig `toml:"watch" json:"watch" yaml:"watch"`

	// Storage configuration for the update log.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Provider configuration for the remote sync service.
	Provider ProviderConfig `toml:"provider" json:"provider" yaml:"provider"`

	// Merge configuration for the per-document state machines.
	Merge MergeConfig `toml:"merge" json:"merge" yaml:"merge"`

	// Shadow configuration for rollout comparison mode.
	Shadow ShadowConfig `toml:"shadow" json:"shadow" yaml:"shadow"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// WatchConfig holds document watching configuration.
type WatchConfig struct {
	// Paths is a list of files or directories to track.
	Paths []string `toml:"paths" json:"paths" yaml:"paths"`

	// Extensions filters directory entries, e.g. [".md", ".txt"].
	// Empty means all files.
	Extensions []string `toml:"extensions" json:"extensions" yaml:"extensions"`

	// DebounceMs is how long a file must stay quiet, in milliseconds,
	// before its change is reported.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	// DatabasePath is the SQLite database location.
	DatabasePath string `toml:"database_path" json:"database_path" yaml:"database_path"`

	// CompactThreshold is the update-log length at which a document's
	// log is compacted into one snapshot update. 0 disables compaction.
	CompactThreshold int `toml:"compact_threshold" json:"compact_threshold" yaml:"compact_threshold"`

	// StateSaveIntervalMs is the snapshot write coalescing interval.
	StateSaveIntervalMs int `toml:"state_save_interval_ms" json:"state_save_interval_ms" yaml:"state_save_interval_ms"`
}

// ProviderConfig holds sync provider configuration.
type ProviderConfig struct {
	// URL is the provider's websocket endpoint. Empty disables sync;
	// the daemon then runs offline-only.
	URL string `toml:"url" json:"url" yaml:"url"`

	// Site identifies this replica to the provider and in CRDT
	// operations. Empty means a generated identifier.
	Site string `toml:"site" json:"site" yaml:"site"`

	// DialTimeoutSec bounds the websocket handshake.
	DialTimeoutSec int `toml:"dial_timeout_sec" json:"dial_timeout_sec" yaml:"dial_timeout_sec"`

	// PingIntervalSec is the keepalive interval.
	PingIntervalSec int `toml:"ping_interval_sec" json:"ping_interval_sec" yaml:"ping_interval_sec"`

	// MaxBackoffSec caps the reconnect delay.
	MaxBackoffSec int `toml:"max_backoff_sec" json:"max_backoff_sec" yaml:"max_backoff_sec"`
}

// MergeConfig holds state machine configuration.
type MergeConfig struct {
	// Strict makes invariant violations panic instead of logging.
	// Intended for development and CI.
	Strict bool `toml:"strict" json:"strict" yaml:"strict"`

	// EffectBuffer is the effect feed channel depth per document.
	EffectBuffer int `toml:"effect_buffer" json:"effect_buffer" yaml:"effect_buffer"`
}

// ShadowConfig holds rollout comparison configuration.
type ShadowConfig struct {
	// Enabled runs the machines in shadow mode: effects are compared
	// against reported legacy actions instead of executed.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// ReportPath is where the session mismatch summary is written on
	// shutdown. Empty logs the summary instead.
	ReportPath string `toml:"report_path" json:"report_path" yaml:"report_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file location when Output includes file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	return &Config{
		Watch: WatchConfig{
			Extensions: []string{".md", ".txt"},
			DebounceMs: 500,
		},
		Storage: StorageConfig{
			DatabasePath:        filepath.Join(DataDir(), "docs.db"),
			CompactThreshold:    1000,
			StateSaveIntervalMs: 1000,
		},
		Provider: ProviderConfig{
			DialTimeoutSec:  10,
			PingIntervalSec: 30,
			MaxBackoffSec:   60,
		},
		Merge: MergeConfig{
			EffectBuffer: 64,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// DataDir returns the platform-specific data directory.
func DataDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Application Support", "docsyncd")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "docsyncd")
	default: // Linux and other Unix
		dataHome := os.Getenv("XDG_DATA_HOME")
		if dataHome == "" {
			homeDir, _ := os.UserHomeDir()
			dataHome = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataHome, "docsyncd")
	}
}

// ApplyEnvOverrides applies DOCSYNCD_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DOCSYNCD_WATCH_PATHS"); v != "" {
		c.Watch.Paths = splitList(v)
	}
	if v := os.Getenv("DOCSYNCD_WATCH_EXTENSIONS"); v != "" {
		c.Watch.Extensions = splitList(v)
	}
	if v := os.Getenv("DOCSYNCD_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("DOCSYNCD_PROVIDER_URL"); v != "" {
		c.Provider.URL = v
	}
	if v := os.Getenv("DOCSYNCD_SITE"); v != "" {
		c.Provider.Site = v
	}
	if v := os.Getenv("DOCSYNCD_SHADOW"); v != "" {
		c.Shadow.Enabled = parseBool(v, c.Shadow.Enabled)
	}
	if v := os.Getenv("DOCSYNCD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("DOCSYNCD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
