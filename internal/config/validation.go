package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Watch.validate(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.Provider.validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := c.Merge.validate(); err != nil {
		return fmt.Errorf("merge: %w", err)
	}
	if err := c.Logging.validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

func (w *WatchConfig) validate() error {
	if w.DebounceMs < 0 {
		return fmt.Errorf("debounce_ms must be non-negative, got %d", w.DebounceMs)
	}
	for _, ext := range w.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	return nil
}

func (s *StorageConfig) validate() error {
	if s.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if s.CompactThreshold < 0 {
		return fmt.Errorf("compact_threshold must be non-negative, got %d", s.CompactThreshold)
	}
	if s.StateSaveIntervalMs < 0 {
		return fmt.Errorf("state_save_interval_ms must be non-negative, got %d", s.StateSaveIntervalMs)
	}
	return nil
}

func (p *ProviderConfig) validate() error {
	if p.URL != "" {
		u, err := url.Parse(p.URL)
		if err != nil {
			return fmt.Errorf("invalid url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
		}
	}
	if p.DialTimeoutSec < 0 {
		return fmt.Errorf("dial_timeout_sec must be non-negative, got %d", p.DialTimeoutSec)
	}
	if p.PingIntervalSec < 0 {
		return fmt.Errorf("ping_interval_sec must be non-negative, got %d", p.PingIntervalSec)
	}
	if p.MaxBackoffSec < 0 {
		return fmt.Errorf("max_backoff_sec must be non-negative, got %d", p.MaxBackoffSec)
	}
	return nil
}

func (m *MergeConfig) validate() error {
	if m.EffectBuffer < 0 {
		return fmt.Errorf("effect_buffer must be non-negative, got %d", m.EffectBuffer)
	}
	return nil
}

func (l *LoggingConfig) validate() error {
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("level must be debug, info, warn or error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("format must be text or json, got %q", l.Format)
	}
	switch l.Output {
	case "stdout", "stderr", "file", "both":
	default:
		return fmt.Errorf("output must be stdout, stderr, file or both, got %q", l.Output)
	}
	if (l.Output == "file" || l.Output == "both") && l.FilePath == "" {
		return fmt.Errorf("file_path required when output is %q", l.Output)
	}
	return nil
}
