package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Watch.DebounceMs != 500 {
		t.Errorf("debounce = %d, want 500", cfg.Watch.DebounceMs)
	}
	if cfg.Storage.DatabasePath == "" {
		t.Error("default database path is empty")
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "docsyncd.toml", `
[watch]
paths = ["/tmp/notes"]
extensions = [".md"]
debounce_ms = 250

[provider]
url = "wss://sync.example.com/ws"
site = "laptop"

[shadow]
enabled = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Watch.Paths) != 1 || cfg.Watch.Paths[0] != "/tmp/notes" {
		t.Errorf("paths = %v", cfg.Watch.Paths)
	}
	if cfg.Watch.DebounceMs != 250 {
		t.Errorf("debounce = %d, want 250", cfg.Watch.DebounceMs)
	}
	if cfg.Provider.URL != "wss://sync.example.com/ws" {
		t.Errorf("url = %q", cfg.Provider.URL)
	}
	if !cfg.Shadow.Enabled {
		t.Error("shadow not enabled")
	}
	// Unset sections keep defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "docsyncd.yaml", `
watch:
  paths: ["/tmp/a", "/tmp/b"]
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Watch.Paths) != 2 {
		t.Errorf("paths = %v", cfg.Watch.Paths)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "docsyncd.json", `{"merge": {"strict": true}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Merge.Strict {
		t.Error("strict not set")
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	path := writeConfig(t, "docsyncd.ini", "[watch]")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for .ini config")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := writeConfig(t, "bad.toml", `
[logging]
level = "loud"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DOCSYNCD_PROVIDER_URL", "wss://override.example.com/ws")
	t.Setenv("DOCSYNCD_WATCH_PATHS", "/a, /b ,/c")
	t.Setenv("DOCSYNCD_SHADOW", "true")
	t.Setenv("DOCSYNCD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.URL != "wss://override.example.com/ws" {
		t.Errorf("url = %q", cfg.Provider.URL)
	}
	if len(cfg.Watch.Paths) != 3 || cfg.Watch.Paths[1] != "/b" {
		t.Errorf("paths = %v", cfg.Watch.Paths)
	}
	if !cfg.Shadow.Enabled {
		t.Error("shadow not enabled")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestValidateProviderScheme(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.URL = "http://sync.example.com"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for http scheme")
	}
}

func TestValidateFileOutputNeedsPath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for file output without path")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
