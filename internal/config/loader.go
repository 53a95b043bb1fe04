package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Load reads, validates and returns the configuration at path. An empty
// path returns the defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if err := loadConfigFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadConfigFromFile decodes the file at path into cfg, dispatching on the
// file extension. TOML, JSON and YAML are supported.
func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}

	return nil
}

// Loader watches a configuration file and reloads it on change.
type Loader struct {
	mu       sync.RWMutex
	path     string
	current  *Config
	onChange []func(*Config)
	watcher  *fsnotify.Watcher
	log      *slog.Logger
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewLoader loads the configuration at path and returns a loader that can
// watch it for changes.
func NewLoader(path string, logger *slog.Logger) (*Loader, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		path:    path,
		current: cfg,
		log:     logger,
		done:    make(chan struct{}),
	}, nil
}

// Current returns the most recently loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange registers a callback invoked after each successful reload.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Watch begins watching the configuration file. It is a no-op when the
// loader was created without a path.
func (l *Loader) Watch() error {
	if l.path == "" {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		w.Close()
		return fmt.Errorf("watching config dir: %w", err)
	}

	l.watcher = w
	l.wg.Add(1)
	go l.watchLoop()
	return nil
}

// Close stops watching.
func (l *Loader) Close() error {
	close(l.done)
	var err error
	if l.watcher != nil {
		err = l.watcher.Close()
	}
	l.wg.Wait()
	return err
}

func (l *Loader) watchLoop() {
	defer l.wg.Done()

	var pending <-chan time.Time
	for {
		select {
		case <-l.done:
			return
		case ev, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(l.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors write in bursts; wait for the file to settle.
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Warn("config watch error", "error", err)
		case <-pending:
			pending = nil
			l.reload()
		}
	}
}

func (l *Loader) reload() {
	cfg, err := Load(l.path)
	if err != nil {
		l.log.Warn("config reload failed, keeping previous", "error", err)
		return
	}

	l.mu.Lock()
	l.current = cfg
	callbacks := make([]func(*Config), len(l.onChange))
	copy(callbacks, l.onChange)
	l.mu.Unlock()

	l.log.Info("configuration reloaded", "path", l.path)
	for _, fn := range callbacks {
		fn(cfg)
	}
}
