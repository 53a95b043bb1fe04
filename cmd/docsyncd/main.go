// docsyncd - Local-first document synchronization daemon
//
//	docsyncd run             Run the sync daemon
//	docsyncd status <file>   Show a document's merge state
//	docsyncd docs            List tracked documents
//	docsyncd help            Show help
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"docsyncd/internal/config"
	"docsyncd/internal/logging"
	"docsyncd/internal/manager"
	"docsyncd/internal/merge"
	"docsyncd/internal/provider"
	"docsyncd/internal/store"
	"docsyncd/internal/watcher"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		cmdRun()
	case "status":
		cmdStatus()
	case "docs":
		cmdDocs()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`docsyncd - Local-first document synchronization daemon

USAGE:
    docsyncd <command> [options]

COMMANDS:
    run             Run the sync daemon
    status <file>   Show a document's merge state
    docs            List tracked documents
    help            Show this help message

The daemon keeps each tracked document's editor buffer, on-disk file, and
remote replica converged through a per-document CRDT. External disk edits
are merged three-way against the last common state; edits that cannot be
merged safely are parked as a conflict with both candidates retained.

Run with --shadow to compare the daemon's decisions against a legacy sync
system without executing them.`)
}

func cmdRun() {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "config file (toml, json or yaml)")
	shadowMode := fs.Bool("shadow", false, "shadow mode: compare, do not execute")
	fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	if *shadowMode {
		cfg.Shadow.Enabled = true
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fatal("logging: %v", err)
	}
	defer logger.Close()
	log := logger.Logger

	st, err := store.Open(cfg.Storage.DatabasePath, log)
	if err != nil {
		fatal("store: %v", err)
	}
	defer st.Close()
	if !st.IsReady() {
		fatal("store: database at %s is not usable", cfg.Storage.DatabasePath)
	}

	saver := store.NewStateSaver(st,
		time.Duration(cfg.Storage.StateSaveIntervalMs)*time.Millisecond, log)
	saver.Start()
	defer saver.Stop()

	w, err := watcher.New(watcher.Config{
		Paths:      cfg.Watch.Paths,
		Extensions: cfg.Watch.Extensions,
		Debounce:   time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		Logger:     log,
	})
	if err != nil {
		fatal("watcher: %v", err)
	}

	mgr := manager.New(manager.Config{
		Store:            st,
		Saver:            saver,
		Watcher:          w,
		Logger:           log,
		Site:             cfg.Provider.Site,
		Strict:           cfg.Merge.Strict,
		CompactThreshold: cfg.Storage.CompactThreshold,
		Shadow:           cfg.Shadow.Enabled,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Provider.URL != "" {
		client := provider.New(provider.Config{
			URL:          cfg.Provider.URL,
			Site:         cfg.Provider.Site,
			DialTimeout:  time.Duration(cfg.Provider.DialTimeoutSec) * time.Second,
			PingInterval: time.Duration(cfg.Provider.PingIntervalSec) * time.Second,
			MaxBackoff:   time.Duration(cfg.Provider.MaxBackoffSec) * time.Second,
			Logger:       log,
		}, mgr.Callbacks())
		mgr.SetProvider(client)
		go func() {
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("provider stopped", "error", err)
			}
		}()
	}

	// Resume documents known from previous runs, then the configured set.
	known, err := st.ListDocs()
	if err != nil {
		fatal("listing documents: %v", err)
	}
	for _, id := range known {
		if err := mgr.Track(id.Path); err != nil {
			log.Warn("resume failed", "path", id.Path, "error", err)
		}
	}
	for _, path := range cfg.Watch.Paths {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if err := mgr.Track(path); err != nil {
			log.Warn("track failed", "path", path, "error", err)
		}
	}

	if err := w.Start(); err != nil {
		fatal("watcher start: %v", err)
	}
	defer w.Stop()

	// Hot-reload the config file: log level changes apply immediately and
	// newly listed files are tracked. Tracking is idempotent, so paths
	// already known are left alone.
	if *configPath != "" {
		loader, err := config.NewLoader(*configPath, log)
		if err != nil {
			fatal("config: %v", err)
		}
		loader.OnChange(func(next *config.Config) {
			if level, err := logging.ParseLevel(next.Logging.Level); err == nil {
				logger.SetLevel(level)
			}
			for _, path := range next.Watch.Paths {
				info, err := os.Stat(path)
				if err != nil || info.IsDir() {
					continue
				}
				if err := mgr.Track(path); err != nil {
					log.Warn("track failed", "path", path, "error", err)
				}
			}
		})
		if err := loader.Watch(); err != nil {
			log.Warn("config reload disabled", "error", err)
		}
		defer loader.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	log.Info("docsyncd running",
		"documents", len(mgr.Tracked()),
		"provider", cfg.Provider.URL,
		"shadow", cfg.Shadow.Enabled,
	)
	mgr.Run(ctx)

	if cfg.Shadow.Enabled {
		writeShadowReport(mgr, cfg.Shadow.ReportPath, log)
	}
	mgr.Close()
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fatal("usage: docsyncd status <file>")
	}

	cfg, st := openStore(*configPath)
	defer st.Close()

	abs, err := filepath.Abs(fs.Arg(0))
	if err != nil {
		fatal("%v", err)
	}
	docs, err := st.ListDocs()
	if err != nil {
		fatal("%v", err)
	}
	var id *merge.DocumentID
	for i := range docs {
		if docs[i].Path == abs {
			id = &docs[i]
			break
		}
	}
	if id == nil {
		fmt.Printf("%s: not tracked (db: %s)\n", abs, cfg.Storage.DatabasePath)
		return
	}
	snap, err := st.LoadState(id.GUID)
	if err != nil {
		fatal("%v", err)
	}
	if snap == nil {
		fmt.Printf("%s: tracked, no state persisted yet\n", abs)
		return
	}

	fmt.Printf("Document: %s\n", snap.Document.Path)
	fmt.Printf("  GUID:    %s\n", snap.Document.GUID)
	fmt.Printf("  State:   %s\n", snap.StatePath)
	fmt.Printf("  Status:  %s\n", snap.Status)
	fmt.Printf("  Online:  %v\n", snap.IsOnline)
	if !snap.DiskMtime.IsZero() {
		fmt.Printf("  Disk:    %s\n", snap.DiskMtime.Format(time.RFC3339))
	}
	if snap.Conflict != nil {
		fmt.Printf("  Conflict: local %d bytes, remote %d bytes\n",
			len(snap.Conflict.Local), len(snap.Conflict.Remote))
	}
}

func cmdDocs() {
	fs := flag.NewFlagSet("docs", flag.ExitOnError)
	configPath := fs.String("config", "", "config file")
	fs.Parse(os.Args[2:])

	_, st := openStore(*configPath)
	defer st.Close()

	docs, err := st.ListDocs()
	if err != nil {
		fatal("%v", err)
	}
	if len(docs) == 0 {
		fmt.Println("No tracked documents.")
		return
	}
	for _, id := range docs {
		n, err := st.UpdateCount(id.GUID)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Printf("%s  %s  (%d updates)\n", id.GUID, id.Path, n)
	}
}

func openStore(configPath string) (*config.Config, *store.Store) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	st, err := store.Open(cfg.Storage.DatabasePath, nil)
	if err != nil {
		fatal("store: %v", err)
	}
	return cfg, st
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.Format = format
	logCfg.Output = cfg.Logging.Output
	if cfg.Logging.FilePath != "" {
		logCfg.FilePath = cfg.Logging.FilePath
	}
	return logging.New(logCfg)
}

func writeShadowReport(mgr *manager.Manager, path string, log *slog.Logger) {
	summary := mgr.ShadowSummary()
	if path == "" {
		log.Info("shadow session summary",
			"total", summary.Total,
			"worst", string(summary.Worst),
		)
		return
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Error("shadow report encode failed", "error", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Error("shadow report write failed", "error", err)
		return
	}
	log.Info("shadow report written", "path", path, "total", summary.Total)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "docsyncd: "+format+"\n", args...)
	os.Exit(1)
}
